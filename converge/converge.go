package converge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/InsulaLabs/csmap/meta"
	"github.com/InsulaLabs/csmap/models"
)

const (
	DefaultAttempts = 5
	DefaultInterval = 2 * time.Second
)

var ErrConvergenceTimeout = errors.New("metadata update not observed, maximum attempts reached")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Config struct {
	Store    meta.Store
	Keys     meta.KeySpace
	Attempts int
	Interval time.Duration
	Sleep    SleepFunc
	Logger   *slog.Logger
}

// Target describes the state a poll waits for: VcdTenant being present in,
// or absent from, the endpoint's mappings.
type Target struct {
	SystemOrgID   string
	SystemDEK     string
	EndpointName  string
	VcdTenant     string
	ExpectPresent bool
}

// Poller re-reads the system endpoint record until a mapping change is visible.
type Poller struct {
	records  meta.RecordController[models.EndpointRecord]
	keys     meta.KeySpace
	attempts int
	interval time.Duration
	sleep    SleepFunc
	logger   *slog.Logger
}

func New(cfg Config) *Poller {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	logger := cfg.Logger.WithGroup("converge")
	return &Poller{
		records:  meta.NewRecordController[models.EndpointRecord](cfg.Store, logger),
		keys:     cfg.Keys,
		attempts: cfg.Attempts,
		interval: cfg.Interval,
		sleep:    cfg.Sleep,
		logger:   logger,
	}
}

// Await reads the record up to the configured number of attempts, waiting
// the interval between reads. A read error aborts the poll immediately. A
// missing endpoint record never counts as converged, whatever the expectation.
func (p *Poller) Await(ctx context.Context, target Target) error {
	key := p.keys.EndpointKey(target.EndpointName)

	for attempt := 1; attempt <= p.attempts; attempt++ {
		record, err := p.records.Get(ctx, target.SystemOrgID, key, target.SystemDEK)
		if err != nil && !meta.IsNotFound(err) {
			return fmt.Errorf("failed to re-read endpoint %s: %w", target.EndpointName, err)
		}

		found := err == nil
		if found && record.HasVcdTenant(target.VcdTenant) == target.ExpectPresent {
			p.logger.Debug("Metadata update observed", "endpoint", target.EndpointName, "attempt", attempt)
			return nil
		}

		if attempt == p.attempts {
			break
		}

		p.logger.Info("Metadata not updated yet, awaiting update", "endpoint", target.EndpointName, "attempt", attempt, "found", found)
		if err := p.sleep(ctx, p.interval); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: endpoint %s, tenant %s after %d attempts",
		ErrConvergenceTimeout, target.EndpointName, target.VcdTenant, p.attempts)
}
