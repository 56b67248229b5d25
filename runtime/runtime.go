package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/InsulaLabs/csmap/client"
	"github.com/InsulaLabs/csmap/config"
	"github.com/InsulaLabs/csmap/converge"
	"github.com/InsulaLabs/csmap/journal"
	"github.com/InsulaLabs/csmap/keyring"
	"github.com/InsulaLabs/csmap/mapper"
	"github.com/InsulaLabs/csmap/meta"
	"github.com/InsulaLabs/csmap/publish"
	"github.com/charmbracelet/log"
)

var ErrJournalDisabled = errors.New("journal is disabled, set journal.directory in config")

// Runtime owns the process-wide pieces of one csmap invocation: the
// cancellable application context, the logger and the wired collaborators.
type Runtime struct {
	appCtx    context.Context
	appCancel context.CancelFunc
	logger    *slog.Logger
	cfg       *config.Config

	vcd     *client.Vcd
	store   meta.Store
	journal *journal.Journal
	mapper  *mapper.Mapper
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, config.ErrLogLevelInvalid
}

// NewLogger returns a charmbracelet text logger or a JSON logger behind slog.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text", "":
		handler := log.NewWithOptions(w, log.Options{
			Level:           log.Level(lvl),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Prefix:          "csmap",
		})
		return slog.New(handler), nil
	}
	return nil, config.ErrLogFormatInvalid
}

// New validates cfg and wires the clients, stores and orchestrator.
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		logger: logger.With("service", "csmap"),
		cfg:    cfg,
	}

	r.appCtx, r.appCancel = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			r.logger.Info("Received signal, cancelling operation", "signal", sig)
			r.appCancel()
		case <-r.appCtx.Done():
		}
		signal.Stop(sigChan)
	}()

	vcd, err := client.NewVcd(&client.VcdConfig{
		Href:       cfg.Vcd.Href,
		APIVersion: cfg.Vcd.APIVersion,
		SkipVerify: cfg.Vcd.SkipVerify,
		Timeout:    cfg.Vcd.Timeout,
		RateLimit:  cfg.Vcd.RateLimit.Limit,
		RateBurst:  cfg.Vcd.RateLimit.Burst,
		Logger:     r.logger,
	})
	if err != nil {
		r.appCancel()
		return nil, fmt.Errorf("failed to create vcd client: %w", err)
	}
	r.vcd = vcd
	r.store = meta.NewVcdStore(vcd, r.logger)

	if cfg.Journal.Directory != "" {
		level, _ := ParseLevel(cfg.Logging.Level)
		r.journal, err = journal.Open(journal.Config{
			Directory: cfg.Journal.Directory,
			Logger:    r.logger,
			LogLevel:  level,
		})
		if err != nil {
			r.appCancel()
			return nil, fmt.Errorf("failed to open journal at %s: %w", cfg.Journal.Directory, err)
		}
	}

	r.mapper = r.buildMapper()
	return r, nil
}

func (r *Runtime) buildMapper() *mapper.Mapper {
	keys := meta.KeySpace{Prefix: r.cfg.Metadata.KeyPrefix}

	clusterCfg := &client.ClusterConfig{
		SkipVerify: r.cfg.Cluster.SkipVerify,
		Timeout:    r.cfg.Cluster.Timeout,
		Logger:     r.logger,
	}
	connect := func(ctx context.Context, host, username, password, domain string) (mapper.TenantDirectory, error) {
		c, err := client.ConnectCluster(ctx, clusterCfg, host, username, password, domain)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	mcfg := mapper.Config{
		Platform:       r.vcd,
		ConnectCluster: connect,
		Store:          r.store,
		Keys:           keys,
		Keyring:        keyring.New(keyring.Config{Store: r.store, Logger: r.logger}),
		Poller: converge.New(converge.Config{
			Store:    r.store,
			Keys:     keys,
			Attempts: r.cfg.Convergence.Attempts,
			Interval: r.cfg.Convergence.Interval,
			Logger:   r.logger,
		}),
		Publisher: publish.New(publish.Config{
			Extensions: r.vcd,
			Store:      r.store,
			Keys:       keys,
			PluginName: r.cfg.Extension.PluginName,
			Logger:     r.logger,
		}),
		Logger: r.logger,
	}
	// A nil *journal.Journal must not become a non-nil interface.
	if r.journal != nil {
		mcfg.Journal = r.journal
	}
	return mapper.New(mcfg)
}

// Context is cancelled on SIGINT/SIGTERM or Close.
func (r *Runtime) Context() context.Context {
	return r.appCtx
}

func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

func (r *Runtime) Mapper() *mapper.Mapper {
	return r.mapper
}

func (r *Runtime) Journal() (*journal.Journal, error) {
	if r.journal == nil {
		return nil, ErrJournalDisabled
	}
	return r.journal, nil
}

// Close cancels the application context and releases the journal.
func (r *Runtime) Close() error {
	r.appCancel()
	if r.journal != nil {
		return r.journal.Close()
	}
	return nil
}
