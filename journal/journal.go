package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrInvalidOperationID = errors.New("operation id must be a uuid")
	ErrClosed             = errors.New("journal is closed")
)

type Action string

const (
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Entry records one metadata mutation together with the ciphertext it
// replaced, so a half-finished operation can be repaired by hand.
type Entry struct {
	OperationID   string    `json:"operationId"`
	Seq           int       `json:"seq"`
	Step          string    `json:"step"`
	Action        Action    `json:"action"`
	OrgID         string    `json:"orgId"`
	Key           string    `json:"key"`
	PreviousValue string    `json:"previousValue,omitempty"`
	Existed       bool      `json:"existed"`
	Time          time.Time `json:"time"`
}

type Config struct {
	Directory string
	// InMemory keeps the journal in memory only; Directory is ignored.
	InMemory bool
	Logger   *slog.Logger
	LogLevel slog.Level
}

// Journal is an append-only log of metadata mutations kept in badger.
type Journal struct {
	logger *slog.Logger
	db     *badger.DB

	mu     sync.Mutex
	seqs   map[string]int
	closed bool
}

const entryPrefix = "entry/"

func Open(cfg Config) (*Journal, error) {
	logger := cfg.Logger.WithGroup("journal")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Directory == "" {
			return nil, errors.New("journal directory cannot be empty")
		}
		if err := os.MkdirAll(cfg.Directory, 0700); err != nil {
			return nil, errors.Wrapf(err, "failed to create journal directory %s", cfg.Directory)
		}
		opts = badger.DefaultOptions(cfg.Directory)
	}

	opts = opts.
		WithLogger(&storeLog{out: logger.WithGroup("store")}).
		WithLoggingLevel(storeLevel(cfg.LogLevel)).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal")
	}

	return &Journal{
		logger: logger,
		db:     db,
		seqs:   make(map[string]int),
	}, nil
}

func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s/%04d", entryPrefix, e.Time.UnixNano(), e.OperationID, e.Seq))
}

// Record appends e. Seq is assigned per operation and Time is set when zero.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if _, err := uuid.Parse(e.OperationID); err != nil {
		return errors.Wrapf(ErrInvalidOperationID, "got %q", e.OperationID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	j.seqs[e.OperationID]++
	e.Seq = j.seqs[e.OperationID]
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode journal entry")
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e), data)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to record %s of %s", e.Action, e.Key)
	}

	j.logger.Debug("Journal entry recorded", "op", e.OperationID, "seq", e.Seq, "action", e.Action, "key", e.Key)
	return nil
}

// List returns entries newest first. An empty operationID lists every
// operation; limit <= 0 means no limit.
func (j *Journal) List(ctx context.Context, operationID string, limit int) ([]Entry, error) {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryPrefix)
		seek := append([]byte(entryPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(entries) >= limit {
				break
			}

			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return errors.Wrapf(err, "corrupt journal entry %s", it.Item().Key())
			}
			if operationID != "" && e.OperationID != operationID {
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.db.Close(); err != nil {
		j.logger.Error("error closing journal", "error", err)
		return errors.Wrap(err, "failed to close journal")
	}
	return nil
}
