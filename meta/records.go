package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/InsulaLabs/csmap/enc"
)

// CorruptRecordError reports a record that decrypted cleanly but does not
// match its schema. It matches enc.ErrDecryptionFailed under errors.Is.
type CorruptRecordError struct {
	Key string
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("record %s does not match its schema: %v", e.Key, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

func (e *CorruptRecordError) Is(target error) bool {
	return target == enc.ErrDecryptionFailed
}

// RecordController reads and writes one typed, encrypted record family.
// Serialization is separate from encryption so a schema mismatch is
// distinguishable from a cryptographic failure.
type RecordController[T any] interface {
	// Get returns ErrEntryNotFound when the record is absent.
	Get(ctx context.Context, orgID, key, password string) (T, error)
	Put(ctx context.Context, orgID, key, password string, value T) error
	Delete(ctx context.Context, orgID, key string) error
}

type rcImpl[T any] struct {
	store  Store
	logger *slog.Logger
}

func NewRecordController[T any](store Store, logger *slog.Logger) RecordController[T] {
	return &rcImpl[T]{
		store:  store,
		logger: logger.WithGroup("record_controller"),
	}
}

func (rc *rcImpl[T]) Get(ctx context.Context, orgID, key, password string) (T, error) {
	var result T

	sealed, err := rc.store.ReadEntry(ctx, orgID, key)
	if err != nil {
		return result, err
	}

	result, err = DecodeRecord[T](key, sealed, password)
	if err != nil {
		var corrupt *CorruptRecordError
		if errors.As(err, &corrupt) {
			rc.logger.Error("Decrypted record failed to parse", "org", orgID, "key", key, "error", corrupt.Err)
		}
		return result, err
	}
	return result, nil
}

// DecodeRecord decrypts a sealed value already in hand, such as one returned
// by Store.ListEntries.
func DecodeRecord[T any](key, sealed, password string) (T, error) {
	var result T

	plaintext, err := enc.Open(sealed, password)
	if err != nil {
		return result, fmt.Errorf("record %s: %w", key, err)
	}

	if err := json.Unmarshal(plaintext, &result); err != nil {
		var zero T
		return zero, &CorruptRecordError{Key: key, Err: err}
	}
	return result, nil
}

func (rc *rcImpl[T]) Put(ctx context.Context, orgID, key, password string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize record %s: %w", key, err)
	}

	sealed, err := enc.Seal(data, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt record %s: %w", key, err)
	}

	return rc.store.WriteEntry(ctx, orgID, key, sealed)
}

func (rc *rcImpl[T]) Delete(ctx context.Context, orgID, key string) error {
	return rc.store.DeleteEntry(ctx, orgID, key)
}

// IsNotFound reports whether err means the entry does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}
