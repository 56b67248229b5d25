package keyring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/InsulaLabs/csmap/enc"
	"github.com/InsulaLabs/csmap/meta"
	"github.com/jellydator/ttlcache/v3"
)

var DefaultCacheTTL = 5 * time.Minute

var ErrEmptyPassword = errors.New("encryption password cannot be empty")

type Config struct {
	Store    meta.Store
	Logger   *slog.Logger
	CacheTTL time.Duration
}

// Keyring resolves and provisions organization DEKs through a meta.Store.
type Keyring struct {
	store  meta.Store
	logger *slog.Logger
	cache  *ttlcache.Cache[string, string]
}

func New(cfg Config) *Keyring {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](cfg.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	return &Keyring{
		store:  cfg.Store,
		logger: cfg.Logger.WithGroup("keyring"),
		cache:  cache,
	}
}

// WrappingPassword is the KEK input for an organization.
func WrappingPassword(orgID, password string) string {
	return fmt.Sprintf("%s@%s", orgID, password)
}

func cacheKey(orgID, password string) string {
	sum := sha256.Sum256([]byte(WrappingPassword(orgID, password)))
	return hex.EncodeToString(sum[:])
}

// ResolveDEK returns the organization's DEK. ok is false, with a nil error,
// when the organization has never been given one.
func (k *Keyring) ResolveDEK(ctx context.Context, orgID, password string) (dek string, ok bool, err error) {
	if password == "" {
		return "", false, ErrEmptyPassword
	}

	ck := cacheKey(orgID, password)
	if item := k.cache.Get(ck); item != nil {
		return item.Value(), true, nil
	}

	wrapped, err := k.store.ReadEntry(ctx, orgID, meta.KeyEncryption)
	if err != nil {
		if meta.IsNotFound(err) {
			k.logger.Debug("Organization has no data encryption key", "org", orgID)
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read wrapped key for org %s: %w", orgID, err)
	}

	if err := enc.Decrypt(wrapped, WrappingPassword(orgID, password), &dek); err != nil {
		return "", false, fmt.Errorf("failed to unwrap key for org %s: %w", orgID, err)
	}

	k.cache.Set(ck, dek, ttlcache.DefaultTTL)
	return dek, true, nil
}

// EnsureDEK returns the organization's DEK, creating and storing a new one
// when none exists.
func (k *Keyring) EnsureDEK(ctx context.Context, orgID, password string) (string, error) {
	dek, ok, err := k.ResolveDEK(ctx, orgID, password)
	if err != nil {
		return "", err
	}
	if ok {
		return dek, nil
	}

	dek, err = enc.RandomKey()
	if err != nil {
		return "", err
	}

	wrapped, err := enc.Encrypt(dek, WrappingPassword(orgID, password))
	if err != nil {
		return "", fmt.Errorf("failed to wrap key for org %s: %w", orgID, err)
	}

	if err := k.store.WriteEntry(ctx, orgID, meta.KeyEncryption, wrapped); err != nil {
		return "", fmt.Errorf("failed to store wrapped key for org %s: %w", orgID, err)
	}

	k.logger.Info("Created data encryption key", "org", orgID)
	k.cache.Set(cacheKey(orgID, password), dek, ttlcache.DefaultTTL)
	return dek, nil
}

// Forget drops any cached key material.
func (k *Keyring) Forget() {
	k.cache.DeleteAll()
}
