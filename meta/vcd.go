package meta

import (
	"context"
	"log/slog"
	"strings"

	"github.com/InsulaLabs/csmap/models"
	"github.com/pkg/errors"
)

// MetadataClient is the subset of the vCD API used by VcdStore.
type MetadataClient interface {
	ListMetadata(ctx context.Context, orgID string) ([]models.MetadataEntry, error)
	SetMetadata(ctx context.Context, orgID, key, value string) error
	DeleteMetadata(ctx context.Context, orgID, key string) error
}

// VcdStore keeps entries as string metadata on vCD organizations. vCD only
// offers a per-organization listing, so single reads scan that listing.
type VcdStore struct {
	client MetadataClient
	logger *slog.Logger
}

var _ Store = &VcdStore{}

func NewVcdStore(c MetadataClient, logger *slog.Logger) *VcdStore {
	return &VcdStore{
		client: c,
		logger: logger.WithGroup("vcd_store"),
	}
}

func (s *VcdStore) ReadEntry(ctx context.Context, orgID, key string) (string, error) {
	if err := checkAddress(orgID, key); err != nil {
		return "", err
	}
	s.logger.Debug("Reading metadata entry", "org", orgID, "key", key)

	entries, err := s.client.ListMetadata(ctx, orgID)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read metadata of org %s", orgID)
	}
	for _, e := range entries {
		if e.Key == key {
			return e.Value, nil
		}
	}
	return "", ErrEntryNotFound
}

func (s *VcdStore) WriteEntry(ctx context.Context, orgID, key, value string) error {
	if err := checkAddress(orgID, key); err != nil {
		return err
	}
	s.logger.Debug("Saving metadata entry", "org", orgID, "key", key)

	if err := s.client.SetMetadata(ctx, orgID, key, value); err != nil {
		return errors.Wrapf(err, "failed to save metadata %s for org %s", key, orgID)
	}
	return nil
}

func (s *VcdStore) DeleteEntry(ctx context.Context, orgID, key string) error {
	if err := checkAddress(orgID, key); err != nil {
		return err
	}
	s.logger.Debug("Deleting metadata entry", "org", orgID, "key", key)

	if err := s.client.DeleteMetadata(ctx, orgID, key); err != nil {
		return errors.Wrapf(err, "failed to delete metadata %s for org %s", key, orgID)
	}
	return nil
}

func (s *VcdStore) ListEntries(ctx context.Context, orgID, prefix string) ([]models.MetadataEntry, error) {
	if orgID == "" {
		return nil, ErrEmptyOrg
	}
	entries, err := s.client.ListMetadata(ctx, orgID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list metadata of org %s", orgID)
	}
	out := make([]models.MetadataEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}
