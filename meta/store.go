package meta

import (
	"context"
	"errors"
	"fmt"

	"github.com/InsulaLabs/csmap/models"
)

var (
	ErrEntryNotFound = errors.New("metadata entry not found")
	ErrEmptyKey      = errors.New("metadata key cannot be empty")
	ErrEmptyOrg      = errors.New("organization id cannot be empty")
)

// Store is a plain key/value surface over organization metadata addressed by
// (organization id, key name). It never encrypts or decrypts.
type Store interface {
	// ReadEntry returns ErrEntryNotFound when the key is absent.
	ReadEntry(ctx context.Context, orgID, key string) (string, error)
	WriteEntry(ctx context.Context, orgID, key, value string) error
	// DeleteEntry is a no-op for absent keys.
	DeleteEntry(ctx context.Context, orgID, key string) error
	// ListEntries returns every entry whose key starts with prefix. An empty
	// prefix lists everything.
	ListEntries(ctx context.Context, orgID, prefix string) ([]models.MetadataEntry, error)
}

func checkAddress(orgID, key string) error {
	if orgID == "" {
		return ErrEmptyOrg
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

const (
	// KeyEncryption holds the organization's wrapped data encryption key.
	KeyEncryption = "enc"
	// KeySettings holds the opaque settings blob.
	KeySettings = "COHESITY_SETTINGS"

	endpointConfigPrefix = "endpointConfig_"
	tenantConfigPrefix   = "tenantConfig_"

	DefaultKeyPrefix = "cs_"
)

// KeySpace names the endpoint and tenant records. Prefix is prepended to
// both record families so they can coexist with other metadata.
type KeySpace struct {
	Prefix string
}

func (k KeySpace) EndpointKey(endpointName string) string {
	return fmt.Sprintf("%s%s%s", k.Prefix, endpointConfigPrefix, endpointName)
}

func (k KeySpace) TenantKey(endpointName string) string {
	return fmt.Sprintf("%s%s%s", k.Prefix, tenantConfigPrefix, endpointName)
}

// EndpointPrefix matches every endpoint record in the system organization.
func (k KeySpace) EndpointPrefix() string {
	return k.Prefix + endpointConfigPrefix
}
