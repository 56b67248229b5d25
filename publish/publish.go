package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/InsulaLabs/csmap/meta"
	"github.com/InsulaLabs/csmap/models"
)

const DefaultPluginName = "Cohesity"

// Extensions is the platform's UI extension surface.
type Extensions interface {
	ListUIExtensions(ctx context.Context) ([]models.Extension, error)
	UnpublishAll(ctx context.Context, extensionID string) error
	Publish(ctx context.Context, extensionID string, orgs []models.Organization) error
}

type Config struct {
	Extensions Extensions
	Store      meta.Store
	Keys       meta.KeySpace
	PluginName string
	Logger     *slog.Logger
}

// Publisher scopes the UI extension to the organizations that hold at least
// one mapping on any endpoint.
type Publisher struct {
	extensions Extensions
	store      meta.Store
	keys       meta.KeySpace
	pluginName string
	logger     *slog.Logger
}

// Outcome reports what Republish did. Skipped is set when the extension is
// not installed; Published is sorted by organization name.
type Outcome struct {
	Skipped   bool
	Published []models.Organization
}

func New(cfg Config) *Publisher {
	if cfg.PluginName == "" {
		cfg.PluginName = DefaultPluginName
	}
	return &Publisher{
		extensions: cfg.Extensions,
		store:      cfg.Store,
		keys:       cfg.Keys,
		pluginName: cfg.PluginName,
		logger:     cfg.Logger.WithGroup("publish"),
	}
}

// MappedTenants decrypts every endpoint record in the system organization and
// returns the distinct vCD tenant names they map, sorted.
func (p *Publisher) MappedTenants(ctx context.Context, systemOrgID, systemDEK string) ([]string, error) {
	entries, err := p.store.ListEntries(ctx, systemOrgID, p.keys.EndpointPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoint records: %w", err)
	}

	seen := make(map[string]struct{})
	for _, entry := range entries {
		record, err := meta.DecodeRecord[models.EndpointRecord](entry.Key, entry.Value, systemDEK)
		if err != nil {
			return nil, err
		}
		for _, name := range record.VcdTenantNames() {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Publisher) resolveExtension(ctx context.Context) (models.Extension, bool, error) {
	extensions, err := p.extensions.ListUIExtensions(ctx)
	if err != nil {
		return models.Extension{}, false, fmt.Errorf("failed to list UI extensions: %w", err)
	}
	for _, ext := range extensions {
		if ext.PluginName == p.pluginName {
			return ext, true, nil
		}
	}
	return models.Extension{}, false, nil
}

// Republish unpublishes the extension from every organization and publishes
// it to exactly the mapped set. orgs is the platform's organization directory
// used to turn tenant names into references; names it does not contain are
// logged and left out.
func (p *Publisher) Republish(ctx context.Context, systemOrgID, systemDEK string, orgs []models.Organization) (Outcome, error) {
	ext, found, err := p.resolveExtension(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		p.logger.Warn("UI extension not installed, skipping publish", "plugin", p.pluginName)
		return Outcome{Skipped: true}, nil
	}

	names, err := p.MappedTenants(ctx, systemOrgID, systemDEK)
	if err != nil {
		return Outcome{}, err
	}

	targets := make([]models.Organization, 0, len(names))
	for _, name := range names {
		org, ok := models.FindOrganization(orgs, name)
		if !ok {
			p.logger.Warn("Mapped tenant has no organization, leaving it out of publish", "tenant", name)
			continue
		}
		targets = append(targets, org)
	}

	if err := p.extensions.UnpublishAll(ctx, ext.ID); err != nil {
		return Outcome{}, fmt.Errorf("failed to unpublish extension %s: %w", ext.ID, err)
	}

	if len(targets) == 0 {
		p.logger.Info("No mapped tenants, extension left unpublished", "extension", ext.ID)
		return Outcome{Published: targets}, nil
	}

	if err := p.extensions.Publish(ctx, ext.ID, targets); err != nil {
		return Outcome{}, fmt.Errorf("failed to publish extension %s: %w", ext.ID, err)
	}

	p.logger.Info("Extension published", "extension", ext.ID, "tenants", len(targets))
	return Outcome{Published: targets}, nil
}
