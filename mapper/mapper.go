package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/InsulaLabs/csmap/client"
	"github.com/InsulaLabs/csmap/converge"
	"github.com/InsulaLabs/csmap/journal"
	"github.com/InsulaLabs/csmap/meta"
	"github.com/InsulaLabs/csmap/models"
	"github.com/InsulaLabs/csmap/publish"
	"github.com/google/uuid"
)

// Platform is the vCD session and organization directory.
type Platform interface {
	Login(ctx context.Context, username, password, org string) error
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
}

// TenantDirectory lists the active tenants of one backup cluster.
type TenantDirectory interface {
	ListTenants(ctx context.Context) ([]models.CohesityTenant, error)
}

// ClusterConnector authenticates to the cluster at host.
type ClusterConnector func(ctx context.Context, host, username, password, domain string) (TenantDirectory, error)

type Keyring interface {
	ResolveDEK(ctx context.Context, orgID, password string) (string, bool, error)
	EnsureDEK(ctx context.Context, orgID, password string) (string, error)
}

type Poller interface {
	Await(ctx context.Context, target converge.Target) error
}

type Publisher interface {
	MappedTenants(ctx context.Context, systemOrgID, systemDEK string) ([]string, error)
	Republish(ctx context.Context, systemOrgID, systemDEK string, orgs []models.Organization) (publish.Outcome, error)
}

type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

type Config struct {
	Platform       Platform
	ConnectCluster ClusterConnector
	Store          meta.Store
	Keys           meta.KeySpace
	Keyring        Keyring
	Poller         Poller
	Publisher      Publisher
	// Journal is optional.
	Journal Journal
	Logger  *slog.Logger
}

// Mapper links vCD tenants to Cohesity tenants by editing encrypted
// organization metadata. Each call runs one operation end to end.
type Mapper struct {
	platform  Platform
	connect   ClusterConnector
	store     meta.Store
	keys      meta.KeySpace
	keyring   Keyring
	poller    Poller
	publisher Publisher
	journal   Journal
	logger    *slog.Logger

	endpoints meta.RecordController[models.EndpointRecord]
	tenants   meta.RecordController[models.TenantEndpointRecord]
	settings  meta.RecordController[models.SettingsRecord]
}

// Result describes a completed (or committed) mutation. Warnings collects
// soft failures that did not abort the operation.
type Result struct {
	OperationID    string
	Warnings       []string
	Published      []models.Organization
	PublishSkipped bool
}

func New(cfg Config) *Mapper {
	logger := cfg.Logger.WithGroup("mapper")
	return &Mapper{
		platform:  cfg.Platform,
		connect:   cfg.ConnectCluster,
		store:     cfg.Store,
		keys:      cfg.Keys,
		keyring:   cfg.Keyring,
		poller:    cfg.Poller,
		publisher: cfg.Publisher,
		journal:   cfg.Journal,
		logger:    logger,
		endpoints: meta.NewRecordController[models.EndpointRecord](cfg.Store, logger),
		tenants:   meta.NewRecordController[models.TenantEndpointRecord](cfg.Store, logger),
		settings:  meta.NewRecordController[models.SettingsRecord](cfg.Store, logger),
	}
}

type operation struct {
	id     string
	logger *slog.Logger
	result *Result
}

func (m *Mapper) begin(action string) *operation {
	id := uuid.NewString()
	return &operation{
		id:     id,
		logger: m.logger.With("op", id, "action", action),
		result: &Result{OperationID: id},
	}
}

func (op *operation) warn(msg string, err error) {
	op.logger.Warn(msg, "error", err)
	op.result.Warnings = append(op.result.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// resolved is the state shared by every operation once the system context
// has been opened.
type resolved struct {
	orgs      []models.Organization
	systemOrg models.Organization
	systemDEK string
	endpoint  models.EndpointRecord
}

func authError(what string, err error) error {
	if errors.Is(err, client.ErrUnauthorized) {
		return fmt.Errorf("%w: %s: %v", ErrAuthFailure, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func findSystemOrg(orgs []models.Organization) (models.Organization, bool) {
	for _, org := range orgs {
		if strings.EqualFold(org.Name, client.SystemOrgName) {
			return org, true
		}
	}
	return models.Organization{}, false
}

// openSystem authenticates, enumerates organizations and opens the system
// DEK. When endpointName is not empty the endpoint record is loaded too.
func (m *Mapper) openSystem(ctx context.Context, op *operation, creds Credentials, password, endpointName string) (*resolved, error) {
	if err := m.platform.Login(ctx, creds.Username, creds.Password, client.SystemOrgName); err != nil {
		return nil, authError("vcd login", err)
	}

	orgs, err := m.platform.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}

	systemOrg, ok := findSystemOrg(orgs)
	if !ok {
		return nil, ErrSystemOrgNotFound
	}

	r := &resolved{orgs: orgs, systemOrg: systemOrg}

	dek, ok, err := m.keyring.ResolveDEK(ctx, systemOrg.ID, password)
	if err != nil {
		return nil, err
	}

	if endpointName == "" {
		if !ok {
			return nil, ErrKeyNotProvisioned
		}
		r.systemDEK = dek
		return r, nil
	}

	key := m.keys.EndpointKey(endpointName)
	if !ok {
		if _, err := m.store.ReadEntry(ctx, systemOrg.ID, key); err != nil {
			if meta.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, endpointName)
			}
			return nil, err
		}
		return nil, ErrKeyNotProvisioned
	}
	r.systemDEK = dek

	endpoint, err := m.endpoints.Get(ctx, systemOrg.ID, key, dek)
	if err != nil {
		if meta.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, endpointName)
		}
		return nil, err
	}
	r.endpoint = endpoint

	op.logger.Debug("System context opened", "system_org", systemOrg.ID, "endpoint", endpointName, "mappings", len(endpoint.MappedTenants))
	return r, nil
}

// guard journals the current value of key before it is mutated.
func (m *Mapper) guard(ctx context.Context, op *operation, step string, action journal.Action, orgID, key string) error {
	if m.journal == nil {
		return nil
	}

	entry := journal.Entry{
		OperationID: op.id,
		Step:        step,
		Action:      action,
		OrgID:       orgID,
		Key:         key,
	}

	previous, err := m.store.ReadEntry(ctx, orgID, key)
	switch {
	case err == nil:
		entry.PreviousValue = previous
		entry.Existed = true
	case meta.IsNotFound(err):
	default:
		return fmt.Errorf("failed to read %s before %s: %w", key, step, err)
	}

	if err := m.journal.Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to journal %s: %w", step, err)
	}
	return nil
}

// Add maps req.VcdTenant to req.CohesityTenant on the endpoint. Every check
// runs before the first write. Once the system record is written there is no
// rollback: a later failure leaves the mapping committed, and the returned
// Result is still populated.
func (m *Mapper) Add(ctx context.Context, req AddRequest) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	op := m.begin("add")
	op.logger.Info("Adding tenant mapping", "endpoint", req.EndpointName, "vcd_tenant", req.VcdTenant, "cohesity_tenant", req.CohesityTenant)

	r, err := m.openSystem(ctx, op, req.Credentials, req.EncryptionPassword, req.EndpointName)
	if err != nil {
		return nil, err
	}

	cluster, err := m.connect(ctx, r.endpoint.IP, r.endpoint.Username, r.endpoint.Password, r.endpoint.Domain)
	if err != nil {
		return nil, authError("cluster login", err)
	}
	clusterTenants, err := cluster.ListTenants(ctx)
	if err != nil {
		return nil, authError("cluster tenants", err)
	}

	csTenant, ok := models.FindCohesityTenant(clusterTenants, req.CohesityTenant)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCohesityTenant, req.CohesityTenant)
	}
	tenantOrg, ok := models.FindOrganization(r.orgs, req.VcdTenant)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVcdTenant, req.VcdTenant)
	}
	if r.endpoint.HasVcdTenant(req.VcdTenant) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVcdMapping, req.VcdTenant)
	}
	if r.endpoint.HasCohesityTenant(req.CohesityTenant) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCohesityMapping, req.CohesityTenant)
	}

	mapping := models.TenantMapping{
		VcdTenantName:    req.VcdTenant,
		CohesityTenant:   csTenant.Name,
		CohesityTenantID: csTenant.TenantID,
		CohesityUserName: req.CohesityUsername,
		CohesityPassword: req.CohesityPassword,
		CohesityDomain:   req.CohesityDomain,
		IsAutoGenerated:  false,
	}
	updated := r.endpoint.WithMapping(mapping)

	systemKey := m.keys.EndpointKey(req.EndpointName)
	if err := m.guard(ctx, op, "system-record", journal.ActionWrite, r.systemOrg.ID, systemKey); err != nil {
		return nil, err
	}
	if err := m.endpoints.Put(ctx, r.systemOrg.ID, systemKey, r.systemDEK, updated); err != nil {
		return nil, fmt.Errorf("failed to update system metadata: %w", err)
	}
	op.logger.Info("Mapping added to system metadata", "endpoint", req.EndpointName)

	tenantDEK, err := m.keyring.EnsureDEK(ctx, tenantOrg.ID, req.EncryptionPassword)
	if err != nil {
		return op.result, fmt.Errorf("failed to provision key for %s: %w", req.VcdTenant, err)
	}

	tenantKey := m.keys.TenantKey(req.EndpointName)
	if err := m.guard(ctx, op, "tenant-record", journal.ActionWrite, tenantOrg.ID, tenantKey); err != nil {
		return op.result, err
	}
	if err := m.tenants.Put(ctx, tenantOrg.ID, tenantKey, tenantDEK, updated.TenantProjection(mapping)); err != nil {
		return op.result, fmt.Errorf("failed to update tenant metadata: %w", err)
	}
	op.logger.Info("Endpoint added to tenant metadata", "tenant_org", tenantOrg.ID)

	m.copySettings(ctx, op, r, tenantOrg.ID, tenantDEK)

	err = m.poller.Await(ctx, converge.Target{
		SystemOrgID:   r.systemOrg.ID,
		SystemDEK:     r.systemDEK,
		EndpointName:  req.EndpointName,
		VcdTenant:     req.VcdTenant,
		ExpectPresent: true,
	})
	if err != nil {
		return op.result, err
	}

	if err := m.republish(ctx, op, r); err != nil {
		return op.result, err
	}

	op.logger.Info("Tenant mapping added", "endpoint", req.EndpointName, "vcd_tenant", req.VcdTenant)
	return op.result, nil
}

// copySettings copies the system settings blob into the tenant context.
// Failures are recorded as warnings only.
func (m *Mapper) copySettings(ctx context.Context, op *operation, r *resolved, tenantOrgID, tenantDEK string) {
	settings, err := m.settings.Get(ctx, r.systemOrg.ID, meta.KeySettings, r.systemDEK)
	if err != nil {
		if meta.IsNotFound(err) {
			op.logger.Debug("No settings in system context, nothing to copy")
			return
		}
		op.warn("failed to read settings from system context", err)
		return
	}

	if err := m.guard(ctx, op, "settings", journal.ActionWrite, tenantOrgID, meta.KeySettings); err != nil {
		op.warn("failed to copy settings to tenant context", err)
		return
	}
	if err := m.settings.Put(ctx, tenantOrgID, meta.KeySettings, tenantDEK, settings); err != nil {
		op.warn("failed to copy settings to tenant context", err)
		return
	}
	op.logger.Debug("Settings copied to tenant context", "tenant_org", tenantOrgID)
}

func (m *Mapper) republish(ctx context.Context, op *operation, r *resolved) error {
	outcome, err := m.publisher.Republish(ctx, r.systemOrg.ID, r.systemDEK, r.orgs)
	if err != nil {
		return err
	}
	if outcome.Skipped {
		op.warn("extension not published", errors.New("UI extension is not installed"))
		op.result.PublishSkipped = true
		return nil
	}
	op.result.Published = outcome.Published
	return nil
}

// Remove deletes the mapping for req.VcdTenant. Like Add, nothing is rolled
// back after the system record is written.
func (m *Mapper) Remove(ctx context.Context, req RemoveRequest) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	op := m.begin("remove")
	op.logger.Info("Removing tenant mapping", "endpoint", req.EndpointName, "vcd_tenant", req.VcdTenant)

	r, err := m.openSystem(ctx, op, req.Credentials, req.EncryptionPassword, req.EndpointName)
	if err != nil {
		return nil, err
	}

	if !r.endpoint.HasVcdTenant(req.VcdTenant) {
		return nil, fmt.Errorf("%w: %s", ErrNotMapped, req.VcdTenant)
	}

	updated := r.endpoint.WithoutVcdTenant(req.VcdTenant)

	systemKey := m.keys.EndpointKey(req.EndpointName)
	if err := m.guard(ctx, op, "system-record", journal.ActionWrite, r.systemOrg.ID, systemKey); err != nil {
		return nil, err
	}
	if err := m.endpoints.Put(ctx, r.systemOrg.ID, systemKey, r.systemDEK, updated); err != nil {
		return nil, fmt.Errorf("failed to update system metadata: %w", err)
	}
	op.logger.Info("Mapping removed from system metadata", "endpoint", req.EndpointName)

	if tenantOrg, ok := models.FindOrganization(r.orgs, req.VcdTenant); ok {
		tenantKey := m.keys.TenantKey(req.EndpointName)
		if err := m.guard(ctx, op, "tenant-record", journal.ActionDelete, tenantOrg.ID, tenantKey); err != nil {
			return op.result, err
		}
		if err := m.tenants.Delete(ctx, tenantOrg.ID, tenantKey); err != nil {
			return op.result, fmt.Errorf("failed to delete tenant metadata: %w", err)
		}
		op.logger.Info("Endpoint removed from tenant metadata", "tenant_org", tenantOrg.ID)
	} else {
		op.warn("tenant metadata not removed", fmt.Errorf("organization %s no longer exists", req.VcdTenant))
	}

	err = m.poller.Await(ctx, converge.Target{
		SystemOrgID:   r.systemOrg.ID,
		SystemDEK:     r.systemDEK,
		EndpointName:  req.EndpointName,
		VcdTenant:     req.VcdTenant,
		ExpectPresent: false,
	})
	if err != nil {
		return op.result, err
	}

	if err := m.republish(ctx, op, r); err != nil {
		return op.result, err
	}

	op.logger.Info("Tenant mapping removed", "endpoint", req.EndpointName, "vcd_tenant", req.VcdTenant)
	return op.result, nil
}

// List returns the endpoint's mappings in insertion order. It never writes.
func (m *Mapper) List(ctx context.Context, req ListRequest) ([]models.MappingPair, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	op := m.begin("list")

	r, err := m.openSystem(ctx, op, req.Credentials, req.EncryptionPassword, req.EndpointName)
	if err != nil {
		return nil, err
	}
	return r.endpoint.Pairs(), nil
}

// ListAll returns every vCD tenant mapped on any endpoint, sorted.
func (m *Mapper) ListAll(ctx context.Context, req ListAllRequest) ([]string, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	op := m.begin("list-all")

	r, err := m.openSystem(ctx, op, req.Credentials, req.EncryptionPassword, "")
	if err != nil {
		return nil, err
	}
	return m.publisher.MappedTenants(ctx, r.systemOrg.ID, r.systemDEK)
}
