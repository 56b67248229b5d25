package models

import (
	"encoding/json"
	"slices"
)

/*
	Records persisted (encrypted) as vCD organization metadata.
	Every read decrypts a whole record and every write replaces it.
*/

// TenantMapping links one vCD tenant to one Cohesity tenant. Mappings are
// replaced wholesale, never edited in place.
type TenantMapping struct {
	VcdTenantName    string `json:"vcdTenantName"`
	CohesityTenant   string `json:"cohesityTenant"`
	CohesityTenantID string `json:"cohesityTenantId"`
	CohesityUserName string `json:"cohesityUserName"`
	CohesityPassword string `json:"cohesityPassword"`
	CohesityDomain   string `json:"cohesityDomain"`
	IsAutoGenerated  bool   `json:"isAutoGenerated"`
}

// EndpointRecord is the system-context record for one cluster endpoint.
// MappedTenants holds at most one entry per vCD tenant and at most one per
// Cohesity tenant. Insertion order is preserved.
type EndpointRecord struct {
	Name          string          `json:"name"`
	IP            string          `json:"ip"`
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	Domain        string          `json:"domain"`
	Email         string          `json:"email,omitempty"`
	Version       json.Number     `json:"version"`
	MappedTenants []TenantMapping `json:"mappedTenants"`
}

// TenantEndpointRecord is the reduced copy of an endpoint stored in a mapped
// tenant's own organization. It only carries that tenant's mapping.
type TenantEndpointRecord struct {
	Name          string        `json:"name"`
	IP            string        `json:"ip"`
	MappedTenants TenantMapping `json:"mappedTenants"`
	Version       json.Number   `json:"version"`
}

// SettingsRecord is copied verbatim between contexts and never interpreted.
type SettingsRecord = json.RawMessage

// MappingPair is the listing projection of a TenantMapping.
type MappingPair struct {
	VcdTenant      string `json:"vcdTenant"`
	CohesityTenant string `json:"cohesityTenant"`
}

func (r EndpointRecord) FindByVcdTenant(name string) (TenantMapping, bool) {
	for _, m := range r.MappedTenants {
		if m.VcdTenantName == name {
			return m, true
		}
	}
	return TenantMapping{}, false
}

func (r EndpointRecord) HasVcdTenant(name string) bool {
	_, ok := r.FindByVcdTenant(name)
	return ok
}

func (r EndpointRecord) HasCohesityTenant(name string) bool {
	for _, m := range r.MappedTenants {
		if m.CohesityTenant == name {
			return true
		}
	}
	return false
}

// WithMapping returns a copy of r with m appended. The receiver is not modified.
func (r EndpointRecord) WithMapping(m TenantMapping) EndpointRecord {
	out := r
	out.MappedTenants = append(slices.Clone(r.MappedTenants), m)
	return out
}

// WithoutVcdTenant returns a copy of r without the mapping for the named vCD
// tenant. Order of the remaining mappings is preserved.
func (r EndpointRecord) WithoutVcdTenant(name string) EndpointRecord {
	out := r
	out.MappedTenants = make([]TenantMapping, 0, len(r.MappedTenants))
	for _, m := range r.MappedTenants {
		if m.VcdTenantName != name {
			out.MappedTenants = append(out.MappedTenants, m)
		}
	}
	return out
}

// TenantProjection builds the tenant-context record for m.
func (r EndpointRecord) TenantProjection(m TenantMapping) TenantEndpointRecord {
	return TenantEndpointRecord{
		Name:          r.Name,
		IP:            r.IP,
		MappedTenants: m,
		Version:       r.Version,
	}
}

func (r EndpointRecord) Pairs() []MappingPair {
	pairs := make([]MappingPair, 0, len(r.MappedTenants))
	for _, m := range r.MappedTenants {
		pairs = append(pairs, MappingPair{VcdTenant: m.VcdTenantName, CohesityTenant: m.CohesityTenant})
	}
	return pairs
}

func (r EndpointRecord) VcdTenantNames() []string {
	names := make([]string, 0, len(r.MappedTenants))
	for _, m := range r.MappedTenants {
		names = append(names, m.VcdTenantName)
	}
	return names
}
