package models

// Organization is a vCD organization as returned by the org directory.
type Organization struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// CohesityTenant is an active tenant on a Cohesity cluster.
type CohesityTenant struct {
	Name     string `json:"name"`
	TenantID string `json:"tenantId"`
}

// Extension is a UI extension registered with vCD.
type Extension struct {
	ID         string `json:"id"`
	PluginName string `json:"pluginName"`
	Version    string `json:"version,omitempty"`
}

// MetadataEntry is one named string value of an organization's metadata.
type MetadataEntry struct {
	Key   string
	Value string
}

// FindOrganization returns the organization with exactly the given name.
func FindOrganization(orgs []Organization, name string) (Organization, bool) {
	for _, o := range orgs {
		if o.Name == name {
			return o, true
		}
	}
	return Organization{}, false
}

func FindCohesityTenant(tenants []CohesityTenant, name string) (CohesityTenant, bool) {
	for _, t := range tenants {
		if t.Name == name {
			return t, true
		}
	}
	return CohesityTenant{}, false
}
