package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() EndpointRecord {
	return EndpointRecord{
		Name:     "ep1",
		IP:       "10.0.0.1",
		Username: "admin",
		Password: "secret",
		Domain:   "LOCAL",
		Version:  "2",
		MappedTenants: []TenantMapping{
			{VcdTenantName: "TenantA", CohesityTenant: "CsA", CohesityTenantID: "a/"},
			{VcdTenantName: "TenantB", CohesityTenant: "CsB", CohesityTenantID: "b/"},
		},
	}
}

func TestEndpointRecord_Lookups(t *testing.T) {
	r := testRecord()

	m, ok := r.FindByVcdTenant("TenantB")
	require.True(t, ok)
	assert.Equal(t, "CsB", m.CohesityTenant)

	assert.True(t, r.HasVcdTenant("TenantA"))
	assert.False(t, r.HasVcdTenant("tenanta"))
	assert.True(t, r.HasCohesityTenant("CsA"))
	assert.False(t, r.HasCohesityTenant("CsC"))
	assert.Equal(t, []string{"TenantA", "TenantB"}, r.VcdTenantNames())
	assert.Equal(t, []MappingPair{
		{VcdTenant: "TenantA", CohesityTenant: "CsA"},
		{VcdTenant: "TenantB", CohesityTenant: "CsB"},
	}, r.Pairs())
}

func TestEndpointRecord_WithMappingDoesNotAlias(t *testing.T) {
	r := testRecord()
	r.MappedTenants = r.MappedTenants[:1:2]

	added := r.WithMapping(TenantMapping{VcdTenantName: "TenantC", CohesityTenant: "CsC"})

	require.Len(t, r.MappedTenants, 1)
	require.Len(t, added.MappedTenants, 2)
	assert.Equal(t, "TenantC", added.MappedTenants[1].VcdTenantName)
}

func TestEndpointRecord_AddThenRemoveIsNoOp(t *testing.T) {
	r := testRecord()
	m := TenantMapping{VcdTenantName: "TenantC", CohesityTenant: "CsC"}

	out := r.WithMapping(m).WithoutVcdTenant("TenantC")

	assert.Equal(t, r.MappedTenants, out.MappedTenants)
	assert.Equal(t, r.Version, out.Version)
}

func TestEndpointRecord_WithoutKeepsOrder(t *testing.T) {
	r := testRecord().WithMapping(TenantMapping{VcdTenantName: "TenantC", CohesityTenant: "CsC"})

	out := r.WithoutVcdTenant("TenantB")
	assert.Equal(t, []string{"TenantA", "TenantC"}, out.VcdTenantNames())

	empty := EndpointRecord{}.WithoutVcdTenant("x")
	assert.NotNil(t, empty.MappedTenants)
	assert.Empty(t, empty.MappedTenants)
}

func TestEndpointRecord_JSONShape(t *testing.T) {
	raw := `{"name":"ep1","ip":"10.0.0.1","username":"admin","password":"pw","domain":"LOCAL",
		"mappedTenants":[{"vcdTenantName":"TenantA","cohesityTenant":"CsA","cohesityTenantId":"7/",
		"cohesityUserName":"u","cohesityPassword":"p","cohesityDomain":"d","isAutoGenerated":false}],
		"version":1}`

	var r EndpointRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.Equal(t, json.Number("1"), r.Version)
	require.Len(t, r.MappedTenants, 1)
	assert.Equal(t, "7/", r.MappedTenants[0].CohesityTenantID)

	proj := r.TenantProjection(r.MappedTenants[0])
	data, err := json.Marshal(proj)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "ep1", generic["name"])
	assert.Equal(t, "10.0.0.1", generic["ip"])
	assert.IsType(t, map[string]any{}, generic["mappedTenants"])
	assert.NotContains(t, generic, "password")
}

func TestFindHelpers(t *testing.T) {
	orgs := []Organization{{Name: "System", ID: "1"}, {Name: "TenantA", ID: "2"}}
	o, ok := FindOrganization(orgs, "TenantA")
	require.True(t, ok)
	assert.Equal(t, "2", o.ID)
	_, ok = FindOrganization(orgs, "tenanta")
	assert.False(t, ok)

	tenants := []CohesityTenant{{Name: "CsA", TenantID: "a/"}}
	ct, ok := FindCohesityTenant(tenants, "CsA")
	require.True(t, ok)
	assert.Equal(t, "a/", ct.TenantID)
}
