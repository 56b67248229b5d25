package meta

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/InsulaLabs/csmap/enc"
	"github.com/InsulaLabs/csmap/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKeySpace(t *testing.T) {
	ks := KeySpace{Prefix: DefaultKeyPrefix}
	assert.Equal(t, "cs_endpointConfig_ep1", ks.EndpointKey("ep1"))
	assert.Equal(t, "cs_tenantConfig_ep1", ks.TenantKey("ep1"))
	assert.Equal(t, "cs_endpointConfig_", ks.EndpointPrefix())

	bare := KeySpace{}
	assert.Equal(t, "endpointConfig_ep1", bare.EndpointKey("ep1"))
	assert.Equal(t, "tenantConfig_ep1", bare.TenantKey("ep1"))
}

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.ReadEntry(ctx, "org1", "k")
	require.ErrorIs(t, err, ErrEntryNotFound)

	require.NoError(t, s.WriteEntry(ctx, "org1", "k", "v1"))
	v, err := s.ReadEntry(ctx, "org1", "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	// Entries are scoped per organization.
	_, err = s.ReadEntry(ctx, "org2", "k")
	require.ErrorIs(t, err, ErrEntryNotFound)

	require.NoError(t, s.DeleteEntry(ctx, "org1", "k"))
	require.NoError(t, s.DeleteEntry(ctx, "org1", "k"))
	_, err = s.ReadEntry(ctx, "org1", "k")
	require.ErrorIs(t, err, ErrEntryNotFound)

	reads, writes, deletes := s.Counts()
	assert.Equal(t, 4, reads)
	assert.Equal(t, 1, writes)
	assert.Equal(t, 2, deletes)

	require.ErrorIs(t, s.WriteEntry(ctx, "", "k", "v"), ErrEmptyOrg)
	require.ErrorIs(t, s.WriteEntry(ctx, "org1", "", "v"), ErrEmptyKey)
}

func TestMemoryStore_VisibilityLag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put("org1", "k", "old")
	s.SetVisibilityLag(2)

	require.NoError(t, s.WriteEntry(ctx, "org1", "k", "new"))

	peek, ok := s.Peek("org1", "k")
	require.True(t, ok)
	assert.Equal(t, "new", peek)

	for i := 0; i < 2; i++ {
		v, err := s.ReadEntry(ctx, "org1", "k")
		require.NoError(t, err)
		assert.Equal(t, "old", v, "read %d", i)
	}
	v, err := s.ReadEntry(ctx, "org1", "k")
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestMemoryStore_ListEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put("sys", "cs_endpointConfig_b", "2")
	s.Put("sys", "cs_endpointConfig_a", "1")
	s.Put("sys", "enc", "x")
	s.Put("other", "cs_endpointConfig_c", "3")

	entries, err := s.ListEntries(ctx, "sys", "cs_endpointConfig_")
	require.NoError(t, err)
	assert.Equal(t, []models.MetadataEntry{
		{Key: "cs_endpointConfig_a", Value: "1"},
		{Key: "cs_endpointConfig_b", Value: "2"},
	}, entries)

	all, err := s.ListEntries(ctx, "sys", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_FailHooks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	s.FailWrites(func(orgID, key string) error {
		if key == "blocked" {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, s.WriteEntry(ctx, "o", "blocked", "v"), boom)
	require.NoError(t, s.WriteEntry(ctx, "o", "open", "v"))

	s.FailReads(func(orgID, key string) error { return boom })
	_, err := s.ReadEntry(ctx, "o", "open")
	require.ErrorIs(t, err, boom)
}

type testRecord struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestRecordController_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rc := NewRecordController[testRecord](s, testLogger())

	_, err := rc.Get(ctx, "org1", "rec", "pw")
	require.True(t, IsNotFound(err))

	in := testRecord{Name: "ep1", Items: []string{"a", "b"}}
	require.NoError(t, rc.Put(ctx, "org1", "rec", "pw", in))

	raw, ok := s.Peek("org1", "rec")
	require.True(t, ok)
	assert.NotContains(t, raw, "ep1")

	out, err := rc.Get(ctx, "org1", "rec", "pw")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = rc.Get(ctx, "org1", "rec", "other")
	require.ErrorIs(t, err, enc.ErrDecryptionFailed)

	require.NoError(t, rc.Delete(ctx, "org1", "rec"))
	_, err = rc.Get(ctx, "org1", "rec", "pw")
	require.True(t, IsNotFound(err))
}

func TestRecordController_SchemaMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sealed, err := enc.Encrypt([]int{1, 2, 3}, "pw")
	require.NoError(t, err)
	s.Put("org1", "rec", sealed)

	rc := NewRecordController[testRecord](s, testLogger())
	_, err = rc.Get(ctx, "org1", "rec", "pw")

	var corrupt *CorruptRecordError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "rec", corrupt.Key)
	require.ErrorIs(t, err, enc.ErrDecryptionFailed)
}

func TestDecodeRecord(t *testing.T) {
	sealed, err := enc.Encrypt(testRecord{Name: "a"}, "pw")
	require.NoError(t, err)

	rec, err := DecodeRecord[testRecord]("rec", sealed, "pw")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Name)

	_, err = DecodeRecord[testRecord]("rec", sealed, "other")
	require.ErrorIs(t, err, enc.ErrDecryptionFailed)
	var corrupt *CorruptRecordError
	assert.False(t, errors.As(err, &corrupt))
}

type fakeMetadataClient struct {
	entries map[string][]models.MetadataEntry
	err     error
	deleted []string
}

func (f *fakeMetadataClient) ListMetadata(ctx context.Context, orgID string) ([]models.MetadataEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[orgID], nil
}

func (f *fakeMetadataClient) SetMetadata(ctx context.Context, orgID, key, value string) error {
	if f.err != nil {
		return f.err
	}
	list := f.entries[orgID]
	for i := range list {
		if list[i].Key == key {
			list[i].Value = value
			return nil
		}
	}
	f.entries[orgID] = append(list, models.MetadataEntry{Key: key, Value: value})
	return nil
}

func (f *fakeMetadataClient) DeleteMetadata(ctx context.Context, orgID, key string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, orgID+"/"+key)
	return nil
}

func TestVcdStore(t *testing.T) {
	ctx := context.Background()
	fc := &fakeMetadataClient{entries: map[string][]models.MetadataEntry{
		"sys": {
			{Key: "enc", Value: "wrapped"},
			{Key: "cs_endpointConfig_ep1", Value: "sealed1"},
		},
	}}
	s := NewVcdStore(fc, testLogger())

	v, err := s.ReadEntry(ctx, "sys", "enc")
	require.NoError(t, err)
	assert.Equal(t, "wrapped", v)

	_, err = s.ReadEntry(ctx, "sys", "missing")
	require.ErrorIs(t, err, ErrEntryNotFound)

	require.NoError(t, s.WriteEntry(ctx, "sys", "cs_endpointConfig_ep2", "sealed2"))
	list, err := s.ListEntries(ctx, "sys", "cs_endpointConfig_")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteEntry(ctx, "tenant", "cs_tenantConfig_ep1"))
	assert.Equal(t, []string{"tenant/cs_tenantConfig_ep1"}, fc.deleted)

	boom := errors.New("connection reset")
	fc.err = boom
	_, err = s.ReadEntry(ctx, "sys", "enc")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to read metadata of org sys")
}
