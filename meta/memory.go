package meta

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/InsulaLabs/csmap/models"
)

type memKey struct {
	org string
	key string
}

// MemoryStore is an in-process Store. Writes can be made to lag behind reads
// with SetVisibilityLag to reproduce the platform's eventual consistency.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[memKey]string

	// pending holds writes that are not yet visible, with the number of reads
	// still required before they apply. A nil value pointer is a delete.
	pending map[memKey]*pendingWrite
	lag     int

	reads   int
	writes  int
	deletes int

	failWrite func(orgID, key string) error
	failRead  func(orgID, key string) error
}

type pendingWrite struct {
	value     *string
	remaining int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[memKey]string),
		pending: make(map[memKey]*pendingWrite),
	}
}

var _ Store = &MemoryStore{}

// SetVisibilityLag delays every later write or delete until that many reads
// of the same key have been served.
func (m *MemoryStore) SetVisibilityLag(reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lag = reads
}

// FailWrites installs a hook consulted before every write and delete.
func (m *MemoryStore) FailWrites(fn func(orgID, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = fn
}

// FailReads installs a hook consulted before every read and list.
func (m *MemoryStore) FailReads(fn func(orgID, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead = fn
}

// Put seeds a visible entry without counting it as a write.
func (m *MemoryStore) Put(orgID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey{orgID, key}] = value
}

// Peek returns the committed value, ignoring any visibility lag.
func (m *MemoryStore) Peek(orgID, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{orgID, key}
	if p, ok := m.pending[k]; ok {
		if p.value == nil {
			return "", false
		}
		return *p.value, true
	}
	v, ok := m.entries[k]
	return v, ok
}

func (m *MemoryStore) Counts() (reads, writes, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes, m.deletes
}

func (m *MemoryStore) settle(k memKey) {
	p, ok := m.pending[k]
	if !ok {
		return
	}
	if p.remaining > 0 {
		p.remaining--
		return
	}
	if p.value == nil {
		delete(m.entries, k)
	} else {
		m.entries[k] = *p.value
	}
	delete(m.pending, k)
}

func (m *MemoryStore) ReadEntry(ctx context.Context, orgID, key string) (string, error) {
	if err := checkAddress(orgID, key); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		if err := m.failRead(orgID, key); err != nil {
			return "", err
		}
	}
	m.reads++
	k := memKey{orgID, key}
	m.settle(k)
	v, ok := m.entries[k]
	if !ok {
		return "", ErrEntryNotFound
	}
	return v, nil
}

func (m *MemoryStore) stage(k memKey, value *string) {
	if m.lag <= 0 {
		if value == nil {
			delete(m.entries, k)
		} else {
			m.entries[k] = *value
		}
		delete(m.pending, k)
		return
	}
	m.pending[k] = &pendingWrite{value: value, remaining: m.lag}
}

func (m *MemoryStore) WriteEntry(ctx context.Context, orgID, key, value string) error {
	if err := checkAddress(orgID, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		if err := m.failWrite(orgID, key); err != nil {
			return err
		}
	}
	m.writes++
	m.stage(memKey{orgID, key}, &value)
	return nil
}

func (m *MemoryStore) DeleteEntry(ctx context.Context, orgID, key string) error {
	if err := checkAddress(orgID, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		if err := m.failWrite(orgID, key); err != nil {
			return err
		}
	}
	m.deletes++
	m.stage(memKey{orgID, key}, nil)
	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, orgID, prefix string) ([]models.MetadataEntry, error) {
	if orgID == "" {
		return nil, ErrEmptyOrg
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		if err := m.failRead(orgID, prefix); err != nil {
			return nil, err
		}
	}
	m.reads++
	var out []models.MetadataEntry
	for k, v := range m.entries {
		if k.org == orgID && strings.HasPrefix(k.key, prefix) {
			out = append(out, models.MetadataEntry{Key: k.key, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
