package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryEntry
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryStore{ttl: ttl, now: time.Now, records: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Announce(_ context.Context, rec *Record) error {
	m.mu.Lock()
	m.records[rec.ClientID] = memoryEntry{rec: *rec, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Withdraw(_ context.Context, clientID string) error {
	m.mu.Lock()
	delete(m.records, clientID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Heartbeat(_ context.Context, recs []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, rec := range recs {
		e, ok := m.records[rec.ClientID]
		if !ok || now.After(e.expires) {
			continue
		}
		m.records[rec.ClientID] = memoryEntry{rec: *rec, expires: now.Add(m.ttl)}
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, clientID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.records[clientID]
	if !ok || m.now().After(e.expires) {
		return nil, ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

// List returns live records ordered by connection time and drops expired ones.
func (m *MemoryStore) List(_ context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]*Record, 0, len(m.records))
	for id, e := range m.records {
		if now.After(e.expires) {
			delete(m.records, id)
			continue
		}
		rec := e.rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
