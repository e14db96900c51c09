package credentials

import (
	"context"
	"sort"
	"sync"
)

// SecretStore persists sealed credential records
type SecretStore interface {
	Put(ctx context.Context, rec *SecretRecord) error
	Get(ctx context.Context, providerID string) (*SecretRecord, error)
	Delete(ctx context.Context, providerID string) error
	List(ctx context.Context) ([]*SecretRecord, error)
}

// MemorySecretStore keeps records in process memory
type MemorySecretStore struct {
	mu      sync.RWMutex
	records map[string]SecretRecord
}

// NewMemorySecretStore creates an empty in-memory store
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{records: make(map[string]SecretRecord)}
}

// Put inserts or replaces a record
func (m *MemorySecretStore) Put(_ context.Context, rec *SecretRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rec
	stored.Payload = append([]byte(nil), rec.Payload...)
	m.records[rec.ProviderID] = stored
	return nil
}

// Get returns a copy of the record for providerID
func (m *MemorySecretStore) Get(_ context.Context, providerID string) (*SecretRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[providerID]
	if !ok {
		return nil, ErrSecretNotFound
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec, nil
}

// Delete removes the record for providerID
func (m *MemorySecretStore) Delete(_ context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[providerID]; !ok {
		return ErrSecretNotFound
	}
	delete(m.records, providerID)
	return nil
}

// List returns all records sorted by provider id
func (m *MemorySecretStore) List(_ context.Context) ([]*SecretRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SecretRecord, 0, len(m.records))
	for _, rec := range m.records {
		rec.Payload = append([]byte(nil), rec.Payload...)
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

// Len returns the number of stored records
func (m *MemorySecretStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
