// Package idempotency remembers relayer responses by idempotency key so a
// retried funding request is answered without sending funds twice.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Record holds a stored response.
type Record struct {
	StatusCode int
	Response   []byte
	// Fingerprint identifies the request the response belongs to, so a key
	// replayed with a different request can be told apart.
	Fingerprint string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
}

// MemoryStore keeps records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
		now:  now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok || m.now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}

// Prune drops expired records and returns how many were removed.
func (m *MemoryStore) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, rec := range m.data {
		if now.After(rec.ExpiresAt) {
			delete(m.data, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
