// Package persist reconciles the local session cache with the remote store.
// The remote copy is authoritative; the local cache is the resume fallback and
// the target of periodic autosaves.
package persist

import (
	"context"
	"sync"

	"github.com/pavelanni/rater/internal/model"
)

// Store is a key-value store of session snapshots by user id.
// Get returns model.ErrNotFound when nothing is stored.
type Store interface {
	Get(ctx context.Context, userID string) ([]byte, error)
	Put(ctx context.Context, userID string, data []byte) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (m *MemoryStore) Get(_ context.Context, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.data[userID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

func (m *MemoryStore) Put(_ context.Context, userID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[userID] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, userID)
	return nil
}

// SetErr makes every later call fail with err; nil restores normal operation.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
