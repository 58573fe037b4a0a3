package repository

import (
	"context"
	"errors"
	"sync"

	"radiotiker/storage"
)

// memStore is an in-memory DocumentStore that counts writes and can be told
// to fail.
type memStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	saves   map[string]int
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte), saves: make(map[string]int)}
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	d, ok := m.docs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

func (m *memStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[key] = append([]byte(nil), data...)
	m.saves[key]++
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) saveCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[key]
}

var errBackend = errors.New("backend down")
