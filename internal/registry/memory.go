package registry

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and brokerless development
// runs; the production store is KV.
type Memory struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{hashes: make(map[string]map[string]string)}
}

func (m *Memory) SetField(_ context.Context, hash, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes[hash] == nil {
		m.hashes[hash] = make(map[string]string)
	}
	m.hashes[hash][key] = value
	return nil
}

func (m *Memory) Fields(_ context.Context, hash string) ([]OnlineUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := []OnlineUser{}
	for key, value := range m.hashes[hash] {
		users = append(users, OnlineUser{UserID: key, FullName: value})
	}
	return sortUsers(users), nil
}

func (m *Memory) DeleteField(_ context.Context, hash, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fields, ok := m.hashes[hash]; ok {
		delete(fields, key)
	}
	return nil
}
