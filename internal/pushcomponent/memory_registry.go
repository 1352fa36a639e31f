package pushcomponent

import (
	"context"
	"sync"
)

// MemoryRegistry is the registry used when Redis is disabled (local runs, tests).
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]Entry)}
}

func (m *MemoryRegistry) Get(_ context.Context, recipientID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[recipientID], nil
}

func (m *MemoryRegistry) SetToken(_ context.Context, recipientID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[recipientID]
	e.Token = token
	m.entries[recipientID] = e
	return nil
}

func (m *MemoryRegistry) DeleteToken(_ context.Context, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[recipientID]
	if !ok {
		return nil
	}
	e.Token = ""
	m.entries[recipientID] = e
	return nil
}

func (m *MemoryRegistry) SetPaused(_ context.Context, recipientID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[recipientID]
	e.Paused = paused
	m.entries[recipientID] = e
	return nil
}
