package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	payload  []byte
	deadline time.Time
}

// Memory is an in-process Store. Entries vanish with the process; callers
// needing durability set Persist and use a layered store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// replaced in tests
	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func memoryKey(namespace, key string) string {
	return namespace + ":" + key
}

func (m *Memory) Get(_ context.Context, namespace, key string, dest interface{}) error {
	m.mu.RLock()
	entry, ok := m.entries[memoryKey(namespace, key)]
	m.mu.RUnlock()
	if !ok {
		return ErrMiss
	}
	if !entry.deadline.IsZero() && m.now().After(entry.deadline) {
		m.mu.Lock()
		delete(m.entries, memoryKey(namespace, key))
		m.mu.Unlock()
		return ErrMiss
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return ErrMiss
	}
	return nil
}

func (m *Memory) Set(_ context.Context, namespace, key string, value interface{}, opts Options) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{payload: payload}
	if opts.TTL > 0 {
		entry.deadline = m.now().Add(opts.TTL)
	}

	m.mu.Lock()
	m.entries[memoryKey(namespace, key)] = entry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	delete(m.entries, memoryKey(namespace, key))
	m.mu.Unlock()
	return nil
}
