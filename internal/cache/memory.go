package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memoryNamespace struct {
	gen     uint64
	entries map[string]memoryEntry
}

// Memory is an in-process Cache for single-instance deployments and tests.
type Memory struct {
	mu         sync.Mutex
	namespaces map[string]*memoryNamespace
	now        func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		namespaces: make(map[string]*memoryNamespace),
		now:        time.Now,
	}
}

func (m *Memory) namespace(name string) *memoryNamespace {
	ns, ok := m.namespaces[name]
	if !ok {
		ns = &memoryNamespace{entries: make(map[string]memoryEntry)}
		m.namespaces[name] = ns
	}
	return ns
}

// Generation returns the namespace's current generation.
func (m *Memory) Generation(_ context.Context, namespace string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namespace(namespace).gen, nil
}

// Get returns a live entry of the current generation.
func (m *Memory) Get(_ context.Context, namespace string, gen uint64, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.namespace(namespace)
	if ns.gen != gen {
		return nil, false, nil
	}
	entry, ok := ns.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(ns.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores the entry unless the namespace has moved past gen.
func (m *Memory) Set(_ context.Context, namespace string, gen uint64, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.namespace(namespace)
	if ns.gen != gen {
		return nil
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	ns.entries[key] = entry
	return nil
}

// EvictNamespace drops all entries and advances the generation.
func (m *Memory) EvictNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.namespace(namespace)
	ns.gen++
	ns.entries = make(map[string]memoryEntry)
	return nil
}

// Len returns the number of stored entries in a namespace.
func (m *Memory) Len(namespace string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.namespace(namespace).entries)
}

// Noop never stores anything; every read is a miss.
type Noop struct{}

func (Noop) Generation(context.Context, string) (uint64, error) { return 0, nil }

func (Noop) Get(context.Context, string, uint64, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, string, uint64, string, []byte, time.Duration) error { return nil }

func (Noop) EvictNamespace(context.Context, string) error { return nil }
