package ratelimit

import (
	"context"
	"sync"
	"time"
)

var (
	_ Store   = (*MemoryStore)(nil)
	_ Stepper = (*MemoryStore)(nil)
)

// MemoryStore keeps entries in a mutex-guarded map. State is per process and
// lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

// Step applies advance under the lock so concurrent attempts are never lost.
func (m *MemoryStore) Step(_ context.Context, key string, now time.Time, window time.Duration) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[key]
	next := advance(cur, ok, now, window)
	m.entries[key] = next
	return next, nil
}

// Prune drops entries whose window opened before cutoff and returns how many went.
func (m *MemoryStore) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.WindowStart.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked identifiers.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
