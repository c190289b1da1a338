package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local store for single-instance development and
// tests. It is not shared between replicas.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

func (s *MemoryStore) Record(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := now.Add(-window)
	kept := s.entries[key][:0]
	for _, ts := range s.entries[key] {
		if ts.After(horizon) {
			kept = append(kept, ts)
		}
	}

	w := Window{Count: len(kept)}
	if len(kept) < limit {
		kept = append(kept, now)
		w.Admitted = true
		w.Count++
	}
	if len(kept) == 0 {
		delete(s.entries, key)
		return w, nil
	}
	s.entries[key] = kept
	w.Oldest = kept[0]
	return w, nil
}
