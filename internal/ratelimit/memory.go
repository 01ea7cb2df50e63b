package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	window int64
	count  int
}

// MemoryStore is an in-process Store for local runs and tests. Counts are
// not shared between instances.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*memoryEntry
	lastSweep int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memoryEntry)}
}

// Allow counts one request for key in the window containing now.
func (s *MemoryStore) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	win := windowStart(now)
	reset := resetAt(win)

	s.mu.Lock()
	defer s.mu.Unlock()

	if win != s.lastSweep {
		s.sweep(win)
	}

	entry := s.counters[key]
	if entry == nil || entry.window != win {
		entry = &memoryEntry{window: win}
		s.counters[key] = entry
	}
	if entry.count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}, nil
	}
	entry.count++
	return Result{Allowed: true, Limit: limit, Remaining: limit - entry.count, Reset: reset}, nil
}

// sweep drops entries from earlier windows. Called with mu held.
func (s *MemoryStore) sweep(win int64) {
	for k, e := range s.counters {
		if e.window < win {
			delete(s.counters, k)
		}
	}
	s.lastSweep = win
}
