package security

import (
	"sync"
	"time"
)

// Store records request admissions per client identity over a trailing
// window. Implementations must make the prune-then-record sequence atomic
// per call, since every concurrent request consults the same store.
type Store interface {
	// Allow reports whether identity may make another request now and, if
	// so, records it.
	Allow(identity string) bool
}

// MemoryStore is a process-local Store keeping per-identity request
// timestamps inside a trailing window. Expired timestamps are pruned lazily
// across the whole store on every call, so the map does not grow without
// bound under a churning identity population.
//
// The clock is injectable so tests can drive the window deterministically.
type MemoryStore struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	history map[string][]time.Time
}

// NewMemoryStore creates a MemoryStore admitting up to limit requests per
// identity within window.
func NewMemoryStore(limit int, window time.Duration) *MemoryStore {
	return &MemoryStore{
		limit:   limit,
		window:  window,
		now:     time.Now,
		history: make(map[string][]time.Time),
	}
}

// WithClock replaces the store's time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Allow implements Store.
func (s *MemoryStore) Allow(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	for id, stamps := range s.history {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(s.history, id)
		} else {
			s.history[id] = kept
		}
	}

	if len(s.history[identity]) >= s.limit {
		return false
	}
	s.history[identity] = append(s.history[identity], now)
	return true
}
