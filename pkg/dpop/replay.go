package dpop

import (
	"context"
	"sync"
	"time"
)

// ReplayStore remembers proofs until they can no longer be accepted.
type ReplayStore interface {
	// Seen records (jkt, jti) until expiry and reports whether it was
	// already recorded.
	Seen(jkt, jti string, expiry time.Time) bool
}

// InMemoryReplayStore implements ReplayStore using an in-memory map
// This is suitable for single-instance deployments or development
type InMemoryReplayStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewInMemoryReplayStore creates a new in-memory replay store
func NewInMemoryReplayStore() *InMemoryReplayStore {
	return &InMemoryReplayStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *InMemoryReplayStore) Seen(jkt, jti string, expiry time.Time) bool {
	key := jkt + ":" + jti

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, exists := s.entries[key]; exists && exp.After(s.now()) {
		return true
	}
	s.entries[key] = expiry
	return false
}

// Cleanup removes expired entries and returns how many were dropped.
func (s *InMemoryReplayStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key, expiry := range s.entries {
		if !expiry.After(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Run calls Cleanup every interval until ctx is done.
func (s *InMemoryReplayStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Size returns the current number of entries.
func (s *InMemoryReplayStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
