package storage

import (
	"context"
	"sync"
	"time"
)

// DefaultAuthenticationTTL is how long an issued challenge stays answerable
const DefaultAuthenticationTTL = 2 * time.Minute

// MemoryStore implements the Store interface using in-memory storage.
// Registrations and pending authentications live in separate maps with
// separate locks; no operation holds both.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	regMu         sync.RWMutex
	registrations map[string]*Registration

	authMu  sync.RWMutex
	pending map[string]*PendingAuthentication

	denyMu   sync.RWMutex
	denylist map[string]bool
}

// Option configures a MemoryStore
type Option func(*MemoryStore)

// WithTTL sets how long pending authentications remain valid. A zero or
// negative TTL disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	store := &MemoryStore{
		ttl:           DefaultAuthenticationTTL,
		now:           time.Now,
		registrations: make(map[string]*Registration),
		pending:       make(map[string]*PendingAuthentication),
		denylist:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// RunCleanup removes expired pending authentications every interval until
// ctx is cancelled
func (s *MemoryStore) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.CleanupExpiredAuthentications()
		}
	}
}

// PutRegistration inserts or replaces a registration (last write wins)
func (s *MemoryStore) PutRegistration(reg *Registration) error {
	if reg == nil || reg.User == "" || reg.Y1 == nil || reg.Y2 == nil {
		return ErrInvalidRecord
	}

	stored := reg.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	s.registrations[stored.User] = stored
	return nil
}

// GetRegistration retrieves the registration for a user
func (s *MemoryStore) GetRegistration(user string) (*Registration, error) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()

	reg, exists := s.registrations[user]
	if !exists {
		return nil, ErrRegistrationNotFound
	}
	return reg.clone(), nil
}

// ListRegistrations returns all registrations
func (s *MemoryStore) ListRegistrations() ([]Registration, error) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()

	regs := make([]Registration, 0, len(s.registrations))
	for _, reg := range s.registrations {
		regs = append(regs, *reg.clone())
	}
	return regs, nil
}

// CreateAuthentication stores a pending authentication
func (s *MemoryStore) CreateAuthentication(pending *PendingAuthentication) error {
	if pending == nil || pending.SessionID == "" || pending.R1 == nil || pending.R2 == nil || pending.C == nil {
		return ErrInvalidRecord
	}

	stored := pending.clone()
	stored.CreatedAt = s.now()

	s.authMu.Lock()
	defer s.authMu.Unlock()

	s.pending[stored.SessionID] = stored
	return nil
}

// GetAuthentication retrieves a pending authentication by session id
func (s *MemoryStore) GetAuthentication(sessionID string) (*PendingAuthentication, error) {
	s.authMu.RLock()
	defer s.authMu.RUnlock()

	pending, exists := s.pending[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if s.expired(pending) {
		return nil, ErrSessionExpired
	}
	return pending.clone(), nil
}

// ConsumeAuthentication retrieves and removes a pending authentication.
// Expired entries are removed as well but reported as ErrSessionExpired.
func (s *MemoryStore) ConsumeAuthentication(sessionID string) (*PendingAuthentication, error) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	pending, exists := s.pending[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	delete(s.pending, sessionID)

	if s.expired(pending) {
		return nil, ErrSessionExpired
	}
	return pending, nil
}

// CleanupExpiredAuthentications removes expired pending authentications
func (s *MemoryStore) CleanupExpiredAuthentications() int {
	if s.ttl <= 0 {
		return 0
	}

	s.authMu.Lock()
	defer s.authMu.Unlock()

	removed := 0
	for id, pending := range s.pending {
		if s.expired(pending) {
			delete(s.pending, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) expired(pending *PendingAuthentication) bool {
	return s.ttl > 0 && s.now().Sub(pending.CreatedAt) > s.ttl
}

// AddToDenylist blocks a user
func (s *MemoryStore) AddToDenylist(user string) error {
	s.denyMu.Lock()
	defer s.denyMu.Unlock()

	s.denylist[user] = true
	return nil
}

// IsInDenylist checks if a user is blocked
func (s *MemoryStore) IsInDenylist(user string) (bool, error) {
	s.denyMu.RLock()
	defer s.denyMu.RUnlock()

	return s.denylist[user], nil
}

// RemoveFromDenylist unblocks a user
func (s *MemoryStore) RemoveFromDenylist(user string) error {
	s.denyMu.Lock()
	defer s.denyMu.Unlock()

	delete(s.denylist, user)
	return nil
}

// ListDenylist returns all blocked users
func (s *MemoryStore) ListDenylist() ([]string, error) {
	s.denyMu.RLock()
	defer s.denyMu.RUnlock()

	users := make([]string, 0, len(s.denylist))
	for user := range s.denylist {
		users = append(users, user)
	}
	return users, nil
}

// Close closes the store (no-op for memory store)
func (s *MemoryStore) Close() error {
	return nil
}

// Ping checks if the store is healthy (always true for memory store)
func (s *MemoryStore) Ping() error {
	return nil
}

// Stats returns storage statistics for monitoring
func (s *MemoryStore) Stats() map[string]int {
	stats := make(map[string]int, 3)

	s.regMu.RLock()
	stats["registrations"] = len(s.registrations)
	s.regMu.RUnlock()

	s.authMu.RLock()
	stats["pending_authentications"] = len(s.pending)
	s.authMu.RUnlock()

	s.denyMu.RLock()
	stats["denylist"] = len(s.denylist)
	s.denyMu.RUnlock()

	return stats
}
