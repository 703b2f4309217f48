package storage

import (
	"fmt"
	"math/big"
	"time"
)

// Registration binds a user identity to the commitments y1 = g^x, y2 = h^x
type Registration struct {
	User      string    `json:"user"`
	Y1        *big.Int  `json:"y1"`
	Y2        *big.Int  `json:"y2"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingAuthentication is an issued challenge waiting for its response
type PendingAuthentication struct {
	SessionID string    `json:"session_id"` // Opaque auth id (UUID)
	User      string    `json:"user"`
	R1        *big.Int  `json:"r1"` // Commitment g^k
	R2        *big.Int  `json:"r2"` // Commitment h^k
	C         *big.Int  `json:"c"`  // Challenge drawn after R1, R2 were received
	JKT       string    `json:"jkt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RegistrationStore holds registrations keyed by user identity
type RegistrationStore interface {
	// PutRegistration inserts or replaces the registration for reg.User
	PutRegistration(reg *Registration) error

	// GetRegistration retrieves the registration for a user
	GetRegistration(user string) (*Registration, error)

	// ListRegistrations returns all registrations (for admin purposes)
	ListRegistrations() ([]Registration, error)
}

// AuthenticationStore holds pending authentications keyed by session id
type AuthenticationStore interface {
	// CreateAuthentication inserts or replaces a pending authentication
	CreateAuthentication(pending *PendingAuthentication) error

	// GetAuthentication retrieves a pending authentication without retiring it
	GetAuthentication(sessionID string) (*PendingAuthentication, error)

	// ConsumeAuthentication retrieves and removes a pending authentication in
	// one step, so a challenge can be answered at most once
	ConsumeAuthentication(sessionID string) (*PendingAuthentication, error)

	// CleanupExpiredAuthentications removes expired entries and reports how
	// many were removed
	CleanupExpiredAuthentications() int
}

// DenylistStore defines the interface for blocked user identities
type DenylistStore interface {
	// AddToDenylist blocks a user
	AddToDenylist(user string) error

	// IsInDenylist checks if a user is blocked
	IsInDenylist(user string) (bool, error)

	// RemoveFromDenylist unblocks a user
	RemoveFromDenylist(user string) error

	// ListDenylist returns all blocked users
	ListDenylist() ([]string, error)
}

// Store combines all storage interfaces
type Store interface {
	RegistrationStore
	AuthenticationStore
	DenylistStore

	// Stats returns entry counts for monitoring
	Stats() map[string]int

	// Close closes the storage
	Close() error

	// Ping checks if the storage is healthy
	Ping() error
}

var (
	// ErrRegistrationNotFound indicates no registration exists for a user
	ErrRegistrationNotFound = fmt.Errorf("registration not found")

	// ErrSessionNotFound indicates a session was not found
	ErrSessionNotFound = fmt.Errorf("session not found")

	// ErrSessionExpired indicates a session has expired
	ErrSessionExpired = fmt.Errorf("session expired")

	// ErrInvalidRecord indicates a record is missing required fields
	ErrInvalidRecord = fmt.Errorf("invalid record")
)

func (r *Registration) clone() *Registration {
	return &Registration{
		User:      r.User,
		Y1:        copyInt(r.Y1),
		Y2:        copyInt(r.Y2),
		CreatedAt: r.CreatedAt,
	}
}

func (p *PendingAuthentication) clone() *PendingAuthentication {
	return &PendingAuthentication{
		SessionID: p.SessionID,
		User:      p.User,
		R1:        copyInt(p.R1),
		R2:        copyInt(p.R2),
		C:         copyInt(p.C),
		JKT:       p.JKT,
		CreatedAt: p.CreatedAt,
	}
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
