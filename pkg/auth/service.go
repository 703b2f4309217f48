// Package auth runs the login protocol: it owns the group parameters, keeps
// registrations and issued challenges in a storage.Store, delegates proof
// checking to a chaumpedersen.Verifier and mints session tokens on success.
//
// Each login attempt moves through three states:
//
//	Registered -> ChallengeIssued -> Verified (accept or reject)
//
// A challenge can be answered once. Whatever the outcome, the pending entry is
// retired by the verify call that reads it, and entries that are never
// answered expire after the store's TTL.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/allsmog/zkcp-go/pkg/crypto/chaumpedersen"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/jwt"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

// MaxUserLength bounds user identities in bytes.
const MaxUserLength = 256

var (
	// ErrInvalidRequest indicates malformed client input
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownUser indicates a challenge was requested for an unregistered user
	ErrUnknownUser = errors.New("unknown user")

	// ErrUserDenied indicates the user is on the denylist
	ErrUserDenied = errors.New("user denied")

	// ErrUnknownSession indicates an auth id that is unknown, expired or already used
	ErrUnknownSession = errors.New("unknown or expired session")

	// ErrAuthenticationFailed indicates the proof did not verify
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrProofOfPossession indicates a missing or mismatched DPoP key
	ErrProofOfPossession = errors.New("proof of possession failed")

	// ErrInconsistentState indicates stored data that should not be possible
	ErrInconsistentState = errors.New("inconsistent server state")
)

// Config contains configuration for the auth service
type Config struct {
	Audience    string        // JWT audience
	TokenTTL    time.Duration // JWT lifetime
	RequireDPoP bool          // reject logins without a DPoP key
}

// ChallengeRequest carries the commitments of a login attempt.
type ChallengeRequest struct {
	User   string
	R1, R2 *big.Int
	JKT    string // thumbprint of the DPoP key, if one was presented
}

// Challenge is returned to the prover.
type Challenge struct {
	AuthID string
	C      *big.Int
}

// Session describes an accepted login.
type Session struct {
	ID          string
	User        string
	AccessToken string
	ExpiresAt   time.Time
	JKT         string
}

// Service implements the four protocol operations. It is safe for concurrent use.
type Service struct {
	system chaumpedersen.System
	params *group.Params
	store  storage.Store
	signer jwt.TokenSigner
	config Config
	rand   io.Reader
	newID  func() string
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRandom sets the source for challenges.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithIDGenerator replaces uuid generation for auth and session ids.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithClock overrides the time source used for tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the orchestrator. The group parameters are copied once
// here and never change afterwards.
func NewService(system chaumpedersen.System, store storage.Store, signer jwt.TokenSigner, cfg Config, opts ...Option) (*Service, error) {
	if system == nil || store == nil || signer == nil {
		return nil, errors.New("system, store and signer are required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("invalid token ttl %s", cfg.TokenTTL)
	}

	s := &Service{
		system: system,
		params: system.Params(),
		store:  store,
		signer: signer,
		config: cfg,
		rand:   rand.Reader,
		newID:  uuid.NewString,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "auth", "group", s.params.Group)
	return s, nil
}

// Initialize returns a copy of the group parameters.
func (s *Service) Initialize(_ context.Context) *group.Params {
	return s.params.Clone()
}

// Register stores y1, y2 for user, replacing any earlier registration.
func (s *Service) Register(_ context.Context, user string, y1, y2 *big.Int) error {
	if err := validateUser(user); err != nil {
		return err
	}
	if err := s.validateElements(y1, y2); err != nil {
		return err
	}
	if err := s.checkDenylist(user); err != nil {
		return err
	}

	if err := s.store.PutRegistration(&storage.Registration{User: user, Y1: y1, Y2: y2}); err != nil {
		return fmt.Errorf("failed to store registration: %w", err)
	}

	s.log.Info("user registered", "user", user)
	return nil
}

// CreateChallenge draws c for the commitments in req and records the pending
// authentication before returning it.
func (s *Service) CreateChallenge(_ context.Context, req ChallengeRequest) (*Challenge, error) {
	if err := validateUser(req.User); err != nil {
		return nil, err
	}
	if err := s.validateElements(req.R1, req.R2); err != nil {
		return nil, err
	}
	if s.config.RequireDPoP && req.JKT == "" {
		return nil, fmt.Errorf("%w: DPoP proof required", ErrProofOfPossession)
	}

	if _, err := s.store.GetRegistration(req.User); err != nil {
		if errors.Is(err, storage.ErrRegistrationNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	if err := s.checkDenylist(req.User); err != nil {
		return nil, err
	}

	c, err := s.system.Challenge(s.rand)
	if err != nil {
		return nil, fmt.Errorf("failed to draw challenge: %w", err)
	}

	pending := &storage.PendingAuthentication{
		SessionID: s.newID(),
		User:      req.User,
		R1:        req.R1,
		R2:        req.R2,
		C:         c,
		JKT:       req.JKT,
	}
	if err := s.store.CreateAuthentication(pending); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	s.log.Debug("challenge issued", "user", req.User, "auth_id", pending.SessionID, "dpop", req.JKT != "")
	return &Challenge{AuthID: pending.SessionID, C: new(big.Int).Set(c)}, nil
}

// VerifyAuthentication checks s against the challenge issued under authID.
// jkt is the thumbprint of the DPoP key presented with this request, if any.
func (s *Service) VerifyAuthentication(_ context.Context, authID string, resp *big.Int, jkt string) (*Session, error) {
	if authID == "" || resp == nil {
		return nil, fmt.Errorf("%w: auth_id and s are required", ErrInvalidRequest)
	}
	if resp.Sign() < 0 {
		return nil, fmt.Errorf("%w: s must not be negative", ErrInvalidRequest)
	}

	pending, err := s.store.ConsumeAuthentication(authID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, storage.ErrSessionExpired) {
			return nil, fmt.Errorf("%w: %v", ErrUnknownSession, err)
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	if pending.JKT != jkt {
		s.log.Info("authentication denied", "user", pending.User, "auth_id", authID, "reason", "dpop key mismatch")
		return nil, fmt.Errorf("%w: DPoP key does not match the challenge", ErrProofOfPossession)
	}

	reg, err := s.store.GetRegistration(pending.User)
	if err != nil {
		if errors.Is(err, storage.ErrRegistrationNotFound) {
			s.log.Error("pending authentication without registration", "user", pending.User, "auth_id", authID)
			return nil, fmt.Errorf("%w: no registration for %q", ErrInconsistentState, pending.User)
		}
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}

	if !s.system.Verify(*reg, *pending, resp) {
		s.log.Info("authentication denied", "user", pending.User, "auth_id", authID)
		return nil, ErrAuthenticationFailed
	}

	sessionID := s.newID()
	token, exp, err := jwt.MintSessionToken(s.signer, jwt.SessionToken{
		User:      pending.User,
		Audience:  s.config.Audience,
		SessionID: sessionID,
		Scheme:    chaumpedersen.SchemeName,
		Group:     s.params.Group,
		JKT:       pending.JKT,
		TTL:       s.config.TokenTTL,
		Now:       s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mint session token: %w", err)
	}

	s.log.Info("authentication accepted", "user", pending.User, "session_id", sessionID)
	return &Session{
		ID:          sessionID,
		User:        pending.User,
		AccessToken: token,
		ExpiresAt:   exp,
		JKT:         pending.JKT,
	}, nil
}

func (s *Service) validateElements(vs ...*big.Int) error {
	for _, v := range vs {
		if v == nil {
			return fmt.Errorf("%w: missing group element", ErrInvalidRequest)
		}
		if err := s.system.ValidateElement(v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

func (s *Service) checkDenylist(user string) error {
	denied, err := s.store.IsInDenylist(user)
	if err != nil {
		return fmt.Errorf("failed to check denylist: %w", err)
	}
	if denied {
		return ErrUserDenied
	}
	return nil
}

func validateUser(user string) error {
	switch {
	case strings.TrimSpace(user) == "":
		return fmt.Errorf("%w: user is required", ErrInvalidRequest)
	case len(user) > MaxUserLength:
		return fmt.Errorf("%w: user longer than %d bytes", ErrInvalidRequest, MaxUserLength)
	case !utf8.ValidString(user):
		return fmt.Errorf("%w: user is not valid UTF-8", ErrInvalidRequest)
	}
	return nil
}
