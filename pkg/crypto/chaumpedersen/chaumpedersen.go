// Package chaumpedersen implements the Chaum-Pedersen proof of equality of
// discrete logarithms, used as an interactive login protocol.
//
// # Protocol Overview
//
// Registration: the prover holds a secret x and publishes
//
//	y1 = g^x,  y2 = h^x
//
// Each login is a three-move exchange:
//
//  1. Commitment: the prover picks a fresh nonce k and sends
//     r1 = g^k, r2 = h^k.
//  2. Challenge: the verifier draws c uniformly from [1, q) after the
//     commitments arrive, and stores (r1, r2, c) under a session id.
//  3. Response: the prover sends s = (k - c*x) mod q.
//
// Verification reconstructs both commitments from public values:
//
//	g^s * y1^c == r1  and  h^s * y2^c == r2
//
// Both equalities must hold. Since g^s * y1^c = g^(k - cx) * g^(xc) = g^k,
// an honest prover always passes. A prover who does not know x can answer
// at most one challenge per commitment, so it passes with probability 1/(q-1).
//
// # Security Considerations
//
//   - The challenge must be drawn after the commitments are fixed. The
//     orchestrator enforces this ordering.
//   - The nonce k must never be reused across sessions. Two responses for
//     the same k and different c reveal x.
//   - Arithmetic is exact (math/big). There is no floating point anywhere.
//   - Nothing here is constant time.
//
// Two group families are provided: ModP over a generated subgroup of
// (Z/pZ)*, and Curve over secp256k1 or ristretto255. Both speak plain
// integers at the boundary so the orchestrator and the wire format do not
// care which is in use.
package chaumpedersen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/allsmog/zkcp-go/pkg/crypto/curve"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

// SchemeName identifies the proof system in issued tokens.
const SchemeName = "chaum-pedersen"

var (
	// ErrInvalidSecret indicates a secret that reduces to zero mod q.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrInvalidElement indicates a value that is not a group element.
	ErrInvalidElement = errors.New("invalid group element")

	// ErrUnsupportedGroup indicates FromParams does not know the group.
	ErrUnsupportedGroup = errors.New("unsupported group")
)

// Prover computes the prover side of the protocol. Implementations are pure
// and safe for concurrent use.
type Prover interface {
	// Register returns the commitments (g^x, h^x).
	Register(x *big.Int) (y1, y2 *big.Int, err error)

	// Commit returns the per-session commitments (g^k, h^k).
	Commit(k *big.Int) (r1, r2 *big.Int, err error)

	// Respond returns s = (k - c*x) mod q, reduced into [0, q).
	Respond(k, x, c *big.Int) *big.Int

	// Nonce draws a fresh k uniformly from [1, q).
	Nonce(rnd io.Reader) (*big.Int, error)
}

// Verifier decides whether a response answers a pending challenge. It is the
// only capability the orchestrator needs from a proof system, so any other
// proof of knowledge can be substituted behind it.
type Verifier interface {
	Verify(reg storage.Registration, pending storage.PendingAuthentication, s *big.Int) bool
}

// System bundles both roles with the public description of the group.
type System interface {
	Prover
	Verifier

	// Params returns a copy of the public group description.
	Params() *group.Params

	// ValidateElement reports whether v encodes an element of the group.
	ValidateElement(v *big.Int) error

	// Challenge draws c uniformly from [1, q).
	Challenge(rnd io.Reader) (*big.Int, error)
}

// RandomScalar returns a uniform value in [1, q).
func RandomScalar(rnd io.Reader, q *big.Int) (*big.Int, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	if q.Cmp(big.NewInt(2)) < 0 {
		return nil, fmt.Errorf("order %s too small", q)
	}
	v, err := rand.Int(rnd, new(big.Int).Sub(q, big.NewInt(1)))
	if err != nil {
		return nil, fmt.Errorf("failed to sample scalar: %w", err)
	}
	return v.Add(v, big.NewInt(1)), nil
}

// respond computes (k - c*x) mod q. big.Int.Mod is Euclidean, so the result
// is never negative.
func respond(q, k, x, c *big.Int) *big.Int {
	s := new(big.Int).Mul(c, x)
	s.Sub(k, s)
	return s.Mod(s, q)
}

// FromParams rebuilds the System described by params, as returned from
// Initialize.
func FromParams(params *group.Params) (System, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil params", ErrUnsupportedGroup)
	}
	if params.Group == group.ModP {
		return NewModP(params)
	}

	crv, err := curve.FromName(params.Group)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGroup, params.Group)
	}
	sys, err := NewCurve(crv)
	if err != nil {
		return nil, err
	}
	if !sys.Params().Equal(params) {
		return nil, fmt.Errorf("%w: %s parameters do not match the standard generators", group.ErrInvalidParams, params.Group)
	}
	return sys, nil
}
