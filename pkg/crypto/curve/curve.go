// Package curve provides the elliptic-curve groups that can stand in for the
// multiplicative group mod p in Chaum-Pedersen proofs.
//
// # Supported Curves
//
//   - secp256k1: the Koblitz curve used by Bitcoin and Ethereum. Points are
//     33 bytes compressed.
//
//   - ristretto255: a prime-order group built on Curve25519 with no cofactor
//     to worry about. Points are 32 bytes.
//
// # Notation
//
// Curve groups are written additively. The mod-p relation y = g^x becomes
// Y = x*G, and the verification product g^s * y^c becomes s*G + c*Y.
// Multipliers are plain integers and are reduced mod the group order, so
// negative and oversized values are accepted.
//
// Chaum-Pedersen needs a second generator H whose discrete log relative to
// G is unknown to everyone. HashToPoint derives such a point from a public
// domain string, so both sides can rebuild it without trusting the other.
//
// The identity is never handed out: Mul and Add return nil where the
// result would be the point at infinity.
package curve

import (
	"errors"
	"fmt"
	"math/big"
)

// Point is a non-identity group element.
type Point interface {
	// Bytes returns the canonical encoding, Curve.PointSize bytes long.
	Bytes() []byte

	// Equal reports whether two points are the same group element.
	Equal(other Point) bool
}

// Curve abstracts the group operations needed by the proof system.
type Curve interface {
	// Name is reported to clients as the group name.
	Name() string

	// PointSize is the length in bytes of Point.Bytes.
	PointSize() int

	// ParsePoint decodes a canonical encoding and rejects the identity.
	ParsePoint(b []byte) (Point, error)

	// Generator returns the standard base point G.
	Generator() Point

	// HashToPoint maps a domain string to a point with unknown discrete log.
	HashToPoint(domain []byte) (Point, error)

	// Mul returns k*P for k reduced mod Order.
	Mul(p Point, k *big.Int) Point

	// Add returns P + Q.
	Add(p, q Point) Point

	// Order returns q, the prime order of the group.
	Order() *big.Int

	// FieldOrder returns the prime of the underlying coordinate field.
	FieldOrder() *big.Int
}

var (
	ErrInvalidPoint    = errors.New("invalid point")
	ErrIdentityPoint   = errors.New("point is identity")
	ErrPointNotOnCurve = errors.New("point is not on curve")
	ErrHashToPoint     = errors.New("hash to point failed")
)

// reduce returns k mod n, or nil when k is nil or a multiple of n.
func reduce(k, n *big.Int) *big.Int {
	if k == nil {
		return nil
	}
	r := new(big.Int).Mod(k, n)
	if r.Sign() == 0 {
		return nil
	}
	return r
}

// PointToInt encodes a point as the big-endian integer of its canonical bytes.
func PointToInt(p Point) *big.Int {
	return new(big.Int).SetBytes(p.Bytes())
}

// PointFromInt is the inverse of PointToInt.
func PointFromInt(c Curve, v *big.Int) (Point, error) {
	if v == nil || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive encoding", ErrInvalidPoint)
	}
	if v.BitLen() > 8*c.PointSize() {
		return nil, fmt.Errorf("%w: encoding longer than %d bytes", ErrInvalidPoint, c.PointSize())
	}
	return c.ParsePoint(v.FillBytes(make([]byte, c.PointSize())))
}
