// Package group implements the prime-order subgroup of (Z/pZ)* used by the
// Chaum-Pedersen protocol.
//
// # Group Structure
//
// The group is described by four integers:
//
//   - p: a prime modulus
//   - q: a prime order dividing p-1
//   - g: a generator of the unique subgroup of order q
//   - h: a second generator of the same subgroup, distinct from g
//
// Because q is prime, every element of the subgroup other than 1 generates
// the whole subgroup. The prover's secret x binds two commitments, g^x and
// h^x, and the protocol proves both share the same exponent.
//
// # Parameter Lifetime
//
// A Params value is created once when the server starts and is never
// modified afterwards. Callers that need to hand parameters to untrusted code
// should pass a Clone.
package group

import (
	"errors"
	"fmt"
	"math/big"
)

// ModP is the group identifier reported for multiplicative groups mod p.
const ModP = "modp"

// primalityRounds is the number of Miller-Rabin rounds used for every
// primality test in this package.
const primalityRounds = 20

var (
	// ErrInvalidParams indicates the parameters violate a group invariant.
	ErrInvalidParams = errors.New("invalid group parameters")

	// ErrNotElement indicates a value is outside the order-q subgroup.
	ErrNotElement = errors.New("value is not an element of the group")

	one = big.NewInt(1)
)

// Params holds the public parameters of a prime-order group.
type Params struct {
	// Group names the group family ("modp" for this package).
	Group string

	// P is the prime modulus.
	P *big.Int

	// Q is the prime order of the subgroup, Q | P-1.
	Q *big.Int

	// G is the first generator.
	G *big.Int

	// H is the second generator, H != G.
	H *big.Int
}

// New builds Params from explicit values and validates them.
func New(p, q, g, h *big.Int) (*Params, error) {
	params := &Params{
		Group: ModP,
		P:     new(big.Int).Set(p),
		Q:     new(big.Int).Set(q),
		G:     new(big.Int).Set(g),
		H:     new(big.Int).Set(h),
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// Validate checks that p and q are prime, q divides p-1, and that g and h
// are distinct non-trivial elements of order q.
func (gp *Params) Validate() error {
	if gp == nil || gp.P == nil || gp.Q == nil || gp.G == nil || gp.H == nil {
		return fmt.Errorf("%w: missing value", ErrInvalidParams)
	}
	if !gp.P.ProbablyPrime(primalityRounds) {
		return fmt.Errorf("%w: modulus is not prime", ErrInvalidParams)
	}
	if !gp.Q.ProbablyPrime(primalityRounds) {
		return fmt.Errorf("%w: order is not prime", ErrInvalidParams)
	}

	pMinus1 := new(big.Int).Sub(gp.P, one)
	if new(big.Int).Mod(pMinus1, gp.Q).Sign() != 0 {
		return fmt.Errorf("%w: order does not divide modulus-1", ErrInvalidParams)
	}

	generators := []struct {
		name string
		v    *big.Int
	}{
		{"first generator", gp.G},
		{"second generator", gp.H},
	}
	for _, gen := range generators {
		if gen.v.Cmp(one) <= 0 || gen.v.Cmp(gp.P) >= 0 {
			return fmt.Errorf("%w: %s out of range", ErrInvalidParams, gen.name)
		}
		if new(big.Int).Exp(gen.v, gp.Q, gp.P).Cmp(one) != 0 {
			return fmt.Errorf("%w: %s does not have order q", ErrInvalidParams, gen.name)
		}
	}

	if gp.G.Cmp(gp.H) == 0 {
		return fmt.Errorf("%w: generators are equal", ErrInvalidParams)
	}
	return nil
}

// IsElement reports whether v lies in the order-q subgroup, that is
// 1 <= v < p and v^q = 1 mod p.
func (gp *Params) IsElement(v *big.Int) bool {
	if v == nil || v.Sign() <= 0 || v.Cmp(gp.P) >= 0 {
		return false
	}
	return new(big.Int).Exp(v, gp.Q, gp.P).Cmp(one) == 0
}

// Clone returns a deep copy.
func (gp *Params) Clone() *Params {
	return &Params{
		Group: gp.Group,
		P:     new(big.Int).Set(gp.P),
		Q:     new(big.Int).Set(gp.Q),
		G:     new(big.Int).Set(gp.G),
		H:     new(big.Int).Set(gp.H),
	}
}

// Equal reports whether two parameter sets describe the same group.
func (gp *Params) Equal(other *Params) bool {
	if gp == nil || other == nil {
		return gp == other
	}
	return gp.Group == other.Group &&
		gp.P.Cmp(other.P) == 0 &&
		gp.Q.Cmp(other.Q) == 0 &&
		gp.G.Cmp(other.G) == 0 &&
		gp.H.Cmp(other.H) == 0
}

func (gp *Params) String() string {
	return fmt.Sprintf("%s(p=%s, q=%s, g=%s, h=%s)", gp.Group, gp.P, gp.Q, gp.G, gp.H)
}
