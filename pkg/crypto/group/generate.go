package group

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

var (
	// ErrExhausted indicates Generate hit MaxAttempts without finding a group.
	ErrExhausted = errors.New("group generation exhausted")

	// ErrNoModulus indicates no prime n*q+1 exists below the multiplier bound.
	ErrNoModulus = errors.New("no prime modulus for order")

	// ErrNoGenerator indicates the generator search ran out of draws.
	ErrNoGenerator = errors.New("no generator found")

	two = big.NewInt(2)
)

// GeneratorConfig controls the random search performed by Generate.
type GeneratorConfig struct {
	// MinOrder and MaxOrder bound the random lower bound L used to pick q
	// when OrderBits is zero: L is uniform in [MinOrder, MaxOrder).
	MinOrder uint64
	MaxOrder uint64

	// OrderBits, when positive, replaces the range above with a random
	// OrderBits-bit lower bound.
	OrderBits int

	// MaxMultiplier is the exclusive upper bound on n in p = n*q + 1.
	MaxMultiplier int64

	// MaxGeneratorDraws caps the p/2 draw budget of the generator search.
	MaxGeneratorDraws int64

	// MaxAttempts bounds how many (p, q) candidates are tried. Zero means
	// no bound.
	MaxAttempts int
}

// DemoConfig returns the small parameter range used by the demo deployment.
func DemoConfig() GeneratorConfig {
	return GeneratorConfig{
		MinOrder:          7,
		MaxOrder:          200,
		MaxMultiplier:     100,
		MaxGeneratorDraws: 1 << 16,
	}
}

// DefaultConfig returns a configuration drawing a 128-bit order.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		OrderBits:         128,
		MaxMultiplier:     100,
		MaxGeneratorDraws: 1 << 16,
		MaxAttempts:       1000,
	}
}

// Validate checks the configuration for values that can never succeed.
func (c GeneratorConfig) Validate() error {
	if c.OrderBits < 0 {
		return fmt.Errorf("order bits must be non-negative, got %d", c.OrderBits)
	}
	if c.OrderBits == 0 {
		if c.MinOrder < 3 {
			return fmt.Errorf("min order must be at least 3, got %d", c.MinOrder)
		}
		if c.MaxOrder <= c.MinOrder {
			return fmt.Errorf("max order %d must exceed min order %d", c.MaxOrder, c.MinOrder)
		}
	} else if c.OrderBits < 3 {
		return fmt.Errorf("order bits must be at least 3, got %d", c.OrderBits)
	}
	if c.MaxMultiplier <= 2 {
		return fmt.Errorf("max multiplier must exceed 2, got %d", c.MaxMultiplier)
	}
	if c.MaxGeneratorDraws <= 0 {
		return fmt.Errorf("max generator draws must be positive, got %d", c.MaxGeneratorDraws)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be non-negative, got %d", c.MaxAttempts)
	}
	return nil
}

// Generate searches for a fresh group:
//
//  1. draw a random lower bound L
//  2. take the smallest prime q >= L
//  3. find the first prime p = n*q + 1 for n = 2, 3, ... below MaxMultiplier
//  4. find two distinct generators of the order-q subgroup
//
// Any step that fails restarts the search from step 1. The search only stops
// early if ctx is cancelled or MaxAttempts candidates were rejected.
func Generate(ctx context.Context, rnd io.Reader, cfg GeneratorConfig) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	for attempt := 0; cfg.MaxAttempts == 0 || attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lower, err := lowerBound(rnd, cfg)
		if err != nil {
			return nil, err
		}
		q := NextPrime(lower)

		p, _, err := FindModulus(q, cfg.MaxMultiplier)
		if err != nil {
			continue
		}

		draws := drawBudget(p, cfg.MaxGeneratorDraws)
		g, err := FindGenerator(rnd, p, q, draws)
		if err != nil {
			if errors.Is(err, ErrNoGenerator) {
				continue
			}
			return nil, err
		}
		h, err := FindGenerator(rnd, p, q, draws, g)
		if err != nil {
			if errors.Is(err, ErrNoGenerator) {
				continue
			}
			return nil, err
		}

		return &Params{Group: ModP, P: p, Q: q, G: g, H: h}, nil
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrExhausted, cfg.MaxAttempts)
}

func lowerBound(rnd io.Reader, cfg GeneratorConfig) (*big.Int, error) {
	if cfg.OrderBits > 0 {
		// top bit set so L has exactly OrderBits bits
		limit := new(big.Int).Lsh(one, uint(cfg.OrderBits-1))
		v, err := rand.Int(rnd, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to draw lower bound: %w", err)
		}
		return v.Add(v, limit), nil
	}

	span := new(big.Int).SetUint64(cfg.MaxOrder - cfg.MinOrder)
	v, err := rand.Int(rnd, span)
	if err != nil {
		return nil, fmt.Errorf("failed to draw lower bound: %w", err)
	}
	return v.Add(v, new(big.Int).SetUint64(cfg.MinOrder)), nil
}

// drawBudget returns min(p/2, limit).
func drawBudget(p *big.Int, limit int64) int64 {
	half := new(big.Int).Rsh(p, 1)
	if half.IsInt64() && half.Int64() < limit {
		return half.Int64()
	}
	return limit
}

// NextPrime returns the smallest prime greater than or equal to n.
func NextPrime(n *big.Int) *big.Int {
	if n.Cmp(two) <= 0 {
		return big.NewInt(2)
	}
	candidate := new(big.Int).Set(n)
	if candidate.Bit(0) == 0 {
		candidate.Add(candidate, one)
	}
	for !candidate.ProbablyPrime(primalityRounds) {
		candidate.Add(candidate, two)
	}
	return candidate
}

// FindModulus returns the first prime p = n*q + 1 with 2 <= n < maxMultiplier,
// together with n.
func FindModulus(q *big.Int, maxMultiplier int64) (*big.Int, int64, error) {
	p := new(big.Int)
	for n := int64(2); n < maxMultiplier; n++ {
		p.Mul(q, big.NewInt(n))
		p.Add(p, one)
		if p.ProbablyPrime(primalityRounds) {
			return p, n, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: q=%s, n < %d", ErrNoModulus, q, maxMultiplier)
}

// FindGenerator draws r uniformly from [2, p-1) and returns r^((p-1)/q) mod p
// for the first draw whose result is neither 1 nor one of exclude. It gives
// up with ErrNoGenerator after maxDraws draws.
func FindGenerator(rnd io.Reader, p, q *big.Int, maxDraws int64, exclude ...*big.Int) (*big.Int, error) {
	if rnd == nil {
		rnd = rand.Reader
	}

	cofactor := new(big.Int).Sub(p, one)
	cofactor.Div(cofactor, q)

	// r in [2, p-1) means an offset in [0, p-3)
	span := new(big.Int).Sub(p, big.NewInt(3))
	if span.Sign() <= 0 {
		return nil, fmt.Errorf("%w: modulus %s too small", ErrNoGenerator, p)
	}

draw:
	for i := int64(0); i < maxDraws; i++ {
		r, err := rand.Int(rnd, span)
		if err != nil {
			return nil, fmt.Errorf("failed to draw generator candidate: %w", err)
		}
		r.Add(r, two)

		key := r.Exp(r, cofactor, p)
		if key.Cmp(one) == 0 {
			continue
		}
		for _, e := range exclude {
			if key.Cmp(e) == 0 {
				continue draw
			}
		}
		return key, nil
	}

	return nil, fmt.Errorf("%w after %d draws", ErrNoGenerator, maxDraws)
}
