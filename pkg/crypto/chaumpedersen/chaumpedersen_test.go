package chaumpedersen

import (
	"context"
	"math/big"
	mrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allsmog/zkcp-go/pkg/crypto/curve"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

func smallSystem(t testing.TB) *ModP {
	t.Helper()
	params, err := group.New(big.NewInt(23), big.NewInt(11), big.NewInt(4), big.NewInt(9))
	require.NoError(t, err)
	sys, err := NewModP(params)
	require.NoError(t, err)
	return sys
}

func allSystems(t testing.TB) map[string]System {
	t.Helper()

	cfg := group.DefaultConfig()
	cfg.OrderBits = 64
	params, err := group.Generate(context.Background(), mrand.New(mrand.NewSource(3)), cfg)
	require.NoError(t, err)
	modp, err := NewModP(params)
	require.NoError(t, err)

	systems := map[string]System{
		"modp-small": smallSystem(t),
		"modp-64":    modp,
	}
	for _, name := range curve.SupportedCurves() {
		crv, err := curve.FromName(name)
		require.NoError(t, err)
		sys, err := NewCurve(crv)
		require.NoError(t, err)
		systems[name] = sys
	}
	return systems
}

// prove runs one honest protocol round and returns what the verifier sees.
func prove(t testing.TB, sys System, x, k, c *big.Int) (storage.Registration, storage.PendingAuthentication, *big.Int) {
	t.Helper()
	y1, y2, err := sys.Register(x)
	require.NoError(t, err)
	r1, r2, err := sys.Commit(k)
	require.NoError(t, err)

	reg := storage.Registration{User: "alice", Y1: y1, Y2: y2}
	pending := storage.PendingAuthentication{SessionID: "s", User: "alice", R1: r1, R2: r2, C: c}
	return reg, pending, sys.Respond(k, x, c)
}

func TestSmallGroupScenario(t *testing.T) {
	sys := smallSystem(t)

	y1, y2, err := sys.Register(big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(18), y1.Int64())
	assert.Equal(t, int64(16), y2.Int64())

	r1, r2, err := sys.Commit(big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(12), r1.Int64())
	assert.Equal(t, int64(8), r2.Int64())

	s := sys.Respond(big.NewInt(5), big.NewInt(3), big.NewInt(2))
	assert.Equal(t, int64(10), s.Int64())

	reg := storage.Registration{User: "alice", Y1: y1, Y2: y2}
	pending := storage.PendingAuthentication{SessionID: "s", User: "alice", R1: r1, R2: r2, C: big.NewInt(2)}
	assert.True(t, sys.Verify(reg, pending, s))

	wrong := new(big.Int).Add(s, big.NewInt(1))
	assert.False(t, sys.Verify(reg, pending, wrong))
}

func TestRespondReducesIntoRange(t *testing.T) {
	sys := smallSystem(t)

	// 0 - 7*5 = -35 = 9 mod 11
	s := sys.Respond(big.NewInt(0), big.NewInt(5), big.NewInt(7))
	assert.Equal(t, int64(9), s.Int64())

	for k := int64(0); k < 11; k++ {
		for c := int64(1); c < 11; c++ {
			s := sys.Respond(big.NewInt(k), big.NewInt(10), big.NewInt(c))
			require.True(t, s.Sign() >= 0 && s.Cmp(big.NewInt(11)) < 0, "s=%s out of range", s)
		}
	}
}

func TestCompleteness(t *testing.T) {
	rnd := mrand.New(mrand.NewSource(11))

	for name, sys := range allSystems(t) {
		sys := sys
		t.Run(name, func(t *testing.T) {
			q := sys.Params().Q
			for i := 0; i < 20; i++ {
				x, err := RandomScalar(rnd, q)
				require.NoError(t, err)
				k, err := sys.Nonce(rnd)
				require.NoError(t, err)
				c, err := sys.Challenge(rnd)
				require.NoError(t, err)

				reg, pending, s := prove(t, sys, x, k, c)
				require.True(t, sys.Verify(reg, pending, s), "round %d rejected", i)

				require.NoError(t, sys.ValidateElement(reg.Y1))
				require.NoError(t, sys.ValidateElement(pending.R2))
			}
		})
	}
}

func TestSoundness(t *testing.T) {
	rnd := mrand.New(mrand.NewSource(12))

	for name, sys := range allSystems(t) {
		sys := sys
		t.Run(name, func(t *testing.T) {
			q := sys.Params().Q
			x, _ := RandomScalar(rnd, q)
			k, _ := sys.Nonce(rnd)
			c, _ := sys.Challenge(rnd)
			reg, pending, s := prove(t, sys, x, k, c)

			// a response computed with the wrong secret
			other := new(big.Int).Add(x, big.NewInt(1))
			forged := sys.Respond(k, other, c)
			assert.False(t, sys.Verify(reg, pending, forged))

			// shifted responses
			for _, delta := range []int64{1, 2, -1} {
				bad := new(big.Int).Add(s, big.NewInt(delta))
				assert.False(t, sys.Verify(reg, pending, bad), "delta %d accepted", delta)
			}

			// the right response to a different challenge
			pending.C = new(big.Int).Add(c, big.NewInt(1))
			assert.False(t, sys.Verify(reg, pending, s))
		})
	}
}

func TestSoundnessExhaustiveSmallGroup(t *testing.T) {
	sys := smallSystem(t)
	q := int64(11)

	for c := int64(1); c < q; c++ {
		reg, pending, s := prove(t, sys, big.NewInt(3), big.NewInt(5), big.NewInt(c))
		for guess := int64(0); guess < q; guess++ {
			accepted := sys.Verify(reg, pending, big.NewInt(guess))
			assert.Equal(t, guess == s.Int64(), accepted, "c=%d s=%d", c, guess)
		}
	}
}

func TestVerifyRequiresBothEquations(t *testing.T) {
	sys := smallSystem(t)
	reg, pending, s := prove(t, sys, big.NewInt(3), big.NewInt(5), big.NewInt(2))

	// only the first equation holds
	onlyFirst := pending
	onlyFirst.R2 = big.NewInt(2)
	assert.False(t, sys.Verify(reg, onlyFirst, s))

	// only the second equation holds
	onlySecond := pending
	onlySecond.R1 = big.NewInt(2)
	assert.False(t, sys.Verify(reg, onlySecond, s))

	// missing values never verify
	assert.False(t, sys.Verify(storage.Registration{}, pending, s))
	assert.False(t, sys.Verify(reg, pending, nil))
}

func TestValidateElement(t *testing.T) {
	sys := smallSystem(t)
	assert.NoError(t, sys.ValidateElement(big.NewInt(18)))
	assert.ErrorIs(t, sys.ValidateElement(big.NewInt(5)), ErrInvalidElement)
	assert.ErrorIs(t, sys.ValidateElement(big.NewInt(30)), ErrInvalidElement)
	assert.ErrorIs(t, sys.ValidateElement(big.NewInt(1)), ErrInvalidElement)

	crv, err := NewCurve(curve.NewSecp256k1())
	require.NoError(t, err)
	assert.NoError(t, crv.ValidateElement(crv.Params().G))
	assert.ErrorIs(t, crv.ValidateElement(big.NewInt(5)), ErrInvalidElement)
}

func TestRejectsZeroSecret(t *testing.T) {
	for name, sys := range allSystems(t) {
		t.Run(name, func(t *testing.T) {
			q := sys.Params().Q

			_, _, err := sys.Register(big.NewInt(0))
			assert.ErrorIs(t, err, ErrInvalidSecret)

			_, _, err = sys.Register(new(big.Int).Lsh(q, 1))
			assert.ErrorIs(t, err, ErrInvalidSecret)

			_, _, err = sys.Commit(q)
			assert.ErrorIs(t, err, ErrInvalidSecret)
		})
	}
}

// With y1 = y2 = 1 any s passes r1 = g^s, r2 = h^s, so the identity must
// never get past element validation.
func TestIdentityRegistrationWouldVerifyAnything(t *testing.T) {
	sys := smallSystem(t)
	reg := storage.Registration{User: "Test User", Y1: big.NewInt(1), Y2: big.NewInt(1)}
	pending := storage.PendingAuthentication{R1: big.NewInt(12), R2: big.NewInt(8), C: big.NewInt(2)}
	require.True(t, sys.Verify(reg, pending, big.NewInt(5)))

	assert.ErrorIs(t, sys.ValidateElement(reg.Y1), ErrInvalidElement)
}

func TestFromParams(t *testing.T) {
	for name, sys := range allSystems(t) {
		t.Run(name, func(t *testing.T) {
			rebuilt, err := FromParams(sys.Params())
			require.NoError(t, err)
			assert.True(t, rebuilt.Params().Equal(sys.Params()))
		})
	}

	t.Run("unknown group", func(t *testing.T) {
		params := smallSystem(t).Params()
		params.Group = "p256"
		_, err := FromParams(params)
		assert.ErrorIs(t, err, ErrUnsupportedGroup)
	})

	t.Run("tampered curve generator", func(t *testing.T) {
		sys, err := NewCurve(curve.NewSecp256k1())
		require.NoError(t, err)
		params := sys.Params()
		params.H = params.G
		_, err = FromParams(params)
		assert.ErrorIs(t, err, group.ErrInvalidParams)
	})

	t.Run("invalid modp", func(t *testing.T) {
		params := smallSystem(t).Params()
		params.H = params.G
		_, err := FromParams(params)
		assert.ErrorIs(t, err, group.ErrInvalidParams)
	})
}

func TestParamsAreCopies(t *testing.T) {
	sys := smallSystem(t)
	params := sys.Params()
	params.G.SetInt64(2)
	assert.Equal(t, int64(4), sys.Params().G.Int64())
}

func TestRandomScalar(t *testing.T) {
	rnd := mrand.New(mrand.NewSource(5))
	q := big.NewInt(3)
	seen := map[int64]bool{}
	for i := 0; i < 100; i++ {
		v, err := RandomScalar(rnd, q)
		require.NoError(t, err)
		seen[v.Int64()] = true
	}
	assert.Equal(t, map[int64]bool{1: true, 2: true}, seen)

	_, err := RandomScalar(rnd, big.NewInt(1))
	assert.Error(t, err)
}

func BenchmarkVerify(b *testing.B) {
	for name, sys := range allSystems(b) {
		sys := sys
		b.Run(name, func(b *testing.B) {
			q := sys.Params().Q
			x, _ := RandomScalar(nil, q)
			k, _ := RandomScalar(nil, q)
			c, _ := RandomScalar(nil, q)
			reg, pending, s := prove(b, sys, x, k, c)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if !sys.Verify(reg, pending, s) {
					b.Fatal("verification failed")
				}
			}
		})
	}
}
