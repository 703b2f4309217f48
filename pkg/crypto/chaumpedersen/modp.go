package chaumpedersen

import (
	"fmt"
	"io"
	"math/big"

	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

// ModP runs the protocol in the order-q subgroup of (Z/pZ)*.
type ModP struct {
	params *group.Params
}

// NewModP validates params and returns a System over them. The parameters are
// copied, so later changes by the caller have no effect.
func NewModP(params *group.Params) (*ModP, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &ModP{params: params.Clone()}, nil
}

func (m *ModP) Params() *group.Params {
	return m.params.Clone()
}

// exp computes base^e mod p with e reduced mod q first; every base used here
// has order q, so the reduction keeps exponents non-negative without
// changing the result.
func (m *ModP) exp(base, e *big.Int) *big.Int {
	reduced := new(big.Int).Mod(e, m.params.Q)
	return reduced.Exp(base, reduced, m.params.P)
}

// pair returns (g^v, h^v). A v that is zero mod q would give the identity
// twice, which every response satisfies.
func (m *ModP) pair(v *big.Int) (*big.Int, *big.Int, error) {
	if v == nil {
		return nil, nil, ErrInvalidSecret
	}
	if new(big.Int).Mod(v, m.params.Q).Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: zero mod group order", ErrInvalidSecret)
	}
	return m.exp(m.params.G, v), m.exp(m.params.H, v), nil
}

func (m *ModP) Register(x *big.Int) (*big.Int, *big.Int, error) {
	return m.pair(x)
}

func (m *ModP) Commit(k *big.Int) (*big.Int, *big.Int, error) {
	return m.pair(k)
}

func (m *ModP) Respond(k, x, c *big.Int) *big.Int {
	return respond(m.params.Q, k, x, c)
}

func (m *ModP) Nonce(rnd io.Reader) (*big.Int, error) {
	return RandomScalar(rnd, m.params.Q)
}

func (m *ModP) Challenge(rnd io.Reader) (*big.Int, error) {
	return RandomScalar(rnd, m.params.Q)
}

// ValidateElement accepts non-identity values of the order-q subgroup.
func (m *ModP) ValidateElement(v *big.Int) error {
	if !m.params.IsElement(v) {
		return fmt.Errorf("%w: not in the order-q subgroup mod p", ErrInvalidElement)
	}
	if v.Cmp(big.NewInt(1)) == 0 {
		return fmt.Errorf("%w: identity", ErrInvalidElement)
	}
	return nil
}

// Verify checks g^s * y1^c == r1 and h^s * y2^c == r2 (mod p).
func (m *ModP) Verify(reg storage.Registration, pending storage.PendingAuthentication, s *big.Int) bool {
	if s == nil || reg.Y1 == nil || reg.Y2 == nil || pending.R1 == nil || pending.R2 == nil || pending.C == nil {
		return false
	}
	p := m.params.P

	check1 := m.exp(m.params.G, s)
	check1.Mul(check1, m.exp(reg.Y1, pending.C))
	check1.Mod(check1, p)

	check2 := m.exp(m.params.H, s)
	check2.Mul(check2, m.exp(reg.Y2, pending.C))
	check2.Mod(check2, p)

	ok1 := check1.Cmp(pending.R1) == 0
	ok2 := check2.Cmp(pending.R2) == 0
	return ok1 && ok2
}
