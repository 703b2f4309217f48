package chaumpedersen

import (
	"fmt"
	"io"
	"math/big"

	"github.com/allsmog/zkcp-go/pkg/crypto/curve"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

// secondGeneratorDomain is hashed, with the curve name appended, to derive H.
const secondGeneratorDomain = "zkcp/chaum-pedersen/second-generator/"

// Curve runs the protocol over an elliptic-curve group. Points travel as
// the big-endian integers of their canonical encodings.
type Curve struct {
	crv    curve.Curve
	g, h   curve.Point
	params *group.Params
}

// NewCurve derives the second generator for crv and returns a System over it.
func NewCurve(crv curve.Curve) (*Curve, error) {
	h, err := crv.HashToPoint([]byte(secondGeneratorDomain + crv.Name()))
	if err != nil {
		return nil, fmt.Errorf("failed to derive second generator: %w", err)
	}
	g := crv.Generator()

	return &Curve{
		crv: crv,
		g:   g,
		h:   h,
		params: &group.Params{
			Group: crv.Name(),
			P:     crv.FieldOrder(),
			Q:     crv.Order(),
			G:     curve.PointToInt(g),
			H:     curve.PointToInt(h),
		},
	}, nil
}

func (cs *Curve) Params() *group.Params {
	return cs.params.Clone()
}

// mul returns v*P, or nil when v is zero mod q.
func (cs *Curve) mul(p curve.Point, v *big.Int) curve.Point {
	return cs.crv.Mul(p, v)
}

// add treats nil as the identity.
func (cs *Curve) add(p, q curve.Point) curve.Point {
	switch {
	case p == nil:
		return q
	case q == nil:
		return p
	}
	return cs.crv.Add(p, q)
}

func (cs *Curve) pair(v *big.Int) (*big.Int, *big.Int, error) {
	if v == nil {
		return nil, nil, ErrInvalidSecret
	}
	p1, p2 := cs.mul(cs.g, v), cs.mul(cs.h, v)
	if p1 == nil || p2 == nil {
		return nil, nil, fmt.Errorf("%w: zero mod group order", ErrInvalidSecret)
	}
	return curve.PointToInt(p1), curve.PointToInt(p2), nil
}

func (cs *Curve) Register(x *big.Int) (*big.Int, *big.Int, error) {
	return cs.pair(x)
}

func (cs *Curve) Commit(k *big.Int) (*big.Int, *big.Int, error) {
	return cs.pair(k)
}

func (cs *Curve) Respond(k, x, c *big.Int) *big.Int {
	return respond(cs.params.Q, k, x, c)
}

func (cs *Curve) Nonce(rnd io.Reader) (*big.Int, error) {
	return RandomScalar(rnd, cs.params.Q)
}

func (cs *Curve) Challenge(rnd io.Reader) (*big.Int, error) {
	return RandomScalar(rnd, cs.params.Q)
}

// ValidateElement accepts canonical encodings of non-identity points.
func (cs *Curve) ValidateElement(v *big.Int) error {
	if _, err := curve.PointFromInt(cs.crv, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return nil
}

// Verify checks s*G + c*Y1 == R1 and s*H + c*Y2 == R2.
func (cs *Curve) Verify(reg storage.Registration, pending storage.PendingAuthentication, s *big.Int) bool {
	if s == nil || pending.C == nil {
		return false
	}

	points := make([]curve.Point, 4)
	for i, v := range []*big.Int{reg.Y1, reg.Y2, pending.R1, pending.R2} {
		p, err := curve.PointFromInt(cs.crv, v)
		if err != nil {
			return false
		}
		points[i] = p
	}
	y1, y2, r1, r2 := points[0], points[1], points[2], points[3]

	check1 := cs.add(cs.mul(cs.g, s), cs.mul(y1, pending.C))
	check2 := cs.add(cs.mul(cs.h, s), cs.mul(y2, pending.C))
	if check1 == nil || check2 == nil {
		return false
	}

	ok1 := check1.Equal(r1)
	ok2 := check2.Equal(r2)
	return ok1 && ok2
}
