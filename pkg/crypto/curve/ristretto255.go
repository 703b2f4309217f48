package curve

import (
	"fmt"
	"math/big"

	"github.com/gtank/ristretto255"
	"golang.org/x/crypto/sha3"
)

type ristrettoPoint struct {
	e *ristretto255.Element
}

func (p *ristrettoPoint) Bytes() []byte {
	return p.e.Bytes()
}

func (p *ristrettoPoint) Equal(other Point) bool {
	o, ok := other.(*ristrettoPoint)
	return ok && p.e.Equal(o.e) == 1
}

// wrapElement returns nil for the identity.
func wrapElement(e *ristretto255.Element) Point {
	if e.Equal(ristretto255.NewIdentityElement()) == 1 {
		return nil
	}
	return &ristrettoPoint{e: e}
}

// l = 2^252 + 27742317777372353535851937790883648493
var ristrettoOrder, _ = new(big.Int).SetString(
	"7237005577332262213973186563042994240857116359379907606001950938285454250989", 10)

type ristretto struct{}

// NewRistretto255 returns the ristretto255 group.
func NewRistretto255() Curve {
	return ristretto{}
}

func (ristretto) Name() string { return "ristretto255" }

func (ristretto) PointSize() int { return 32 }

func (c ristretto) ParsePoint(b []byte) (Point, error) {
	if len(b) != c.PointSize() {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPoint, c.PointSize(), len(b))
	}
	e, err := ristretto255.NewIdentityElement().SetCanonicalBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	p := wrapElement(e)
	if p == nil {
		return nil, ErrIdentityPoint
	}
	return p, nil
}

func (ristretto) Generator() Point {
	return &ristrettoPoint{e: ristretto255.NewGeneratorElement()}
}

// HashToPoint expands the domain with SHAKE256 to 64 uniform bytes and
// applies the one-way map.
func (ristretto) HashToPoint(domain []byte) (Point, error) {
	uniform := make([]byte, 64)
	sha3.ShakeSum256(uniform, domain)

	e, err := ristretto255.NewIdentityElement().SetUniformBytes(uniform)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHashToPoint, err)
	}
	p := wrapElement(e)
	if p == nil {
		return nil, fmt.Errorf("%w: identity", ErrHashToPoint)
	}
	return p, nil
}

func (ristretto) Mul(p Point, k *big.Int) Point {
	rp, ok := p.(*ristrettoPoint)
	if !ok {
		return nil
	}
	e := reduce(k, ristrettoOrder)
	if e == nil {
		return nil
	}

	// scalars are little-endian on the wire
	buf := e.FillBytes(make([]byte, 32))
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	sc, err := ristretto255.NewScalar().SetCanonicalBytes(buf)
	if err != nil {
		return nil
	}
	return wrapElement(ristretto255.NewIdentityElement().ScalarMult(sc, rp.e))
}

func (ristretto) Add(p, q Point) Point {
	a, ok := p.(*ristrettoPoint)
	if !ok {
		return nil
	}
	b, ok := q.(*ristrettoPoint)
	if !ok {
		return nil
	}
	return wrapElement(ristretto255.NewIdentityElement().Add(a.e, b.e))
}

func (ristretto) Order() *big.Int {
	return new(big.Int).Set(ristrettoOrder)
}

// FieldOrder returns 2^255 - 19.
func (ristretto) FieldOrder() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}
