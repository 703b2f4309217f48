package curve

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/zeebo/blake3"
)

// secpPoint wraps a btcec public key, which is always a finite point.
type secpPoint struct {
	key *btcec.PublicKey
}

func (p *secpPoint) Bytes() []byte {
	return p.key.SerializeCompressed()
}

func (p *secpPoint) Equal(other Point) bool {
	o, ok := other.(*secpPoint)
	return ok && p.key.IsEqual(o.key)
}

type secp256k1 struct{}

// NewSecp256k1 returns the secp256k1 group.
func NewSecp256k1() Curve {
	return secp256k1{}
}

func (secp256k1) Name() string { return "secp256k1" }

func (secp256k1) PointSize() int { return btcec.PubKeyBytesLenCompressed }

// ParsePoint accepts only the 33-byte compressed form so that every point
// has a single integer encoding.
func (c secp256k1) ParsePoint(b []byte) (Point, error) {
	if len(b) != c.PointSize() {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPoint, c.PointSize(), len(b))
	}
	key, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPointNotOnCurve, err)
	}
	return &secpPoint{key: key}, nil
}

func (secp256k1) Generator() Point {
	params := btcec.S256().Params()
	return secpAffine(params.Gx, params.Gy)
}

// HashToPoint uses try-and-increment: BLAKE3(domain || ctr) is taken as
// the x coordinate of an even-y point until one lies on the curve. About
// half of all candidates succeed.
func (c secp256k1) HashToPoint(domain []byte) (Point, error) {
	msg := append(append([]byte{}, domain...), 0)
	candidate := make([]byte, c.PointSize())
	candidate[0] = 0x02

	for ctr := 0; ctr < 256; ctr++ {
		msg[len(msg)-1] = byte(ctr)
		x := blake3.Sum256(msg)
		copy(candidate[1:], x[:])
		if key, err := btcec.ParsePubKey(candidate); err == nil {
			return &secpPoint{key: key}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrHashToPoint, domain)
}

func (secp256k1) Mul(p Point, k *big.Int) Point {
	sp, ok := p.(*secpPoint)
	if !ok {
		return nil
	}
	e := reduce(k, btcec.S256().N)
	if e == nil {
		return nil
	}
	x, y := btcec.S256().ScalarMult(sp.key.X(), sp.key.Y(), e.Bytes())
	return secpAffine(x, y)
}

func (secp256k1) Add(p, q Point) Point {
	a, ok := p.(*secpPoint)
	if !ok {
		return nil
	}
	b, ok := q.(*secpPoint)
	if !ok {
		return nil
	}
	x, y := btcec.S256().Add(a.key.X(), a.key.Y(), b.key.X(), b.key.Y())
	return secpAffine(x, y)
}

func (secp256k1) Order() *big.Int {
	return new(big.Int).Set(btcec.S256().N)
}

func (secp256k1) FieldOrder() *big.Int {
	return new(big.Int).Set(btcec.S256().P)
}

// secpAffine converts btcec affine output to a Point. btcec reports the
// point at infinity as (0, 0).
func secpAffine(x, y *big.Int) Point {
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil
	}
	var fx, fy btcec.FieldVal
	fx.SetByteSlice(x.Bytes())
	fy.SetByteSlice(y.Bytes())
	return &secpPoint{key: btcec.NewPublicKey(&fx, &fy)}
}
