package dpop

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"

	zkjwt "github.com/allsmog/zkcp-go/pkg/jwt"
)

// Signer creates proofs with a single ES256 key.
type Signer struct {
	key *ecdsa.PrivateKey
	pub jwk.Key
	jkt string
	now func() time.Time
}

// NewSigner wraps key. A nil key generates a fresh one.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		var err error
		if key, err = zkjwt.GenerateES256KeyPair(); err != nil {
			return nil, err
		}
	}

	pub, err := jwk.FromRaw(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK: %w", err)
	}
	jkt, err := zkjwt.Thumbprint(pub)
	if err != nil {
		return nil, err
	}

	return &Signer{key: key, pub: pub, jkt: jkt, now: time.Now}, nil
}

// JKT returns the thumbprint that tokens bound to this key carry in cnf.jkt.
func (s *Signer) JKT() string { return s.jkt }

// Proof returns a proof for one request.
func (s *Signer) Proof(method, requestURL string) (string, error) {
	if method == "" {
		return "", errors.New("method is required")
	}
	u, err := url.Parse(requestURL)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("request url must be absolute: %q", requestURL)
	}
	u.RawQuery, u.Fragment = "", ""

	claims := &Claims{
		HTM: method,
		HTU: u.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now()),
			ID:       uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = ProofType
	token.Header["jwk"] = s.pub

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign proof: %w", err)
	}
	return signed, nil
}
