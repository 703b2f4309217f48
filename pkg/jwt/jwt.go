// Package jwt mints and verifies the ES256 session tokens issued after a
// successful Chaum-Pedersen proof.
package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/zeebo/blake3"
)

const (
	// Algorithm is the only signing algorithm issued or accepted.
	Algorithm = "ES256"

	pairwiseContext = "zkcp 2024 pairwise subject"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKey   = errors.New("unknown signing key")
)

// TokenSigner signs session tokens.
type TokenSigner interface {
	Sign(claims *Claims) (string, error)
	JWKS() jwk.Set
	KeyID() string
	Issuer() string
}

// TokenVerifier validates session tokens for an audience.
type TokenVerifier interface {
	Verify(token, audience string) (*Claims, error)
}

// Confirmation binds a token to a DPoP key.
type Confirmation struct {
	JKT string `json:"jkt"`
}

// ZKClaims records how the subject authenticated.
type ZKClaims struct {
	Scheme string `json:"scheme"`
	Group  string `json:"grp"`
}

// Claims is the session token body.
type Claims struct {
	SessionID string        `json:"sid"`
	ZK        *ZKClaims     `json:"zk,omitempty"`
	Cnf       *Confirmation `json:"cnf,omitempty"`
	jwt.RegisteredClaims
}

// ES256Signer signs with a P-256 key and publishes the matching JWKS.
type ES256Signer struct {
	privateKey *ecdsa.PrivateKey
	keyID      string
	issuer     string
	jwks       jwk.Set
}

// NewES256Signer builds a signer. An empty keyID is replaced by the RFC 7638
// thumbprint of the public key.
func NewES256Signer(privateKey *ecdsa.PrivateKey, keyID, issuer string) (*ES256Signer, error) {
	if privateKey == nil {
		return nil, errors.New("private key is required")
	}

	pub, err := jwk.FromRaw(privateKey.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK: %w", err)
	}

	if keyID == "" {
		keyID, err = Thumbprint(pub)
		if err != nil {
			return nil, err
		}
	}

	for k, v := range map[string]interface{}{
		jwk.KeyIDKey:     keyID,
		jwk.AlgorithmKey: Algorithm,
		jwk.KeyUsageKey:  "sig",
	} {
		if err := pub.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", k, err)
		}
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("failed to add key to set: %w", err)
	}

	return &ES256Signer{
		privateKey: privateKey,
		keyID:      keyID,
		issuer:     issuer,
		jwks:       set,
	}, nil
}

func (s *ES256Signer) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *ES256Signer) JWKS() jwk.Set { return s.jwks }
func (s *ES256Signer) KeyID() string { return s.keyID }
func (s *ES256Signer) Issuer() string { return s.issuer }

// Verifier checks tokens against a JWKS.
type Verifier struct {
	jwks   jwk.Set
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier returns a Verifier for tokens from issuer.
func NewVerifier(jwks jwk.Set, issuer string) *Verifier {
	return &Verifier{jwks: jwks, issuer: issuer, leeway: 30 * time.Second, now: time.Now}
}

// Verify parses token and checks signature, issuer, audience and expiry.
func (v *Verifier) Verify(token, audience string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing sid", ErrInvalidToken)
	}
	return claims, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrUnknownKey)
	}

	key, ok := v.jwks.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}

	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to get raw key: %w", err)
	}
	pub, ok := raw.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, not an EC public key", ErrUnknownKey, kid, raw)
	}
	return pub, nil
}

// SessionToken describes a token to mint.
type SessionToken struct {
	User      string
	Audience  string
	SessionID string
	Scheme    string
	Group     string
	JKT       string
	TTL       time.Duration
	Now       time.Time
}

// MintSessionToken signs a token for an authenticated session and returns it
// with its expiry.
func MintSessionToken(signer TokenSigner, st SessionToken) (string, time.Time, error) {
	if st.SessionID == "" || st.User == "" {
		return "", time.Time{}, errors.New("session id and user are required")
	}
	if st.TTL <= 0 {
		return "", time.Time{}, fmt.Errorf("invalid token ttl %s", st.TTL)
	}

	now := st.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.Truncate(time.Second)
	exp := now.Add(st.TTL)

	claims := &Claims{
		SessionID: st.SessionID,
		ZK:        &ZKClaims{Scheme: st.Scheme, Group: st.Group},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signer.Issuer(),
			Subject:   PairwiseSubject(st.User, st.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        st.SessionID,
		},
	}
	if st.Audience != "" {
		claims.Audience = jwt.ClaimStrings{st.Audience}
	}
	if st.JKT != "" {
		claims.Cnf = &Confirmation{JKT: st.JKT}
	}

	token, err := signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// PairwiseSubject derives a stable per-audience subject so that relying
// parties cannot correlate users by identifier.
func PairwiseSubject(user, audience string) string {
	h := blake3.NewDeriveKey(pairwiseContext)
	_, _ = h.Write([]byte(audience))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(user))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Thumbprint returns the base64url RFC 7638 SHA-256 thumbprint of key.
func Thumbprint(key jwk.Key) (string, error) {
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}
