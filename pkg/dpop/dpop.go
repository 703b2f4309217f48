// Package dpop implements Demonstration of Proof-of-Possession (DPoP) as defined
// in RFC 9449.
//
// A DPoP proof is a JWT signed by a client-held key and carried in the DPoP
// request header. The header embeds the public key as a JWK, the claims bind
// the proof to the HTTP method (htm) and URI (htu) of one request, and iat and
// jti bound its lifetime and prevent reuse.
//
// The auth server reads a proof at challenge time and remembers the key
// thumbprint (jkt) with the pending authentication. The verify request must
// be signed by the same key, and the issued session token then carries
// cnf.jkt so that resource servers can require the key on every call.
//
// # References
//
//   - RFC 9449: OAuth 2.0 Demonstrating Proof of Possession (DPoP)
//   - RFC 7638: JSON Web Key (JWK) Thumbprint
//   - RFC 7800: Proof-of-Possession Key Semantics for JWTs
package dpop

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	zkjwt "github.com/allsmog/zkcp-go/pkg/jwt"
)

const (
	// Header is the request header carrying the proof.
	Header = "DPoP"

	// ProofType is the required typ header of a proof.
	ProofType = "dpop+jwt"

	// DefaultClockSkew bounds how far iat may drift from the server clock.
	DefaultClockSkew = 60 * time.Second
)

var supportedAlgorithms = []string{"ES256", "ES384", "ES512", "RS256", "PS256", "EdDSA"}

var (
	// ErrInvalidDPoP indicates the DPoP proof is invalid
	ErrInvalidDPoP = errors.New("invalid DPoP proof")

	// ErrMissing indicates the request carries no proof
	ErrMissing = fmt.Errorf("%w: missing DPoP header", ErrInvalidDPoP)

	// ErrBoundMismatch indicates the DPoP proof doesn't match the request
	ErrBoundMismatch = fmt.Errorf("%w: binding mismatch", ErrInvalidDPoP)

	// ErrReplay indicates a DPoP proof replay attack
	ErrReplay = fmt.Errorf("%w: replay detected", ErrInvalidDPoP)

	// ErrExpired indicates the DPoP proof is outside the accepted window
	ErrExpired = fmt.Errorf("%w: iat outside accepted window", ErrInvalidDPoP)
)

// Claims is the body of a DPoP proof.
type Claims struct {
	HTM string `json:"htm"`
	HTU string `json:"htu"`
	jwt.RegisteredClaims
}

// Result describes a verified proof.
type Result struct {
	JKT    string
	Claims Claims
	Key    jwk.Key
}

// Verifier checks proofs against requests.
type Verifier struct {
	replay ReplayStore
	skew   time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClockSkew sets the accepted iat drift.
func WithClockSkew(d time.Duration) Option {
	return func(v *Verifier) { v.skew = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier returns a Verifier recording proofs in replay.
func NewVerifier(replay ReplayStore, opts ...Option) *Verifier {
	v := &Verifier{replay: replay, skew: DefaultClockSkew, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the proof carried by r. It returns ErrMissing when r has no
// DPoP header.
func (v *Verifier) Verify(r *http.Request) (*Result, error) {
	values := r.Header.Values(Header)
	switch len(values) {
	case 0:
		return nil, ErrMissing
	case 1:
	default:
		return nil, fmt.Errorf("%w: multiple DPoP headers", ErrInvalidDPoP)
	}

	return v.VerifyProof(values[0], r.Method, RequestURL(r))
}

// VerifyProof checks proof for a request with the given method and URL.
func (v *Verifier) VerifyProof(proof, method, requestURL string) (*Result, error) {
	key, claims, err := parseProof(proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDPoP, err)
	}

	if claims.HTM != method {
		return nil, fmt.Errorf("%w: method %s, proof bound to %s", ErrBoundMismatch, method, claims.HTM)
	}
	if !equalURLs(claims.HTU, requestURL) {
		return nil, fmt.Errorf("%w: url %s, proof bound to %s", ErrBoundMismatch, requestURL, claims.HTU)
	}

	now := v.now()
	iat := claims.IssuedAt.Time
	if iat.After(now.Add(v.skew)) || iat.Before(now.Add(-v.skew)) {
		return nil, ErrExpired
	}

	jkt, err := zkjwt.Thumbprint(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDPoP, err)
	}

	// a proof stays replayable until its iat leaves the window
	if v.replay.Seen(jkt, claims.ID, iat.Add(v.skew)) {
		return nil, ErrReplay
	}

	return &Result{JKT: jkt, Claims: *claims, Key: key}, nil
}

func parseProof(proof string) (jwk.Key, *Claims, error) {
	var key jwk.Key
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(proof, claims, func(token *jwt.Token) (interface{}, error) {
		if typ, _ := token.Header["typ"].(string); !strings.EqualFold(typ, ProofType) {
			return nil, fmt.Errorf("typ must be %s", ProofType)
		}

		raw, ok := token.Header["jwk"].(map[string]interface{})
		if !ok {
			return nil, errors.New("missing jwk in header")
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jwk: %w", err)
		}

		key, err = jwk.ParseKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jwk: %w", err)
		}
		switch key.(type) {
		case jwk.ECDSAPrivateKey, jwk.RSAPrivateKey, jwk.OKPPrivateKey, jwk.SymmetricKey:
			return nil, errors.New("jwk must be a public key")
		}

		return jwk.PublicRawKeyOf(key)
	}, jwt.WithValidMethods(supportedAlgorithms))
	if err != nil {
		return nil, nil, err
	}
	if !token.Valid {
		return nil, nil, errors.New("invalid token")
	}

	switch {
	case claims.HTM == "":
		return nil, nil, errors.New("missing htm claim")
	case claims.HTU == "":
		return nil, nil, errors.New("missing htu claim")
	case claims.IssuedAt == nil:
		return nil, nil, errors.New("missing iat claim")
	case claims.ID == "":
		return nil, nil, errors.New("missing jti claim")
	}

	return key, claims, nil
}

// RequestURL rebuilds the absolute URL of r as the client addressed it.
func RequestURL(r *http.Request) string {
	scheme := r.URL.Scheme
	if scheme == "" {
		switch {
		case r.TLS != nil:
			scheme = "https"
		case strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"):
			scheme = "https"
		default:
			scheme = "http"
		}
	}

	host := r.URL.Host
	if host == "" {
		host = r.Host
	}

	return scheme + "://" + host + r.URL.EscapedPath()
}

// equalURLs compares scheme, host and path. Query and fragment are not part
// of htu.
func equalURLs(a, b string) bool {
	u1, err1 := url.Parse(a)
	u2, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return false
	}

	path := func(u *url.URL) string {
		if u.Path == "" {
			return "/"
		}
		return u.Path
	}

	return strings.EqualFold(u1.Scheme, u2.Scheme) &&
		strings.EqualFold(u1.Host, u2.Host) &&
		path(u1) == path(u2)
}
