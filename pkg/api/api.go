// Package api defines the JSON messages exchanged by the four protocol
// operations.
//
// Integers of arbitrary size travel as JSON strings holding 0x-prefixed
// big-endian hex. Decoders also accept unprefixed hex strings and plain JSON
// numbers so that clients built around fixed-width integers keep working.
package api

import (
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeUnknownUser          = "unknown_user"
	CodeUserDenied           = "user_denied"
	CodeInvalidSession       = "invalid_session"
	CodeAuthenticationFailed = "authentication_failed"
	CodeInvalidDPoP          = "invalid_dpop_proof"
	CodeInternalError        = "internal_error"
	CodeRateLimited          = "rate_limited"
	CodeUnauthorized         = "unauthorized"
)

// InitializeResponse carries the public group parameters.
type InitializeResponse struct {
	Group           string `json:"group"`
	Modulus         *Int   `json:"modulus"`
	Order           *Int   `json:"order"`
	FirstGenerator  *Int   `json:"first_generator"`
	SecondGenerator *Int   `json:"second_generator"`
}

// RegisterRequest binds a user identity to y1 = g^x, y2 = h^x.
type RegisterRequest struct {
	User string `json:"user"`
	Y1   *Int   `json:"y1"`
	Y2   *Int   `json:"y2"`
}

// RegisterResponse acknowledges a registration.
type RegisterResponse struct {
	Status string `json:"status"`
}

// ChallengeRequest submits the commitments r1 = g^k, r2 = h^k.
type ChallengeRequest struct {
	User string `json:"user"`
	R1   *Int   `json:"r1"`
	R2   *Int   `json:"r2"`
}

// ChallengeResponse returns the auth id and the challenge c.
type ChallengeResponse struct {
	AuthID string `json:"auth_id"`
	C      *Int   `json:"c"`
}

// VerifyRequest answers a challenge with s = (k - c*x) mod q.
type VerifyRequest struct {
	AuthID string `json:"auth_id"`
	S      *Int   `json:"s"`
}

// VerifyResponse is returned when the proof is accepted.
type VerifyResponse struct {
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// SessionResponse describes the session behind a presented token.
type SessionResponse struct {
	Subject   string `json:"sub"`
	SessionID string `json:"session_id"`
	Scheme    string `json:"scheme"`
	Group     string `json:"group"`
	ExpiresAt int64  `json:"exp"`
	JKT       string `json:"jkt,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewInitializeResponse converts group parameters to their wire form.
func NewInitializeResponse(params *group.Params) InitializeResponse {
	return InitializeResponse{
		Group:           params.Group,
		Modulus:         NewInt(params.P),
		Order:           NewInt(params.Q),
		FirstGenerator:  NewInt(params.G),
		SecondGenerator: NewInt(params.H),
	}
}

// Params converts the response back to group parameters. It does not
// validate them.
func (r InitializeResponse) Params() *group.Params {
	return &group.Params{
		Group: r.Group,
		P:     r.Modulus.Big(),
		Q:     r.Order.Big(),
		G:     r.FirstGenerator.Big(),
		H:     r.SecondGenerator.Big(),
	}
}
