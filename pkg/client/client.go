// Package client talks to a zkcp authentication server.
//
// The low-level methods map one-to-one onto the remote operations. Login
// runs the whole prover side of a Chaum-Pedersen login for a secret x:
//
//	c := client.New("http://localhost:8080")
//	sys, _ := c.System(ctx)
//	_ = c.RegisterSecret(ctx, sys, "alice", x)
//	token, _ := c.Login(ctx, sys, "alice", x)
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/allsmog/zkcp-go/pkg/api"
	"github.com/allsmog/zkcp-go/pkg/crypto/chaumpedersen"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/dpop"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	proofs  *dpop.Signer
	rand    io.Reader
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDPoP attaches a proof from signer to every request, which binds
// issued tokens to the signer's key.
func WithDPoP(signer *dpop.Signer) Option {
	return func(c *Client) { c.proofs = signer }
}

// WithRandom sets the source for nonces. Defaults to crypto/rand.
func WithRandom(r io.Reader) Option {
	return func(c *Client) { c.rand = r }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		rand:    rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize fetches the public group parameters.
func (c *Client) Initialize(ctx context.Context) (*api.InitializeResponse, error) {
	var resp api.InitializeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/initialize", nil, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// System fetches and validates the group parameters and returns the
// matching proof system.
func (c *Client) System(ctx context.Context) (chaumpedersen.System, error) {
	resp, err := c.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	params := resp.Params()
	if params.Group == group.ModP {
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("server sent invalid parameters: %w", err)
		}
	}
	// curve groups are checked against the standard generators
	return chaumpedersen.FromParams(params)
}

// Register binds user to y1 and y2.
func (c *Client) Register(ctx context.Context, user string, y1, y2 *big.Int) error {
	req := api.RegisterRequest{User: user, Y1: api.NewInt(y1), Y2: api.NewInt(y2)}
	return c.do(ctx, http.MethodPost, "/v1/register", req, &api.RegisterResponse{}, nil)
}

// Challenge submits commitments and returns the auth id and challenge.
func (c *Client) Challenge(ctx context.Context, user string, r1, r2 *big.Int) (string, *big.Int, error) {
	req := api.ChallengeRequest{User: user, R1: api.NewInt(r1), R2: api.NewInt(r2)}
	var resp api.ChallengeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/challenge", req, &resp, nil); err != nil {
		return "", nil, err
	}
	if resp.AuthID == "" || resp.C == nil {
		return "", nil, errors.New("server sent an incomplete challenge")
	}
	return resp.AuthID, resp.C.Big(), nil
}

// Verify answers the challenge for authID.
func (c *Client) Verify(ctx context.Context, authID string, s *big.Int) (*api.VerifyResponse, error) {
	req := api.VerifyRequest{AuthID: authID, S: api.NewInt(s)}
	var resp api.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/verify", req, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session asks the server to describe the session behind token.
func (c *Client) Session(ctx context.Context, token *api.VerifyResponse) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/session", nil, &resp, token); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterSecret registers user with the commitments of x.
func (c *Client) RegisterSecret(ctx context.Context, sys chaumpedersen.Prover, user string, x *big.Int) error {
	y1, y2, err := sys.Register(x)
	if err != nil {
		return err
	}
	return c.Register(ctx, user, y1, y2)
}

// Login proves knowledge of x for user and returns the issued token.
func (c *Client) Login(ctx context.Context, sys chaumpedersen.Prover, user string, x *big.Int) (*api.VerifyResponse, error) {
	k, err := sys.Nonce(c.rand)
	if err != nil {
		return nil, fmt.Errorf("failed to draw nonce: %w", err)
	}
	r1, r2, err := sys.Commit(k)
	if err != nil {
		return nil, err
	}

	authID, challenge, err := c.Challenge(ctx, user, r1, r2)
	if err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}

	token, err := c.Verify(ctx, authID, sys.Respond(k, x, challenge))
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, token *api.VerifyResponse) error {
	url := c.baseURL + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != nil {
		scheme := token.TokenType
		if scheme == "" {
			scheme = "Bearer"
		}
		req.Header.Set("Authorization", scheme+" "+token.AccessToken)
	}
	if c.proofs != nil {
		proof, err := c.proofs.Proof(method, url)
		if err != nil {
			return fmt.Errorf("failed to create DPoP proof: %w", err)
		}
		req.Header.Set(dpop.Header, proof)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Code, apiErr.Message = e.Error, e.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
