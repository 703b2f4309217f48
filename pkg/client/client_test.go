package client

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allsmog/zkcp-go/pkg/api"
	"github.com/allsmog/zkcp-go/pkg/auth"
	"github.com/allsmog/zkcp-go/pkg/crypto/chaumpedersen"
	"github.com/allsmog/zkcp-go/pkg/crypto/curve"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/dpop"
	"github.com/allsmog/zkcp-go/pkg/jwt"
	"github.com/allsmog/zkcp-go/pkg/server"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

func demoSystem(t *testing.T) chaumpedersen.System {
	t.Helper()
	params, err := group.New(big.NewInt(23), big.NewInt(11), big.NewInt(4), big.NewInt(9))
	require.NoError(t, err)
	sys, err := chaumpedersen.NewModP(params)
	require.NoError(t, err)
	return sys
}

func startServer(t *testing.T, sys chaumpedersen.System, cfg auth.Config) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := jwt.GenerateES256KeyPair()
	require.NoError(t, err)
	signer, err := jwt.NewES256Signer(key, "", "https://auth.test")
	require.NoError(t, err)

	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Minute
	}
	cfg.Audience = "https://api.test"

	svc, err := auth.NewService(sys, storage.NewMemoryStore(), signer, cfg, auth.WithLogger(log))
	require.NoError(t, err)
	h := auth.NewHandlers(svc, dpop.NewVerifier(dpop.NewInMemoryReplayStore()), log)

	srv := server.New(server.Config{Log: log}, server.RouteRegistrarFunc(h.Routes))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestLoginScenario(t *testing.T) {
	ts := startServer(t, demoSystem(t), auth.Config{})
	ctx := context.Background()
	c := New(ts.URL)

	sys, err := c.System(ctx)
	require.NoError(t, err)
	require.True(t, sys.Params().Equal(demoSystem(t).Params()))

	x := big.NewInt(3)
	require.NoError(t, c.RegisterSecret(ctx, sys, "Test User", x))

	token, err := c.Login(ctx, sys, "Test User", x)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.SessionID)
	assert.Positive(t, token.ExpiresIn)

	session, err := c.Session(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, token.SessionID, session.SessionID)
	assert.Equal(t, group.ModP, session.Group)
	assert.Equal(t, chaumpedersen.SchemeName, session.Scheme)
	assert.Empty(t, session.JKT)
}

func TestManualSteps(t *testing.T) {
	ts := startServer(t, demoSystem(t), auth.Config{})
	ctx := context.Background()
	c := New(ts.URL + "/")

	require.NoError(t, c.Register(ctx, "Test User", big.NewInt(18), big.NewInt(16)))

	authID, challenge, err := c.Challenge(ctx, "Test User", big.NewInt(12), big.NewInt(8))
	require.NoError(t, err)
	require.True(t, challenge.Sign() > 0 && challenge.Cmp(big.NewInt(11)) < 0)

	s := demoSystem(t).Respond(big.NewInt(5), big.NewInt(3), challenge)
	token, err := c.Verify(ctx, authID, s)
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)

	_, err = c.Verify(ctx, authID, s)
	require.True(t, IsCode(err, api.CodeInvalidSession), "auth ids are single use: %v", err)
}

func TestWrongSecretIsRejected(t *testing.T) {
	ts := startServer(t, demoSystem(t), auth.Config{})
	ctx := context.Background()
	c := New(ts.URL)
	sys := demoSystem(t)

	require.NoError(t, c.RegisterSecret(ctx, sys, "Test User", big.NewInt(3)))

	_, err := c.Login(ctx, sys, "Test User", big.NewInt(2))
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, api.CodeAuthenticationFailed, apiErr.Code)
}

func TestUnknownUser(t *testing.T) {
	ts := startServer(t, demoSystem(t), auth.Config{})
	c := New(ts.URL)

	_, err := c.Login(context.Background(), demoSystem(t), "nobody", big.NewInt(3))
	require.True(t, IsCode(err, api.CodeUnknownUser), "got %v", err)
}

func TestDPoPBoundLogin(t *testing.T) {
	ts := startServer(t, demoSystem(t), auth.Config{RequireDPoP: true})
	ctx := context.Background()

	plain := New(ts.URL)
	sys, err := plain.System(ctx)
	require.NoError(t, err)
	require.NoError(t, plain.RegisterSecret(ctx, sys, "Test User", big.NewInt(7)))

	_, err = plain.Login(ctx, sys, "Test User", big.NewInt(7))
	require.True(t, IsCode(err, api.CodeInvalidDPoP), "got %v", err)

	signer, err := dpop.NewSigner(nil)
	require.NoError(t, err)
	bound := New(ts.URL, WithDPoP(signer))

	token, err := bound.Login(ctx, sys, "Test User", big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, "DPoP", token.TokenType)

	session, err := bound.Session(ctx, token)
	require.NoError(t, err)
	require.Equal(t, signer.JKT(), session.JKT)

	// the token is useless without the key
	_, err = plain.Session(ctx, token)
	require.True(t, IsCode(err, api.CodeInvalidDPoP), "got %v", err)
}

func TestCurveGroups(t *testing.T) {
	for _, name := range curve.SupportedCurves() {
		t.Run(name, func(t *testing.T) {
			crv, err := curve.FromName(name)
			require.NoError(t, err)
			serverSys, err := chaumpedersen.NewCurve(crv)
			require.NoError(t, err)

			ts := startServer(t, serverSys, auth.Config{})
			ctx := context.Background()
			c := New(ts.URL)

			sys, err := c.System(ctx)
			require.NoError(t, err)

			x, err := chaumpedersen.RandomScalar(nil, sys.Params().Q)
			require.NoError(t, err)
			require.NoError(t, c.RegisterSecret(ctx, sys, "Test User", x))

			token, err := c.Login(ctx, sys, "Test User", x)
			require.NoError(t, err)

			session, err := c.Session(ctx, token)
			require.NoError(t, err)
			require.Equal(t, name, session.Group)
		})
	}
}

func TestAPIErrorWithoutBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Initialize(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Empty(t, apiErr.Code)
}
