package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/allsmog/zkcp-go/pkg/api"
	"github.com/allsmog/zkcp-go/pkg/dpop"
	zkjwt "github.com/allsmog/zkcp-go/pkg/jwt"
)

const (
	testAudience = "https://api.test"
	testURL      = "https://api.test/v1/session"
)

type fixture struct {
	signer   *zkjwt.ES256Signer
	verifier *zkjwt.Verifier
	proofs   *dpop.Verifier
	client   *dpop.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := zkjwt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := zkjwt.NewES256Signer(key, "k1", "https://auth.test")
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	client, err := dpop.NewSigner(nil)
	if err != nil {
		t.Fatalf("failed to create dpop signer: %v", err)
	}
	return &fixture{
		signer:   signer,
		verifier: zkjwt.NewVerifier(signer.JWKS(), signer.Issuer()),
		proofs:   dpop.NewVerifier(dpop.NewInMemoryReplayStore()),
		client:   client,
	}
}

func (f *fixture) token(t *testing.T, jkt string) string {
	t.Helper()
	token, _, err := zkjwt.MintSessionToken(f.signer, zkjwt.SessionToken{
		User:      "alice",
		Audience:  testAudience,
		SessionID: "sess-1",
		Scheme:    "chaum-pedersen",
		Group:     "secp256k1",
		JKT:       jkt,
		TTL:       time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func (f *fixture) proof(t *testing.T, method, url string) string {
	t.Helper()
	proof, err := f.client.Proof(method, url)
	if err != nil {
		t.Fatalf("failed to create proof: %v", err)
	}
	return proof
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("claims missing from context")
		} else if claims.SessionID != "sess-1" {
			t.Errorf("unexpected sid %s", claims.SessionID)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestRequireSession(t *testing.T) {
	f := newFixture(t)
	handler := RequireSession(f.verifier, testAudience, f.proofs)(okHandler(t))

	t.Run("BearerToken", func(t *testing.T) {
		req := httptest.NewRequest("GET", testURL, nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, ""))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("BoundTokenWithProof", func(t *testing.T) {
		req := httptest.NewRequest("GET", testURL, nil)
		req.Header.Set("Authorization", "DPoP "+f.token(t, f.client.JKT()))
		req.Header.Set(dpop.Header, f.proof(t, "GET", testURL))
		rec := httptest.NewRecorder()

		var seen bool
		RequireSession(f.verifier, testAudience, f.proofs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, ok := DPoPFromContext(r.Context())
			seen = ok && result.JKT == f.client.JKT()
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || !seen {
			t.Fatalf("expected bound request to pass, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	cases := []struct {
		name  string
		setup func(*http.Request)
		code  string
	}{
		{"MissingHeader", func(r *http.Request) {}, api.CodeUnauthorized},
		{"Garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, api.CodeUnauthorized},
		{"UnknownScheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+f.token(t, "")) }, api.CodeUnauthorized},
		{"BoundTokenAsBearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+f.token(t, f.client.JKT()))
		}, api.CodeInvalidDPoP},
		{"BoundTokenWithoutProof", func(r *http.Request) {
			r.Header.Set("Authorization", "DPoP "+f.token(t, f.client.JKT()))
		}, api.CodeInvalidDPoP},
		{"BoundTokenWrongKey", func(r *http.Request) {
			other, _ := dpop.NewSigner(nil)
			proof, _ := other.Proof("GET", testURL)
			r.Header.Set("Authorization", "DPoP "+f.token(t, f.client.JKT()))
			r.Header.Set(dpop.Header, proof)
		}, api.CodeInvalidDPoP},
		{"BoundTokenWrongMethod", func(r *http.Request) {
			r.Header.Set("Authorization", "DPoP "+f.token(t, f.client.JKT()))
			r.Header.Set(dpop.Header, f.proof(t, "POST", testURL))
		}, api.CodeInvalidDPoP},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", testURL, nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if code := errorCode(t, rec); code != tc.code {
				t.Errorf("expected error %s, got %s", tc.code, code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}

	t.Run("WrongAudience", func(t *testing.T) {
		h := RequireSession(f.verifier, "https://other.test", f.proofs)(okHandler(t))
		req := httptest.NewRequest("GET", testURL, nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, ""))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("DPoPDisabled", func(t *testing.T) {
		h := RequireSession(f.verifier, testAudience, nil)(okHandler(t))
		req := httptest.NewRequest("GET", testURL, nil)
		req.Header.Set("Authorization", "DPoP "+f.token(t, f.client.JKT()))
		req.Header.Set(dpop.Header, f.proof(t, "GET", testURL))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestRequireClaims(t *testing.T) {
	f := newFixture(t)
	session := RequireSession(f.verifier, testAudience, f.proofs)

	run := func(mw func(http.Handler) http.Handler) int {
		req := httptest.NewRequest("GET", testURL, nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, ""))
		rec := httptest.NewRecorder()
		session(mw(okHandler(t))).ServeHTTP(rec, req)
		return rec.Code
	}

	if code := run(RequireZKScheme("chaum-pedersen")); code != http.StatusOK {
		t.Errorf("matching scheme: expected 200, got %d", code)
	}
	if code := run(RequireZKScheme("schnorr")); code != http.StatusForbidden {
		t.Errorf("other scheme: expected 403, got %d", code)
	}
	if code := run(RequireGroup("secp256k1")); code != http.StatusOK {
		t.Errorf("matching group: expected 200, got %d", code)
	}
	if code := run(RequireGroup("modp")); code != http.StatusForbidden {
		t.Errorf("other group: expected 403, got %d", code)
	}

	t.Run("WithoutSession", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireGroup("modp")(okHandler(t)).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("AllowList", func(t *testing.T) {
		h := CORS([]string{"https://app.test"})(next)

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://app.test")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.test" {
			t.Errorf("expected origin echoed, got %q", got)
		}
		if rec.Code != http.StatusTeapot {
			t.Errorf("expected request to pass through, got %d", rec.Code)
		}

		req = httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://evil.test")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unexpected allow origin %q", got)
		}
	})

	t.Run("Wildcard", func(t *testing.T) {
		h := CORS([]string{"*"})(next)
		req := httptest.NewRequest("OPTIONS", "/", nil)
		req.Header.Set("Origin", "https://any.test")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected preflight 204, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected *, got %q", got)
		}
	})
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }

	counter := 0
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter++
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/rate", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("192.0.2.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := send("192.0.2.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit to trigger, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != api.CodeRateLimited {
		t.Errorf("expected %s, got %s", api.CodeRateLimited, code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	if rec := send("192.0.2.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other client should not be limited, got %d", rec.Code)
	}
	if counter != 3 {
		t.Fatalf("expected handler to execute 3 times, ran %d times", counter)
	}

	// tokens refill at 2 per minute
	now = now.Add(31 * time.Second)
	if rec := send("192.0.2.1:1234"); rec.Code != http.StatusOK {
		t.Errorf("expected refill after 31s, got %d", rec.Code)
	}

	now = now.Add(2 * time.Minute)
	if n := rl.Cleanup(); n != 2 {
		t.Errorf("expected 2 idle clients removed, got %d", n)
	}
}
