package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/allsmog/zkcp-go/pkg/api"
	"github.com/allsmog/zkcp-go/pkg/dpop"
	"github.com/allsmog/zkcp-go/pkg/jwt"
)

type contextKey string

const (
	dpopResultKey contextKey = "dpop_result"
	claimsKey     contextKey = "session_claims"
)

// RequireSession admits requests carrying a valid session token. Tokens with
// cnf.jkt must be presented under the DPoP scheme together with a proof from
// the bound key. A nil proofs verifier admits only unbound tokens.
func RequireSession(verifier jwt.TokenVerifier, audience string, proofs *dpop.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || token == "" {
				unauthorized(w, api.CodeUnauthorized, "missing or malformed Authorization header")
				return
			}

			claims, err := verifier.Verify(token, audience)
			if err != nil {
				unauthorized(w, api.CodeUnauthorized, "invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)

			switch {
			case claims.Cnf == nil && strings.EqualFold(scheme, "Bearer"):
			case claims.Cnf != nil && strings.EqualFold(scheme, "DPoP"):
				if proofs == nil {
					unauthorized(w, api.CodeInvalidDPoP, "DPoP is not enabled")
					return
				}
				result, err := proofs.Verify(r)
				if err != nil {
					unauthorized(w, api.CodeInvalidDPoP, err.Error())
					return
				}
				if result.JKT != claims.Cnf.JKT {
					unauthorized(w, api.CodeInvalidDPoP, "token is bound to a different key")
					return
				}
				ctx = context.WithValue(ctx, dpopResultKey, result)
			case claims.Cnf != nil:
				unauthorized(w, api.CodeInvalidDPoP, "bound token must use the DPoP scheme")
				return
			default:
				unauthorized(w, api.CodeUnauthorized, fmt.Sprintf("unsupported authorization scheme %q", scheme))
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireZKScheme ensures the session was established with the given proof system.
func RequireZKScheme(expectedScheme string) func(http.Handler) http.Handler {
	return requireClaim(func(c *jwt.Claims) error {
		if c.ZK == nil || c.ZK.Scheme != expectedScheme {
			return fmt.Errorf("session was not established with %s", expectedScheme)
		}
		return nil
	})
}

// RequireGroup ensures the session was established over the given group.
func RequireGroup(expectedGroup string) func(http.Handler) http.Handler {
	return requireClaim(func(c *jwt.Claims) error {
		if c.ZK == nil || c.ZK.Group != expectedGroup {
			return fmt.Errorf("session was not established over %s", expectedGroup)
		}
		return nil
	})
}

func requireClaim(check func(*jwt.Claims) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "session claims missing")
				return
			}
			if err := check(claims); err != nil {
				api.WriteError(w, http.StatusForbidden, api.CodeUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireSession.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*jwt.Claims)
	return claims, ok
}

// DPoPFromContext returns the verified proof stored by RequireSession.
func DPoPFromContext(ctx context.Context) (*dpop.Result, bool) {
	result, ok := ctx.Value(dpopResultKey).(*dpop.Result)
	return result, ok
}

// CORS allows the listed origins; "*" allows any.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, DPoP")
			}

			if r.Method == http.MethodOptions && origin != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, code, message string) {
	if code == api.CodeInvalidDPoP {
		w.Header().Set("WWW-Authenticate", `DPoP error="invalid_dpop_proof"`)
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	api.WriteError(w, http.StatusUnauthorized, code, message)
}

