package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/allsmog/zkcp-go/pkg/api"
	"github.com/allsmog/zkcp-go/pkg/crypto/chaumpedersen"
	"github.com/allsmog/zkcp-go/pkg/dpop"
	"github.com/allsmog/zkcp-go/pkg/jwt"
	"github.com/allsmog/zkcp-go/pkg/middleware"
)

// resourceAPI serves protected demo resources.
type resourceAPI struct {
	verifier jwt.TokenVerifier
	audience string
	proofs   *dpop.Verifier
	log      *slog.Logger
	now      func() time.Time
}

func newResourceAPI(verifier jwt.TokenVerifier, audience string, proofs *dpop.Verifier, log *slog.Logger) *resourceAPI {
	return &resourceAPI{verifier: verifier, audience: audience, proofs: proofs, log: log, now: time.Now}
}

func (a *resourceAPI) RegisterRoutes(r chi.Router) {
	r.Get("/public", a.public)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireSession(a.verifier, a.audience, a.proofs))
		r.Use(middleware.RequireZKScheme(chaumpedersen.SchemeName))

		r.Get("/profile", a.profile)

		// curve-backed sessions only
		r.With(middleware.RequireGroup("secp256k1")).Get("/secp256k1/data", a.groupData)
		r.With(middleware.RequireGroup("ristretto255")).Get("/ristretto255/data", a.groupData)
	})
}

func (a *resourceAPI) public(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "This is a public endpoint",
		"timestamp": a.now().UTC(),
		"service":   "zkcp-demo-api",
	})
}

func (a *resourceAPI) profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())

	resp := map[string]interface{}{
		"subject":    claims.Subject,
		"session_id": claims.SessionID,
		"scheme":     claims.ZK.Scheme,
		"group":      claims.ZK.Group,
	}
	if claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.Unix()
	}
	if proof, ok := middleware.DPoPFromContext(r.Context()); ok {
		resp["dpop_jkt"] = proof.JKT
	}

	a.log.Debug("Profile served", "sub", claims.Subject)
	api.WriteJSON(w, http.StatusOK, resp)
}

func (a *resourceAPI) groupData(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subject": claims.Subject,
		"group":   claims.ZK.Group,
		"data":    "only reachable with a session proven over " + claims.ZK.Group,
	})
}
