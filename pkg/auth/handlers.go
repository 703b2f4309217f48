package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/allsmog/zkcp-go/pkg/api"
	"github.com/allsmog/zkcp-go/pkg/dpop"
	"github.com/allsmog/zkcp-go/pkg/jwt"
	"github.com/allsmog/zkcp-go/pkg/middleware"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

const maxBodyBytes = 64 << 10

// Handlers exposes the Service over HTTP.
type Handlers struct {
	svc    *Service
	proofs *dpop.Verifier
	log    *slog.Logger
}

// NewHandlers creates the HTTP handlers. proofs may be nil to disable DPoP.
func NewHandlers(svc *Service, proofs *dpop.Verifier, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{svc: svc, proofs: proofs, log: log}
}

// Routes mounts the protocol endpoints, the session introspection endpoint
// and the JWKS document on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/initialize", h.Initialize)
		r.Post("/initialize", h.Initialize)
		r.Post("/register", h.Register)
		r.Post("/challenge", h.Challenge)
		r.Post("/verify", h.Verify)

		verifier := jwt.NewVerifier(h.svc.signer.JWKS(), h.svc.signer.Issuer())
		r.With(middleware.RequireSession(verifier, h.svc.config.Audience, h.proofs)).Get("/session", h.Session)
	})
	r.Get("/.well-known/jwks.json", h.JWKS)
}

// AdminRoutes mounts operator endpoints on r.
func (h *Handlers) AdminRoutes(r chi.Router) {
	r.Get("/stats", h.Stats)
	r.Get("/registrations", h.ListRegistrations)
	r.Get("/denylist", h.ListDenylist)
	r.Put("/denylist/{user}", h.Deny)
	r.Delete("/denylist/{user}", h.Allow)
}

// Initialize handles both GET and POST /v1/initialize
func (h *Handlers) Initialize(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.NewInitializeResponse(h.svc.Initialize(r.Context())))
}

// Register handles user registration
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.Register(r.Context(), req.User, req.Y1.Big(), req.Y2.Big()); err != nil {
		h.writeError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, api.RegisterResponse{Status: "registered"})
}

// Challenge records the commitments and returns a challenge
func (h *Handlers) Challenge(w http.ResponseWriter, r *http.Request) {
	jkt, err := h.proofKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req api.ChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}

	challenge, err := h.svc.CreateChallenge(r.Context(), ChallengeRequest{
		User: req.User,
		R1:   req.R1.Big(),
		R2:   req.R2.Big(),
		JKT:  jkt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, api.ChallengeResponse{
		AuthID: challenge.AuthID,
		C:      api.NewInt(challenge.C),
	})
}

// Verify checks the response and issues a session token
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	jkt, err := h.proofKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req api.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.svc.VerifyAuthentication(r.Context(), req.AuthID, req.S.Big(), jkt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tokenType := "Bearer"
	if session.JKT != "" {
		tokenType = "DPoP"
	}

	w.Header().Set("Cache-Control", "no-store")
	api.WriteJSON(w, http.StatusOK, api.VerifyResponse{
		SessionID:   session.ID,
		AccessToken: session.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   int64(session.ExpiresAt.Sub(h.svc.now()).Round(time.Second).Seconds()),
	})
}

// Session describes the caller's session. It must run behind
// middleware.RequireSession.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "no session")
		return
	}

	resp := api.SessionResponse{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
	}
	if claims.ZK != nil {
		resp.Scheme = claims.ZK.Scheme
		resp.Group = claims.ZK.Group
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if claims.Cnf != nil {
		resp.JKT = claims.Cnf.JKT
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// JWKS returns the public keys for session token verification
func (h *Handlers) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	api.WriteJSON(w, http.StatusOK, h.svc.signer.JWKS())
}

// Stats reports store sizes
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"group":   h.svc.params.Group,
		"storage": h.svc.store.Stats(),
	})
}

type registrationView struct {
	User      string    `json:"user"`
	Y1        *api.Int  `json:"y1"`
	Y2        *api.Int  `json:"y2"`
	CreatedAt time.Time `json:"created_at"`
}

// ListRegistrations lists registered users and their commitments
func (h *Handlers) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.store.ListRegistrations()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]registrationView, 0, len(regs))
	for _, reg := range regs {
		views = append(views, registrationView{
			User:      reg.User,
			Y1:        api.NewInt(reg.Y1),
			Y2:        api.NewInt(reg.Y2),
			CreatedAt: reg.CreatedAt,
		})
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"registrations": views})
}

// ListDenylist lists blocked users
func (h *Handlers) ListDenylist(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.store.ListDenylist()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// Deny blocks a user from registering or starting a login
func (h *Handlers) Deny(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if err := validateUser(user); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.store.AddToDenylist(user); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("user denied", "user", user)
	w.WriteHeader(http.StatusNoContent)
}

// Allow removes a user from the denylist
func (h *Handlers) Allow(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if err := h.svc.store.RemoveFromDenylist(user); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("user allowed", "user", user)
	w.WriteHeader(http.StatusNoContent)
}

// proofKey verifies the DPoP proof on r, if any, and returns its thumbprint.
func (h *Handlers) proofKey(r *http.Request) (string, error) {
	if h.proofs == nil {
		return "", nil
	}
	result, err := h.proofs.Verify(r)
	if errors.Is(err, dpop.ErrMissing) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return result.JKT, nil
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return false
	}
	return true
}

// writeError maps service errors to responses. Anything unrecognised is a
// server fault and its detail stays in the log.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
	case errors.Is(err, ErrUnknownUser):
		api.WriteError(w, http.StatusNotFound, api.CodeUnknownUser, "user is not registered")
	case errors.Is(err, ErrUserDenied):
		api.WriteError(w, http.StatusForbidden, api.CodeUserDenied, "user is not allowed to authenticate")
	case errors.Is(err, ErrUnknownSession):
		api.WriteError(w, http.StatusUnauthorized, api.CodeInvalidSession, "unknown, expired or already used auth_id")
	case errors.Is(err, ErrAuthenticationFailed):
		api.WriteError(w, http.StatusUnauthorized, api.CodeAuthenticationFailed, "proof rejected")
	case errors.Is(err, ErrProofOfPossession), errors.Is(err, dpop.ErrInvalidDPoP):
		w.Header().Set("WWW-Authenticate", `DPoP error="invalid_dpop_proof"`)
		api.WriteError(w, http.StatusUnauthorized, api.CodeInvalidDPoP, err.Error())
	case errors.Is(err, storage.ErrInvalidRecord):
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "internal error")
	}
}
