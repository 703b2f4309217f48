// Package server runs the HTTP listener of the authentication service:
// common middleware, liveness and readiness probes, drain control and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"github.com/allsmog/zkcp-go/pkg/api"
	mw "github.com/allsmog/zkcp-go/pkg/middleware"
)

// RouteRegistrar is implemented by components that add routes to the server.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RouteRegistrarFunc adapts a function to RouteRegistrar.
type RouteRegistrarFunc func(r chi.Router)

func (f RouteRegistrarFunc) RegisterRoutes(r chi.Router) { f(r) }

// Config contains the server settings.
type Config struct {
	// ListenAddr is the address the server listens on.
	ListenAddr string

	// Log receives request logs and lifecycle events.
	Log *slog.Logger

	// CORSOrigins are the allowed browser origins. Empty disables CORS headers.
	CORSOrigins []string

	// RateLimiter, when set, limits every route except the probes.
	RateLimiter *mw.RateLimiter

	// Health reports whether backing services are usable. It backs /health.
	Health func() error

	// RequestTimeout bounds handler execution.
	RequestTimeout time.Duration

	// DrainDuration is how long the server keeps serving after it is marked
	// not ready during shutdown, so that load balancers notice.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps http.Server with readiness state.
type Server struct {
	cfg     Config
	log     *slog.Logger
	isReady atomic.Bool
	handler http.Handler
	srv     *http.Server
}

// New builds the router and the underlying http.Server. The server starts
// ready.
func New(cfg Config, registrars ...RouteRegistrar) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.GracefulShutdownDuration <= 0 {
		cfg.GracefulShutdownDuration = 10 * time.Second
	}

	s := &Server{cfg: cfg, log: cfg.Log}
	s.handler = s.createRouter(registrars)
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.isReady.Store(true)
	return s
}

func (s *Server) createRouter(registrars []RouteRegistrar) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.httpLogger)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(mw.CORS(s.cfg.CORSOrigins))
	}

	r.Get("/livez", s.handleLivenessCheck)
	r.Get("/readyz", s.handleReadinessCheck)
	r.Get("/drain", s.handleDrain)
	r.Get("/undrain", s.handleUndrain)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		if s.cfg.RateLimiter != nil {
			r.Use(s.cfg.RateLimiter.Handler)
		}
		for _, registrar := range registrars {
			registrar.RegisterRoutes(r)
		}
	})

	return r
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// IsReady reports whether /readyz currently succeeds.
func (s *Server) IsReady() bool {
	return s.isReady.Load()
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		api.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Swap(false) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "already draining"})
		return
	}
	s.log.Info("Server marked as not ready")
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "draining"})
}

func (s *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if s.isReady.Swap(true) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "already ready"})
		return
	}
	s.log.Info("Server marked as ready")
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		if err := s.cfg.Health(); err != nil {
			s.log.Warn("Health check failed", "err", err)
			api.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "zkcp-authd"})
}

// Run serves until ctx is cancelled, then drains and shuts down gracefully.
// It returns early with an error if the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "listenAddress", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.isReady.Store(false)
	if s.cfg.DrainDuration > 0 {
		s.log.Info("Draining", "duration", s.cfg.DrainDuration)
		time.Sleep(s.cfg.DrainDuration)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Graceful HTTP server shutdown failed", "err", err)
		return err
	}
	s.log.Info("HTTP server gracefully stopped")

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
