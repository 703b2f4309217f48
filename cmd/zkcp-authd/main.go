// Command zkcp-authd runs the Chaum-Pedersen authentication server.
//
// Settings come from an optional YAML file (see package config) and a few
// flag overrides:
//
//	go run ./cmd/zkcp-authd
//	go run ./cmd/zkcp-authd -config zkcp.yaml
//	go run ./cmd/zkcp-authd -group ristretto255 -addr :9090 -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/allsmog/zkcp-go/pkg/auth"
	"github.com/allsmog/zkcp-go/pkg/config"
	"github.com/allsmog/zkcp-go/pkg/crypto/chaumpedersen"
	"github.com/allsmog/zkcp-go/pkg/crypto/curve"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
	"github.com/allsmog/zkcp-go/pkg/dpop"
	"github.com/allsmog/zkcp-go/pkg/jwt"
	mw "github.com/allsmog/zkcp-go/pkg/middleware"
	"github.com/allsmog/zkcp-go/pkg/server"
	"github.com/allsmog/zkcp-go/pkg/storage"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		addr         = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
		groupKind    = flag.String("group", "", "Group: modp, secp256k1 or ristretto255 (overrides group.kind)")
		orderBits    = flag.Int("order-bits", 0, "Bit length of the generated mod-p order (overrides group.order_bits)")
		keyFile      = flag.String("key", "", "Token signing key file (overrides token.key_file)")
		logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
		requireDPoP  = flag.Bool("require-dpop", false, "Reject logins without a DPoP proof")
		disableAdmin = flag.Bool("no-admin", false, "Do not mount /admin endpoints")
	)
	flag.Parse()

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	applyFlagOverrides(cfg, *addr, *groupKind, *orderBits, *keyFile, *logLevel, *requireDPoP, *disableAdmin)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server failed", "err", err)
		os.Exit(1)
	}
}

func loadConfiguration(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applyFlagOverrides(cfg *config.Config, addr, groupKind string, orderBits int, keyFile, logLevel string, requireDPoP, disableAdmin bool) {
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if groupKind != "" {
		cfg.Group.Kind = groupKind
	}
	if orderBits > 0 {
		cfg.Group.OrderBits = orderBits
	}
	if keyFile != "" {
		cfg.Token.KeyFile = keyFile
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if requireDPoP {
		cfg.DPoP.Enabled = true
		cfg.DPoP.Required = true
	}
	if disableAdmin {
		cfg.Server.EnableAdmin = false
	}
}

// buildSystem generates or selects the group. A failure here is fatal: the
// server never listens without parameters.
func buildSystem(ctx context.Context, cfg config.GroupConfig, log *slog.Logger) (chaumpedersen.System, error) {
	if cfg.Kind != group.ModP {
		crv, err := curve.FromName(cfg.Kind)
		if err != nil {
			return nil, err
		}
		return chaumpedersen.NewCurve(crv)
	}

	log.Info("Generating group parameters", "orderBits", cfg.OrderBits, "minOrder", cfg.MinOrder, "maxOrder", cfg.MaxOrder)
	params, err := group.Generate(ctx, nil, cfg.GeneratorConfig())
	if err != nil {
		return nil, fmt.Errorf("generate group: %w", err)
	}
	return chaumpedersen.NewModP(params)
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	sys, err := buildSystem(ctx, cfg.Group, log)
	if err != nil {
		return err
	}
	params := sys.Params()
	log.Info("Group ready", "group", params.Group, "modulus", params.P.String(), "order", params.Q.String(),
		"g", params.G.String(), "h", params.H.String())

	key, created, err := jwt.LoadOrGenerateKey(cfg.Token.KeyFile)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	logSigningKey(log, cfg.Token.KeyFile, created)
	signer, err := jwt.NewES256Signer(key, cfg.Token.KeyID, cfg.Token.Issuer)
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}
	log.Info("Token signer ready", "kid", signer.KeyID(), "issuer", signer.Issuer())

	store := storage.NewMemoryStore(storage.WithTTL(cfg.Session.TTL))
	defer store.Close()

	replay := dpop.NewInMemoryReplayStore()
	var proofs *dpop.Verifier
	if cfg.DPoP.Enabled {
		proofs = dpop.NewVerifier(replay, dpop.WithClockSkew(cfg.DPoP.ClockSkew))
	}

	svc, err := auth.NewService(sys, store, signer, auth.Config{
		Audience:    cfg.Token.Audience,
		TokenTTL:    cfg.Token.TTL,
		RequireDPoP: cfg.DPoP.Required,
	}, auth.WithLogger(log))
	if err != nil {
		return err
	}
	handlers := auth.NewHandlers(svc, proofs, log)

	registrars := []server.RouteRegistrar{server.RouteRegistrarFunc(handlers.Routes)}
	if cfg.Server.EnableAdmin {
		registrars = append(registrars, server.RouteRegistrarFunc(func(r chi.Router) {
			r.Route("/admin", handlers.AdminRoutes)
		}))
	}

	var limiter *mw.RateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = mw.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	srv := server.New(server.Config{
		ListenAddr:               cfg.Server.Addr,
		Log:                      log,
		CORSOrigins:              cfg.Server.CORSOrigins,
		RateLimiter:              limiter,
		Health:                   store.Ping,
		RequestTimeout:           cfg.Server.RequestTimeout,
		DrainDuration:            cfg.Server.DrainDuration,
		GracefulShutdownDuration: cfg.Server.GracefulShutdownDuration,
		ReadTimeout:              cfg.Server.ReadTimeout,
		WriteTimeout:             cfg.Server.WriteTimeout,
	}, registrars...)

	log.Info("Starting zkcp-authd",
		"addr", cfg.Server.Addr,
		"audience", cfg.Token.Audience,
		"tokenTTL", cfg.Token.TTL,
		"sessionTTL", cfg.Session.TTL,
		"dpop", cfg.DPoP.Enabled,
		"dpopRequired", cfg.DPoP.Required,
		"admin", cfg.Server.EnableAdmin,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return store.RunCleanup(gctx, cfg.Session.CleanupInterval) })
	if proofs != nil {
		g.Go(func() error { return replay.Run(gctx, cfg.DPoP.ClockSkew) })
	}
	if limiter != nil {
		g.Go(func() error { return limiter.Run(gctx) })
	}

	return g.Wait()
}

// logSigningKey reports where the token signing key came from. An empty
// keyFile means the key lives only in memory.
func logSigningKey(log *slog.Logger, keyFile string, created bool) {
	switch {
	case keyFile == "":
		log.Warn("Using ephemeral token signing key; tokens will not survive a restart")
	case created:
		log.Info("Generated token signing key", "file", keyFile)
	}
}
