// Command zkcp-demo-api is a resource server that accepts session tokens
// issued by zkcp-authd. It fetches the issuer's JWKS at startup and checks
// DPoP proofs for bound tokens.
//
//	go run ./cmd/zkcp-demo-api -auth-server http://localhost:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/errgroup"

	"github.com/allsmog/zkcp-go/pkg/config"
	"github.com/allsmog/zkcp-go/pkg/dpop"
	"github.com/allsmog/zkcp-go/pkg/jwt"
	"github.com/allsmog/zkcp-go/pkg/server"
)

func main() {
	defaults := config.Default()
	var (
		addr       = flag.String("addr", ":8081", "HTTP listen address")
		authServer = flag.String("auth-server", "http://localhost:8080", "Auth server base URL")
		issuer     = flag.String("issuer", defaults.Token.Issuer, "Expected token issuer")
		audience   = flag.String("audience", defaults.Token.Audience, "Expected token audience")
		logLevel   = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	log, err := config.LogConfig{Level: *logLevel, Format: "text"}.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, *addr, *authServer, *issuer, *audience); err != nil {
		log.Error("Demo API failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, addr, authServer, issuer, audience string) error {
	jwksURL := authServer + "/.well-known/jwks.json"
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := jwk.Fetch(fetchCtx, jwksURL)
	if err != nil {
		return fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	log.Info("Loaded signing keys", "url", jwksURL, "count", keys.Len())

	replay := dpop.NewInMemoryReplayStore()
	resources := newResourceAPI(jwt.NewVerifier(keys, issuer), audience, dpop.NewVerifier(replay), log)

	srv := server.New(server.Config{
		ListenAddr:     addr,
		Log:            log,
		CORSOrigins:    []string{"*"},
		RequestTimeout: 30 * time.Second,
	}, resources)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return replay.Run(gctx, dpop.DefaultClockSkew) })
	return g.Wait()
}
