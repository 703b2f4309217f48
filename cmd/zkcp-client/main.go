// Command zkcp-client registers a user with a zkcp-authd server and logs in
// with a Chaum-Pedersen proof.
//
//	go run ./cmd/zkcp-client
//	go run ./cmd/zkcp-client -server http://localhost:8080 -user alice -secret 0x2a -dpop
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/allsmog/zkcp-go/pkg/api"
	"github.com/allsmog/zkcp-go/pkg/client"
	"github.com/allsmog/zkcp-go/pkg/crypto/chaumpedersen"
	"github.com/allsmog/zkcp-go/pkg/dpop"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "Auth server base URL")
		user      = flag.String("user", "Test User", "User to register and log in")
		secret    = flag.String("secret", "12", "Secret x as decimal or 0x-hex; empty draws a random one")
		useDPoP   = flag.Bool("dpop", false, "Bind the issued token to a fresh DPoP key")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, log, *serverURL, *user, *secret, *useDPoP); err != nil {
		log.Error("Demo failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, serverURL, user, secret string, useDPoP bool) error {
	var opts []client.Option
	if useDPoP {
		signer, err := dpop.NewSigner(nil)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithDPoP(signer))
		log.Info("Using DPoP key", "jkt", signer.JKT())
	}
	c := client.New(serverURL, opts...)

	sys, err := c.System(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	params := sys.Params()
	log.Info("Received group parameters", "group", params.Group, "q", params.Q.String(), "g", params.G.String(), "h", params.H.String())

	x, err := parseSecret(secret, params.Q)
	if err != nil {
		return err
	}

	if err := c.RegisterSecret(ctx, sys, user, x); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	log.Info("Registered", "user", user)

	token, err := c.Login(ctx, sys, user, x)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	log.Info("Authenticated", "sessionID", token.SessionID, "tokenType", token.TokenType, "expiresIn", token.ExpiresIn)

	session, err := c.Session(ctx, token)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	log.Info("Session confirmed", "sub", session.Subject, "group", session.Group, "jkt", session.JKT)
	return nil
}

// parseSecret reads x, or draws one from [1, q) when s is empty.
func parseSecret(s string, q *big.Int) (*big.Int, error) {
	if s == "" {
		return chaumpedersen.RandomScalar(nil, q)
	}
	var x *big.Int
	if strings.HasPrefix(s, "0x") {
		v, err := api.ParseInt(s)
		if err != nil {
			return nil, err
		}
		x = v
	} else {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("invalid secret %q", s)
		}
		x = v
	}
	if new(big.Int).Mod(x, q).Sign() == 0 {
		return nil, fmt.Errorf("secret is a multiple of the group order %s", q)
	}
	return x, nil
}
