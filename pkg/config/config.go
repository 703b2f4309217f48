// Package config holds the settings of the authentication server.
//
// Settings are read from a YAML file over Default and may then be overridden
// by command-line flags:
//
//	server:
//	  addr: ":8080"
//	  cors_origins: ["*"]
//	group:
//	  kind: modp          # modp, secp256k1 or ristretto255
//	  min_order: 7        # demo-sized q drawn from [min_order, max_order)
//	  max_order: 200
//	  order_bits: 0       # when set, q has this many bits instead
//	session:
//	  ttl: 2m
//	token:
//	  issuer: "https://auth.zkcp.example"
//	  audience: "zkcp-api"
//	  ttl: 5m
//	  key_file: "keys/token-signing.pem"
//	dpop:
//	  enabled: true
//	  required: false
//	log:
//	  level: info
//	  format: text
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/allsmog/zkcp-go/pkg/crypto/curve"
	"github.com/allsmog/zkcp-go/pkg/crypto/group"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Group     GroupConfig     `yaml:"group"`
	Session   SessionConfig   `yaml:"session"`
	Token     TokenConfig     `yaml:"token"`
	DPoP      DPoPConfig      `yaml:"dpop"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr                     string        `yaml:"addr"`
	CORSOrigins              []string      `yaml:"cors_origins"`
	ReadTimeout              time.Duration `yaml:"read_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
	DrainDuration            time.Duration `yaml:"drain_duration"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`
	EnableAdmin              bool          `yaml:"enable_admin"`
}

// GroupConfig selects the group the proofs run in.
type GroupConfig struct {
	Kind              string `yaml:"kind"`
	MinOrder          uint64 `yaml:"min_order"`
	MaxOrder          uint64 `yaml:"max_order"`
	OrderBits         int    `yaml:"order_bits"`
	MaxMultiplier     int64  `yaml:"max_multiplier"`
	MaxGeneratorDraws int64  `yaml:"max_generator_draws"`
	MaxAttempts       int    `yaml:"max_attempts"`
}

// SessionConfig bounds pending authentications.
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// TokenConfig configures the session tokens issued on success.
type TokenConfig struct {
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
	KeyFile  string        `yaml:"key_file"`
	KeyID    string        `yaml:"key_id"`
}

// DPoPConfig configures proof-of-possession binding.
type DPoPConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Required  bool          `yaml:"required"`
	ClockSkew time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig limits requests per client IP. Requests <= 0 disables it.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given. The mod-p
// group uses demonstration sizes.
func Default() *Config {
	demo := group.DemoConfig()
	return &Config{
		Server: ServerConfig{
			Addr:                     ":8080",
			CORSOrigins:              []string{"*"},
			ReadTimeout:              15 * time.Second,
			WriteTimeout:             15 * time.Second,
			RequestTimeout:           30 * time.Second,
			DrainDuration:            5 * time.Second,
			GracefulShutdownDuration: 10 * time.Second,
			EnableAdmin:              true,
		},
		Group: GroupConfig{
			Kind:              group.ModP,
			MinOrder:          demo.MinOrder,
			MaxOrder:          demo.MaxOrder,
			MaxMultiplier:     demo.MaxMultiplier,
			MaxGeneratorDraws: demo.MaxGeneratorDraws,
			MaxAttempts:       demo.MaxAttempts,
		},
		Session: SessionConfig{
			TTL:             2 * time.Minute,
			CleanupInterval: 30 * time.Second,
		},
		Token: TokenConfig{
			Issuer:   "https://auth.zkcp.example",
			Audience: "zkcp-api",
			TTL:      5 * time.Minute,
			KeyFile:  "keys/token-signing.pem",
		},
		DPoP: DPoPConfig{
			Enabled:   true,
			ClockSkew: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 120,
			Window:   time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected so that typos
// do not silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	switch {
	case c.Group.Kind == group.ModP:
		if err := c.Group.GeneratorConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("group: %w", err))
		}
	case curve.IsSupported(c.Group.Kind):
	default:
		errs = append(errs, fmt.Errorf("group.kind %q is not one of %s, %s", c.Group.Kind, group.ModP, strings.Join(curve.SupportedCurves(), ", ")))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.CleanupInterval <= 0 {
		errs = append(errs, errors.New("session.cleanup_interval must be positive"))
	}

	if c.Token.Issuer == "" {
		errs = append(errs, errors.New("token.issuer is required"))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token.ttl must be positive"))
	}

	if c.DPoP.Required && !c.DPoP.Enabled {
		errs = append(errs, errors.New("dpop.required needs dpop.enabled"))
	}
	if c.DPoP.Enabled && c.DPoP.ClockSkew <= 0 {
		errs = append(errs, errors.New("dpop.clock_skew must be positive"))
	}

	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// GeneratorConfig converts the group section for group.Generate.
func (g GroupConfig) GeneratorConfig() group.GeneratorConfig {
	return group.GeneratorConfig{
		MinOrder:          g.MinOrder,
		MaxOrder:          g.MaxOrder,
		OrderBits:         g.OrderBits,
		MaxMultiplier:     g.MaxMultiplier,
		MaxGeneratorDraws: g.MaxGeneratorDraws,
		MaxAttempts:       g.MaxAttempts,
	}
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger from the log section.
func (l LogConfig) NewLogger() (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
}
