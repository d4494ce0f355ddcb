// Package parley parses parley command configuration and launches the server.
package parley

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/pflag"

	entrypoint "github.com/louisbranch/parley/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/parley/internal/platform/grpc"
	"github.com/louisbranch/parley/internal/platform/otel"
	"github.com/louisbranch/parley/internal/services/auth/mail"
	"github.com/louisbranch/parley/internal/services/auth/purpose"
	"github.com/louisbranch/parley/internal/services/auth/session"
	server "github.com/louisbranch/parley/internal/services/parley/app"
)

// Config holds parley command configuration.
type Config struct {
	HTTPAddr   string `env:"PARLEY_HTTP_ADDR"   envDefault:"localhost:8080"`
	HealthPort int    `env:"PARLEY_HEALTH_PORT" envDefault:"8081"`

	DBDriver string `env:"PARLEY_DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"PARLEY_DB_DSN"    envDefault:"data/parley.db"`

	SessionSecret string        `env:"PARLEY_SESSION_SECRET"`
	SessionTTL    time.Duration `env:"PARLEY_SESSION_TTL"    envDefault:"24h"`
	SessionIssuer string        `env:"PARLEY_SESSION_ISSUER" envDefault:"parley"`

	Purpose purpose.Config

	OutboxPollInterval time.Duration `env:"PARLEY_OUTBOX_POLL_INTERVAL" envDefault:"5s"`
	OutboxMaxAttempts  int           `env:"PARLEY_OUTBOX_MAX_ATTEMPTS"  envDefault:"8"`
	MailLogTokens      bool          `env:"PARLEY_MAIL_LOG_TOKENS"      envDefault:"false"`

	PurgeInterval    time.Duration `env:"PARLEY_PURGE_INTERVAL"     envDefault:"1h"`
	PurposeRetention time.Duration `env:"PARLEY_PURPOSE_RETENTION"  envDefault:"24h"`

	Telemetry otel.Config

	// Healthcheck probes a running server's health port and exits.
	Healthcheck     bool
	HealthcheckWait time.Duration
}

// ParseConfig loads env defaults and then applies flags from args.
func ParseConfig(fs *pflag.FlagSet, args []string, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfigFromArgs(&cfg, fs, args, lookup, bindFlags); err != nil {
		return Config{}, err
	}
	if cfg.Healthcheck {
		return cfg, nil
	}
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return Config{}, fmt.Errorf("PARLEY_SESSION_SECRET is required (generate one with session-key)")
	}
	return cfg, nil
}

func bindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP API listen address")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The gRPC health server port")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Storage driver: sqlite or postgres")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "SQLite path or PostgreSQL connection string")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Session token lifetime")
	fs.StringVar(&cfg.SessionIssuer, "session-issuer", cfg.SessionIssuer, "Session token issuer claim")
	fs.DurationVar(&cfg.Purpose.EmailVerificationTTL, "email-verification-ttl", cfg.Purpose.EmailVerificationTTL, "Email verification token lifetime")
	fs.DurationVar(&cfg.Purpose.PasswordResetTTL, "password-reset-ttl", cfg.Purpose.PasswordResetTTL, "Password reset token lifetime")
	fs.DurationVar(&cfg.OutboxPollInterval, "outbox-poll-interval", cfg.OutboxPollInterval, "Mail outbox poll interval")
	fs.IntVar(&cfg.OutboxMaxAttempts, "outbox-max-attempts", cfg.OutboxMaxAttempts, "Mail delivery attempts before dead-letter")
	fs.BoolVar(&cfg.MailLogTokens, "mail-log-tokens", cfg.MailLogTokens, "Log unmasked purpose tokens (local development only)")
	fs.DurationVar(&cfg.PurgeInterval, "purge-interval", cfg.PurgeInterval, "Expired purpose token purge interval")
	fs.DurationVar(&cfg.PurposeRetention, "purpose-retention", cfg.PurposeRetention, "How long expired purpose tokens are kept")
	fs.StringVar(&cfg.Telemetry.Endpoint, "otel-endpoint", cfg.Telemetry.Endpoint, "OTLP/HTTP trace collector URL (empty disables tracing)")
	fs.BoolVar(&cfg.Healthcheck, "healthcheck", false, "Probe the local health port and exit")
	fs.DurationVar(&cfg.HealthcheckWait, "healthcheck-wait", 0, "Keep probing until SERVING or this long has passed")
}

// RuntimeConfig converts cfg into the server configuration.
func (cfg Config) RuntimeConfig() server.Config {
	return server.Config{
		HTTPAddr:   cfg.HTTPAddr,
		HealthPort: cfg.HealthPort,
		DBDriver:   cfg.DBDriver,
		DBDSN:      cfg.DBDSN,
		Session: session.Config{
			Secret: []byte(cfg.SessionSecret),
			TTL:    cfg.SessionTTL,
			Issuer: cfg.SessionIssuer,
		},
		Purpose: cfg.Purpose,
		Mail: mail.Config{
			PollInterval: cfg.OutboxPollInterval,
			MaxAttempts:  cfg.OutboxMaxAttempts,
		},
		MailLogTokens:    cfg.MailLogTokens,
		PurgeInterval:    cfg.PurgeInterval,
		PurposeRetention: cfg.PurposeRetention,
	}
}

// Run starts the parley server, or probes one when Healthcheck is set.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Healthcheck {
		return Healthcheck(ctx, cfg)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceParley, cfg.Telemetry, func(ctx context.Context) error {
		return server.Run(ctx, cfg.RuntimeConfig())
	})
}

// Healthcheck reports whether the server on the configured health port is
// SERVING. With a positive HealthcheckWait it retries until the deadline.
func Healthcheck(ctx context.Context, cfg Config) error {
	addr := fmt.Sprintf("localhost:%d", cfg.HealthPort)
	if cfg.HealthcheckWait <= 0 {
		return platformgrpc.Probe(ctx, addr, server.HealthService)
	}

	conn, err := platformgrpc.DialHealth(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.HealthcheckWait)
	defer cancel()
	return platformgrpc.WaitForHealth(waitCtx, conn, server.HealthService, log.Printf)
}
