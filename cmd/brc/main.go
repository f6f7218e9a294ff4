// Package main implements the beacon relay container entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/beacon-relay/brc/internal/api"
	"github.com/beacon-relay/brc/internal/audit"
	"github.com/beacon-relay/brc/internal/auth"
	"github.com/beacon-relay/brc/internal/config"
	"github.com/beacon-relay/brc/internal/engine"
	"github.com/beacon-relay/brc/internal/medium"
	"github.com/beacon-relay/brc/internal/medium/fake"
	"github.com/beacon-relay/brc/internal/medium/natsmedium"
	"github.com/beacon-relay/brc/internal/metrics"
	"github.com/beacon-relay/brc/internal/telemetry"
)

const version = "1.0.0"

var cli struct {
	Config        string           `help:"Path to YAML configuration file." type:"path" env:"BRC_CONFIG"`
	Addr          string           `help:"HTTP listen address." default:":8080" env:"BRC_ADDR"`
	Medium        string           `help:"Radio medium backend." enum:"fake,nats" default:"fake" env:"BRC_MEDIUM"`
	NATSURL       string           `name:"nats-url" help:"NATS server URL for the nats medium." default:"nats://127.0.0.1:4222" env:"BRC_NATS_URL"`
	AuditDir      string           `help:"Directory for the audit log." default:"logs" env:"BRC_AUDIT_DIR"`
	AuthSecret    string           `help:"HS256 shared secret; enables API authentication." env:"BRC_AUTH_SECRET"`
	AuthPublicKey string           `help:"RS256 PEM public key file; enables API authentication." type:"path" env:"BRC_AUTH_PUBLIC_KEY"`
	LogLevel      string           `help:"Log level (trace, debug, info, warn, error)." default:"info" env:"BRC_LOG_LEVEL"`
	LogJSON       bool             `help:"Emit JSON logs instead of console output." env:"BRC_LOG_JSON"`
	Version       kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	// A .env file is optional; running without one is the normal case.
	_ = godotenv.Load()

	kctx := kong.Parse(&cli,
		kong.Name("brc"),
		kong.Description("Single-hop flood relay for short-range radio beacons."),
		kong.Vars{"version": version},
	)

	log := newLogger()
	if err := run(log); err != nil {
		log.Error().Err(err).Msg("relay terminated")
		kctx.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(cli.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cli.LogJSON {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Str("service", "brc").Logger()
}

func run(log zerolog.Logger) error {
	log.Info().Str("version", version).Msg("starting beacon relay container")

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Info().
		Int("storeCapacity", cfg.StoreCapacity).
		Int("broadcastSets", cfg.BroadcastSets).
		Dur("broadcastPeriod", cfg.BroadcastPeriod).
		Msg("configuration loaded")

	m, err := newMedium(log)
	if err != nil {
		return fmt.Errorf("failed to initialize radio medium: %w", err)
	}

	hub := telemetry.NewHub(cfg)

	auditLogger, err := audit.NewLogger(cli.AuditDir)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewPrometheusRecorder(registry)

	relay := engine.New(cfg, m, log,
		engine.WithEvents(hub),
		engine.WithMetrics(recorder),
	)

	authMiddleware, err := newAuthMiddleware()
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	if authMiddleware == nil {
		log.Warn().Msg("API authentication disabled, all endpoints are open")
	}

	server := api.NewServer(relay, relay.Store(), hub, authMiddleware, auditLogger,
		metrics.HTTPHandler(registry), 30*time.Second, 30*time.Second, 120*time.Second)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := relay.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start relay engine: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cli.Addr); err != nil {
			serverErr <- err
		}
	}()
	log.Info().Str("addr", cli.Addr).Msg("HTTP server listening")

	// No-op outside a systemd unit with Type=notify.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := relay.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping relay engine")
	}
	hub.Stop()
	if err := auditLogger.Close(); err != nil {
		log.Error().Err(err).Msg("error closing audit logger")
	}
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping HTTP server")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// newMedium builds the configured radio medium backend. The fake medium
// keeps the relay fully functional on a bench without radio hardware or a
// message bus.
func newMedium(log zerolog.Logger) (medium.Medium, error) {
	switch cli.Medium {
	case "nats":
		return natsmedium.New(natsmedium.Config{
			URL:  cli.NATSURL,
			Name: "brc",
		}, log)
	default:
		return fake.NewFakeMedium(), nil
	}
}

// newAuthMiddleware builds the bearer-token middleware from the CLI flags.
// Returns nil when neither key source is configured.
func newAuthMiddleware() (*auth.Middleware, error) {
	var vcfg auth.VerifierConfig
	switch {
	case cli.AuthPublicKey != "":
		pemData, err := os.ReadFile(cli.AuthPublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		vcfg = auth.VerifierConfig{Algorithm: "RS256", PublicKeyPEM: string(pemData)}
	case cli.AuthSecret != "":
		vcfg = auth.VerifierConfig{Algorithm: "HS256", SecretKey: cli.AuthSecret}
	default:
		return nil, nil
	}

	verifier, err := auth.NewVerifier(vcfg)
	if err != nil {
		return nil, err
	}
	return auth.NewMiddleware(verifier), nil
}
