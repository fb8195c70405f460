package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hfaried/parley/internal/config"
	"github.com/hfaried/parley/internal/logger"
	"github.com/hfaried/parley/internal/observability"
	"github.com/hfaried/parley/internal/tracing"
	"github.com/hfaried/parley/pkg/gateway"
	"github.com/hfaried/parley/pkg/identity"
	"github.com/hfaried/parley/pkg/sessionhub"
	"github.com/hfaried/parley/pkg/toolbridge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Parley gateway",
	Long: `Run the Parley gateway in the foreground.
Loads configuration, opens the session store, and serves the chat
endpoints until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	// Tracing
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry("parley"); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.ShutdownOpenTelemetry(ctx)
		}()
	}

	// Metrics
	observability.EnsureRegistered()

	// Audit log
	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		log.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	// Provider table
	table, err := cfg.ProviderTable()
	if err != nil {
		return fmt.Errorf("failed to build provider table: %w", err)
	}

	// Session store
	store, err := sessionhub.NewStore(cfg.Session.Dir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	// Identity table, optional
	var identities identity.Resolver
	if cfg.Identity.Path != "" {
		registry, err := identity.NewRegistry(identity.RegistryConfig{Path: cfg.Identity.Path})
		if err != nil {
			return fmt.Errorf("failed to load identities: %w", err)
		}
		if err := registry.Watch(); err != nil {
			log.Warn().Err(err).Msg("Identity hot reload unavailable")
		}
		defer func() { _ = registry.Stop() }()
		identities = registry
	}

	// Event feed, wired into the hub before it exists
	broadcaster := gateway.NewEventBroadcaster()

	// Session hub
	hub, err := sessionhub.New(sessionhub.Config{
		Store:        store,
		Providers:    table,
		Identities:   identities,
		Tools:        toolbridge.New(toolbridge.Builtins()),
		Events:       broadcaster,
		DefaultModel: cfg.Models.Default,
	})
	if err != nil {
		return fmt.Errorf("failed to build session hub: %w", err)
	}
	defer hub.Close()

	// Janitor
	janitor := sessionhub.NewJanitor(hub, cfg.Session.JanitorSchedule, time.Duration(cfg.Session.IdleTTLMinutes)*time.Minute)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	defer janitor.Stop()

	// Gateway
	srv, err := gateway.NewServer(gateway.Config{
		Host:        cfg.Gateway.Host,
		Port:        cfg.Gateway.Port,
		Version:     version,
		Hub:         hub,
		Broadcaster: broadcaster,
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	log.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)).
		Str("default_model", cfg.Models.Default).
		Str("version", version).
		Msg("Parley is serving")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := srv.Stop(); err != nil {
		log.Warn().Err(err).Msg("Gateway stop failed")
	}

	return nil
}
