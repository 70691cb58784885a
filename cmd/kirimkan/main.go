package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kirimkan/internal/config"
	"kirimkan/internal/constants"
	"kirimkan/internal/database"
	"kirimkan/internal/eventbus"
	"kirimkan/internal/push"
	"kirimkan/internal/retry"
	"kirimkan/internal/session"
	"kirimkan/internal/tracing"
	"kirimkan/internal/webhook"
	"kirimkan/pkg/waha"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("KirimKan %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting KirimKan gateway")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize the config store with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultBackoffInitialMs * time.Millisecond,
		MaxDelay:     constants.DefaultBackoffMaxSec * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := eventbus.New(cfg.Bus.QueueSize, logger)
	defer bus.Close()

	store := webhook.NewStore(db, logger)

	dispatcher := webhook.NewDispatcher(store, bus, cfg.Webhook, logger)
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(runCtx)
		close(dispatcherDone)
	}()

	hub := push.NewHub(logger)
	go hub.Run(runCtx, bus)
	defer hub.Stop()

	adapterOpts := []waha.Option{}
	if key := os.Getenv("WAHA_API_KEY"); key != "" {
		adapterOpts = append(adapterOpts, waha.WithAPIKey(key))
	}
	if cfg.Adapter.TimeoutSec > 0 {
		adapterOpts = append(adapterOpts, waha.WithTimeout(time.Duration(cfg.Adapter.TimeoutSec)*time.Second))
	}
	if cfg.Adapter.PollIntervalMs > 0 {
		adapterOpts = append(adapterOpts, waha.WithPollInterval(time.Duration(cfg.Adapter.PollIntervalMs)*time.Millisecond))
	}
	adapter := waha.New(cfg.Adapter.APIBaseURL, logger, adapterOpts...)

	registry := session.NewRegistry(adapter, bus, cfg.Session, logger)
	defer registry.Close()

	if cfg.APIKey == "" {
		logger.Warn("No API key configured, the API is unauthenticated")
	}

	server := NewServer(cfg, registry, store, dispatcher, hub, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown error: %v", err)
	}

	// Stop producers before the dispatcher drains
	registry.Close()
	cancel()
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for in-flight webhook deliveries")
	}

	logger.Info("Shutdown complete")
	return nil
}
