// Package app wires the gateway's components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailgate/mailgate/internal/api"
	"github.com/mailgate/mailgate/internal/audit"
	"github.com/mailgate/mailgate/internal/config"
	"github.com/mailgate/mailgate/internal/db"
	"github.com/mailgate/mailgate/internal/dispatch"
	"github.com/mailgate/mailgate/internal/dkim"
	"github.com/mailgate/mailgate/internal/keys"
	"github.com/mailgate/mailgate/internal/metrics"
	"github.com/mailgate/mailgate/internal/queue"
	"github.com/mailgate/mailgate/internal/quota"
	"github.com/mailgate/mailgate/internal/relay"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *db.DB
	spool         queue.Queue
	processor     *queue.Processor
	apiServer     *api.Server
	metricsServer *metrics.Server
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	store, err := db.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	spool, err := queue.NewBoltStorage(cfg.Storage.SpoolPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create spool: %w", err)
	}

	keyRepo := keys.NewRepository(store.DB)
	ledger := quota.NewLedger(store.DB)
	limiter := quota.NewLimiter(ledger, cfg.Quota.DefaultDailyLimit, logger.With("component", "limiter"))
	auditLog := audit.NewLog(store.DB)

	var m *metrics.Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger.With("component", "metrics"))
	}

	relayClient := relay.NewClient(relay.Config{
		Host:     cfg.Relay.Host,
		Port:     cfg.Relay.Port,
		Username: cfg.Relay.Username,
		Password: cfg.Relay.Password,
		StartTLS: cfg.Relay.StartTLS,
		Timeout:  cfg.Relay.Timeout,
	}, cfg.Server.Hostname, logger.With("component", "relay"))

	if cfg.DKIM.Enabled {
		signer, err := dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			spool.Close()
			store.Close()
			return nil, fmt.Errorf("failed to set up DKIM: %w", err)
		}
		relayClient.SetDKIMSigner(signer)
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	processor := queue.NewProcessor(
		spool,
		relayClient,
		auditLog,
		queue.ProcessorConfig{
			Workers:         cfg.Queue.Workers,
			ProcessInterval: cfg.Queue.ProcessInterval,
			SendTimeout:     cfg.Queue.SendTimeout,
		},
		logger.With("component", "processor"),
	)
	if m != nil {
		processor.SetObserver(m)
	}

	orchestrator := dispatch.New(
		dispatch.Config{
			DefaultFrom:    cfg.Server.DefaultFrom,
			AllowedDomains: cfg.Quota.AllowedDomains,
		},
		keyRepo,
		limiter,
		auditLog,
		spool,
		logger.With("component", "dispatch"),
	)

	apiServer := api.NewServer(orchestrator, keyRepo, spool, m, &cfg.API, version, logger.With("component", "api"))

	return &App{
		config:        cfg,
		store:         store,
		spool:         spool,
		processor:     processor,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		metrics:       m,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailgate",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"relay", a.config.Relay.Host,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.processor.Start(ctx)

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		go a.collectGauges(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// collectGauges refreshes spool and system gauges on a ticker
func (a *App) collectGauges(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metricsServer.CollectSystem()
			stats, err := a.spool.Stats(ctx)
			if err != nil {
				a.logger.Warn("failed to read spool stats", "error", err)
				continue
			}
			a.metrics.SetSpoolStats(stats.Pending, stats.Failed)
		}
	}
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the processor first so in-flight deliveries complete
	a.processor.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.spool.Close(); err != nil {
		a.logger.Error("spool close error", "error", err)
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
