package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericfisherdev/authenticator/internal/adapter/driven/catalog"
	"github.com/ericfisherdev/authenticator/internal/adapter/driven/keyring"
	"github.com/ericfisherdev/authenticator/internal/adapter/driven/metrics"
	"github.com/ericfisherdev/authenticator/internal/adapter/driven/qrcode"
	sqliteadapter "github.com/ericfisherdev/authenticator/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/authenticator/internal/adapter/driving/http"
	"github.com/ericfisherdev/authenticator/internal/application"
	"github.com/ericfisherdev/authenticator/internal/config"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
	"github.com/ericfisherdev/authenticator/internal/logger"
	"github.com/ericfisherdev/authenticator/internal/validator"
)

// pinHubBuffer is the per-subscriber event buffer of the pin hub.
const pinHubBuffer = 32

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	log.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"app_id", cfg.AppID,
		"secret_backend", cfg.SecretBackend,
		"providers_file", cfg.ProvidersFile,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	log.Info("migrations complete", "schema_version", version)

	// 5. Wire adapters.
	v, err := validator.New()
	if err != nil {
		return err
	}
	accountStore := sqliteadapter.NewAccountRepo(db, v)

	secretStore, err := newSecretStore(cfg, db)
	if err != nil {
		return err
	}

	providers := catalog.Load(cfg.ProvidersFile, log)

	// 6. Create account service, pin hub and refresh scheduler.
	accountSvc := application.NewAccountService(accountStore, secretStore, providers, qrcode.New(), log)
	backupSvc := application.NewBackupService(accountSvc, log)

	hub := application.NewPinHub(pinHubBuffer)
	defer hub.Close()

	registry := metrics.NewRegistry()
	collector := metrics.NewCollector(registry)

	scheduler := application.NewRefreshScheduler(accountSvc, hub,
		application.WithRefreshMetrics(collector),
		application.WithRetry(0, cfg.RetryMax, 0),
		application.WithSchedulerLogger(log),
	)
	accountSvc.SetTracker(scheduler)
	accountSvc.SetPublisher(hub)
	go scheduler.Start(ctx)

	// 7. Track every stored time-based account.
	if err := accountSvc.TrackAll(ctx); err != nil {
		return err
	}

	// 8. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(accountSvc, backupSvc, scheduler, hub, metrics.Handler(registry), log)
	apiHandler.SetDatabase(db)
	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, apiHandler)

	// Apply middleware.
	handler := httphandler.ApplyMiddleware(mux, log, collector)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown does not cancel request contexts; closing the hub ends open
	// event streams so they don't hold the drain.
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		log.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
		}
	}()

	log.Info("authenticator started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	log.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for HTTP server drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	scheduler.Stop()

	log.Info("shutdown complete")
	return nil
}

// newSecretStore selects the OS keyring or the encrypted SQLite table.
func newSecretStore(cfg *config.Config, db *sqliteadapter.DB) (driven.SecretStore, error) {
	if cfg.UsesKeyring() {
		slog.Info("secrets stored in os keyring", "service", cfg.AppID)
		return keyring.New(cfg.AppID, keyring.WithTimeout(cfg.KeyringTimeout)), nil
	}

	if cfg.SecretKey == nil {
		slog.Warn("no secret key configured, secret store is locked")
	}
	repo, err := sqliteadapter.NewSecretRepo(db, cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	slog.Info("secrets stored in encrypted database table")
	return repo, nil
}
