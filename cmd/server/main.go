/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the vacation ledger HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (file, .env, LEDGER_* variables, flags)
  3. Initialize logger
  4. Open the store (SQLite or Postgres)
  5. Build the ledger, handler and router
  6. Start the audit scheduler and the server

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port, overrides the configuration
  -db      SQLite database path, overrides the configuration
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  ./server -db="./data/ledger.db"
  ./server -config=ledger.yaml -port=3000
  LEDGER_STORE_DRIVER=postgres LEDGER_POSTGRES_DSN=postgres://... ./server

SEE ALSO:
  - internal/config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Stores
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/vacation-ledger/api"
	"github.com/warp/vacation-ledger/generic"
	"github.com/warp/vacation-ledger/internal/config"
	"github.com/warp/vacation-ledger/internal/logging"
	"github.com/warp/vacation-ledger/store/postgres"
	"github.com/warp/vacation-ledger/store/sqlite"
	"github.com/warp/vacation-ledger/timeoff"
)

type closableStore interface {
	generic.TxStore
	Close() error
}

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.SQLitePath = *dbPath
	}

	logger, err := logging.New(cfg.Log.Env, cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(context.Background(), cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	policy, err := timeoff.ParseNegativeBalancePolicy(cfg.Ledger.NegativeBalancePolicy)
	if err != nil {
		return err
	}
	ledger := timeoff.NewLedger(store,
		timeoff.WithNegativeBalancePolicy(policy),
		timeoff.WithSummaryWindow(cfg.Ledger.SummaryWindowDays),
		timeoff.WithOverviewWindow(cfg.Ledger.OverviewWindowDays),
	)

	handler := api.NewHandler(ledger, store, logger)

	scheduler := api.NewAuditScheduler(ledger, logger)
	scheduler.CheckInterval = cfg.Audit.Interval
	scheduler.Repair = cfg.Audit.Repair
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.String("negative_balance_policy", string(policy)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (closableStore, error) {
	if cfg.Driver == "postgres" {
		s, err := postgres.New(ctx, cfg.PostgresDSN, cfg.BusyTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := sqlite.Open(cfg.SQLitePath, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return s, nil
}
