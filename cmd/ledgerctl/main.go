// Command ledgerctl administers a vacation ledger store from the shell:
// bulk imports, balance audits and reports.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

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

// App holds the application dependencies
type App struct {
	cfg    *config.Config
	store  closableStore
	ledger *timeoff.Ledger
	logger *zap.Logger
}

func main() {
	app := &App{}
	err := newRootCmd(app).ExecuteContext(context.Background())
	app.close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(app *App) *cobra.Command {
	var configPath, dbPath string

	rootCmd := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Vacation ledger administration",
		Long:         `Imports staff, audits balances and prints reports against the configured ledger store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd.Context(), configPath, dbPath)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(importCmd(app))
	rootCmd.AddCommand(auditCmd(app))
	rootCmd.AddCommand(employeesCmd(app))
	rootCmd.AddCommand(historyCmd(app))
	rootCmd.AddCommand(subordinatesCmd(app))

	return rootCmd
}

// init sets up config, logger, store and ledger
func (a *App) init(ctx context.Context, configPath, dbPath string) error {
	var err error

	a.cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		a.cfg.Store.Driver = "sqlite"
		a.cfg.Store.SQLitePath = dbPath
	}

	a.logger, err = logging.New(a.cfg.Log.Env, a.cfg.Log.Level, a.cfg.Log.File)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.logger.Debug("opening store", zap.String("driver", a.cfg.Store.Driver))
	a.store, err = openStore(ctx, a.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	policy, err := timeoff.ParseNegativeBalancePolicy(a.cfg.Ledger.NegativeBalancePolicy)
	if err != nil {
		return err
	}
	a.ledger = timeoff.NewLedger(a.store,
		timeoff.WithNegativeBalancePolicy(policy),
		timeoff.WithSummaryWindow(a.cfg.Ledger.SummaryWindowDays),
		timeoff.WithOverviewWindow(a.cfg.Ledger.OverviewWindowDays),
	)
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

func (a *App) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}
