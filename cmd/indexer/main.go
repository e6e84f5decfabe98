package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/checkpoint"
	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/config"
	"github.com/goran-ethernal/StarboardIndexor/internal/db"
	"github.com/goran-ethernal/StarboardIndexor/internal/handlers"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/metrics"
	"github.com/goran-ethernal/StarboardIndexor/internal/migrations"
	"github.com/goran-ethernal/StarboardIndexor/internal/notify"
	"github.com/goran-ethernal/StarboardIndexor/internal/processor"
	"github.com/goran-ethernal/StarboardIndexor/internal/source"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/internal/store"
	pkgconfig "github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║        StarboardIndexor v%s             ║
║   Perpetuals Event Ingestion on Fuel      ║
╚═══════════════════════════════════════════╝
`
	releaseTimeout = 5 * time.Second
)

var (
	configPath string
	envFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "StarboardIndexor - perpetuals event indexer for Fuel",
	Long: `StarboardIndexor ingests vault contract logs from a Fuel node, decodes them
and reconciles accounts, markets, positions, trades and candles into a SQLite
database, one atomic commit per block batch.`,
	Version: version,
	RunE:    runIndexer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file loaded before the configuration")
}

func loadConfig() (*pkgconfig.Config, error) {
	if err := config.LoadEnvFiles(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens the entity database and brings its schema up to date.
func openDatabase(cfg *pkgconfig.Config, log *logger.Logger) (*sql.DB, error) {
	sqlDB, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrations.RunMigrations(log, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqlDB, nil
}

func assetNames(cfg *pkgconfig.Config) map[string]state.AssetInfo {
	out := make(map[string]state.AssetInfo, len(cfg.Assets))
	for _, a := range cfg.Assets {
		out[common.ToLowerWithTrim(a.ID)] = state.AssetInfo{Symbol: a.Symbol, Name: a.Name}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return run(cfg, false)
}

// run wires the pipeline and processes blocks until cancelled, or until the
// source is drained when stopWhenCaughtUp is set.
func run(cfg *pkgconfig.Config, stopWhenCaughtUp bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := logger.NewComponentLoggerFromConfig(common.ComponentProcessor, cfg.Logging)
	storeLog := logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging)

	sqlDB, err := openDatabase(cfg, storeLog)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	maintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		sqlDB,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			log.Warnf("Failed to stop maintenance: %v", err)
		}
	}()

	entityStore, err := store.New(sqlDB, maintenance, storeLog)
	if err != nil {
		return fmt.Errorf("failed to create entity store: %w", err)
	}

	checkpoints, err := checkpoint.New(
		cfg.Checkpoint,
		cfg.Processor.Name,
		sqlDB,
		logger.NewComponentLoggerFromConfig(common.ComponentCheckpoint, cfg.Logging),
	)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	if err := checkpoints.Acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire checkpoint lease: %w", err)
	}
	defer func() {
		releaseCtx, cancelRelease := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancelRelease()
		if err := checkpoints.Release(releaseCtx); err != nil {
			log.Warnf("Failed to release checkpoint lease: %v", err)
		}
	}()

	src, err := source.New(cfg.Source, logger.NewComponentLoggerFromConfig(common.ComponentSource, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create block source: %w", err)
	}
	defer src.Close()

	table, err := abi.LoadTable(cfg.ABI.Files)
	if err != nil {
		return fmt.Errorf("failed to load abi: %w", err)
	}
	log.Infof("Loaded %d log types", table.Len())

	registry, err := handlers.NewRegistry(handlers.Deps{
		Resolver: state.NewResolver(entityStore, assetNames(cfg)),
		Units:    handlers.NewUnits(cfg.Units),
		Log:      logger.NewComponentLoggerFromConfig(common.ComponentHandlers, cfg.Logging),
	})
	if err != nil {
		return fmt.Errorf("failed to create handler registry: %w", err)
	}

	notifier, err := notify.New(cfg.Notify, logger.NewComponentLoggerFromConfig(common.ComponentNotifier, cfg.Logging))
	if err != nil {
		return err
	}
	defer notifier.Close()

	procCfg := processor.NewConfig(cfg)
	procCfg.StopWhenCaughtUp = stopWhenCaughtUp

	proc := processor.New(
		procCfg,
		src,
		abi.NewDecoder(table),
		registry,
		entityStore,
		checkpoints,
		notifier,
		log,
	)

	metricsServer := metrics.NewServer(cfg.Metrics, proc.Healthy, log)
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancelStop()
		if err := metricsServer.Stop(stopCtx); err != nil {
			log.Warnf("Failed to stop metrics server: %v", err)
		}
	}()

	log.Infow("Starting StarboardIndexor...", "process", procCfg.Process, "owner", checkpoints.Owner())

	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("processor failed: %w", err)
	}

	log.Info("StarboardIndexor stopped successfully")
	return nil
}
