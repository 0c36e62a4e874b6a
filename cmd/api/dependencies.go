package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	financehandler "github.com/FACorreiaa/finanzas/internal/domain/finance/handler"
	importrepo "github.com/FACorreiaa/finanzas/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finanzas/internal/domain/import/service"
	"github.com/FACorreiaa/finanzas/internal/domain/metrics"
	"github.com/FACorreiaa/finanzas/internal/domain/rules"
	"github.com/FACorreiaa/finanzas/internal/domain/syncdb"
	"github.com/FACorreiaa/finanzas/internal/domain/transaction"

	"github.com/FACorreiaa/finanzas/pkg/config"
	"github.com/FACorreiaa/finanzas/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	TransactionRepo transaction.Repository
	ImportRepo      importrepo.ImportRepository

	// Services
	RuleStore     *rules.Store
	Classifier    *rules.Classifier
	MetricsEngine *metrics.Engine
	ImportService *importservice.ImportService
	SyncService   *syncdb.Service

	// Handlers
	FinanceHandler *financehandler.FinanceHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Data.Backend == config.BackendPostgres {
		if err := deps.initDatabase(); err != nil {
			return nil, fmt.Errorf("failed to init database: %w", err)
		}
	}

	deps.initRepositories()
	deps.initServices(ctx)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully", slog.String("backend", cfg.Data.Backend))

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		d.DB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories picks the storage implementation for the configured backend
func (d *Dependencies) initRepositories() {
	if d.DB != nil {
		d.TransactionRepo = transaction.NewPostgresRepository(d.DB.Pool)
		d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
	} else {
		d.TransactionRepo = transaction.NewMemoryRepository()
		d.ImportRepo = importrepo.NewMemoryImportRepository()
	}

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices(ctx context.Context) {
	d.RuleStore = rules.NewStore(ctx, d.Config.Data.RulesFile, d.Logger)
	d.Classifier = rules.NewClassifier(d.RuleStore)
	d.MetricsEngine = metrics.NewEngine(d.TransactionRepo, d.Logger)
	d.ImportService = importservice.NewImportService(d.TransactionRepo, d.ImportRepo, d.Classifier, d.Logger)
	d.SyncService = syncdb.NewService(d.TransactionRepo, d.Logger)

	d.Logger.Info("services initialized", slog.Int("rules", len(d.RuleStore.Rules())))
}

func (d *Dependencies) initHandlers() {
	d.FinanceHandler = financehandler.NewFinanceHandler(
		d.TransactionRepo,
		d.RuleStore,
		d.Classifier,
		d.MetricsEngine,
		d.ImportService,
		d.SyncService,
		d.Logger,
	)

	d.Logger.Info("handlers initialized")
}

// Health reports storage reachability. The memory backend is always healthy.
func (d *Dependencies) Health() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Health()
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
