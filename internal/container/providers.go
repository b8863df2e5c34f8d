package container

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/dispatcher"
	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/application/workflow"
	"github.com/garyjia/p2p-procurement/internal/config"
	"github.com/garyjia/p2p-procurement/internal/domain/event"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/document"
	infraLark "github.com/garyjia/p2p-procurement/internal/infrastructure/external/lark"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/metrics"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/persistence/migrations"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/persistence/repository"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/storage"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/worker"
	"github.com/garyjia/p2p-procurement/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Requests port.RequestRepository
	Steps    port.StepRepository
	Users    port.UserRepository

	// Documents indexes the blob paths requests refer to
	Documents port.DocumentIndex
}

// ProvideDatabase opens the SQLite database and applies pending migrations.
func ProvideDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(migrations.FS, migrations.Dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repository implementations.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	requests := repository.NewRequestRepository(db.DB, logger)
	return &RepositoryBundle{
		Requests:  requests,
		Steps:     repository.NewStepRepository(db.DB, logger),
		Users:     repository.NewUserRepository(db.DB, logger),
		Documents: requests,
	}, nil
}

// ProvideStorage creates the blob store and its slot directories.
func ProvideStorage(cfg config.StorageConfig, logger *zap.Logger) (port.FileStorage, error) {
	if err := storage.EnsureLayout(cfg.BaseDir); err != nil {
		return nil, err
	}
	return storage.NewLocalFileStorage(cfg.BaseDir, logger), nil
}

// ProvideWorkers registers the background housekeeping workers. The orphan
// sweeper is skipped when its interval is zero or the store cannot list.
func ProvideWorkers(cfg config.StorageConfig, repos *RepositoryBundle, fs port.FileStorage, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger)

	lister, ok := fs.(port.BlobLister)
	switch {
	case cfg.SweepInterval <= 0:
		logger.Info("Orphan sweeper disabled")
	case !ok || repos.Documents == nil:
		logger.Warn("Orphan sweeper unavailable for this storage backend")
	default:
		manager.Register(worker.NewOrphanSweeper(
			worker.SweeperConfig{Interval: cfg.SweepInterval, Grace: cfg.OrphanGrace},
			repos.Documents, lister, fs, storage.Slots, logger,
		))
	}
	return manager
}

// ProvideDocuments creates the document service for the configured provider,
// instrumented when m is non-nil.
func ProvideDocuments(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (port.DocumentService, error) {
	renderer := document.NewPORenderer(cfg.Documents.Issuer)

	var svc port.DocumentService
	switch cfg.Documents.Provider {
	case config.ProviderOpenAI:
		tolerance, err := decimal.NewFromString(cfg.Documents.ReceiptTolerance)
		if err != nil {
			return nil, fmt.Errorf("invalid documents.receipt_tolerance: %w", err)
		}

		prompts := document.DefaultPrompts()
		if cfg.Documents.PromptsPath != "" {
			if prompts, err = document.LoadPrompts(cfg.Documents.PromptsPath); err != nil {
				return nil, err
			}
		}

		vision := document.NewVisionExtractor(
			document.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout),
			document.VisionConfig{
				Model:     cfg.OpenAI.Model,
				MaxPages:  cfg.OpenAI.MaxPages,
				Tolerance: tolerance,
			},
			prompts,
			logger,
		)
		svc = document.NewService(vision, vision, renderer)
	default:
		sim := document.NewSimulated(rand.NewSource(time.Now().UnixNano()), cfg.Documents.SimulatedLatency, logger)
		svc = document.NewService(sim, sim, renderer)
	}

	logger.Info("Document service configured", zap.String("provider", cfg.Documents.Provider))

	if m != nil {
		svc = metrics.InstrumentDocuments(svc, m)
	}
	return svc, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&dispatcherLoggerAdapter{logger: logger}),
	), nil
}

// ProvideNotifier subscribes the Lark notifier when Lark is configured.
// Returns nil when notifications are disabled.
func ProvideNotifier(cfg config.LarkConfig, d dispatcher.Dispatcher, logger *zap.Logger) *infraLark.Notifier {
	larkCfg := infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		BaseURL:   cfg.BaseURL,
		ChatID:    cfg.ChatID,
		Timeout:   cfg.APITimeout,
	}
	if !larkCfg.Enabled() {
		logger.Info("Lark notifications disabled")
		return nil
	}

	sdk := infraLark.NewSDKClient(larkCfg, logger)
	notifier := infraLark.NewNotifier(infraLark.NewMessenger(sdk, logger), larkCfg.ChatID, logger)
	notifier.Register(d)

	logger.Info("Lark notifications enabled", zap.String("chat_id", larkCfg.ChatID))
	return notifier
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Documents  port.DocumentService
	Storage    port.FileStorage
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Documents == nil || deps.Storage == nil {
		return nil, fmt.Errorf("document service and storage are required")
	}

	return workflow.NewEngine(
		deps.Repos.Requests,
		deps.Repos.Steps,
		deps.TxManager,
		deps.Documents,
		deps.Storage,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(deps.Logger),
	), nil
}

// subscribeMetrics counts every workflow event.
func subscribeMetrics(d dispatcher.Dispatcher, m *metrics.Metrics) {
	d.SubscribeAll("metrics", m.EventCounter(), event.AllTypes...)
}
