// Package container provides dependency injection and lifecycle management
// for the procurement service following Clean Architecture principles.
package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/dispatcher"
	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/application/workflow"
	"github.com/garyjia/p2p-procurement/internal/config"
	infraLark "github.com/garyjia/p2p-procurement/internal/infrastructure/external/lark"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/metrics"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/report"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/worker"
	apihttp "github.com/garyjia/p2p-procurement/internal/interfaces/http"
	"github.com/garyjia/p2p-procurement/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle

	// Infrastructure - Storage and collaborators
	fileStorage port.FileStorage
	documents   port.DocumentService
	register    *report.RegisterWriter
	metrics     *metrics.Metrics

	// Application
	dispatcher dispatcher.Dispatcher
	notifier   *infraLark.Notifier
	engine     workflow.Engine
	workers    *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components:
// 1. Database and repositories
// 2. Storage
// 3. Metrics and document service
// 4. Event dispatcher, subscribers and workflow engine
// 5. Background workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.logger.Info("Storage initialized")

	if err := c.initDocuments(); err != nil {
		return fmt.Errorf("failed to initialize document service: %w", err)
	}
	c.logger.Info("Document service initialized")

	if err := c.initDispatcherAndWorkflow(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	if err := c.initWorkers(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Drain pending notifications before the database goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	switch {
	case c.db == nil:
		set("database", ComponentHealth{Message: "not initialized"})
	default:
		if err := c.db.Ping(); err != nil {
			set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	if c.engine != nil {
		set("workflow", ComponentHealth{Healthy: true})
	} else {
		set("workflow", ComponentHealth{Message: "not initialized"})
	}

	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", ComponentHealth{Message: "not initialized"})
	}

	if c.workers != nil {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("%d registered", c.workers.GetWorkerCount()),
		})
	}

	// Notifications are optional and never fail the overall status
	if c.notifier != nil {
		status.Components["notifications"] = ComponentHealth{Healthy: true, Message: "lark"}
	} else {
		status.Components["notifications"] = ComponentHealth{Healthy: true, Message: "disabled"}
	}

	return status
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initStorage() error {
	fs, err := ProvideStorage(c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.fileStorage = fs
	c.register = report.NewRegisterWriter(c.logger)
	return nil
}

func (c *Container) initDocuments() error {
	if c.config.Metrics.Enabled {
		c.metrics = metrics.New(prometheus.NewRegistry())
	}

	docs, err := ProvideDocuments(c.config, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.documents = docs
	return nil
}

func (c *Container) initDispatcherAndWorkflow() error {
	d, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = d

	if c.metrics != nil {
		subscribeMetrics(d, c.metrics)
	}
	c.notifier = ProvideNotifier(c.config.Lark, d, c.logger)

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Documents:  c.documents,
		Storage:    c.fileStorage,
		Dispatcher: d,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.workers = ProvideWorkers(c.config.Storage, c.repositories, c.fileStorage, c.logger)
	return c.workers.StartAll(ctx)
}

// NewHTTPServer builds the API server over the started components.
func (c *Container) NewHTTPServer() *apihttp.Server {
	deps := apihttp.Deps{
		Engine:   c.engine,
		Auth:     c.Authenticator(),
		Register: c.register,
		Health: func() (bool, interface{}) {
			status := c.Health()
			return status.Overall, status.Components
		},
		Logger: &zapLoggerAdapter{logger: c.logger},
	}
	if c.metrics != nil {
		deps.Metrics = c.metrics
	}

	srv := c.config.Server
	return apihttp.NewServer(apihttp.ServerConfig{
		Host:           srv.Host,
		Port:           srv.Port,
		ReadTimeout:    srv.ReadTimeout,
		WriteTimeout:   srv.WriteTimeout,
		MaxUploadBytes: srv.MaxUploadBytes,
	}, deps)
}

// Authenticator returns the bearer token authenticator.
func (c *Container) Authenticator() *apihttp.Authenticator {
	auth := c.config.Auth
	return apihttp.NewAuthenticator(auth.JWTSecret, auth.Issuer, auth.TokenTTL)
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Repositories returns the repository bundle.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Register returns the finance register writer.
func (c *Container) Register() *report.RegisterWriter {
	return c.register
}

// Metrics returns the Prometheus collectors, or nil when disabled.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the http.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// dispatcherLoggerAdapter adapts zap.Logger to the dispatcher.Logger interface.
type dispatcherLoggerAdapter struct {
	logger *zap.Logger
}

func (a *dispatcherLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *dispatcherLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
