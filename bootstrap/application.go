package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/najoast/observe/config"
	"github.com/najoast/observe/core"
	"github.com/najoast/observe/logging"
)

// Core service names
const (
	ServiceActorSystem   = "actor-system"
	ServiceConfigWatcher = "config-watcher"
)

// Application wires configuration, logging and the actor system together
// and runs the registered services until shutdown.
type Application struct {
	config *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	system    *core.System
	lifecycle *DefaultLifecycleManager
	watcher   *config.Watcher

	// mutex protects concurrent access
	mutex sync.RWMutex

	// running indicates if the application is running
	running bool

	// shutdownChan for graceful shutdown
	shutdownChan chan os.Signal
}

// NewApplication loads configuration from configFile, or discovers it when
// configFile is empty, and builds the core services. A named config file is
// watched and reloaded while the application runs.
func NewApplication(configFile string) (*Application, error) {
	loader := config.NewLoader()

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = loader.Load(configFile)
	} else {
		cfg, err = loader.AutoLoad()
	}
	if err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	logger, level, err := logging.New(cfg.Log)
	if err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	logger = logger.With(zap.String("app", cfg.App.Name))
	if cfg.IsDebugEnabled() {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	system := core.NewActorSystem(cfg.App.NodeID, logging.Component(logger, logging.ComponentActor))
	system.SetDefaults(core.ActorOptions{
		MailboxSize:    cfg.Actor.DefaultMailboxSize,
		ProcessTimeout: cfg.Actor.ProcessTimeout,
	})

	app := &Application{
		config:       cfg,
		logger:       logger,
		level:        level,
		system:       system,
		lifecycle:    NewLifecycleManager(logging.Component(logger, logging.ComponentLifecycle)),
		shutdownChan: make(chan os.Signal, 1),
	}

	if cfg.Actor.ShutdownTimeout > 0 {
		app.lifecycle.SetTimeout(cfg.Actor.ShutdownTimeout + 5*time.Second)
	}

	if err := app.lifecycle.Register(ServiceActorSystem, &actorSystemService{
		system:  system,
		timeout: cfg.Actor.ShutdownTimeout,
	}); err != nil {
		return nil, err
	}

	if configFile != "" {
		watcher, err := config.NewWatcher(configFile, loader, logging.Component(logger, logging.ComponentConfig))
		if err != nil {
			return nil, &ApplicationError{Operation: "configure", Service: ServiceConfigWatcher, Err: err}
		}
		app.watcher = watcher
		watcher.OnConfigChange(app.applyConfig)

		if err := app.lifecycle.Register(ServiceConfigWatcher, &watcherService{watcher: watcher}); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Config returns the configuration the application was started with, or the
// latest reloaded one.
func (app *Application) Config() *config.Config {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.config
}

// Logger returns the application logger
func (app *Application) Logger() *zap.Logger {
	return app.logger
}

// System returns the actor system
func (app *Application) System() *core.System {
	return app.system
}

// LifecycleManager returns the lifecycle manager
func (app *Application) LifecycleManager() LifecycleManager {
	return app.lifecycle
}

// Register adds a service that starts after the actor system
func (app *Application) Register(name string, service Service, deps ...string) error {
	return app.lifecycle.Register(name, service, append([]string{ServiceActorSystem}, deps...)...)
}

// OnConfigChange registers a callback for configuration reloads. It does
// nothing when no config file is watched.
func (app *Application) OnConfigChange(callback config.ConfigChangeCallback) {
	if app.watcher != nil {
		app.watcher.OnConfigChange(callback)
	}
}

// applyConfig applies the parts of a reloaded configuration that can change
// at runtime.
func (app *Application) applyConfig(oldConfig, newConfig *config.Config) {
	app.mutex.Lock()
	app.config = newConfig
	app.mutex.Unlock()

	if oldConfig.Log.Level == newConfig.Log.Level {
		return
	}
	level, err := logging.ParseLevel(newConfig.Log.Level)
	if err != nil {
		app.logger.Warn("ignoring log level from reloaded config", zap.Error(err))
		return
	}
	app.level.SetLevel(level)
	app.logger.Info("log level changed", zap.Stringer("level", level))
}

// Start starts all registered services
func (app *Application) Start(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return err
	}

	app.logger.Info("application started",
		zap.String("environment", app.Config().App.Environment.String()),
		zap.Strings("services", app.lifecycle.Services()))
	return nil
}

// Run starts the application and blocks until a shutdown signal arrives or
// ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)

	if err := app.Start(ctx); err != nil {
		return err
	}

	select {
	case sig := <-app.shutdownChan:
		app.logger.Info("received shutdown signal", zap.Stringer("signal", sig))
	case <-ctx.Done():
		app.logger.Info("context cancelled, shutting down")
	}

	return app.Shutdown(context.Background())
}

// Shutdown shuts down the application gracefully
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil // Already shut down
	}
	app.running = false
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, app.Config().Actor.ShutdownTimeout+5*time.Second)
	defer cancel()

	err := app.lifecycle.Stop(shutdownCtx)
	if err != nil {
		app.logger.Error("shutdown incomplete", zap.Error(err))
	} else {
		app.logger.Info("application stopped")
	}
	_ = app.logger.Sync()
	return err
}

// actorSystemService wraps the actor system as a managed service
type actorSystemService struct {
	system  *core.System
	timeout time.Duration
}

func (s *actorSystemService) Name() string {
	return ServiceActorSystem
}

func (s *actorSystemService) Start(ctx context.Context) error {
	return nil
}

func (s *actorSystemService) Stop(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.system.Shutdown(ctx)
}

func (s *actorSystemService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{
		State:     HealthHealthy,
		Message:   "Actor system running",
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"actors": len(s.system.Stats()),
			"node":   s.system.NodeID(),
		},
	}, nil
}

// watcherService wraps the config watcher as a managed service
type watcherService struct {
	watcher *config.Watcher
	running bool
}

func (s *watcherService) Name() string {
	return ServiceConfigWatcher
}

func (s *watcherService) Start(ctx context.Context) error {
	if err := s.watcher.Start(); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *watcherService) Stop(ctx context.Context) error {
	s.running = false
	return s.watcher.Stop()
}

func (s *watcherService) Health(ctx context.Context) (HealthStatus, error) {
	if !s.running {
		return HealthStatus{State: HealthStopped, LastCheck: time.Now()}, nil
	}
	return HealthStatus{State: HealthHealthy, Message: "Watching config file", LastCheck: time.Now()}, nil
}
