package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"github.com/vk/brokerconf/internal/broker"
	"github.com/vk/brokerconf/internal/controller"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/messaging"
	"github.com/vk/brokerconf/internal/metrics"
	"github.com/vk/brokerconf/internal/persist"
	"github.com/vk/brokerconf/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	engine     broker.Engine
	ctrl       *controller.Controller
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
}

// NewApp is the constructor for the main application. engine may be nil:
// Run then connects to the configured broker, or runs the in-process one.
func NewApp(outW io.Writer, cfg *Config, engine broker.Engine) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		engine: engine,
		ready:  make(chan struct{}),
	}
}

// Controller returns the management controller once Run has set it up.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Ready is closed when the management endpoint accepts requests.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the address the management endpoint listens on.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// connect resolves the broker engine. The returned function releases it.
func (a *App) connect(ctx context.Context) (broker.Engine, func(), error) {
	if a.engine != nil {
		return a.engine, func() {}, nil
	}
	if a.config.Check || a.config.BrokerURL == "" {
		ctxlog.FromContext(ctx).Info("Using the in-process broker.")
		return broker.NewMemory(), func() {}, nil
	}
	remote, err := broker.DialRemote(ctx, broker.DefaultRemoteConfig(a.config.BrokerURL))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return remote, remote.Close, nil
}

// setup builds the registry and the controller around engine.
func (a *App) setup(ctx context.Context, engine broker.Engine) {
	logger := ctxlog.FromContext(ctx)

	reg := registry.New(semver.MustParse(messaging.ModelVersion))
	reg.Load(&messaging.Module{Engine: engine})
	logger.Debug("All modules registered.", "types", len(reg.Types()))

	if err := reg.ValidateRegistry(ctx); err != nil {
		// This is a programmer error (mismatch between catalog and handlers), so we panic.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	m := metrics.New()
	writer := persist.NewWriter(a.config.ModelPath, messaging.Subsystem)
	writer.OnWrite(m.PersistWrite)
	a.ctrl = controller.New(controller.Options{
		Registry: reg,
		Persist:  writer.Persist,
		Metrics:  m,
	})
}

// boot loads the model file and brings the controller up.
func (a *App) boot(ctx context.Context) error {
	ops, err := persist.Load(ctx, a.config.ModelPath, messaging.Subsystem)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.BootTimeout)
	defer cancel()
	if err := a.ctrl.Boot(ctx, ops); err != nil {
		return fmt.Errorf("failed to boot %s: %w", a.config.ModelPath, err)
	}
	return nil
}
