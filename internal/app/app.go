// Package app wires the configuration, the scripting bridge and the source
// registry into a snippy session.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/dshills/snippy/internal/bridge"
	"github.com/dshills/snippy/internal/bridge/nvim"
	"github.com/dshills/snippy/internal/config"
	"github.com/dshills/snippy/internal/logger"
	"github.com/dshills/snippy/internal/plugin/lua"
	"github.com/dshills/snippy/internal/source"
	"github.com/dshills/snippy/internal/source/snippy"
)

// ErrNoRuntime indicates an operation that needs the embedded Lua runtime
// while the session runs on another bridge.
var ErrNoRuntime = errors.New("embedded lua runtime not in use")

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Application is one snippy session.
type Application struct {
	cfg      *config.Config
	log      *logger.Logger
	host     bridge.Host
	runtime  *lua.Runtime
	registry *source.Registry

	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// Option configures an Application.
type Option func(*Application)

// WithHost uses h instead of building the bridge from configuration.
// The caller keeps ownership of h.
func WithHost(h bridge.Host) Option {
	return func(app *Application) {
		app.host = h
	}
}

// WithLogger sets the logger. By default one is built from the log section of
// the configuration, writing to stderr.
func WithLogger(log *logger.Logger) Option {
	return func(app *Application) {
		app.log = log
	}
}

// New creates a session for cfg. A nil cfg uses config.Default.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	app := &Application{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.log == nil {
		app.log = logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	}

	if app.host == nil {
		if err := app.openBridge(ctx); err != nil {
			return nil, err
		}
	}

	app.registry = source.NewRegistry(app.log)
	if err := app.registry.Register(snippy.New(app.host)); err != nil {
		_ = app.Close()
		return nil, &InitError{Component: "registry", Err: err}
	}

	app.log.Debug().
		Str("bridge", string(cfg.BridgeKind())).
		Int("sources", app.registry.Len()).
		Msg("session ready")
	return app, nil
}

func (app *Application) openBridge(ctx context.Context) error {
	switch app.cfg.BridgeKind() {
	case bridge.KindNvim:
		var (
			client *nvim.Client
			err    error
		)
		if addr := app.cfg.Nvim.Address; addr != "" {
			client, err = nvim.Dial(ctx, addr)
		} else {
			client, err = nvim.Embed(ctx, app.cfg.Nvim.Command, app.cfg.Nvim.Args...)
		}
		if err != nil {
			return &InitError{Component: "nvim bridge", Err: err}
		}
		app.host = client
		app.closers = append(app.closers, client)

	default:
		rtp, err := app.cfg.RuntimePath()
		if err != nil {
			return &InitError{Component: "lua runtime", Err: err}
		}
		rt, err := lua.NewRuntime(
			lua.WithRuntimePath(rtp...),
			lua.WithTimeout(app.cfg.Lua.Timeout.Duration),
			lua.WithCapabilities(app.cfg.Capabilities()...),
			lua.WithLogger(app.log),
		)
		if err != nil {
			return &InitError{Component: "lua runtime", Err: err}
		}
		app.host = rt
		app.runtime = rt
		app.closers = append(app.closers, rt)
	}
	return nil
}

// Config returns the session configuration.
func (app *Application) Config() *config.Config {
	return app.cfg
}

// Logger returns the session logger.
func (app *Application) Logger() *logger.Logger {
	return app.log
}

// Host returns the bridge the sources run on.
func (app *Application) Host() bridge.Host {
	return app.host
}

// Registry returns the source registry.
func (app *Application) Registry() *source.Registry {
	return app.registry
}

// Runtime returns the embedded Lua runtime, or nil when another bridge is
// in use.
func (app *Application) Runtime() *lua.Runtime {
	return app.runtime
}

// Gather collects candidates from every source eligible for c.
func (app *Application) Gather(ctx context.Context, c *source.Context) []source.Result {
	return app.registry.Gather(ctx, c)
}

// Watch reloads engine files of the embedded runtime as they change, until
// ctx is done.
func (app *Application) Watch(ctx context.Context) error {
	if app.runtime == nil {
		return ErrNoRuntime
	}
	return app.runtime.Watch(ctx)
}

// Close releases the bridge if the session created it.
func (app *Application) Close() error {
	app.closeOnce.Do(func() {
		var errs []error
		for _, c := range slices.Backward(app.closers) {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		app.closeErr = errors.Join(errs...)
	})
	return app.closeErr
}
