package lua

import (
	"context"
	"slices"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/snippy/internal/bridge"
	"github.com/dshills/snippy/internal/logger"
)

// DefaultTimeout bounds a single ExecLua call.
const DefaultTimeout = 5 * time.Second

// Runtime is an embedded Lua interpreter usable from any goroutine.
// It implements bridge.Host.
type Runtime struct {
	state   *State
	exec    *Executor
	timeout time.Duration
	log     *logger.Logger

	// ctx is cancelled by Close and bounds every call.
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
}

var _ bridge.Host = (*Runtime)(nil)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	state   []StateOption
	timeout time.Duration
	log     *logger.Logger
}

// WithRuntimePath adds directories searched by require.
func WithRuntimePath(dirs ...string) RuntimeOption {
	return func(c *runtimeConfig) {
		c.state = append(c.state, WithStateRuntimePath(dirs...))
	}
}

// WithCapabilities grants sandbox capabilities.
func WithCapabilities(caps ...Capability) RuntimeOption {
	return func(c *runtimeConfig) {
		c.state = append(c.state, WithStateCapabilities(caps...))
	}
}

// WithTimeout bounds each ExecLua call. Zero or negative disables the bound;
// the caller's context and Close still apply.
func WithTimeout(d time.Duration) RuntimeOption {
	return func(c *runtimeConfig) {
		c.timeout = d
	}
}

// WithLogger sets the runtime logger.
func WithLogger(log *logger.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.log = log
	}
}

// NewRuntime creates a Runtime and starts its executor goroutine.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	cfg := runtimeConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.Nop()
	}

	state, err := NewState(cfg.state...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		state:   state,
		exec:    NewExecutor(state.L),
		timeout: cfg.timeout,
		log:     cfg.log,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(r.stopped)
		r.exec.Run(ctx)
	}()

	return r, nil
}

// ExecLua runs code as a Lua chunk with args bound to "..." and returns the
// chunk's first return value converted with ToGo. Syntax and runtime errors
// are returned as the *lua.ApiError produced by gopher-lua. Errors raised by
// require come back as a *ScriptError wrapping that *lua.ApiError and a
// *ModuleNotFoundError or *CapabilityError.
func (r *Runtime) ExecLua(ctx context.Context, code string, args ...any) (any, error) {
	var result any
	err := r.exec.Execute(ctx, func(L *lua.LState) error {
		callCtx, cancel := r.callContext(ctx)
		defer cancel()

		L.SetContext(callCtx)
		defer L.RemoveContext()

		top := L.GetTop()
		defer L.SetTop(top)

		fn, err := L.LoadString(code)
		if err != nil {
			return err
		}
		L.Push(fn)
		for _, arg := range args {
			L.Push(ToLua(L, arg))
		}
		if err := L.PCall(len(args), 1, nil); err != nil {
			return scriptError(err)
		}
		result = ToGo(L.Get(-1))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// callContext derives the context a call runs under. It is done when ctx is,
// when the timeout expires, or when the runtime is closed.
func (r *Runtime) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if r.timeout <= 0 {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	stop := context.AfterFunc(r.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Preload registers a Go loader for a module name.
func (r *Runtime) Preload(ctx context.Context, name string, loader lua.LGFunction) error {
	return r.exec.Execute(ctx, func(*lua.LState) error {
		r.state.Modules().Preload(name, loader)
		return nil
	})
}

// Invalidate drops a module from package.loaded so the next require reloads
// it. It reports whether the module was loaded.
func (r *Runtime) Invalidate(ctx context.Context, name string) (bool, error) {
	var dropped bool
	err := r.exec.Execute(ctx, func(*lua.LState) error {
		dropped = r.state.Modules().Invalidate(name)
		return nil
	})
	return dropped, err
}

// Reload drops every module loaded from a runtime path file and returns their
// names.
func (r *Runtime) Reload(ctx context.Context) ([]string, error) {
	var names []string
	err := r.exec.Execute(ctx, func(*lua.LState) error {
		names = r.state.Modules().InvalidateFiles()
		return nil
	})
	return names, err
}

// reloadFiles drops every file-backed module when one of paths is the file
// a loaded module came from. Modules that required each other are dropped
// together so none keeps a stale table. Other paths are ignored.
func (r *Runtime) reloadFiles(ctx context.Context, paths []string) ([]string, error) {
	var names []string
	err := r.exec.Execute(ctx, func(*lua.LState) error {
		modules := r.state.Modules()
		if slices.ContainsFunc(paths, func(path string) bool {
			_, ok := modules.ModuleForFile(path)
			return ok
		}) {
			names = modules.InvalidateFiles()
		}
		return nil
	})
	return names, err
}

// IsLoaded reports whether a module is cached in package.loaded.
func (r *Runtime) IsLoaded(ctx context.Context, name string) (bool, error) {
	var loaded bool
	err := r.exec.Execute(ctx, func(*lua.LState) error {
		loaded = r.state.Modules().IsLoaded(name)
		return nil
	})
	return loaded, err
}

// RuntimePath returns the directories searched for modules.
func (r *Runtime) RuntimePath() []string {
	return r.state.Modules().RuntimePath()
}

// Capabilities returns the granted sandbox capabilities.
func (r *Runtime) Capabilities(ctx context.Context) ([]Capability, error) {
	var caps []Capability
	err := r.exec.Execute(ctx, func(*lua.LState) error {
		caps = r.state.Sandbox().Capabilities()
		return nil
	})
	return caps, err
}

// Close stops the executor and releases the Lua state.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.exec.Close()
		r.cancel()
		<-r.stopped
		err = r.state.Close()
	})
	return err
}
