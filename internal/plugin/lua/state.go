package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// State owns a sandboxed gopher-lua state and its module loader.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. A State must only be
// used from one goroutine at a time. Runtime enforces this by handing the
// State to an Executor once construction is finished.
type State struct {
	L       *lua.LState
	sandbox *Sandbox
	modules *ModuleLoader
	closed  bool
}

// StateOption configures a State.
type StateOption func(*stateConfig)

type stateConfig struct {
	runtimePath  []string
	capabilities []Capability
}

// WithStateRuntimePath sets the directories searched by require.
func WithStateRuntimePath(dirs ...string) StateOption {
	return func(c *stateConfig) {
		c.runtimePath = append(c.runtimePath, dirs...)
	}
}

// WithStateCapabilities grants capabilities to the state.
func WithStateCapabilities(caps ...Capability) StateOption {
	return func(c *stateConfig) {
		c.capabilities = append(c.capabilities, caps...)
	}
}

type lib struct {
	name string
	open lua.LGFunction
}

// safeLibs are opened in every state. package comes first so the others
// register themselves in package.loaded.
var safeLibs = []lib{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

func openLibs(L *lua.LState, libs []lib) {
	for _, l := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(l.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(l.name)); err != nil {
			// The standard openers only fail on allocation errors.
			panic(err)
		}
	}
}

// loadedTable returns package.loaded.
func loadedTable(L *lua.LState) *lua.LTable {
	return L.FindTable(L.Get(lua.RegistryIndex).(*lua.LTable), "_LOADED", 1).(*lua.LTable)
}

// NewState creates a sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	var cfg stateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openLibs(L, safeLibs)

	sandbox := NewSandbox(L)
	sandbox.Install()
	for _, c := range cfg.capabilities {
		sandbox.Grant(c)
	}

	modules := NewModuleLoader(L, sandbox, cfg.runtimePath)
	modules.Install()

	return &State{
		L:       L,
		sandbox: sandbox,
		modules: modules,
	}, nil
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// Modules returns the state's module loader.
func (s *State) Modules() *ModuleLoader {
	return s.modules
}

// Close releases the Lua state and any files its scripts left open. Closing
// twice is a no-op.
func (s *State) Close() error {
	if s.closed {
		return nil
	}
	s.sandbox.closeFiles()
	s.L.Close()
	s.closed = true
	return nil
}
