package lua

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ModuleLoader implements require for a sandboxed state.
//
// Modules are looked up in package.loaded, then package.preload, then in the
// lua/ directory of every runtime path entry. Files are loaded with the
// state's own compiler, so the sandbox's removal of loadfile does not apply.
type ModuleLoader struct {
	L           *lua.LState
	sandbox     *Sandbox
	runtimePath []string

	// files maps loaded module files to their module names.
	files map[string]string
}

// NewModuleLoader creates a loader searching runtimePath.
func NewModuleLoader(L *lua.LState, sandbox *Sandbox, runtimePath []string) *ModuleLoader {
	return &ModuleLoader{
		L:           L,
		sandbox:     sandbox,
		runtimePath: runtimePath,
		files:       make(map[string]string),
	}
}

// Install replaces the global require.
func (m *ModuleLoader) Install() {
	m.L.SetGlobal("require", m.L.NewFunction(m.require))
}

// RuntimePath returns the directories searched for modules.
func (m *ModuleLoader) RuntimePath() []string {
	return append([]string(nil), m.runtimePath...)
}

// Preload registers a Go loader for a module name.
func (m *ModuleLoader) Preload(name string, loader lua.LGFunction) {
	m.preloadTable().RawSetString(name, m.L.NewFunction(loader))
}

// IsLoaded reports whether a module is cached in package.loaded.
func (m *ModuleLoader) IsLoaded(name string) bool {
	return loadedTable(m.L).RawGetString(name) != lua.LNil
}

// Invalidate drops a module from package.loaded so the next require loads it
// again. It reports whether the module was loaded.
func (m *ModuleLoader) Invalidate(name string) bool {
	loaded := loadedTable(m.L)
	if loaded.RawGetString(name) == lua.LNil {
		return false
	}
	loaded.RawSetString(name, lua.LNil)
	for path, mod := range m.files {
		if mod == name {
			delete(m.files, path)
		}
	}
	return true
}

// InvalidateFiles drops every module that was loaded from a file and returns
// their names. Go-preloaded and standard modules are kept.
func (m *ModuleLoader) InvalidateFiles() []string {
	loaded := loadedTable(m.L)
	names := make([]string, 0, len(m.files))
	for _, name := range m.files {
		if loaded.RawGetString(name) != lua.LNil {
			loaded.RawSetString(name, lua.LNil)
			names = append(names, name)
		}
	}
	clear(m.files)
	slices.Sort(names)
	return names
}

// ModuleForFile returns the module that was loaded from path, if any.
func (m *ModuleLoader) ModuleForFile(path string) (string, bool) {
	name, ok := m.files[filepath.Clean(path)]
	return name, ok
}

// Find returns the file that would be loaded for a module name.
func (m *ModuleLoader) Find(name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))
	var tried []string
	for _, dir := range m.runtimePath {
		for _, candidate := range []string{
			filepath.Join(dir, "lua", rel+".lua"),
			filepath.Join(dir, "lua", rel, "init.lua"),
		} {
			info, err := os.Stat(candidate)
			if err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
			tried = append(tried, candidate)
		}
	}
	return "", &ModuleNotFoundError{Module: name, Tried: tried}
}

func (m *ModuleLoader) preloadTable() *lua.LTable {
	pkg, ok := m.L.GetGlobal(lua.LoadLibName).(*lua.LTable)
	if !ok {
		pkg = m.L.NewTable()
		m.L.SetGlobal(lua.LoadLibName, pkg)
	}
	preload, ok := m.L.GetField(pkg, "preload").(*lua.LTable)
	if !ok {
		preload = m.L.NewTable()
		m.L.SetField(pkg, "preload", preload)
	}
	return preload
}

func (m *ModuleLoader) require(L *lua.LState) int {
	name := L.CheckString(1)

	loaded := loadedTable(L)
	if v := loaded.RawGetString(name); v != lua.LNil {
		L.Push(v)
		return 1
	}

	if err := m.sandbox.checkModule(name); err != nil {
		raiseError(L, err)
		return 0
	}

	loader, ok := m.preloadTable().RawGetString(name).(*lua.LFunction)
	if !ok {
		path, err := m.Find(name)
		if err != nil {
			raiseError(L, err)
			return 0
		}
		fn, err := L.LoadFile(path)
		if err != nil {
			L.RaiseError("error loading module %q from file %s:\n\t%s", name, path, err.Error())
			return 0
		}
		loader = fn
		m.files[filepath.Clean(path)] = name
	}

	L.Push(loader)
	L.Push(lua.LString(name))
	L.Call(1, 1)
	ret := L.Get(-1)
	L.Pop(1)

	// A module that returns nothing may still have set package.loaded itself.
	if ret == lua.LNil {
		ret = loaded.RawGetString(name)
		if ret == lua.LNil {
			ret = lua.LTrue
		}
	}
	loaded.RawSetString(name, ret)
	L.Push(ret)
	return 1
}
