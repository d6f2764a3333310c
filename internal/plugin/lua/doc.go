// Package lua provides an embedded Lua runtime that implements the scripting
// bridge used by completion sources.
//
// This package wraps the gopher-lua library to provide:
//   - A sandboxed Lua state with a runtime-path module loader
//   - A single-goroutine executor that owns the state
//   - Go-Lua value conversion
//   - Capability-gated standard libraries
//   - Per-call execution timeouts
//   - Reloading of modules when their files change
//
// # Runtime
//
// Runtime is the entry point. It implements bridge.Host:
//
//	rt, err := lua.NewRuntime(
//	    lua.WithRuntimePath("/home/me/.config/nvim"),
//	    lua.WithTimeout(2*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	items, err := rt.ExecLua(ctx, `return require "snippy".get_completion_items()`)
//
// # Modules
//
// require resolves a module name in order:
//   - package.loaded
//   - package.preload (see Runtime.Preload)
//   - <dir>/lua/<name>.lua for every runtime path directory
//   - <dir>/lua/<name>/init.lua for every runtime path directory
//
// Dots in module names map to path separators, so "snippy.shared" resolves to
// lua/snippy/shared.lua.
//
// # Sandbox
//
// The sandbox removes dofile, loadfile, load and loadstring, and does not open
// the io, os or debug libraries. Capabilities re-enable them:
//   - CapabilityFileRead: read-only io (open in "r"/"rb" mode, lines)
//   - CapabilityUnsafe: the full io, os and debug libraries
package lua
