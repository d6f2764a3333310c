// Package bridge defines the scripting bridge used by completion sources to
// call into Lua code hosted by the editor.
//
// Two implementations exist: the embedded gopher-lua runtime in
// internal/plugin/lua and a Neovim msgpack-RPC client in internal/bridge/nvim.
package bridge

import (
	"context"
	"fmt"
)

// Host executes Lua chunks on behalf of a source.
type Host interface {
	// ExecLua runs code as a Lua chunk with args bound to "..." and returns the
	// chunk's first return value converted to Go. Errors raised by the chunk
	// are returned as produced by the underlying runtime.
	ExecLua(ctx context.Context, code string, args ...any) (any, error)
}

// Kind names a bridge implementation.
type Kind string

// Bridge kinds.
const (
	KindEmbedded Kind = "embedded"
	KindNvim     Kind = "nvim"
)

// ParseKind parses a bridge kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEmbedded, KindNvim:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown bridge %q (want %q or %q)", s, KindEmbedded, KindNvim)
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(ctx context.Context, code string, args ...any) (any, error)

// ExecLua calls f.
func (f HostFunc) ExecLua(ctx context.Context, code string, args ...any) (any, error) {
	return f(ctx, code, args...)
}
