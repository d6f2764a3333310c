// Package nvim implements the scripting bridge on top of a running Neovim,
// using nvim_exec_lua over msgpack-RPC.
package nvim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/neovim/go-client/nvim"

	"github.com/dshills/snippy/internal/bridge"
)

// ErrClosed is returned when using a closed client.
var ErrClosed = errors.New("nvim client is closed")

// luaCaller is the subset of *nvim.Nvim used by Client.
type luaCaller interface {
	ExecLua(code string, result any, args ...any) error
	Close() error
}

// Client runs Lua in a Neovim instance.
type Client struct {
	v         luaCaller
	closed    chan struct{}
	closeOnce sync.Once
}

var _ bridge.Host = (*Client)(nil)

// New wraps an existing Neovim connection.
func New(v *nvim.Nvim) *Client {
	return newClient(v)
}

func newClient(v luaCaller) *Client {
	return &Client{v: v, closed: make(chan struct{})}
}

// Dial connects to Neovim listening on address (a unix socket path or
// host:port).
func Dial(ctx context.Context, address string) (*Client, error) {
	if address == "" {
		return nil, errors.New("nvim address is empty")
	}
	v, err := nvim.Dial(address, nvim.DialContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("dialing nvim at %s: %w", address, err)
	}
	return New(v), nil
}

// Embed starts "command --embed --headless" as a child process and connects
// to it over stdio. The child is stopped when ctx is done or the client is
// closed.
func Embed(ctx context.Context, command string, args ...string) (*Client, error) {
	if command == "" {
		command = "nvim"
	}
	v, err := nvim.NewChildProcess(
		nvim.ChildProcessCommand(command),
		nvim.ChildProcessArgs(append([]string{"--embed", "--headless"}, args...)...),
		nvim.ChildProcessContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}
	return New(v), nil
}

// ExecLua evaluates code through nvim_exec_lua and returns the decoded
// result. RPC and Lua errors are returned as produced by the client library.
//
// The RPC itself cannot be cancelled. When ctx is done first, ExecLua returns
// ctx.Err() and the result of the call is discarded.
func (c *Client) ExecLua(ctx context.Context, code string, args ...any) (any, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// nvim_exec_lua rejects nil for its args array.
	if args == nil {
		args = []any{}
	}

	type reply struct {
		result any
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		var result any
		err := c.v.ExecLua(code, &result, args...)
		done <- reply{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return r.result, nil
	}
}

// Close closes the connection. Closing twice is a no-op.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.v.Close()
	})
	return err
}
