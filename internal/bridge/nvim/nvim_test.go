package nvim

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNvim stands in for *nvim.Nvim. It "decodes" its canned reply into the
// result pointer the way the RPC client does.
type fakeNvim struct {
	reply  any
	err    error
	block  chan struct{}
	code   string
	args   []any
	closed int
}

func (f *fakeNvim) ExecLua(code string, result any, args ...any) error {
	f.code = code
	f.args = args
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return f.err
	}
	reflect.ValueOf(result).Elem().Set(reflect.ValueOf(&f.reply).Elem())
	return nil
}

func (f *fakeNvim) Close() error {
	f.closed++
	return nil
}

func TestClientExecLua(t *testing.T) {
	items := []any{map[string]any{"word": "fori"}}
	fake := &fakeNvim{reply: items}
	c := newClient(fake)

	got, err := c.ExecLua(context.Background(), `return require "snippy".get_completion_items()`)
	require.NoError(t, err)
	assert.Equal(t, items, got)
	assert.Equal(t, `return require "snippy".get_completion_items()`, fake.code)
	assert.NotNil(t, fake.args, "args must be sent as an empty array")
	assert.Empty(t, fake.args)
}

func TestClientExecLuaArgs(t *testing.T) {
	fake := &fakeNvim{reply: "ok"}
	c := newClient(fake)

	_, err := c.ExecLua(context.Background(), `return ...`, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1}, fake.args)
}

func TestClientExecLuaErrorUnchanged(t *testing.T) {
	rpcErr := errors.New("nvim_exec_lua: module 'snippy' not found")
	c := newClient(&fakeNvim{err: rpcErr})

	got, err := c.ExecLua(context.Background(), "return 1")
	assert.Nil(t, got)
	assert.Same(t, rpcErr, err)
}

func TestClientExecLuaCancelled(t *testing.T) {
	fake := &fakeNvim{reply: 1, block: make(chan struct{})}
	defer close(fake.block)
	c := newClient(fake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ExecLua(ctx, "return 1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientExecLuaDoneContext(t *testing.T) {
	fake := &fakeNvim{reply: 1}
	c := newClient(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ExecLua(ctx, "return 1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.code, "no RPC should be sent")
}

func TestClientClose(t *testing.T) {
	fake := &fakeNvim{}
	c := newClient(fake)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, fake.closed)

	_, err := c.ExecLua(context.Background(), "return 1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialEmptyAddress(t *testing.T) {
	_, err := Dial(context.Background(), "")
	assert.Error(t, err)
}
