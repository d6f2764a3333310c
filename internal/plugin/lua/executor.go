package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// queueSize bounds the operations waiting for the executor goroutine.
const queueSize = 64

// call is a Lua operation waiting to run on the executor goroutine.
type call struct {
	fn     func(L *lua.LState) error
	result chan error // buffered, closed after the result is sent
}

// Executor serializes all Lua operations through a single goroutine.
//
// gopher-lua's LState is NOT goroutine-safe. The Executor marshals operations
// from any goroutine onto the one goroutine running Run, which is the only
// place the LState is touched once the executor is started.
//
// Usage:
//
//	exec := NewExecutor(L)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    return L.DoString(`x = 1`)
//	})
type Executor struct {
	L      *lua.LState
	queue  chan *call
	closed atomic.Bool
	done   chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates an Executor for L.
func NewExecutor(L *lua.LState) *Executor {
	return &Executor{
		L:     L,
		queue: make(chan *call, queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes queued operations until ctx is done or Close is called.
// Pending operations are then failed with the corresponding error.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			c.result <- e.run(c)
			close(c.result)
		}
	}
}

// run executes one operation, converting panics into errors.
func (e *Executor) run(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return c.fn(e.L)
}

func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			c.result <- err
			close(c.result)
		default:
			return
		}
	}
}

// Execute runs fn on the executor goroutine and waits for it to finish.
//
// If ctx is done before fn completes, Execute returns ctx.Err(). An operation
// that was already queued still runs; callers must not rely on its side
// effects after an early return.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	case <-e.done:
		// The call may have been queued after Run drained the queue.
		select {
		case err, ok := <-c.result:
			if ok {
				return err
			}
		default:
		}
		return ErrExecutorClosed
	}
}

// Close stops the executor. Queued operations fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosedErr reports whether err means the executor can no longer run calls.
func IsClosedErr(err error) bool {
	return errors.Is(err, ErrExecutorClosed)
}
