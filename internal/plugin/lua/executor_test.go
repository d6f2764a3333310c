package lua

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func startExecutor(t *testing.T) *Executor {
	t.Helper()
	L := lua.NewState()
	exec := NewExecutor(L)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		exec.Run(ctx)
	}()

	t.Cleanup(func() {
		exec.Close()
		cancel()
		<-done
		L.Close()
	})
	return exec
}

func TestExecutorExecuteRunsOnLState(t *testing.T) {
	exec := startExecutor(t)
	ctx := context.Background()

	err := exec.Execute(ctx, func(L *lua.LState) error {
		return L.DoString(`answer = 6 * 7`)
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var got lua.LValue
	err = exec.Execute(ctx, func(L *lua.LState) error {
		got = L.GetGlobal("answer")
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != lua.LNumber(42) {
		t.Errorf("answer = %v, want 42", got)
	}
}

func TestExecutorReturnsCallError(t *testing.T) {
	exec := startExecutor(t)
	want := errors.New("engine failure")

	err := exec.Execute(context.Background(), func(*lua.LState) error { return want })
	if err != want {
		t.Errorf("Execute() error = %v, want %v", err, want)
	}
}

func TestExecutorSerializesConcurrentCalls(t *testing.T) {
	exec := startExecutor(t)
	ctx := context.Background()

	var inFlight, maxInFlight, total int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				err := exec.Execute(ctx, func(*lua.LState) error {
					n := atomic.AddInt32(&inFlight, 1)
					if n > atomic.LoadInt32(&maxInFlight) {
						atomic.StoreInt32(&maxInFlight, n)
					}
					atomic.AddInt32(&total, 1)
					atomic.AddInt32(&inFlight, -1)
					return nil
				})
				if err != nil {
					t.Errorf("Execute() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if total != 80 {
		t.Errorf("total = %d, want 80", total)
	}
	if maxInFlight != 1 {
		t.Errorf("max in flight = %d, want 1", maxInFlight)
	}
}

func TestExecutorPanicRecovery(t *testing.T) {
	exec := startExecutor(t)
	ctx := context.Background()

	err := exec.Execute(ctx, func(*lua.LState) error { panic("kaboom") })
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Execute() error = %v, want panic message", err)
	}

	if err := exec.Execute(ctx, func(*lua.LState) error { return nil }); err != nil {
		t.Fatalf("Execute() after panic error = %v", err)
	}
}

func TestExecutorClose(t *testing.T) {
	exec := startExecutor(t)
	exec.Close()
	exec.Close()

	noop := func(*lua.LState) error { return nil }
	if err := exec.Execute(context.Background(), noop); err != ErrExecutorClosed {
		t.Errorf("Execute() error = %v, want ErrExecutorClosed", err)
	}
	if !IsClosedErr(ErrExecutorClosed) {
		t.Error("IsClosedErr(ErrExecutorClosed) = false")
	}
}

func TestExecutorDrainFailsQueuedCalls(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	exec := NewExecutor(L)
	c := &call{fn: func(*lua.LState) error { return nil }, result: make(chan error, 1)}
	exec.queue <- c

	exec.drain(ErrExecutorClosed)

	if err := <-c.result; err != ErrExecutorClosed {
		t.Errorf("drained call error = %v, want ErrExecutorClosed", err)
	}
}

func TestExecutorCancelledContext(t *testing.T) {
	exec := startExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Execute(ctx, func(*lua.LState) error { return nil })
	if !errors.Is(err, context.Canceled) && err != nil {
		t.Errorf("Execute() error = %v, want context.Canceled or nil", err)
	}
}
