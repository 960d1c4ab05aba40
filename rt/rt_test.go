package rt

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"
)

type widget struct {
	handle Handle
}

func newWidget(t *testing.T, frees *atomic.Int32) *widget {
	t.Helper()
	w := new(widget)
	Bind(w, &w.handle, "widget", unsafe.Pointer(new(int64)), func(unsafe.Pointer) { frees.Add(1) })
	return w
}

func expectPanic(t *testing.T, fn func()) any {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	if got == nil {
		t.Fatal("expected panic, got none")
	}
	return got
}

func TestBind_NilPointerPanics(t *testing.T) {
	w := new(widget)
	got := expectPanic(t, func() {
		Bind(w, &w.handle, "Counter", nil, nil)
	})
	var allocErr *AllocationError
	err, ok := got.(error)
	if !ok || !errors.As(err, &allocErr) {
		t.Fatalf("panic value = %#v, want *AllocationError", got)
	}
	if allocErr.Type != "Counter" {
		t.Errorf("Type = %q, want Counter", allocErr.Type)
	}
	if !w.handle.Released() {
		t.Error("handle should stay unbound after failed allocation")
	}
}

func TestHandle_ReleaseExactlyOnce(t *testing.T) {
	var frees atomic.Int32
	w := newWidget(t, &frees)

	if w.handle.Ptr() == nil {
		t.Fatal("Ptr() returned nil for bound handle")
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.handle.Release()
		}()
	}
	wg.Wait()
	w.handle.Release()

	if got := frees.Load(); got != 1 {
		t.Fatalf("free calls = %d, want 1", got)
	}
	if !w.handle.Released() {
		t.Error("Released() = false after Release")
	}
}

func TestHandle_PtrAfterReleasePanics(t *testing.T) {
	var frees atomic.Int32
	w := newWidget(t, &frees)
	w.handle.Release()

	got := expectPanic(t, func() { _ = w.handle.Ptr() })
	if got != ErrReleased {
		t.Fatalf("panic value = %v, want ErrReleased", got)
	}
}

func TestHandle_UnboundPtrPanics(t *testing.T) {
	var h Handle
	got := expectPanic(t, func() { _ = h.Ptr() })
	if _, ok := got.(*AllocationError); !ok {
		t.Fatalf("panic value = %#v, want *AllocationError", got)
	}
	h.Release()
}

func TestHandle_CleanupOnUnreachableOwner(t *testing.T) {
	var frees atomic.Int32
	func() {
		_ = newWidget(t, &frees)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for frees.Load() == 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if got := frees.Load(); got != 1 {
		t.Fatalf("free calls after GC = %d, want 1", got)
	}
}

func TestHandle_String(t *testing.T) {
	var frees atomic.Int32
	w := newWidget(t, &frees)
	if s := w.handle.String(); s == "" || s == "rt.Handle(unbound)" {
		t.Errorf("String() = %q", s)
	}
	w.handle.Release()
	if s := w.handle.String(); s != "rt.Handle(widget, released)" {
		t.Errorf("String() = %q", s)
	}
}

func TestRun_ReturnsValue(t *testing.T) {
	got, err := Run(context.Background(), NewPool(2), func() int32 { return 42 })
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != 42 {
		t.Fatalf("Run() = %d, want 42", got)
	}
}

func TestRun_UsesDefaultPool(t *testing.T) {
	got, err := Run(context.Background(), nil, func() string { return "ok" })
	if err != nil || got != "ok" {
		t.Fatalf("Run() = %q, %v", got, err)
	}
}

func TestRun_PanicBecomesFault(t *testing.T) {
	got := expectPanic(t, func() {
		_, _ = Run(context.Background(), NewPool(1), func() int {
			panic("native exploded")
		})
	})
	fault, ok := got.(*Fault)
	if !ok {
		t.Fatalf("panic value = %#v, want *Fault", got)
	}
	if fault.Value != "native exploded" {
		t.Errorf("Fault.Value = %v", fault.Value)
	}
	if len(fault.Stack) == 0 {
		t.Error("Fault.Stack is empty")
	}
}

func TestRun_FaultUnwrapsErrorValue(t *testing.T) {
	sentinel := errors.New("bad input")
	got := expectPanic(t, func() {
		_, _ = Run(context.Background(), NewPool(1), func() int { panic(sentinel) })
	})
	fault := got.(*Fault)
	if !errors.Is(fault, sentinel) {
		t.Errorf("errors.Is(fault, sentinel) = false")
	}
}

func TestRun_CancelDoesNotAbortInFlightCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	unblock := make(chan struct{})
	var finished atomic.Bool

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(ctx, NewPool(1), func() int {
			close(started)
			<-unblock
			finished.Store(true)
			return 1
		})
		errCh <- err
	}()

	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if finished.Load() {
		t.Fatal("native call should still be in flight")
	}

	close(unblock)
	deadline := time.Now().Add(2 * time.Second)
	for !finished.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !finished.Load() {
		t.Fatal("in-flight call never completed")
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	pool := NewPool(2)
	var active, peak atomic.Int32
	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Run(context.Background(), pool, func() struct{} {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return struct{}{}
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestSetDefaultPool(t *testing.T) {
	custom := NewPool(3)
	SetDefaultPool(custom)
	t.Cleanup(func() { SetDefaultPool(nil) })

	if DefaultPool() != custom {
		t.Fatal("DefaultPool() did not return configured pool")
	}
	SetDefaultPool(nil)
	if DefaultPool() == nil || DefaultPool().Size() != runtime.GOMAXPROCS(0) {
		t.Fatal("SetDefaultPool(nil) should restore GOMAXPROCS pool")
	}
}

func BenchmarkRun(b *testing.B) {
	pool := NewPool(runtime.GOMAXPROCS(0))
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Run(ctx, pool, func() int { return i })
	}
}
