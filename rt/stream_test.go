package rt

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
	"unsafe"
)

func collect[T any](t *testing.T, s *Stream[T]) ([]T, []error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var vals []T
	var errs []error
	for v, err := range s.All(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		vals = append(vals, v)
	}
	return vals, errs
}

func TestStream_DeliversInOrder(t *testing.T) {
	s := NewStream[int](0)
	if err := s.Produce(context.Background(), NewPool(1), func() {
		for i := range 5 {
			if err := s.Send(i); err != nil {
				t.Errorf("Send(%d) error: %v", i, err)
			}
		}
	}); err != nil {
		t.Fatalf("Produce error: %v", err)
	}

	vals, errs := collect(t, s)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	for i, v := range vals {
		if v != i {
			t.Fatalf("vals = %v", vals)
		}
	}
	if len(vals) != 5 || !s.Completed() {
		t.Fatalf("vals = %v, completed = %v", vals, s.Completed())
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after end = %v, want io.EOF", err)
	}
}

func TestStream_FailKeepsStreamOpen(t *testing.T) {
	s := NewStream[string](4)
	boom := errors.New("boom")
	_ = s.Send("a")
	_ = s.Fail(boom)
	_ = s.Fail(nil)
	_ = s.Send("b")
	s.Finish()

	vals, errs := collect(t, s)
	if len(vals) != 2 || vals[0] != "a" || vals[1] != "b" {
		t.Fatalf("vals = %v", vals)
	}
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("errs = %v", errs)
	}
	if err := s.Send("c"); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Send after Finish = %v, want ErrStreamClosed", err)
	}
}

func TestStream_CloseStopsProducer(t *testing.T) {
	s := NewStream[int](0)
	stopped := make(chan error, 1)
	if err := s.Produce(context.Background(), NewPool(1), func() {
		for i := 0; ; i++ {
			if err := s.Send(i); err != nil {
				stopped <- err
				return
			}
		}
	}); err != nil {
		t.Fatal(err)
	}

	for v, err := range s.All(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v == 2 {
			break
		}
	}
	select {
	case err := <-stopped:
		if !errors.Is(err, ErrStreamClosed) {
			t.Fatalf("producer stopped with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producer still running after the consumer broke out")
	}
}

func TestStream_ProduceCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream[int](0)
	release := make(chan struct{})
	if err := s.Produce(ctx, NewPool(1), func() { <-release }); err != nil {
		t.Fatal(err)
	}
	cancel()
	_, err := s.Next(context.Background())
	close(release)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Next after cancel = %v, want context.Canceled", err)
	}
}

func TestStream_ProduceWaitsForPool(t *testing.T) {
	p := NewPool(1)
	busy := NewStream[int](0)
	release := make(chan struct{})
	if err := busy.Produce(context.Background(), p, func() { <-release }); err != nil {
		t.Fatal(err)
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewStream[int](0).Produce(ctx, p, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Produce on a full pool = %v, want context.DeadlineExceeded", err)
	}
}

func TestStream_PanicBecomesFault(t *testing.T) {
	s := NewStream[int](0)
	if err := s.Produce(context.Background(), nil, func() {
		_ = s.Send(1)
		panic("native crash")
	}); err != nil {
		t.Fatal(err)
	}

	vals, errs := collect(t, s)
	if len(vals) != 1 || vals[0] != 1 {
		t.Fatalf("vals = %v", vals)
	}
	var fault *Fault
	if len(errs) != 1 || !errors.As(errs[0], &fault) {
		t.Fatalf("errs = %v, want one *Fault", errs)
	}
	if fault.Value != "native crash" {
		t.Errorf("Value = %v", fault.Value)
	}
}

type sample struct {
	T float64
	V float32
}

func TestPushStream_CopiesElements(t *testing.T) {
	s := NewStream[sample](4)
	id := AttachStream(s)

	src := []sample{{1, 0.5}, {2, 0.25}}
	if !PushStream(id, unsafe.Pointer(&src[0]), len(src)) {
		t.Fatal("PushStream = false on a live stream")
	}
	src[0].V = 99
	if !FailStream(id, "overrun") {
		t.Fatal("FailStream = false on a live stream")
	}
	DetachStream(id)
	if PushStream(id, unsafe.Pointer(&src[0]), 1) || FailStream(id, "late") {
		t.Fatal("detached sink still accepts pushes")
	}
	s.Finish()

	vals, errs := collect(t, s)
	if len(vals) != 2 || vals[0] != (sample{1, 0.5}) || vals[1] != (sample{2, 0.25}) {
		t.Fatalf("vals = %v", vals)
	}
	var nerr *NativeError
	if len(errs) != 1 || !errors.As(errs[0], &nerr) || nerr.Msg != "overrun" {
		t.Fatalf("errs = %v", errs)
	}
}

func TestPushStream_ClosedConsumer(t *testing.T) {
	s := NewStream[int32](1)
	id := AttachStream(s)
	defer DetachStream(id)
	s.Close()

	v := int32(1)
	if PushStream(id, unsafe.Pointer(&v), 1) {
		t.Fatal("push to a closed stream reported success")
	}
	if PushStream(id, nil, 0) {
		t.Fatal("empty push to a closed stream reported success")
	}
}
