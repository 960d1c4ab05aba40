package rt

import (
	"context"
	"errors"
	"io"
	"iter"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"unsafe"
)

// ErrStreamClosed is returned once the consumer has closed a stream.
var ErrStreamClosed = errors.New("rt: stream closed")

// NativeError carries a failure reported by a foreign producer.
type NativeError struct {
	Msg string
}

func (e *NativeError) Error() string { return "rt: native stream error: " + e.Msg }

type item[T any] struct {
	v   T
	err error
}

// Stream delivers values pushed by a running foreign call.
//
// Send, Fail and Finish belong to the single producer. Next, All and Close
// belong to the consumer. Values are copied into Go as they arrive.
type Stream[T any] struct {
	ch       chan item[T]
	done     chan struct{}
	stopOnce sync.Once
	cause    error
	finished atomic.Bool
}

// NewStream creates a stream buffering up to buffer undelivered values.
func NewStream[T any](buffer int) *Stream[T] {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream[T]{ch: make(chan item[T], buffer), done: make(chan struct{})}
}

func (s *Stream[T]) stop(cause error) {
	s.stopOnce.Do(func() {
		s.cause = cause
		close(s.done)
	})
}

func (s *Stream[T]) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Stream[T]) deliver(it item[T]) error {
	if s.finished.Load() || s.stopped() {
		return ErrStreamClosed
	}
	select {
	case s.ch <- it:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// Send delivers v, blocking until the consumer has room for it.
func (s *Stream[T]) Send(v T) error { return s.deliver(item[T]{v: v}) }

// Fail delivers err in place of a value. The stream stays open.
func (s *Stream[T]) Fail(err error) error {
	if err == nil {
		return nil
	}
	return s.deliver(item[T]{err: err})
}

// Finish ends the stream. Later calls are no-ops.
func (s *Stream[T]) Finish() {
	if s.finished.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Completed reports whether the producer has finished.
func (s *Stream[T]) Completed() bool { return s.finished.Load() }

// Close stops the stream from the consumer side. Pending and later sends
// fail with ErrStreamClosed.
func (s *Stream[T]) Close() { s.stop(ErrStreamClosed) }

// Next returns the next value. It returns io.EOF after the producer has
// finished and every value has been read.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	v, _, err := s.next(ctx)
	return v, err
}

func (s *Stream[T]) next(ctx context.Context) (T, bool, error) {
	var zero T
	select {
	case it, ok := <-s.ch:
		if !ok {
			return zero, true, io.EOF
		}
		return it.v, false, it.err
	case <-s.done:
		return zero, true, s.cause
	case <-ctx.Done():
		return zero, true, ctx.Err()
	}
}

// All ranges over the stream until it ends. Errors delivered by the
// producer are yielded without ending the range; a closed stream or a done
// ctx is yielded once as the last pair. Breaking out of the loop closes the
// stream.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, last, err := s.next(ctx)
			if errors.Is(err, io.EOF) && last {
				return
			}
			if !yield(v, err) {
				s.Close()
				return
			}
			if last {
				return
			}
		}
	}
}

// Produce runs fn on a worker of p and finishes the stream when it returns.
// When ctx is done the stream stops and the producer's sends fail; the
// foreign call itself runs until it notices. A panic inside fn is delivered
// to the consumer as *Fault.
func (s *Stream[T]) Produce(ctx context.Context, p *Pool, fn func()) error {
	if p == nil {
		p = DefaultPool()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	stopWatch := context.AfterFunc(ctx, func() { s.stop(ctx.Err()) })
	go func() {
		defer p.sem.Release(1)
		defer s.Finish()
		defer stopWatch()
		defer func() {
			if r := recover(); r != nil {
				_ = s.Fail(&Fault{Value: r, Stack: debug.Stack()})
			}
		}()
		fn()
	}()
	return nil
}

// push copies n elements at p into the stream. It reports whether the
// producer should keep going.
func (s *Stream[T]) push(p unsafe.Pointer, n int) bool {
	if n <= 0 || p == nil {
		return !s.stopped()
	}
	for _, v := range unsafe.Slice((*T)(p), n) {
		if s.Send(v) != nil {
			return false
		}
	}
	return true
}

func (s *Stream[T]) fail(msg string) bool {
	return s.Fail(&NativeError{Msg: msg}) == nil
}

type sink interface {
	push(p unsafe.Pointer, n int) bool
	fail(msg string) bool
}

var (
	sinks    sync.Map
	nextSink atomic.Uintptr
)

// AttachStream registers s and returns the id foreign code pushes to.
func AttachStream[T any](s *Stream[T]) uintptr {
	id := nextSink.Add(1)
	sinks.Store(id, sink(s))
	return id
}

// DetachStream forgets id. Pushes to it fail from then on.
func DetachStream(id uintptr) { sinks.Delete(id) }

// PushStream copies n elements at p into the stream registered as id.
// It reports false when the stream is gone or closed.
func PushStream(id uintptr, p unsafe.Pointer, n int) bool {
	v, ok := sinks.Load(id)
	if !ok {
		return false
	}
	return v.(sink).push(p, n)
}

// FailStream delivers a *NativeError to the stream registered as id.
func FailStream(id uintptr, msg string) bool {
	v, ok := sinks.Load(id)
	if !ok {
		return false
	}
	return v.(sink).fail(msg)
}
