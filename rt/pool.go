// Package rt is the runtime support imported by generated autozig bridges.
package rt

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of native calls offloaded at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool creates a pool running at most size calls concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return int(p.size)
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
	defaultPoolMu   sync.RWMutex
)

// DefaultPool returns the pool used by generated async wrappers.
// It is sized to GOMAXPROCS unless replaced with SetDefaultPool.
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPoolMu.Lock()
		if defaultPool == nil {
			defaultPool = NewPool(runtime.GOMAXPROCS(0))
		}
		defaultPoolMu.Unlock()
	})
	defaultPoolMu.RLock()
	defer defaultPoolMu.RUnlock()
	return defaultPool
}

// SetDefaultPool replaces the pool used by generated async wrappers.
// A nil pool restores one sized to GOMAXPROCS.
func SetDefaultPool(p *Pool) {
	if p == nil {
		p = NewPool(runtime.GOMAXPROCS(0))
	}
	defaultPoolOnce.Do(func() {})
	defaultPoolMu.Lock()
	defaultPool = p
	defaultPoolMu.Unlock()
}

// Fault is raised in the caller when an offloaded call panics. Streams
// deliver it from Next instead, since their caller has already returned.
type Fault struct {
	Value any
	Stack []byte
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rt: offloaded call panicked: %v", f.Value)
}

// Unwrap returns the panic value when it is an error.
func (f *Fault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

type outcome[T any] struct {
	value T
	fault *Fault
}

// Run executes fn on a pool worker and waits for it.
//
// If ctx is done first Run returns ctx.Err(); the native call keeps running
// to completion and its result is discarded. A panic inside fn is re-raised
// in the caller as *Fault.
func Run[T any](ctx context.Context, p *Pool, fn func() T) (T, error) {
	var zero T
	if p == nil {
		p = DefaultPool()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer p.sem.Release(1)
		var o outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o.fault = &Fault{Value: r, Stack: debug.Stack()}
			}
			done <- o
		}()
		o.value = fn()
	}()

	select {
	case o := <-done:
		if o.fault != nil {
			panic(o.fault)
		}
		return o.value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
