package rt

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// ErrReleased is the panic value raised when a released handle is used.
var ErrReleased = errors.New("rt: handle used after release")

// AllocationError is the panic value raised when a native constructor
// returns a null pointer.
type AllocationError struct {
	Type string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("rt: native allocation failed for %s", e.Type)
}

// noCopy may be embedded into structs which must not be copied after first
// use. See go vet -copylocks.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle owns a non-null native pointer. The zero value is unbound.
type Handle struct {
	_   noCopy
	res *resource
}

type resource struct {
	name     string
	ptr      unsafe.Pointer
	free     func(unsafe.Pointer)
	once     sync.Once
	released atomic.Bool
	cleanup  runtime.Cleanup
}

func (r *resource) release() {
	r.once.Do(func() {
		r.released.Store(true)
		if r.free != nil {
			r.free(r.ptr)
		}
	})
}

// Bind attaches p to h and arranges for free to run exactly once, either on
// Release or after owner becomes unreachable. A nil p panics with
// *AllocationError instead of producing an unusable handle.
func Bind[T any](owner *T, h *Handle, name string, p unsafe.Pointer, free func(unsafe.Pointer)) {
	if p == nil {
		panic(&AllocationError{Type: name})
	}
	r := &resource{name: name, ptr: p, free: free}
	h.res = r
	r.cleanup = runtime.AddCleanup(owner, func(r *resource) { r.release() }, r)
}

// Ptr returns the native pointer. It panics with ErrReleased once the
// handle has been released and with *AllocationError if it was never bound.
func (h *Handle) Ptr() unsafe.Pointer {
	if h.res == nil {
		panic(&AllocationError{Type: "unbound handle"})
	}
	if h.res.released.Load() {
		panic(ErrReleased)
	}
	return h.res.ptr
}

// Release frees the native resource. Later calls are no-ops.
func (h *Handle) Release() {
	if h.res == nil {
		return
	}
	h.res.cleanup.Stop()
	h.res.release()
}

// Released reports whether the native resource has been freed.
func (h *Handle) Released() bool {
	return h.res == nil || h.res.released.Load()
}

// String describes the handle for logs.
func (h *Handle) String() string {
	switch {
	case h.res == nil:
		return "rt.Handle(unbound)"
	case h.res.released.Load():
		return "rt.Handle(" + h.res.name + ", released)"
	default:
		return fmt.Sprintf("rt.Handle(%s, %p)", h.res.name, h.res.ptr)
	}
}
