package rt

import (
	"fmt"
	"unsafe"
)

// Buffer owns native memory handed over by a foreign call. The elements
// live outside the Go heap until the buffer is released, either by Release
// or after the buffer becomes unreachable.
//
// Slice aliases the native memory, so the buffer must stay reachable for as
// long as the returned slice is used. Use Clone for a copy that outlives it.
type Buffer[T any] struct {
	handle Handle
	n, c   int
}

// TakeBuffer adopts n elements at p, with room for c, and arranges for free
// to run exactly once. A nil p with n == 0 yields an empty buffer that owns
// nothing; free is not called for it. A nil p with elements panics with
// *AllocationError.
func TakeBuffer[T any](p unsafe.Pointer, n, c uintptr, free func()) *Buffer[T] {
	if c < n {
		c = n
	}
	b := &Buffer[T]{n: int(n), c: int(c)}
	if p == nil {
		if n != 0 {
			panic(&AllocationError{Type: bufferName[T]()})
		}
		b.c = 0
		return b
	}
	Bind(b, &b.handle, bufferName[T](), p, func(unsafe.Pointer) {
		if free != nil {
			free()
		}
	})
	return b
}

func bufferName[T any]() string {
	var zero T
	return fmt.Sprintf("rt.Buffer[%T]", zero)
}

// Slice returns the elements in place. It returns nil for an empty buffer
// and panics with ErrReleased once the buffer has been released.
func (b *Buffer[T]) Slice() []T {
	if b.n == 0 && b.handle.res == nil {
		return nil
	}
	p := b.handle.Ptr()
	if b.n == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(p), b.n)
}

// Clone copies the elements into Go memory.
func (b *Buffer[T]) Clone() []T {
	s := b.Slice()
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Len returns the number of elements.
func (b *Buffer[T]) Len() int { return b.n }

// Cap returns the capacity reported by the producer.
func (b *Buffer[T]) Cap() int { return b.c }

// Release frees the native memory. Later calls are no-ops.
func (b *Buffer[T]) Release() { b.handle.Release() }

// Released reports whether the buffer no longer owns native memory.
// An empty buffer never owned any and reports true.
func (b *Buffer[T]) Released() bool { return b.handle.Released() }

func (b *Buffer[T]) String() string {
	return fmt.Sprintf("%s(len=%d, cap=%d)", bufferName[T](), b.n, b.c)
}

var emptyData [1]uint64

// SliceData returns a pointer to the first element of s, or to a static
// placeholder when s is empty. Foreign slice parameters are non-nullable,
// so nil must never be passed for them.
func SliceData[T any](s []T) unsafe.Pointer {
	if len(s) == 0 {
		return unsafe.Pointer(&emptyData)
	}
	return unsafe.Pointer(unsafe.SliceData(s))
}

// StringData is SliceData for strings. The foreign side must not write
// through the pointer.
func StringData(s string) unsafe.Pointer {
	if len(s) == 0 {
		return unsafe.Pointer(&emptyData)
	}
	return unsafe.Pointer(unsafe.StringData(s))
}
