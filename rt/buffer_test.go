package rt

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"
)

func nativeInts(vals ...int32) unsafe.Pointer {
	mem := make([]int32, len(vals), len(vals)+2)
	copy(mem, vals)
	return unsafe.Pointer(unsafe.SliceData(mem))
}

func TestTakeBuffer_FreesExactlyOnce(t *testing.T) {
	var frees atomic.Int32
	b := TakeBuffer[int32](nativeInts(1, 2, 3), 3, 5, func() { frees.Add(1) })

	if got := b.Slice(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("Slice() = %v", got)
	}
	if b.Len() != 3 || b.Cap() != 5 {
		t.Fatalf("Len/Cap = %d/%d, want 3/5", b.Len(), b.Cap())
	}
	b.Release()
	b.Release()
	if got := frees.Load(); got != 1 {
		t.Fatalf("free calls = %d, want 1", got)
	}
	if !b.Released() {
		t.Error("Released() = false after Release")
	}
}

func TestTakeBuffer_SliceAfterReleasePanics(t *testing.T) {
	b := TakeBuffer[int32](nativeInts(7), 1, 1, nil)
	b.Release()
	got := expectPanic(t, func() { _ = b.Slice() })
	if err, ok := got.(error); !ok || !errors.Is(err, ErrReleased) {
		t.Fatalf("panic value = %#v, want ErrReleased", got)
	}
}

func TestTakeBuffer_Empty(t *testing.T) {
	called := false
	b := TakeBuffer[float64](nil, 0, 4, func() { called = true })
	if b.Slice() != nil || b.Clone() != nil {
		t.Fatal("empty buffer should yield nil slices")
	}
	if b.Len() != 0 || b.Cap() != 0 {
		t.Fatalf("Len/Cap = %d/%d, want 0/0", b.Len(), b.Cap())
	}
	b.Release()
	if called {
		t.Fatal("free ran for an empty buffer")
	}
}

func TestTakeBuffer_NilWithElementsPanics(t *testing.T) {
	got := expectPanic(t, func() { TakeBuffer[int32](nil, 2, 2, nil) })
	var allocErr *AllocationError
	if err, ok := got.(error); !ok || !errors.As(err, &allocErr) {
		t.Fatalf("panic value = %#v, want *AllocationError", got)
	}
	if allocErr.Type != "rt.Buffer[int32]" {
		t.Errorf("Type = %q", allocErr.Type)
	}
}

func TestTakeBuffer_CloneOutlivesRelease(t *testing.T) {
	b := TakeBuffer[int32](nativeInts(4, 5), 2, 2, nil)
	c := b.Clone()
	b.Release()
	if len(c) != 2 || c[0] != 4 || c[1] != 5 {
		t.Fatalf("Clone() = %v", c)
	}
}

func TestTakeBuffer_CleanupOnUnreachable(t *testing.T) {
	var frees atomic.Int32
	func() {
		_ = TakeBuffer[int32](nativeInts(1), 1, 1, func() { frees.Add(1) })
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

func TestSliceData_NeverNil(t *testing.T) {
	tests := []struct {
		name string
		ptr  unsafe.Pointer
	}{
		{"nil slice", SliceData([]int32(nil))},
		{"empty slice", SliceData([]byte{})},
		{"empty string", StringData("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ptr == nil {
				t.Fatal("got nil pointer")
			}
		})
	}

	data := []uint16{9, 8}
	if SliceData(data) != unsafe.Pointer(&data[0]) {
		t.Error("SliceData should point at the first element")
	}
	s := "zig"
	if StringData(s) != unsafe.Pointer(unsafe.StringData(s)) {
		t.Error("StringData should point at the string bytes")
	}
}
