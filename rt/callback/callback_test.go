package callback

import (
	"context"
	"errors"
	"io"
	"testing"
	"unsafe"

	"github.com/layola13/autozig/rt"
)

func TestAttach_RoutesPushes(t *testing.T) {
	s := rt.NewStream[float32](2)
	id := Attach(s)
	if id == 0 {
		t.Fatal("Attach returned the zero sink")
	}
	other := Attach(rt.NewStream[float32](0))
	defer Detach(other)
	if other == id {
		t.Fatal("sinks must be distinct")
	}

	vals := []float32{1.5, 2.5}
	if !rt.PushStream(id, unsafe.Pointer(&vals[0]), len(vals)) {
		t.Fatal("push to an attached stream failed")
	}
	Detach(id)
	if rt.PushStream(id, unsafe.Pointer(&vals[0]), 1) {
		t.Fatal("push after Detach succeeded")
	}
	s.Finish()

	ctx := context.Background()
	for _, want := range vals {
		got, err := s.Next(ctx)
		if err != nil || got != want {
			t.Fatalf("Next = %v, %v; want %v", got, err, want)
		}
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Next at end = %v, want io.EOF", err)
	}
}
