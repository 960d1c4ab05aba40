// Package callback exports the entry points foreign producers use to feed
// an rt.Stream. Generated bridges for stream results import it; the
// symbols are resolved when the final binary is linked.
//
// A Zig producer declares:
//
//	extern fn autozig_stream_push(sink: usize, ptr: *const anyopaque, n: usize) bool;
//	extern fn autozig_stream_fail(sink: usize, msg: [*]const u8, len: usize) void;
//
// n counts elements, not bytes. A false result from autozig_stream_push
// means the consumer is gone and the producer should return.
package callback

/*
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"github.com/layola13/autozig/rt"
)

// Attach registers s for the duration of one foreign call.
func Attach[T any](s *rt.Stream[T]) uintptr { return rt.AttachStream(s) }

// Detach forgets a sink returned by Attach.
func Detach(id uintptr) { rt.DetachStream(id) }

//export autozig_stream_push
func autozig_stream_push(sink C.uintptr_t, ptr unsafe.Pointer, n C.size_t) C.bool {
	return C.bool(rt.PushStream(uintptr(sink), ptr, int(n)))
}

//export autozig_stream_fail
func autozig_stream_fail(sink C.uintptr_t, msg *C.char, n C.size_t) {
	rt.FailStream(uintptr(sink), C.GoStringN(msg, C.int(n)))
}
