package ebr

import (
	"reflect"
	"sync"
	"unsafe"
)

// inlineWords bounds how large a captured value may be and still be
// stored inline in a Deferred, mirroring
// original_source/src/deferred.rs's DATA_SIZE = 3 machine words.
const inlineWords = 3

// inlineData is raw inline storage for a captured value that contains
// no pointers of its own. Because its element type is uintptr rather
// than unsafe.Pointer, the garbage collector never scans it: that is
// exactly what makes it safe to hold arbitrary POD bytes here, and
// exactly why it must never be used to smuggle an actual pointer
// (see NewDeferred).
type inlineData [inlineWords]uintptr

// Deferred is a type-erased, one-shot callable with no arguments and
// no return value. Bag and GarbageQueue call each Deferred exactly
// once; Call itself does not detect a second call on the same value
// and runs the closure again (see Call).
//
// Ported from original_source/src/deferred.rs's (call, data) pair.
// The Rust original stores a closure's captured environment as raw
// bytes in its inline slot unconditionally, which is sound there
// because Rust's allocator never moves or frees memory out from under
// a value the type system still considers live. Go's collector makes
// no such promise for a uintptr: a pointer round-tripped through one
// is invisible to it and can be collected while still "in use". So a
// captured value is only ever put in the raw inlineData slot when
// reflection confirms it holds no pointers; anything else — a boxed
// closure's funcval, a struct with a pointer field, a too-large POD
// value — is kept behind a field the collector actually scans.
type Deferred struct {
	data   inlineData
	boxPtr unsafe.Pointer // owns a pointer-free payload Alloc'd too large for data
	box    any            // owns a payload that itself contains pointers
	call   func(*Deferred)
}

// pointerFreeCache memoizes the recursive field walk in isPointerFree
// per reflect.Type; NewDeferred is meant to sit on retire()'s hot path
// and repeating the walk on every call would defeat that.
var pointerFreeCache sync.Map // reflect.Type -> bool

// isPointerFree reports whether values of type t can never contain a
// pointer the garbage collector would need to trace — t is nil when
// T is itself an interface type whose zero value carries no concrete
// type, which is treated conservatively as "may contain a pointer".
func isPointerFree(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if v, ok := pointerFreeCache.Load(t); ok {
		return v.(bool)
	}
	result := scanPointerFree(t)
	pointerFreeCache.Store(t, result)
	return result
}

// scanPointerFree needs no cycle check: a type can only refer to
// itself through a pointer, slice, map or similar, all of which end
// the walk with false before recursing.
func scanPointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		if t.Len() == 0 {
			return true
		}
		return scanPointerFree(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !scanPointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		// Ptr, Slice, Map, Chan, Func, Interface, String, UnsafePointer:
		// every one of these carries a pointer the collector must trace.
		return false
	}
}

// NewDeferred builds a Deferred that invokes fn with the captured
// value when run.
//
// A value is stored inline, with no separate box for it, only when two
// conditions both hold: reflection shows its type contains no
// pointers, and it fits within inlineWords machine words at no more
// than word alignment. The inline path is not allocation-free: the
// thunk closing over fn is a heap-allocated closure, and Call's
// receiver copy escapes to the heap as well (two allocations per
// construct-and-call). A pointer-free value that is too large or too
// strictly aligned is instead boxed through alloc (or the package
// default allocator if alloc is nil); that boxed memory is still
// never scanned for pointers, so this path remains sound precisely
// because the type was already proven pointer-free. Any value whose
// type does contain a pointer is boxed through a plain Go allocation
// instead (bypassing alloc, whose untyped buffers the collector would
// not trace), stored behind an any field the collector does track.
func NewDeferred[T any](value T, fn func(T), alloc Allocator) Deferred {
	var zero T
	podFree := isPointerFree(reflect.TypeOf(zero))
	size := unsafe.Sizeof(zero)
	align := unsafe.Alignof(zero)

	if podFree && size <= unsafe.Sizeof(inlineData{}) && align <= unsafe.Alignof(inlineData{}) {
		var d Deferred
		*(*T)(unsafe.Pointer(&d.data)) = value
		d.call = func(dd *Deferred) {
			v := *(*T)(unsafe.Pointer(&dd.data))
			fn(v)
		}
		return d
	}

	if podFree {
		if alloc == nil {
			alloc = DefaultAllocator
		}
		ptr := alloc.Alloc(size, align)
		*(*T)(ptr) = value
		d := Deferred{boxPtr: ptr}
		d.call = func(dd *Deferred) {
			v := *(*T)(dd.boxPtr)
			alloc.Free(dd.boxPtr, size, align)
			fn(v)
		}
		return d
	}

	boxed := new(T)
	*boxed = value
	return Deferred{
		box: boxed,
		call: func(dd *Deferred) {
			v := dd.box.(*T)
			fn(*v)
		},
	}
}

// NewDeferredFunc boxes a plain closure (a func() that has already
// captured whatever state it needs in the usual Go way) as a
// Deferred. A func value always contains a pointer to its funcval, so
// it is always boxed via a real Go pointer rather than inlined — this
// is the common case for Shield.Retire.
func NewDeferredFunc(fn func()) Deferred {
	return NewDeferred(fn, func(f func()) { f() }, nil)
}

// Call invokes the captured closure exactly once, consuming d. Calling
// Call twice on the same Deferred value invokes the thunk twice, which
// for the boxed path would double-free; callers (Bag, GarbageQueue)
// must guarantee single invocation by construction, as Bag does by
// draining its slice once.
func (d Deferred) Call() {
	d.call(&d)
}
