package ebr

import (
	"sync"
	"unsafe"
)

// Allocator is the black-box allocation collaborator spec.md §6
// requires the core be pluggable against. On a garbage-collected
// runtime like Go, Free is a hint rather than a hard requirement: the
// default implementation relies on the Go GC to reclaim memory, and
// Free is a no-op. A pooled implementation (NewPooledAllocator) is
// provided for callers who retire many same-sized boxed closures and
// want to avoid repeated heap allocation.
type Allocator interface {
	// Alloc returns size bytes of align-aligned memory. The memory is
	// not guaranteed to be zeroed: the pooled allocator hands back
	// previously freed blocks as they were.
	Alloc(size, align uintptr) unsafe.Pointer
	// Free releases memory previously returned by Alloc with the same
	// size and align.
	Free(ptr unsafe.Pointer, size, align uintptr)
}

// goAllocator is the default Allocator: it defers entirely to the Go
// runtime's own allocator and garbage collector. Free is a no-op
// because Go offers no manual deallocation primitive; this is the one
// place the Allocator contract is necessarily weaker in Go than in the
// Rust original, where alloc/dealloc are a true pair.
type goAllocator struct{}

func (goAllocator) Alloc(size, align uintptr) unsafe.Pointer {
	// A plain byte slice's backing array satisfies any alignment up to
	// the platform word size. NewDeferred only ever routes a
	// pointer-free value through here, so the fact that the collector
	// cannot see into a []byte's contents is immaterial: there is
	// nothing inside for it to trace.
	buf := make([]byte, size)
	return unsafe.Pointer(&buf[0])
}

func (goAllocator) Free(unsafe.Pointer, uintptr, uintptr) {}

// DefaultAllocator is the package-wide default Allocator, used when a
// Collector is constructed without WithAllocator.
var DefaultAllocator Allocator = goAllocator{}

// pooledAllocator recycles same-sized boxes through a sync.Pool keyed
// by size class, the same pattern other_examples' agilira-lethe buffer
// pool and countless sync.Pool-backed caches in the pack use for
// reusable fixed-size buffers.
type pooledAllocator struct {
	mu    sync.Mutex
	pools map[uintptr]*sync.Pool
}

// NewPooledAllocator returns an Allocator that reuses freed blocks of
// matching size instead of handing them back to the GC immediately.
// Useful when a workload retires many closures that box the same
// captured struct shape.
func NewPooledAllocator() Allocator {
	return &pooledAllocator{pools: make(map[uintptr]*sync.Pool)}
}

func (p *pooledAllocator) poolFor(size uintptr) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.pools[size]
	if !ok {
		pool = &sync.Pool{New: func() any {
			buf := make([]byte, size)
			return &buf
		}}
		p.pools[size] = pool
	}
	return pool
}

func (p *pooledAllocator) Alloc(size, align uintptr) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	buf := p.poolFor(size).Get().(*[]byte)
	return unsafe.Pointer(&(*buf)[0])
}

func (p *pooledAllocator) Free(ptr unsafe.Pointer, size, align uintptr) {
	if size == 0 {
		size = 1
	}
	buf := unsafe.Slice((*byte)(ptr), size)
	p.poolFor(size).Put(&buf)
}
