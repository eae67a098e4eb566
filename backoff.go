package ebr

import (
	"runtime"
	_ "unsafe" // for go:linkname
)

// procyield issues one active-spin pause instruction, borrowing the
// same runtime hook the standard library's own sync.Mutex spin path
// uses. Grounded in other_examples' ZenQ lib_runtime_linkage.go, which
// links against this identical family of unexported sync/runtime
// spin helpers.
//
//go:linkname procyield sync.runtime_doSpin
func procyield()

// spinLimit and yieldLimit bound Backoff's escalation, matching
// original_source/src/backoff.rs.
const (
	spinLimit  uint32 = 6
	yieldLimit uint32 = 10
)

// Backoff implements the exponential spin/yield strategy used by the
// garbage queue's CAS retry loops. It is not safe for concurrent use
// by multiple goroutines; each retry loop owns its own Backoff value.
type Backoff struct {
	step uint32
}

// Reset returns Backoff to its initial, most aggressive spin state.
func (b *Backoff) Reset() {
	b.step = 0
}

// Spin issues a bounded burst of CPU-yielding pause instructions, for
// use in short, latency-sensitive retry loops (e.g. a single CAS
// retry) that should never fall back to descheduling the goroutine.
func (b *Backoff) Spin() {
	n := b.step
	if n > spinLimit {
		n = spinLimit
	}
	for i := uint32(0); i < (1 << n); i++ {
		procyield()
	}
	if b.step <= spinLimit {
		b.step++
	}
}

// Snooze spins for a bounded number of steps, then escalates to
// yielding the goroutine's slot on its OS thread via runtime.Gosched,
// the Go-native equivalent of original_source/src/backoff.rs's
// std::thread::yield_now fallback.
func (b *Backoff) Snooze() {
	if b.step <= spinLimit {
		for i := uint32(0); i < (1 << b.step); i++ {
			procyield()
		}
	} else {
		runtime.Gosched()
	}
	if b.step <= yieldLimit {
		b.step++
	}
}

// IsCompleted reports whether Backoff has escalated past the point
// where further retrying by spinning makes sense; callers that see
// true should consider a longer sleep or surfacing contention to the
// caller.
func (b *Backoff) IsCompleted() bool {
	return b.step > yieldLimit
}
