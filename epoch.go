package ebr

import "sync/atomic"

// pinMask is the high bit of the packed epoch word. The remaining bits
// hold the 3-value epoch cycle.
const pinMask uint32 = 1 << 31

// epochCycle is the number of distinct unpinned epoch values.
const epochCycle uint32 = 3

// Epoch is a small value type: a 2-bit cycle counter (values 0,1,2)
// packed with a one-bit "pinned" flag in the high bit of a machine
// word. It is always passed and returned by value.
type Epoch struct {
	raw uint32
}

// ZeroEpoch is the unpinned sentinel epoch participants reset to on exit.
var ZeroEpoch = Epoch{raw: 0}

// Pinned returns e with the pinned bit set.
func (e Epoch) Pinned() Epoch {
	return Epoch{raw: e.raw | pinMask}
}

// Unpinned returns e with the pinned bit cleared.
func (e Epoch) Unpinned() Epoch {
	return Epoch{raw: e.raw &^ pinMask}
}

// IsPinned reports whether e carries the pinned flag.
func (e Epoch) IsPinned() bool {
	return e.raw&pinMask != 0
}

// Next advances an unpinned epoch by one step of the 3-value cycle.
// Next panics if called on a pinned epoch: advancing only ever makes
// sense for the bare counter.
func (e Epoch) Next() Epoch {
	if e.IsPinned() {
		panic("ebr: Next called on a pinned epoch")
	}
	return Epoch{raw: (e.raw + 1) % epochCycle}
}

// value returns the bare counter value, ignoring the pinned bit.
func (e Epoch) value() uint32 {
	return e.raw &^ pinMask
}

// HasPassedBy reports whether at least k epoch advances separate
// e (a bag's scheduling epoch) from now (the current global epoch),
// on the 3-value cyclic counter. Reclamation uses k=2.
func (e Epoch) HasPassedBy(now Epoch, k uint32) bool {
	diff := (now.value() + epochCycle - e.value()) % epochCycle
	return diff >= k
}

// Equal compares two epochs by their full packed representation
// (counter and pinned bit).
func (e Epoch) Equal(o Epoch) bool {
	return e.raw == o.raw
}

// AtomicEpoch is an atomically-accessed Epoch word. Ordinary
// participant epochs are stored Relaxed and synchronized via the
// explicit barrier primitives in barrier.go, not via acquire/release.
type AtomicEpoch struct {
	raw atomic.Uint32
}

// NewAtomicEpoch constructs an AtomicEpoch initialized to e.
func NewAtomicEpoch(e Epoch) *AtomicEpoch {
	a := &AtomicEpoch{}
	a.raw.Store(e.raw)
	return a
}

// Load reads the current value. Callers choose Relaxed everywhere
// except where a specific ordering is called out in the spec; Go's
// atomic package does not expose ordering as a parameter; this
// project uses explicit barrier.go calls for the cases where Relaxed
// is not sufficient, matching the "Relaxed loads + explicit fences"
// discipline of the original.
func (a *AtomicEpoch) Load() Epoch {
	return Epoch{raw: a.raw.Load()}
}

// Store writes e unconditionally.
func (a *AtomicEpoch) Store(e Epoch) {
	a.raw.Store(e.raw)
}

// TryAdvance attempts a compare-and-swap from current to current.Next().
// It is the only writer of the global epoch; all other writes to
// participant epochs use Store directly.
func (a *AtomicEpoch) TryAdvance(current Epoch) (Epoch, bool) {
	next := current.Next()
	if a.raw.CompareAndSwap(current.raw, next.raw) {
		return next, true
	}
	return Epoch{}, false
}
