package ebr

// Shield is the common guard capability shared by ThinShield,
// FullShield and UnprotectedShield: while any Shield sourced from a
// goroutine's LocalState (or the shared CrossThread guard) is held,
// the epoch it pinned at cannot be reclaimed past, so every Shared
// pointer read while it is held stays valid for the Shield's lifetime
// (spec.md §4.8).
type Shield interface {
	// Repin drops the current pin and immediately re-pins at whatever
	// the global epoch has advanced to, without fully releasing the
	// guard slot. Use between loop iterations of a long-running scan
	// so a single Shield doesn't block reclamation indefinitely.
	Repin()
	// RepinAfter runs fn with the pin released, then re-pins. Use to
	// perform a blocking operation (e.g. a channel receive) without
	// holding up the collector for its duration.
	RepinAfter(fn func())
	// Release unpins. A Shield must not be used after Release.
	Release()
}

// Retirer is implemented by Shield variants that can stage a closure
// for deferred destruction: FullShield (through the owning
// goroutine's private Bag) and UnprotectedShield (through the shared
// CrossThread Bag). ThinShield deliberately does not implement
// Retirer — spec.md §4.8 reserves retirement for the "full" variant so
// that read-mostly scans taken via ThinShield can't accidentally grow
// an unbounded private Bag.
type Retirer interface {
	Retire(d Deferred)
	Flush()
}

// ThinShield is the lightweight guard: it prevents reclamation of
// anything already visible but cannot retire new garbage itself.
type ThinShield struct {
	local *LocalState
}

func (s *ThinShield) Repin() {
	s.local.leave()
	s.local.enter()
}

func (s *ThinShield) RepinAfter(fn func()) {
	s.local.leave()
	fn()
	s.local.enter()
}

func (s *ThinShield) Release() {
	s.local.leave()
}

var _ Shield = (*ThinShield)(nil)

// FullShield additionally allows retiring closures through the
// pinning goroutine's own private Bag, amortizing the cost of
// publishing to the shared GarbageQueue across up to BagCapacity
// retirements (spec.md §4.8).
type FullShield struct {
	local *LocalState
}

func (s *FullShield) Repin() {
	s.local.leave()
	s.local.enter()
}

func (s *FullShield) RepinAfter(fn func()) {
	s.local.leave()
	fn()
	s.local.enter()
}

func (s *FullShield) Release() {
	s.local.leave()
}

// Retire stages d to run once no Shield can still observe the epoch
// active when Retire was called. d must not access anything also
// reachable through a pointer this Shield (or an older one) might
// still be protecting.
func (s *FullShield) Retire(d Deferred) {
	s.local.retire(d)
}

// Flush forces the goroutine's in-progress Bag onto the shared
// GarbageQueue immediately, rather than waiting for it to fill.
func (s *FullShield) Flush() {
	s.local.flushBag()
}

var (
	_ Shield  = (*FullShield)(nil)
	_ Retirer = (*FullShield)(nil)
)

// UnprotectedShield is obtained for a goroutine that never registered
// its own Participant (spec.md §4.8's "awkwardly-named free function",
// Collector.Unprotected here). It shares a single mutex-guarded
// CrossThread guard and Bag across every such caller, so it is
// correct but slower under contention than a goroutine-local Shield.
type UnprotectedShield struct {
	ct *CrossThread
}

func (s *UnprotectedShield) Repin() {
	s.ct.leave()
	s.ct.enter()
}

func (s *UnprotectedShield) RepinAfter(fn func()) {
	s.ct.leave()
	fn()
	s.ct.enter()
}

func (s *UnprotectedShield) Release() {
	s.ct.leave()
}

func (s *UnprotectedShield) Retire(d Deferred) {
	s.ct.retire(d)
}

func (s *UnprotectedShield) Flush() {
	s.ct.flushBag()
}

var (
	_ Shield  = (*UnprotectedShield)(nil)
	_ Retirer = (*UnprotectedShield)(nil)
)

// ownedOrBorrowed lets an internal helper accept an optional caller
// Shield and fall back to self-pinning a throwaway one, without
// forcing every call site in the package to branch on nil. If the
// wrapped Shield was borrowed from the caller, release is a no-op:
// ownership of its lifetime stays with the caller. This is the Go
// counterpart of original_source/src/guard.rs's CowShield — borrow
// where possible, own only when necessary.
type ownedOrBorrowed struct {
	shield Shield
	owned  bool
}

func borrowShield(s Shield) ownedOrBorrowed {
	return ownedOrBorrowed{shield: s, owned: false}
}

func ownShield(p *Participant) ownedOrBorrowed {
	return ownedOrBorrowed{shield: p.ThinShield(), owned: true}
}

func (o ownedOrBorrowed) release() {
	if o.owned {
		o.shield.Release()
	}
}
