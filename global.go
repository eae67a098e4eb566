package ebr

import (
	"sync"
	"sync/atomic"
)

// Global is the state shared by every Participant of one Collector
// (each Collector owns its own Global): the global epoch counter, the table of currently
// registered goroutines, the shared CrossThread guard for unregistered
// callers, and the GarbageQueue of sealed, not-yet-destroyed batches.
//
// Grounded on original_source/src/internal.rs's Global struct.
type Global struct {
	epoch AtomicEpoch

	tableMu sync.Mutex
	table   map[*LocalState]struct{}
	cookie  uint64

	crossThread *CrossThread
	queue       *GarbageQueue

	garbageBytes atomic.Int64
	byteCeiling  int64
	advanceEvery uint32
}

func newGlobal(byteCeiling int64, advanceEvery uint32) *Global {
	g := &Global{
		table:        make(map[*LocalState]struct{}),
		queue:        NewGarbageQueue(),
		byteCeiling:  byteCeiling,
		advanceEvery: advanceEvery,
	}
	g.epoch.Store(ZeroEpoch)
	g.crossThread = newCrossThread(g)
	return g
}

func (g *Global) register() *LocalState {
	ls := newLocalState(g)
	g.tableMu.Lock()
	g.table[ls] = struct{}{}
	g.cookie++
	g.tableMu.Unlock()
	return ls
}

func (g *Global) unregister(ls *LocalState) {
	g.tableMu.Lock()
	delete(g.table, ls)
	g.cookie++
	g.tableMu.Unlock()
}

// TryAdvance attempts to move the global epoch forward by one step. It
// succeeds only if every currently pinned participant (registered
// LocalStates and the shared CrossThread guard) is pinned at the
// current global epoch rather than some older one it hasn't yet
// noticed has advanced; a participant pinned at an older epoch means
// reclamation has not yet caught up with it, so advancing further
// would let garbage be freed while it might still be observing it.
//
// Implements spec.md §4.7's advance algorithm: snapshot, strong
// barrier, scan, re-snapshot, CAS.
func (g *Global) TryAdvance() (Epoch, bool) {
	current := g.epoch.Load()

	g.tableMu.Lock()
	cookieBefore := g.cookie
	g.tableMu.Unlock()

	// The strong barrier ensures every participant's most recent pin
	// (a Relaxed store) is visible to this scan before we read any of
	// their epochs, and that a participant re-pinning concurrently will
	// observe the eventual epoch CAS below rather than racing past it.
	strongBarrier()

	if ce := g.crossThread.guardedEpoch(); ce.IsPinned() && !ce.Equal(current.Pinned()) {
		return current, false
	}

	g.tableMu.Lock()
	for ls := range g.table {
		e := ls.guardedEpoch()
		if e.IsPinned() && !e.Equal(current.Pinned()) {
			g.tableMu.Unlock()
			return current, false
		}
	}
	cookieAfter := g.cookie
	g.tableMu.Unlock()

	if cookieAfter != cookieBefore {
		// The table changed mid-scan (a registration or release raced
		// with us); a goroutine we never saw could be pinned at the
		// old epoch, so don't trust the scan above.
		return current, false
	}

	next, ok := g.epoch.TryAdvance(current)
	if !ok {
		// Another participant already advanced it; that's success from
		// this caller's perspective too.
		return g.epoch.Load(), true
	}
	return next, true
}

// TryAdvanceAndCollect attempts to advance the epoch and, whether or
// not it succeeds, drains every GarbageQueue entry that has become
// safe relative to the (possibly just-advanced) current epoch.
func (g *Global) TryAdvanceAndCollect(hint Epoch) {
	g.TryAdvance()
	now := g.epoch.Load()
	for {
		bag, ok := g.queue.PopIfReady(now)
		if !ok {
			return
		}
		remaining, _ := bag.drainReady(now)
		if !remaining.isExhausted() {
			// Should not happen: PopIfReady already checked the
			// bag-level maximum epoch, and entries are non-decreasing,
			// so a ready bag is always fully ready. Guard against a
			// future change to that invariant by requeuing the rest
			// rather than dropping it.
			g.queue.Push(remaining)
			return
		}
		g.garbageBytes.Add(-int64(bag.Len()))
	}
}

// shouldAdvance reports whether accumulated garbage has crossed the
// configured byte ceiling, used by LocalState and CrossThread on both
// retire and shield release to try to advance eagerly rather than
// waiting for the periodic counter-based trigger (SPEC_FULL.md §E.2).
func (g *Global) shouldAdvance() bool {
	return g.byteCeiling > 0 && g.garbageBytes.Load() >= g.byteCeiling
}
