package ebr

import "sync/atomic"

// LocalState is the per-goroutine record registered with a Collector's
// thread table. It tracks the goroutine's pinned epoch, how many
// Shields it currently holds, a running advance counter used to decide
// when to opportunistically drive the global epoch forward, and a
// private, unshared in-progress Bag for closures the goroutine retires
// itself.
//
// Grounded on original_source/src/internal.rs's Local struct; padded
// to a cache line per spec.md §4.6 since every participant's
// LocalState sits in a shared table other goroutines scan during
// Global.TryAdvance, and false sharing between neighboring entries
// would otherwise make every pin on one goroutine cost a cache miss on
// its neighbors.
type LocalState struct {
	epoch      AtomicEpoch
	_          cacheLinePad
	guardCnt   atomic.Uint32
	_          cacheLinePad
	advanceCnt atomic.Uint32

	bag    Bag
	global *Global
}

func newLocalState(global *Global) *LocalState {
	ls := &LocalState{global: global}
	ls.epoch.Store(ZeroEpoch.Unpinned())
	return ls
}

// IsPinned reports whether the calling goroutine currently holds at
// least one Shield sourced from this LocalState.
func (ls *LocalState) IsPinned() bool {
	return ls.epoch.Load().IsPinned()
}

// guardedEpoch returns the epoch this LocalState is pinned at, or the
// unpinned zero epoch if it is currently unpinned (used by
// Global.TryAdvance when deciding whether this participant blocks
// reclamation).
func (ls *LocalState) guardedEpoch() Epoch {
	return ls.epoch.Load()
}

// enter pins ls at the current global epoch if this is the outermost
// Shield on this goroutine; nested Shields just bump guardCnt. Mirrors
// original_source/src/internal.rs's Local::pin.
func (ls *LocalState) enter() {
	if ls.guardCnt.Add(1) == 1 {
		global := ls.global.epoch.Load()
		pinned := global.Pinned()
		ls.epoch.Store(pinned)
		lightBarrier()
	}
}

// leave unpins ls once its outermost Shield releases, and — on that
// same 0 transition — opportunistically tries to advance the global
// epoch, gated by the exit counter reaching advanceEvery (with some
// garbage actually queued) or the garbage-byte ceiling having been
// crossed. spec.md §4.5 places this trigger on exit, not on retire:
// a goroutine that bursts retirements and then goes idle must still
// get a chance to drain on its next shield release.
func (ls *LocalState) leave() {
	if ls.guardCnt.Add(^uint32(0)) != 0 {
		return
	}
	ls.epoch.Store(ZeroEpoch.Unpinned())

	cnt := ls.advanceCnt.Add(1)
	counterDue := cnt%ls.global.advanceEvery == 0 && ls.global.garbageBytes.Load() > 0
	if counterDue || ls.global.shouldAdvance() {
		ls.global.TryAdvanceAndCollect(ls.global.epoch.Load())
	}
}

// retire stages d for destruction once no participant can still
// observe the epoch at which it was retired. The private bag is
// sealed and handed to the shared GarbageQueue once full; if queued
// garbage has crossed the byte ceiling, retire eagerly tries to
// advance rather than waiting for the next shield release (spec.md
// §4.5's exit counter is the periodic trigger; this is the eager one).
func (ls *LocalState) retire(d Deferred) {
	now := ls.global.epoch.Load()
	if err := ls.bag.Push(d, now); err != nil {
		ls.flushBag()
		_ = ls.bag.Push(d, now)
	}
	if ls.global.shouldAdvance() {
		ls.global.TryAdvanceAndCollect(now)
	}
}

// flushBag seals the private bag (if non-empty) onto the shared
// GarbageQueue, regardless of whether it is full, so that a
// long-idle-but-pinned goroutine does not hoard retired closures
// indefinitely.
func (ls *LocalState) flushBag() {
	if ls.bag.IsEmpty() {
		return
	}
	sealed := ls.bag.Seal()
	ls.global.queue.Push(sealed)
	ls.global.garbageBytes.Add(int64(sealed.Len()))
}

// Participant is the public per-goroutine handle returned by
// Collector.Local. It amortizes the cost of locating this goroutine's
// LocalState (spec.md §6's local() vs thin/full-shield distinction,
// resolved as SPEC_FULL.md §D.1) across repeated pin/unpin cycles, the
// way a hot loop would otherwise call Collector.ThinShield every
// iteration.
type Participant struct {
	local *LocalState
	cache *participantCache
}

// ThinShield pins the participant's goroutine and returns a guard that
// defers reclamation until released, without giving access to a
// private Bag for retiring closures (spec.md §4.8).
func (p *Participant) ThinShield() *ThinShield {
	p.local.enter()
	return &ThinShield{local: p.local}
}

// FullShield pins the participant's goroutine and returns a guard that
// additionally allows retiring closures through this goroutine's own
// Bag (spec.md §4.8).
func (p *Participant) FullShield() *FullShield {
	p.local.enter()
	return &FullShield{local: p.local}
}

// IsPinned reports whether this goroutine currently holds a Shield.
func (p *Participant) IsPinned() bool {
	return p.local.IsPinned()
}

// Release unregisters the participant from its Collector's thread
// table, and evicts it from the Collector's per-goroutine Participant
// cache so a later Collector.Local call from the same goroutine
// registers a fresh one rather than reusing this one. It must only be
// called once no Shield sourced from this Participant is still
// outstanding.
func (p *Participant) Release() {
	p.local.flushBag()
	p.local.global.unregister(p.local)
	if p.cache != nil {
		p.cache.evict()
	}
}
