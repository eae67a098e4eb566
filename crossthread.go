package ebr

import "sync"

// CrossThread is the shared guard used by UnprotectedShield and by any
// caller pinning from a goroutine that never registered its own
// Participant (spec.md §4.8's "awkwardly-named free function" path).
// Because it is shared across every such caller, it cannot use
// LocalState's lock-free guardCnt/epoch pair safely — two unrelated
// goroutines entering and leaving concurrently would race on which
// one's pin point is current — so it is guarded by a single mutex
// instead.
//
// Grounded on original_source/src/internal.rs's Global::try_advance
// handling of the "no thread-local" shared guard case.
type CrossThread struct {
	mu         sync.Mutex
	guardCnt   uint32
	epoch      Epoch
	advanceCnt uint32
	bag        Bag
	global     *Global
}

func newCrossThread(global *Global) *CrossThread {
	return &CrossThread{global: global, epoch: ZeroEpoch.Unpinned()}
}

func (ct *CrossThread) enter() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.guardCnt == 0 {
		ct.epoch = ct.global.epoch.Load().Pinned()
		lightBarrier()
	}
	ct.guardCnt++
}

// leave mirrors LocalState.leave's exit-gated advance trigger
// (spec.md §4.6: "the same for the CrossThread 1→0 transition") —
// same counter-or-ceiling gate, same care to call TryAdvanceAndCollect
// only after releasing ct.mu.
func (ct *CrossThread) leave() {
	ct.mu.Lock()
	ct.guardCnt--
	var shouldTry bool
	if ct.guardCnt == 0 {
		ct.epoch = ZeroEpoch.Unpinned()
		ct.advanceCnt++
		counterDue := ct.advanceCnt%ct.global.advanceEvery == 0 && ct.global.garbageBytes.Load() > 0
		shouldTry = counterDue || ct.global.shouldAdvance()
	}
	ct.mu.Unlock()

	if shouldTry {
		ct.global.TryAdvanceAndCollect(ct.global.epoch.Load())
	}
}

func (ct *CrossThread) guardedEpoch() Epoch {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.epoch
}

func (ct *CrossThread) retire(d Deferred) {
	ct.mu.Lock()
	now := ct.global.epoch.Load()
	if err := ct.bag.Push(d, now); err != nil {
		ct.flushLocked()
		_ = ct.bag.Push(d, now)
	}
	ct.mu.Unlock()

	// TryAdvanceAndCollect must run outside ct.mu: Global.TryAdvance
	// calls back into ct.guardedEpoch, which takes the same lock.
	if ct.global.shouldAdvance() {
		ct.global.TryAdvanceAndCollect(now)
	}
}

func (ct *CrossThread) flushBag() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.flushLocked()
}

func (ct *CrossThread) flushLocked() {
	if ct.bag.IsEmpty() {
		return
	}
	sealed := ct.bag.Seal()
	ct.global.queue.Push(sealed)
	ct.global.garbageBytes.Add(int64(sealed.Len()))
}
