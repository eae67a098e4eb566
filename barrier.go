package ebr

// strongBarrier is a process-wide memory barrier: after it returns,
// every Relaxed store any participant issued before its own prior
// light barrier is guaranteed visible to the loads that follow. It is
// the only heavy primitive in this package and is issued only from
// Global.TryAdvance, never from a participant's fast path.
//
// lightBarrier is the per-pin counterpart issued by LocalState.Enter
// and CrossThread.Enter: a compiler fence when the platform provides
// a real strong barrier elsewhere (see barrier_linux.go), or a full
// SeqCst fence when it does not (barrier_other.go).
//
// Grounded on original_source/src/barrier.rs, which picks between a
// Linux membarrier()-backed strategy and a sequentially-consistent
// fence fallback, decided once at process start and cached.
var (
	strongBarrier func()
	lightBarrier  func()
)
