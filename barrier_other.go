//go:build !linux

package ebr

import "sync/atomic"

// On platforms without a cheap process-wide barrier syscall (no
// analogue of Linux's membarrier(2) is wired up here for Windows'
// FlushProcessWriteBuffers or macOS' mprotect trick — design-notes §9
// calls these out as the preferred specializations, but per spec.md §1
// the OS-specific strategy is an out-of-scope black box; this package
// ships the portable fallback only), both the strong and light
// barriers fall back to a full sequentially-consistent fence, matching
// original_source/src/barrier.rs's non-Linux `fallback` module.
var fenceCounter atomic.Uint32

func init() {
	strongBarrier = seqCstFence
	lightBarrier = seqCstFence
}

func seqCstFence() {
	fenceCounter.Add(1)
}
