package ebr

import "sync/atomic"

// garbageNode is one link in the GarbageQueue's Michael-Scott style
// intrusive list. Unlike the Rust original (original_source/src/ebr/
// queue.rs), popped nodes are not retired through the reclamation
// scheme themselves: Go's garbage collector already makes
// use-after-free/ABA-on-free impossible for a popped node, which is
// the entire reason original_source needs to fold queue-node freeing
// back into its own EBR scheme. Letting the GC collect popped nodes
// directly is a deliberate simplification.
type garbageNode struct {
	next atomic.Pointer[garbageNode]
	bag  SealedBag
}

// GarbageQueue is an unbounded, lock-free MPMC FIFO of SealedBags.
// Because popped nodes are left to the Go garbage collector (see
// garbageNode), callers need not hold a shield to use it;
// Collector.TryCollectLight and Collector.Close pop without one.
//
// Grounded on original_source/src/ebr/queue.rs's AtomicPtr-linked
// list, generalized from that file's push/iterate-only shape to a
// full Michael & Scott push/pop queue with a dummy head sentinel, so
// that PopIfReady's "peek, and only remove if ready" semantics fall
// out naturally: peeking reads the node after the sentinel without
// performing the CAS that would unlink it.
type GarbageQueue struct {
	head atomic.Pointer[garbageNode]
	tail atomic.Pointer[garbageNode]
	size atomic.Int64
}

// NewGarbageQueue constructs an empty queue.
func NewGarbageQueue() *GarbageQueue {
	sentinel := &garbageNode{}
	q := &GarbageQueue{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push enqueues bag at the tail. Wait-free under no contention,
// lock-free under contention (spec.md §4.4).
func (q *GarbageQueue) Push(bag SealedBag) {
	node := &garbageNode{bag: bag}
	var bo Backoff
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, node) {
				q.tail.CompareAndSwap(tail, node)
				q.size.Add(1)
				return
			}
		} else {
			// Another pusher linked a node but hasn't advanced tail
			// yet; help it along before retrying.
			q.tail.CompareAndSwap(tail, next)
		}
		bo.Spin()
	}
}

// Pop removes and returns the head SealedBag, or reports ok=false if
// the queue is empty (spec.md §7's QueuePopEmpty, surfaced as absence
// rather than an error).
func (q *GarbageQueue) Pop() (bag SealedBag, ok bool) {
	var bo Backoff
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head == tail {
			if next == nil {
				return SealedBag{}, false
			}
			// Tail lags behind; help advance it and retry.
			q.tail.CompareAndSwap(tail, next)
			bo.Spin()
			continue
		}
		value := next.bag
		if q.head.CompareAndSwap(head, next) {
			q.size.Add(-1)
			return value, true
		}
		bo.Spin()
	}
}

// PopIfReady pops the head iff its epoch has passed by at least 2
// relative to now; otherwise it leaves the queue untouched and returns
// ok=false (spec.md §4.4's "peek-then-return", implemented here as a
// plain peek since the head is never removed unless ready).
func (q *GarbageQueue) PopIfReady(now Epoch) (bag SealedBag, ok bool) {
	var bo Backoff
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head == tail {
			if next == nil {
				return SealedBag{}, false
			}
			q.tail.CompareAndSwap(tail, next)
			bo.Spin()
			continue
		}
		if !next.bag.Epoch().HasPassedBy(now, 2) {
			return SealedBag{}, false
		}
		value := next.bag
		if q.head.CompareAndSwap(head, next) {
			q.size.Add(-1)
			return value, true
		}
		bo.Spin()
	}
}

// Len returns an approximate count of bags currently queued. It is
// advisory only (the CAS loops above can transiently over/undercount
// under contention) and must not be used for correctness decisions.
func (q *GarbageQueue) Len() int {
	n := q.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// DrainAll unconditionally pops and runs every remaining bag,
// regardless of epoch. A panicking closure propagates out of it;
// Collector.Close does not use it and instead drains with Pop and
// SealedBag.runAllRecover. It returns the total number of closures
// invoked.
func (q *GarbageQueue) DrainAll() int {
	total := 0
	for {
		bag, ok := q.Pop()
		if !ok {
			return total
		}
		bag.runAll()
		total += bag.Len()
	}
}
