package ebr

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// BagCapacity is the fixed number of (Deferred, Epoch) slots in a Bag,
// per spec.md §3/§4.3.
const BagCapacity = 32

// ErrBagFull is returned by Bag.Push once a Bag has reached
// BagCapacity entries; the caller must Seal it and start a fresh Bag.
var ErrBagFull = errors.New("ebr: bag is full")

type bagEntry struct {
	deferred Deferred
	epoch    Epoch
}

// Bag is a fixed-capacity, append-only batch of retired closures, each
// tagged with the epoch at which it was scheduled. Per the Open
// Question decision recorded in SPEC_FULL.md §E.1, entries keep their
// own epoch (rather than only the bag-level maximum) so a SealedBag
// never runs a not-yet-safe entry early.
//
// Grounded on original_source/src/ebr/bag.rs's ArrayVec-backed Bag.
type Bag struct {
	len     int
	entries [BagCapacity]bagEntry
}

// Push appends (d, e) to the bag. It returns ErrBagFull once the bag
// has reached BagCapacity entries; per spec.md §4.3 a full bag must be
// sealed and replaced, not grown.
func (b *Bag) Push(d Deferred, e Epoch) error {
	if b.len == BagCapacity {
		return ErrBagFull
	}
	b.entries[b.len] = bagEntry{deferred: d, epoch: e}
	b.len++
	return nil
}

// IsFull reports whether the bag has reached BagCapacity entries.
func (b *Bag) IsFull() bool {
	return b.len == BagCapacity
}

// IsEmpty reports whether the bag has no entries.
func (b *Bag) IsEmpty() bool {
	return b.len == 0
}

// Len reports how many entries the bag currently holds.
func (b *Bag) Len() int {
	return b.len
}

// TryProcess invokes (and removes) the longest prefix of entries whose
// epoch has passed by at least 2 relative to now, per spec.md §4.3.
// It is an on-thread shortcut for an unsealed bag; nothing in this
// package calls it, since LocalState and CrossThread always seal their
// bags onto the GarbageQueue. It returns the number of entries run.
func (b *Bag) TryProcess(now Epoch) int {
	i := 0
	for i < b.len && b.entries[i].epoch.HasPassedBy(now, 2) {
		b.entries[i].deferred.Call()
		i++
	}
	if i == 0 {
		return 0
	}
	copy(b.entries[:b.len-i], b.entries[i:b.len])
	b.len -= i
	return i
}

// Seal freezes the bag into an immutable SealedBag tagged with the
// maximum enqueue epoch among its entries, and resets b to empty so
// its caller (LocalState) can keep using the same Bag value for the
// next batch. Sealing an empty bag returns a SealedBag with the
// ZeroEpoch tag; callers should check IsEmpty first if they want to
// avoid publishing empty bags.
func (b *Bag) Seal() SealedBag {
	entries := make([]bagEntry, b.len)
	copy(entries, b.entries[:b.len])

	// Entries are appended in non-decreasing schedule-epoch order
	// (the global epoch only ever moves forward), so the last entry
	// staged carries the bag-level maximum per spec.md §4.3.
	max := ZeroEpoch
	if len(entries) > 0 {
		max = entries[len(entries)-1].epoch
	}

	b.len = 0
	return SealedBag{epoch: max, entries: entries}
}

// SealedBag is an immutable batch of retired closures, placed on the
// GarbageQueue and destroyed once drained. Epoch() is the bag-level
// maximum used for GarbageQueue's cheap head check; draining still
// re-checks each entry's own epoch (SPEC_FULL.md §E.1).
type SealedBag struct {
	epoch   Epoch
	entries []bagEntry
}

// Epoch returns the maximum enqueue epoch among the bag's entries.
func (s SealedBag) Epoch() Epoch {
	return s.epoch
}

// Len reports how many closures remain in the sealed bag.
func (s SealedBag) Len() int {
	return len(s.entries)
}

// drainReady invokes and removes every prefix entry whose own epoch
// has passed by at least 2 relative to now, returning the updated
// SealedBag and the count executed. Because Bag.Push only ever
// advances epochs forward, entries are always in non-decreasing epoch
// order, so a prefix scan is sufficient — no entry after one still
// "too new" can itself be ready.
func (s SealedBag) drainReady(now Epoch) (SealedBag, int) {
	i := 0
	for i < len(s.entries) && s.entries[i].epoch.HasPassedBy(now, 2) {
		s.entries[i].deferred.Call()
		i++
	}
	if i == 0 {
		return s, 0
	}
	return SealedBag{epoch: s.epoch, entries: s.entries[i:]}, i
}

// isExhausted reports whether every entry in the bag has been run.
func (s SealedBag) isExhausted() bool {
	return len(s.entries) == 0
}

// runAll invokes every remaining closure unconditionally, used only
// during Collector teardown (spec.md §7) where safety no longer
// matters because no participant can still be observing anything.
func (s SealedBag) runAll() {
	for _, e := range s.entries {
		e.deferred.Call()
	}
}

// runAllRecover is runAll's teardown-safe sibling: a retired closure
// that panics must not abort the rest of Collector.Close's drain, so
// each call is isolated and any panic is folded into the aggregated
// error the caller returns (SPEC_FULL.md §B, multierr teardown
// draining).
func (s SealedBag) runAllRecover() error {
	var errs error
	for _, e := range s.entries {
		if err := callRecover(e.deferred); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func callRecover(d Deferred) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ebr: retired closure panicked: %v", r)
		}
	}()
	d.Call()
	return nil
}
