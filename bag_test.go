package ebr

import "testing"

func TestBagPushUntilFull(t *testing.T) {
	var b Bag
	for i := 0; i < BagCapacity; i++ {
		if err := b.Push(NewDeferredFunc(func() {}), ZeroEpoch); err != nil {
			t.Fatalf("push %d: unexpected error %v", i, err)
		}
	}
	if !b.IsFull() {
		t.Error("bag should report full after BagCapacity pushes")
	}
	if err := b.Push(NewDeferredFunc(func() {}), ZeroEpoch); err != ErrBagFull {
		t.Errorf("push past capacity: got %v, want ErrBagFull", err)
	}
}

func TestBagSealResetsAndTagsMaxEpoch(t *testing.T) {
	var b Bag
	e0, e1 := ZeroEpoch, ZeroEpoch.Next()
	_ = b.Push(NewDeferredFunc(func() {}), e0)
	_ = b.Push(NewDeferredFunc(func() {}), e1)

	sealed := b.Seal()
	if !sealed.Epoch().Equal(e1) {
		t.Errorf("sealed epoch = %v, want %v", sealed.Epoch(), e1)
	}
	if sealed.Len() != 2 {
		t.Errorf("sealed length = %d, want 2", sealed.Len())
	}
	if !b.IsEmpty() {
		t.Error("bag should be empty after Seal")
	}
}

func TestSealedBagDrainReadyOnlyRunsPassedEntries(t *testing.T) {
	var ranA, ranB bool
	var b Bag
	_ = b.Push(NewDeferred(0, func(int) { ranA = true }, nil), ZeroEpoch)
	_ = b.Push(NewDeferred(0, func(int) { ranB = true }, nil), ZeroEpoch.Next())
	sealed := b.Seal()

	// now == ZeroEpoch: nothing has passed by 2 yet.
	remaining, n := sealed.drainReady(ZeroEpoch)
	if n != 0 || ranA || ranB {
		t.Fatalf("expected nothing to run yet, ran %d entries (A=%v B=%v)", n, ranA, ranB)
	}

	// now two steps ahead of the oldest entry: only that entry is safe,
	// since the newer one (ZeroEpoch.Next()) has passed by just 1.
	far := ZeroEpoch.Next().Next()
	remaining, n = remaining.drainReady(far)
	if n != 1 || !ranA || ranB {
		t.Fatalf("expected only the older entry to run, ran %d entries (A=%v B=%v)", n, ranA, ranB)
	}

	// One more step (the cycle wraps back to ZeroEpoch) puts the newer
	// entry two steps behind as well.
	remaining, n = remaining.drainReady(far.Next())
	if n != 1 {
		t.Fatalf("expected the newer entry to run, ran %d", n)
	}
	if !ranA || !ranB {
		t.Error("both deferred closures should have run")
	}
	if !remaining.isExhausted() {
		t.Error("sealed bag should be exhausted after draining all entries")
	}
}

func TestBagTryProcessRunsReadyEntriesInOrder(t *testing.T) {
	var order []int
	var b Bag
	_ = b.Push(NewDeferred(1, func(v int) { order = append(order, v) }, nil), ZeroEpoch)
	_ = b.Push(NewDeferred(2, func(v int) { order = append(order, v) }, nil), ZeroEpoch)

	n := b.TryProcess(ZeroEpoch.Next().Next())
	if n != 2 {
		t.Fatalf("expected both entries ready, got %d", n)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("unexpected execution order: %v", order)
	}
	if !b.IsEmpty() {
		t.Error("bag should be empty after TryProcess drains everything ready")
	}
}
