package ebr

import "testing"

func TestEpochNextCycles(t *testing.T) {
	e := ZeroEpoch
	for i := 0; i < int(epochCycle); i++ {
		e = e.Next()
	}
	if !e.Equal(ZeroEpoch) {
		t.Errorf("epoch did not cycle back to zero after %d Next calls: got %v", epochCycle, e)
	}
}

func TestEpochPinnedUnpinnedRoundtrip(t *testing.T) {
	e := ZeroEpoch.Next()
	p := e.Pinned()
	if !p.IsPinned() {
		t.Error("Pinned() did not set the pin bit")
	}
	if p.value() != e.value() {
		t.Errorf("Pinned() changed the value bits: got %v want %v", p.value(), e.value())
	}
	u := p.Unpinned()
	if u.IsPinned() {
		t.Error("Unpinned() did not clear the pin bit")
	}
	if !u.Equal(e) {
		t.Errorf("Unpinned(Pinned(e)) != e: got %v want %v", u, e)
	}
}

func TestEpochNextPanicsWhenPinned(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Next() on a pinned epoch should panic")
		}
	}()
	ZeroEpoch.Pinned().Next()
}

func TestEpochHasPassedBy(t *testing.T) {
	e0 := ZeroEpoch
	e1 := e0.Next()
	e2 := e1.Next()

	cases := []struct {
		retired, now Epoch
		k            uint32
		want         bool
	}{
		{e0, e0, 2, false},
		{e0, e1, 2, false},
		{e0, e2, 2, true},
		{e1, e1, 2, false},
		{e1, e2, 1, true},
	}
	for _, c := range cases {
		if got := c.retired.HasPassedBy(c.now, c.k); got != c.want {
			t.Errorf("HasPassedBy(retired=%v, now=%v, k=%d) = %v, want %v", c.retired, c.now, c.k, got, c.want)
		}
	}
}

func TestAtomicEpochTryAdvance(t *testing.T) {
	a := NewAtomicEpoch(ZeroEpoch)
	next, ok := a.TryAdvance(ZeroEpoch)
	if !ok {
		t.Fatal("TryAdvance should succeed against a matching current value")
	}
	if !next.Equal(ZeroEpoch.Next()) {
		t.Errorf("TryAdvance produced %v, want %v", next, ZeroEpoch.Next())
	}
	if !a.Load().Equal(next) {
		t.Errorf("stored epoch is %v, want %v", a.Load(), next)
	}

	if _, ok := a.TryAdvance(ZeroEpoch); ok {
		t.Error("TryAdvance should fail once current is stale")
	}
}
