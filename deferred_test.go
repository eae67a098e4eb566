package ebr

import "testing"

func TestDeferredInlineSmallValue(t *testing.T) {
	var ran bool
	d := NewDeferred(42, func(v int) {
		ran = true
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	}, nil)
	d.Call()
	if !ran {
		t.Error("closure never ran")
	}
}

func TestDeferredSpilledLargeValue(t *testing.T) {
	type big struct {
		data [64]byte
		tag  int
	}
	var got big
	val := big{tag: 7}
	val.data[0] = 9

	d := NewDeferred(val, func(v big) {
		got = v
	}, NewPooledAllocator())
	d.Call()

	if got.tag != 7 || got.data[0] != 9 {
		t.Errorf("spilled value corrupted: got %+v", got)
	}
}

func TestNewDeferredFunc(t *testing.T) {
	calls := 0
	d := NewDeferredFunc(func() { calls++ })
	d.Call()
	if calls != 1 {
		t.Errorf("expected exactly one call, got %d", calls)
	}
}

func TestDeferredFuncCapturesClosureState(t *testing.T) {
	results := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		i := i
		d := NewDeferredFunc(func() { results = append(results, i) })
		d.Call()
	}
	for i, v := range results {
		if v != i {
			t.Errorf("results[%d] = %d, want %d", i, v, i)
		}
	}
}
