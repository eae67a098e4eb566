package ebr

import (
	"sync"
	"sync/atomic"
	"testing"
)

func sealedBagOf(t *testing.T, e Epoch, ran *bool) SealedBag {
	t.Helper()
	var b Bag
	if err := b.Push(NewDeferredFunc(func() { *ran = true }), e); err != nil {
		t.Fatalf("push: %v", err)
	}
	return b.Seal()
}

func TestGarbageQueuePopEmpty(t *testing.T) {
	q := NewGarbageQueue()
	if _, ok := q.Pop(); ok {
		t.Error("Pop on an empty queue should report ok=false")
	}
}

func TestGarbageQueueFIFOOrder(t *testing.T) {
	q := NewGarbageQueue()
	var ran [3]bool
	q.Push(sealedBagOf(t, ZeroEpoch, &ran[0]))
	q.Push(sealedBagOf(t, ZeroEpoch.Next(), &ran[1]))
	q.Push(sealedBagOf(t, ZeroEpoch.Next().Next(), &ran[2]))

	for i := 0; i < 3; i++ {
		bag, ok := q.Pop()
		if !ok {
			t.Fatalf("expected a bag at position %d", i)
		}
		want := Epoch{raw: uint32(i)}
		if !bag.Epoch().Equal(want) {
			t.Errorf("position %d: epoch = %v, want %v (FIFO order violated)", i, bag.Epoch(), want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("queue should be empty after draining all three bags")
	}
}

func TestGarbageQueuePopIfReadyLeavesUnsafeHeadInPlace(t *testing.T) {
	q := NewGarbageQueue()
	var ran bool
	q.Push(sealedBagOf(t, ZeroEpoch, &ran))

	if _, ok := q.PopIfReady(ZeroEpoch.Next()); ok {
		t.Fatal("head has passed by only 1 relative to ZeroEpoch.Next(), should not pop")
	}
	if q.Len() != 1 {
		t.Fatalf("queue should still report the untouched entry, Len() = %d", q.Len())
	}

	far := ZeroEpoch.Next().Next()
	bag, ok := q.PopIfReady(far)
	if !ok {
		t.Fatal("head should be ready once now has passed it by 2")
	}
	if bag.Len() != 1 {
		t.Errorf("unexpected bag length %d", bag.Len())
	}
}

func TestGarbageQueueConcurrentPushPop(t *testing.T) {
	q := NewGarbageQueue()
	const n = 2000
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			var ran bool
			q.Push(sealedBagOf(t, ZeroEpoch, &ran))
		}
	}()

	var got atomic.Int64
	wg.Add(1)
	go func() {
		defer wg.Done()
		for got.Load() < n {
			if _, ok := q.Pop(); ok {
				got.Add(1)
			}
		}
	}()

	wg.Wait()
	if got.Load() != n {
		t.Errorf("popped %d entries, want %d", got.Load(), n)
	}
}

func TestGarbageQueueDrainAll(t *testing.T) {
	q := NewGarbageQueue()
	var ran [5]bool
	for i := range ran {
		q.Push(sealedBagOf(t, ZeroEpoch, &ran[i]))
	}
	total := q.DrainAll()
	if total != 5 {
		t.Errorf("DrainAll returned %d, want 5", total)
	}
	for i, r := range ran {
		if !r {
			t.Errorf("entry %d was not run by DrainAll", i)
		}
	}
}
