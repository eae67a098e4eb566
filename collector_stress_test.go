package ebr

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestCollectorStressConcurrentRetireAndCollect pins and retires from
// many goroutines concurrently while a separate goroutine hammers
// TryCollectLight, then asserts every retired closure ran exactly once
// by the time Close returns (spec.md §8's "every retired closure runs
// exactly once" invariant).
func TestCollectorStressConcurrentRetireAndCollect(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 500

	c := New(WithAdvanceProbability(0.25), WithGarbageByteCeiling(64))
	var ran atomic.Int64

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			for j := 0; j < perGoroutine; j++ {
				s := c.FullShield()
				s.Retire(NewDeferredFunc(func() { ran.Add(1) }))
				s.Release()
			}
			return nil
		})
	}

	stop := make(chan struct{})
	g.Go(func() error {
		for {
			select {
			case <-stop:
				return nil
			default:
				c.TryCollectLight()
			}
		}
	})

	workerErr := make(chan error, 1)
	go func() {
		var wg errgroup.Group
		for i := 0; i < goroutines; i++ {
			wg.Go(func() error {
				for j := 0; j < perGoroutine; j++ {
					s := c.FullShield()
					s.Retire(NewDeferredFunc(func() { ran.Add(1) }))
					s.Release()
				}
				return nil
			})
		}
		workerErr <- wg.Wait()
	}()
	require.NoError(t, <-workerErr)
	close(stop)
	require.NoError(t, g.Wait())

	require.NoError(t, c.Close())
	require.Equal(t, int64(2*goroutines*perGoroutine), ran.Load())
}

// TestCollectorStressNoUseAfterRetireWithinShield exercises the core
// EBR safety property directly: a value read while a Shield is held
// must not be mutated by a concurrent Retire of that same value until
// the Shield releases.
func TestCollectorStressNoUseAfterRetireWithinShield(t *testing.T) {
	c := New()
	var box atomic.Pointer[int64]
	initial := new(int64)
	*initial = 1
	box.Store(initial)

	var g errgroup.Group
	done := make(chan struct{})

	g.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			default:
			}
			s := c.FullShield()
			old := box.Load()
			replacement := new(int64)
			*replacement = *old + 1
			box.Store(replacement)
			s.Retire(NewDeferred(old, func(p *int64) { *p = -1 }, nil))
			s.Release()
		}
	})

	g.Go(func() error {
		for i := 0; i < 2000; i++ {
			s := c.ThinShield()
			p := box.Load()
			v := *p
			if v == -1 {
				s.Release()
				t.Error("observed a retired value after it was destroyed while still holding a Shield")
				return nil
			}
			s.Release()
		}
		close(done)
		return nil
	})

	require.NoError(t, g.Wait())
	require.NoError(t, c.Close())
}
