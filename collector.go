package ebr

import (
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultAdvanceEvery uint32 = 128
	// defaultGarbageByteCeiling counts queued retired entries, not
	// bytes: garbageBytes is incremented by SealedBag.Len() (a closure
	// count), so this fires at ~1M queued closures, not ~1 MiB. The
	// name and public option (WithGarbageByteCeiling) are kept for
	// parity with original_source's byte-oriented ceiling; approximate
	// per-closure byte accounting would require threading payload size
	// out of Deferred, which NewDeferred deliberately no longer tracks
	// once a value is boxed as `any`.
	defaultGarbageByteCeiling int64 = 1 << 20
)

// Collector is the entry point of this package: one Collector owns one
// global epoch, one GarbageQueue and the table of goroutines currently
// participating in it. Programs typically construct a single
// Collector for the lifetime of the lock-free structure it protects.
//
// Grounded on original_source/src/collector.rs, and on
// agilira/balios's and agilira/lethe's functional-options constructor
// style for Option/New.
type Collector struct {
	global  *Global
	cache   *participantCache
	alloc   Allocator
	log     *zap.Logger
	closed  atomic.Bool
}

// Option configures a Collector built with New.
type Option func(*config)

type config struct {
	advanceEvery uint32
	byteCeiling  int64
	alloc        Allocator
	tlsProvider  TlsProvider
	logger       *zap.Logger
}

// WithAdvanceProbability sets roughly how often releasing a
// participant's last Shield should opportunistically try to advance
// the global epoch (only while some garbage is queued), expressed as
// "one in every n releases" rather than a literal probability so the
// check stays branch-cheap (an integer modulus) on the hot release
// path. p must be in (0, 1]; p of 1 tries on every release, p of 0.01
// tries roughly every 100th.
func WithAdvanceProbability(p float64) Option {
	return func(c *config) {
		if p <= 0 {
			p = 1.0 / float64(defaultAdvanceEvery)
		}
		if p > 1 {
			p = 1
		}
		n := uint32(1 / p)
		if n == 0 {
			n = 1
		}
		c.advanceEvery = n
	}
}

// WithGarbageByteCeiling sets how many retired entries may accumulate
// across the GarbageQueue before every retire and every last-Shield
// release eagerly tries to advance and collect. A ceiling of 0 disables the
// byte-pressure trigger, leaving only the advance-probability counter.
func WithGarbageByteCeiling(n int64) Option {
	return func(c *config) { c.byteCeiling = n }
}

// WithAllocator sets the Allocator returned by Collector.Allocator, for
// callers to pass to NewDeferred for pointer-free values too large to
// inline; the Collector does not build Deferred values itself. The
// default allocates a fresh slice per call; NewPooledAllocator
// recycles buffers through sync.Pool instead.
func WithAllocator(a Allocator) Option {
	return func(c *config) { c.alloc = a }
}

// WithTlsProvider overrides how Collector.Local identifies the calling
// goroutine. Supplying a custom provider is rarely necessary; it
// exists mainly so tests can inject a deterministic identity.
func WithTlsProvider(p TlsProvider) Option {
	return func(c *config) { c.tlsProvider = p }
}

// WithLogger attaches a zap.Logger the Collector uses for diagnostic
// events; the only event logged is a retired closure panicking during
// Close. Logging is purely diagnostic: no Collector behavior depends
// on it.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New constructs a Collector ready to register Participants.
func New(opts ...Option) *Collector {
	cfg := config{
		advanceEvery: defaultAdvanceEvery,
		byteCeiling:  defaultGarbageByteCeiling,
		alloc:        DefaultAllocator,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	global := newGlobal(cfg.byteCeiling, cfg.advanceEvery)
	return &Collector{
		global: global,
		cache:  newParticipantCache(cfg.tlsProvider),
		alloc:  cfg.alloc,
		log:    cfg.logger,
	}
}

// Local returns the calling goroutine's Participant, registering one
// the first time it is called from a given goroutine. The returned
// handle is cached per goroutine; repeated calls from the same
// goroutine are cheap.
func (c *Collector) Local() *Participant {
	return c.cache.get(func() *Participant {
		return &Participant{local: c.global.register(), cache: c.cache}
	})
}

// ThinShield pins the calling goroutine and returns a read-only guard.
// Equivalent to c.Local().ThinShield() but saves the caller from
// holding onto the Participant handle itself.
func (c *Collector) ThinShield() *ThinShield {
	return c.Local().ThinShield()
}

// FullShield pins the calling goroutine and returns a guard that can
// also retire closures.
func (c *Collector) FullShield() *FullShield {
	return c.Local().FullShield()
}

// Unprotected returns a Shield backed by the Collector's shared
// CrossThread guard, for callers that do not want to register a
// per-goroutine Participant (spec.md §4.8). Prefer ThinShield/
// FullShield when the calling goroutine will pin repeatedly; the
// shared guard serializes all of its callers behind one mutex.
func (c *Collector) Unprotected() *UnprotectedShield {
	c.global.crossThread.enter()
	return &UnprotectedShield{ct: c.global.crossThread}
}

// TryCollectLight attempts to advance the global epoch once and drain
// whatever GarbageQueue entries that makes safe. It does not wait for
// pinned participants to release; a retired closure that panics while
// being run here propagates out of it. Call it periodically (or rely on
// the automatic advance-probability trigger on Shield release) to keep
// garbage from accumulating on an otherwise idle Collector.
func (c *Collector) TryCollectLight() {
	c.global.TryAdvanceAndCollect(c.global.epoch.Load())
}

// Allocator returns the Allocator this Collector uses for
// too-large-to-inline Deferred values, for callers constructing a
// Deferred directly with NewDeferred.
func (c *Collector) Allocator() Allocator {
	return c.alloc
}

// Close flushes every registered participant's private Bag and the
// shared CrossThread Bag onto the GarbageQueue, then unconditionally
// drains and runs the queue regardless of epoch safety: by the time a
// caller is willing to Close the Collector, it is asserting no Shield
// sourced from it is still outstanding, so the usual epoch-safety
// argument is moot. Closing twice is a no-op. A retired closure that
// panics during the drain does not stop the rest of the drain; all
// such panics are aggregated with multierr and returned together.
func (c *Collector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.global.tableMu.Lock()
	locals := make([]*LocalState, 0, len(c.global.table))
	for ls := range c.global.table {
		locals = append(locals, ls)
	}
	c.global.tableMu.Unlock()

	for _, ls := range locals {
		ls.flushBag()
	}
	c.global.crossThread.flushBag()

	var errs error
	for {
		bag, ok := c.global.queue.Pop()
		if !ok {
			break
		}
		if err := bag.runAllRecover(); err != nil {
			errs = multierr.Append(errs, err)
			c.log.Warn("retired closure panicked during Close", zap.Error(err))
		}
	}
	return errs
}
