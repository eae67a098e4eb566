package ebr

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// TlsProvider supplies a stable per-goroutine identity used by
// Collector.Local to cache a Participant across repeated calls from
// the same goroutine, the way original_source relies on a real OS
// thread-local for its Local handle (spec.md §6).
//
// Go has no goroutine-local storage, and the tempting shortcut —
// go:linkname into the runtime's per-P slot used by sync.Pool's
// private cache — is unsound here: a long-lived Shield can outlive
// the goroutine's current P across a preemption point or a blocking
// syscall, which would silently hand two unrelated goroutines the same
// cached Participant (SPEC_FULL.md §E.3). The default implementation
// instead derives a goroutine id by parsing runtime.Stack's header
// line, the same technique used by petermattis/goid and its
// derivatives; it is cached per-id, not per-P, so it survives a
// goroutine migrating between Ps.
type TlsProvider interface {
	// ID returns an identifier stable for the lifetime of the calling
	// goroutine and distinct from every other live goroutine's.
	ID() int64
}

type stackTlsProvider struct{}

// DefaultTlsProvider is the goroutine-id-via-stack-parsing provider
// used when a Collector is built without WithTlsProvider.
var DefaultTlsProvider TlsProvider = stackTlsProvider{}

var stackBufPool = sync.Pool{
	New: func() any { return make([]byte, 64) },
}

func (stackTlsProvider) ID() int64 {
	buf := stackBufPool.Get().([]byte)
	defer stackBufPool.Put(buf)

	n := runtime.Stack(buf, false)
	// The header line looks like "goroutine 123 [running]:".
	line := buf[:n]
	const prefix = "goroutine "
	idx := bytes.Index(line, []byte(prefix))
	if idx < 0 {
		return -1
	}
	line = line[idx+len(prefix):]
	end := bytes.IndexByte(line, ' ')
	if end < 0 {
		end = len(line)
	}
	id, err := strconv.ParseInt(string(line[:end]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// participantCache maps goroutine ids to their Collector Participant,
// so Collector.Local only pays stackTlsProvider's runtime.Stack parse
// once per (goroutine, Collector) pair rather than once per call.
type participantCache struct {
	provider TlsProvider
	entries  sync.Map // int64 -> *Participant
}

func newParticipantCache(provider TlsProvider) *participantCache {
	if provider == nil {
		provider = DefaultTlsProvider
	}
	return &participantCache{provider: provider}
}

func (c *participantCache) get(newFn func() *Participant) *Participant {
	id := c.provider.ID()
	if v, ok := c.entries.Load(id); ok {
		return v.(*Participant)
	}
	p := newFn()
	actual, loaded := c.entries.LoadOrStore(id, p)
	if loaded {
		// Only reachable if the calling goroutine re-entrantly calls
		// Local() from within newFn() itself; discard the redundant
		// registration without touching the cache entry the winner
		// just stored.
		p.local.flushBag()
		p.local.global.unregister(p.local)
		return actual.(*Participant)
	}
	return p
}

// evict drops the cached Participant for the calling goroutine, if
// any, so a later Collector.Local call registers a fresh one instead
// of handing back a Participant whose LocalState has already been
// unregistered (and would therefore no longer block reclamation while
// pinned).
func (c *participantCache) evict() {
	c.entries.Delete(c.provider.ID())
}
