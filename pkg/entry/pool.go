package entry

import (
    "fmt"
    "sync"

    "github.com/amirimatin/go-raftstore/pkg/observability/metrics"
)

// Handle refers to an entry held in a Pool. The zero Handle is never valid.
type Handle struct {
    slot uint32
    gen  uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h == Handle{} }

func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.slot, h.gen) }

type poolSlot struct {
    entry Entry
    gen   uint32
    refs  int32
}

// Pool recycles entries per kind. Entries are reached through reference
// counted handles; once the last reference is released the entry is reset,
// its handle is invalidated and the slot returns to the free list of its kind.
type Pool struct {
    mu       sync.Mutex
    reg      *Registry
    slots    []poolSlot
    free     map[Kind][]uint32
    maxSlots int
    live     int
}

// NewPool returns a pool constructing entries through reg. maxSlots bounds the
// number of distinct entries the pool will ever construct; zero means no bound.
func NewPool(reg *Registry, maxSlots int) *Pool {
    if reg == nil { reg = NewRegistry() }
    return &Pool{reg: reg, free: make(map[Kind][]uint32), maxSlots: maxSlots}
}

// Acquire returns a handle to a zero entry of the given kind with a reference
// count of one.
func (p *Pool) Acquire(kind Kind) (Handle, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if free := p.free[kind]; len(free) > 0 {
        idx := free[len(free)-1]
        p.free[kind] = free[:len(free)-1]
        s := &p.slots[idx]
        s.refs = 1
        p.live++
        metrics.PoolAcquires.WithLabelValues("reused").Inc()
        metrics.PoolLive.Inc()
        return Handle{slot: idx, gen: s.gen}, nil
    }
    if p.maxSlots > 0 && len(p.slots) >= p.maxSlots {
        return Handle{}, fmt.Errorf("%w: %d slots in use", ErrPoolExhausted, len(p.slots))
    }
    e, err := p.reg.New(kind)
    if err != nil { return Handle{}, err }
    p.slots = append(p.slots, poolSlot{entry: e, gen: 1, refs: 1})
    p.live++
    metrics.PoolAcquires.WithLabelValues("allocated").Inc()
    metrics.PoolLive.Inc()
    return Handle{slot: uint32(len(p.slots) - 1), gen: 1}, nil
}

// With runs fn on the entry behind h while holding an extra reference, so
// the entry cannot be recycled while fn runs even if other holders release
// h. fn must not keep the entry after it returns.
func (p *Pool) With(h Handle, fn func(Entry) error) error {
    p.mu.Lock()
    s, err := p.lookup(h)
    if err != nil {
        p.mu.Unlock()
        return err
    }
    s.refs++
    e := s.entry
    p.mu.Unlock()
    defer p.Release(h)
    return fn(e)
}

// Get returns the entry behind h. The pointer aliases the pooled slot: it is
// invalid once the last reference to h is released, after which the slot may
// be reset and handed to another caller. Prefer With for scoped access.
func (p *Pool) Get(h Handle) (Entry, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    s, err := p.lookup(h)
    if err != nil { return nil, err }
    return s.entry, nil
}

// Retain adds a reference to h.
func (p *Pool) Retain(h Handle) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    s, err := p.lookup(h)
    if err != nil { return err }
    s.refs++
    return nil
}

// Release drops a reference to h, recycling the entry when none remain.
func (p *Pool) Release(h Handle) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    s, err := p.lookup(h)
    if err != nil { return err }
    s.refs--
    if s.refs > 0 { return nil }
    kind := s.entry.Kind()
    s.entry.Reset()
    s.gen++
    if s.gen == 0 { s.gen = 1 }
    p.free[kind] = append(p.free[kind], h.slot)
    p.live--
    metrics.PoolLive.Dec()
    return nil
}

// Live returns the number of entries currently referenced.
func (p *Pool) Live() int {
    p.mu.Lock()
    defer p.mu.Unlock()
    return p.live
}

// Allocated returns the number of entries the pool has constructed.
func (p *Pool) Allocated() int {
    p.mu.Lock()
    defer p.mu.Unlock()
    return len(p.slots)
}

func (p *Pool) lookup(h Handle) (*poolSlot, error) {
    if int(h.slot) >= len(p.slots) { return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h) }
    s := &p.slots[h.slot]
    if s.gen != h.gen || s.refs <= 0 { return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h) }
    return s, nil
}
