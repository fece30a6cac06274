// Package raftlog implements the indexed replicated log over buffer storage.
//
// Entries are stored back to back in one growable buffer as frames
//
//     length(4) | xxhash64(8) | kind(2) | entry
//
// where length covers the kind tag and the entry and the checksum is taken
// over the same bytes. An offsets table maps each index to its frame.
//
// A Log supports a single writer. Get, Acquire and the watermark accessors
// may run concurrently with the writer and only observe fully written
// entries.
package raftlog

import (
    "fmt"
    "log"
    "sync"

    "github.com/cespare/xxhash/v2"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/entry"
    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    "github.com/amirimatin/go-raftstore/pkg/observability/metrics"
)

const frameHeaderSize = 12

// Log is an append-only sequence of entries with no gaps between FirstIndex
// and LastIndex.
type Log struct {
    mu     sync.RWMutex
    opts   Options
    reg    *entry.Registry
    logger *log.Logger

    buf     *buffer.Buffer
    offsets []int
    terms   []uint64

    // first is the index of offsets[0], or last+1 when the log is empty.
    first    uint64
    last     uint64
    baseTerm uint64
    // pinned is set once the next index is dictated by a previous append or
    // a Reset; before that the first append may start at any index.
    pinned bool
    closed bool
}

// New allocates the initial storage and returns an empty log.
func New(opts Options) (*Log, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts = opts.withDefaults()
    buf, err := opts.Allocator.Allocate(opts.InitialCapacity, opts.MaxCapacity)
    if err != nil { return nil, err }
    return &Log{
        opts:   opts,
        reg:    opts.Registry,
        logger: logutil.Component(opts.Logger, "raftlog"),
        buf:    buf,
        first:  1,
    }, nil
}

// Registry returns the registry used to encode and decode entries.
func (l *Log) Registry() *entry.Registry { return l.reg }

// Append stores e at the next index and returns the new last index. An entry
// with index zero is assigned the next index; any other index must equal it.
// The first append to a fresh log may start at any index.
func (l *Log) Append(e entry.Entry) (uint64, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return 0, ErrClosed }

    index := e.Index()
    assigned := index == 0
    switch {
    case assigned:
        index = l.last + 1
    case !l.pinned:
        // first append fixes the first index
    case index != l.last+1:
        return 0, l.fail("index", fmt.Errorf("%w: got %d, expected %d", ErrIndexMismatch, index, l.last+1))
    }
    if e.Term() < l.lastTerm() {
        return 0, l.fail("term", fmt.Errorf("%w: term %d after %d at index %d", ErrTermMismatch, e.Term(), l.lastTerm(), index))
    }

    size := l.reg.Size(e)
    if err := l.buf.Ensure(frameHeaderSize + size); err != nil { return 0, l.fail("capacity", err) }
    if assigned { e.SetIndex(index) }
    start := l.buf.Position()
    if err := l.writeFrame(e, size); err != nil {
        _ = l.buf.SetPosition(start)
        if assigned { e.SetIndex(0) }
        return 0, l.fail("encode", err)
    }

    if !l.pinned {
        l.first = index
        l.pinned = true
    }
    l.offsets = append(l.offsets, start)
    l.terms = append(l.terms, e.Term())
    l.last = index
    metrics.LogAppends.Inc()
    metrics.LogEntries.Set(float64(len(l.offsets)))
    return index, nil
}

// writeFrame encodes e at the current position. The region was reserved by
// Ensure, so the body goes through the unchecked path.
func (l *Log) writeFrame(e entry.Entry, size int) (err error) {
    start := l.buf.Position()
    body := start + frameHeaderSize
    defer func() {
        // an entry writing more than it reports can run off the mapped region
        if r := recover(); r != nil {
            err = fmt.Errorf("%w: %s at index %d: %v", ErrSizeMismatch, e.Kind(), e.Index(), r)
        }
    }()
    t := l.buf.Trusted()
    _ = t.WriteUint32(uint32(size))
    _ = t.WriteUint64(0)
    if err := l.reg.Write(e, t); err != nil { return err }
    if n := l.buf.Position() - body; n != size {
        return fmt.Errorf("%w: %s at index %d wrote %d bytes, size %d", ErrSizeMismatch, e.Kind(), e.Index(), n, size)
    }
    view, err := l.buf.View(body, size)
    if err != nil { return err }
    hdr := l.buf.Duplicate()
    if err := hdr.SetPosition(start + 4); err != nil { return err }
    return hdr.WriteUint64(xxhash.Sum64(view))
}

func (l *Log) fail(reason string, err error) error {
    metrics.LogAppendErrors.WithLabelValues(reason).Inc()
    return err
}

func (l *Log) lastTerm() uint64 {
    if n := len(l.terms); n > 0 { return l.terms[n-1] }
    return l.baseTerm
}

// Get decodes the entry at index into a new value.
func (l *Log) Get(index uint64) (entry.Entry, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    if l.closed { return nil, ErrClosed }
    body, err := l.frame(index)
    if err != nil { return nil, err }
    e, err := l.reg.Read(body)
    if err != nil { return nil, fmt.Errorf("raftlog: index %d: %w", index, err) }
    if body.HasRemaining() {
        return nil, fmt.Errorf("%w: index %d has %d trailing bytes", ErrCorrupt, index, body.Remaining())
    }
    return e, nil
}

// Acquire decodes the entry at index into an entry taken from pool. The
// caller owns the returned handle and must release it.
func (l *Log) Acquire(index uint64, pool *entry.Pool) (entry.Handle, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    if l.closed { return entry.Handle{}, ErrClosed }
    body, err := l.frame(index)
    if err != nil { return entry.Handle{}, err }
    kind, err := l.reg.ReadKind(body)
    if err != nil { return entry.Handle{}, err }
    h, err := pool.Acquire(kind)
    if err != nil { return entry.Handle{}, err }
    err = pool.With(h, func(e entry.Entry) error { return e.Decode(body) })
    if err != nil {
        _ = pool.Release(h)
        return entry.Handle{}, fmt.Errorf("raftlog: index %d: %w", index, err)
    }
    return h, nil
}

// frame verifies the frame at index and returns a read-only view of its body.
func (l *Log) frame(index uint64) (*buffer.Buffer, error) {
    if index < l.first || index > l.last {
        return nil, fmt.Errorf("%w: index %d outside [%d, %d]", ErrNotFound, index, l.first, l.last)
    }
    pos := l.offsets[index-l.first]
    hdr, err := l.buf.Slice(pos, frameHeaderSize)
    if err != nil { return nil, err }
    n, err := hdr.ReadUint32()
    if err != nil { return nil, err }
    sum, err := hdr.ReadUint64()
    if err != nil { return nil, err }
    view, err := l.buf.View(pos+frameHeaderSize, int(n))
    if err != nil { return nil, fmt.Errorf("%w: index %d: %v", ErrCorrupt, index, err) }
    if xxhash.Sum64(view) != sum { return nil, fmt.Errorf("%w: index %d", ErrCorrupt, index) }
    return l.buf.Slice(pos+frameHeaderSize, int(n))
}

// Term returns the term of the entry at index. The term of the entry just
// before FirstIndex stays known after compaction.
func (l *Log) Term(index uint64) (uint64, error) {
    l.mu.RLock()
    defer l.mu.RUnlock()
    if index >= l.first && index <= l.last { return l.terms[index-l.first], nil }
    if index+1 == l.first && l.baseTerm != 0 { return l.baseTerm, nil }
    return 0, fmt.Errorf("%w: index %d outside [%d, %d]", ErrNotFound, index, l.first, l.last)
}

// TruncateAfter removes every entry with an index greater than index. It is
// a no-op when index is at or past the last index.
func (l *Log) TruncateAfter(index uint64) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return ErrClosed }
    if index >= l.last { return nil }
    if index+1 < l.first {
        return fmt.Errorf("%w: truncate after %d precedes first index %d", ErrNotFound, index, l.first)
    }
    keep := int(index + 1 - l.first)
    if err := l.buf.SetPosition(l.offsets[keep]); err != nil { return err }
    removed := len(l.offsets) - keep
    l.offsets = l.offsets[:keep]
    l.terms = l.terms[:keep]
    l.last = index
    metrics.LogTruncations.Inc()
    metrics.LogEntries.Set(float64(keep))
    logutil.Debugf(l.logger, "truncated %d entries after index %d", removed, index)
    return nil
}

// CompactBefore removes every entry with an index lower than index. The
// boundary may not pass lastApplied+1, so entries the state machine has not
// applied are never removed. Live frames move to a fresh buffer and the old
// storage is released.
func (l *Log) CompactBefore(index, lastApplied uint64) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return ErrClosed }
    if index > lastApplied+1 {
        metrics.LogCompactions.WithLabelValues("violation").Inc()
        return fmt.Errorf("%w: compact before %d, last applied %d", ErrCompactionViolation, index, lastApplied)
    }
    if index > l.last+1 {
        return fmt.Errorf("%w: compact before %d past last index %d", ErrNotFound, index, l.last)
    }
    if index <= l.first { return nil }

    drop := int(index - l.first)
    end := l.buf.Position()
    from := end
    if drop < len(l.offsets) { from = l.offsets[drop] }
    live := end - from

    capacity := l.opts.InitialCapacity
    if live > capacity { capacity = live }
    nb, err := l.opts.Allocator.Allocate(capacity, l.opts.MaxCapacity)
    if err != nil {
        metrics.LogCompactions.WithLabelValues("error").Inc()
        return err
    }
    if live > 0 {
        src, err := l.buf.Slice(from, live)
        if err == nil { err = nb.WriteFrom(src) }
        if err != nil {
            _ = nb.Release()
            metrics.LogCompactions.WithLabelValues("error").Inc()
            return err
        }
    }
    if err := l.buf.Release(); err != nil { logutil.Warnf(l.logger, "release compacted storage: %v", err) }
    l.buf = nb

    l.baseTerm = l.terms[drop-1]
    offsets := make([]int, len(l.offsets)-drop)
    for i, off := range l.offsets[drop:] { offsets[i] = off - from }
    l.offsets = offsets
    l.terms = append([]uint64(nil), l.terms[drop:]...)
    l.first = index
    metrics.LogCompactions.WithLabelValues("ok").Inc()
    metrics.LogEntries.Set(float64(len(l.offsets)))
    logutil.Debugf(l.logger, "compacted %d entries before index %d, %d bytes live", drop, index, live)
    return nil
}

// Reset discards every entry. The next append must carry nextIndex, which is
// how a log resumes after a snapshot install.
func (l *Log) Reset(nextIndex uint64) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return ErrClosed }
    if nextIndex == 0 { return fmt.Errorf("%w: next index must be positive", ErrIndexMismatch) }
    l.buf.Clear()
    l.offsets = l.offsets[:0]
    l.terms = l.terms[:0]
    l.first = nextIndex
    l.last = nextIndex - 1
    l.baseTerm = 0
    l.pinned = true
    metrics.LogEntries.Set(0)
    logutil.Infof(l.logger, "log reset, next index %d", nextIndex)
    return nil
}

// FirstIndex returns the lowest stored index, or LastIndex()+1 when empty.
func (l *Log) FirstIndex() uint64 {
    l.mu.RLock()
    defer l.mu.RUnlock()
    return l.first
}

// LastIndex returns the highest index appended and not truncated.
func (l *Log) LastIndex() uint64 {
    l.mu.RLock()
    defer l.mu.RUnlock()
    return l.last
}

// LastTerm returns the term of the last entry.
func (l *Log) LastTerm() uint64 {
    l.mu.RLock()
    defer l.mu.RUnlock()
    return l.lastTerm()
}

// Size returns the number of stored entries, LastIndex-FirstIndex+1.
func (l *Log) Size() int {
    l.mu.RLock()
    defer l.mu.RUnlock()
    return len(l.offsets)
}

// IsEmpty reports whether the log holds no entries.
func (l *Log) IsEmpty() bool { return l.Size() == 0 }

// Bytes returns the number of storage bytes taken by live frames.
func (l *Log) Bytes() int {
    l.mu.RLock()
    defer l.mu.RUnlock()
    if l.closed { return 0 }
    return l.buf.Position()
}

// Close releases the log's storage. Further operations return ErrClosed.
func (l *Log) Close() error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return nil }
    l.closed = true
    l.offsets, l.terms = nil, nil
    return l.buf.Release()
}
