package raftlog

import (
    "bytes"
    "errors"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/entry"
    "github.com/amirimatin/go-raftstore/pkg/membership"
)

func newTestLog(t *testing.T, opts Options) *Log {
    t.Helper()
    l, err := New(opts)
    if err != nil { t.Fatalf("new log: %v", err) }
    t.Cleanup(func() { _ = l.Close() })
    return l
}

func command(index, term uint64, payload string) *entry.CommandEntry {
    e := &entry.CommandEntry{Session: 1, Sequence: index, Payload: []byte(payload)}
    e.SetIndex(index)
    e.SetTerm(term)
    e.SetTimestamp(time.UnixMilli(1_700_000_000_000 + int64(index)))
    return e
}

// fill appends indices from..to with term 1.
func fill(t *testing.T, l *Log, from, to uint64) {
    t.Helper()
    for i := from; i <= to; i++ {
        last, err := l.Append(command(i, 1, fmt.Sprintf("cmd-%d", i)))
        if err != nil { t.Fatalf("append %d: %v", i, err) }
        if last != i { t.Fatalf("append %d returned last index %d", i, last) }
    }
}

func TestLog_AppendMonotonic(t *testing.T) {
    for name, a := range map[string]buffer.Allocator{"heap": buffer.HeapAllocator{}, "direct": buffer.DirectAllocator{}} {
        l := newTestLog(t, Options{Allocator: a, InitialCapacity: 64})
        fill(t, l, 1, 50)
        if l.FirstIndex() != 1 || l.LastIndex() != 50 || l.Size() != 50 {
            t.Fatalf("%s: watermarks [%d, %d] size %d", name, l.FirstIndex(), l.LastIndex(), l.Size())
        }
        if _, err := l.Append(command(52, 1, "gap")); !errors.Is(err, ErrIndexMismatch) {
            t.Fatalf("%s: append past next index: %v", name, err)
        }
        if _, err := l.Append(command(50, 1, "dup")); !errors.Is(err, ErrIndexMismatch) {
            t.Fatalf("%s: append of existing index: %v", name, err)
        }
        if _, err := l.Append(command(51, 1, "next")); err != nil { t.Fatalf("%s: append 51: %v", name, err) }
        for i := uint64(1); i <= 51; i++ {
            e, err := l.Get(i)
            if err != nil { t.Fatalf("%s: get %d: %v", name, i, err) }
            if e.Index() != i { t.Fatalf("%s: get %d returned index %d", name, i, e.Index()) }
        }
    }
}

func TestLog_AppendAssignsIndex(t *testing.T) {
    l := newTestLog(t, Options{})
    for want := uint64(1); want <= 3; want++ {
        e := &entry.NoOpEntry{}
        e.SetTerm(2)
        got, err := l.Append(e)
        if err != nil { t.Fatalf("append: %v", err) }
        if got != want || e.Index() != want { t.Fatalf("assigned %d (entry %d), want %d", got, e.Index(), want) }
    }
}

func TestLog_FirstAppendInitializesFirstIndex(t *testing.T) {
    l := newTestLog(t, Options{})
    if !l.IsEmpty() { t.Fatalf("new log not empty") }
    fill(t, l, 40, 42)
    if l.FirstIndex() != 40 || l.LastIndex() != 42 { t.Fatalf("watermarks [%d, %d]", l.FirstIndex(), l.LastIndex()) }
    if _, err := l.Get(39); !errors.Is(err, ErrNotFound) { t.Fatalf("get below first: %v", err) }
}

func TestLog_RoundTripEveryKind(t *testing.T) {
    l := newTestLog(t, Options{Allocator: buffer.DirectAllocator{}, InitialCapacity: 32})
    ts := time.UnixMilli(1_700_000_000_555)
    reg := &entry.RegisterEntry{Member: membership.MemberInfo{ID: "c1", Addr: "127.0.0.1:9", Meta: map[string]string{"k": "v"}}}
    reg.SetTimestamp(ts)
    cfg := &entry.ConfigurationEntry{Active: []membership.MemberInfo{{ID: "n1", Addr: "127.0.0.1:1"}}}
    ka := &entry.KeepAliveEntry{Session: 3}
    ka.SetTimestamp(ts)
    un := &entry.UnregisterEntry{Session: 3, Expired: true}
    un.SetTimestamp(ts)
    in := []entry.Entry{&entry.NoOpEntry{}, command(0, 0, "x"), cfg, reg, ka, un}
    for _, e := range in {
        e.SetIndex(0)
        e.SetTerm(4)
        if _, err := l.Append(e); err != nil { t.Fatalf("append %s: %v", e.Kind(), err) }
    }
    for i, want := range in {
        got, err := l.Get(uint64(i + 1))
        if err != nil { t.Fatalf("get %d: %v", i+1, err) }
        if got.Kind() != want.Kind() || got.Index() != want.Index() || got.Term() != 4 {
            t.Fatalf("entry %d: got %s/%d/%d, want %s/%d", i+1, got.Kind(), got.Index(), got.Term(), want.Kind(), want.Index())
        }
        if fmt.Sprint(got) != fmt.Sprint(want) { t.Fatalf("entry %d: got %v, want %v", i+1, got, want) }
    }
}

func TestLog_TermRegression(t *testing.T) {
    l := newTestLog(t, Options{})
    if _, err := l.Append(command(1, 3, "a")); err != nil { t.Fatalf("append: %v", err) }
    if _, err := l.Append(command(2, 2, "b")); !errors.Is(err, ErrTermMismatch) {
        t.Fatalf("expected ErrTermMismatch, got %v", err)
    }
    if l.LastIndex() != 1 { t.Fatalf("rejected append changed last index to %d", l.LastIndex()) }
    if _, err := l.Append(command(2, 3, "b")); err != nil { t.Fatalf("append same term: %v", err) }
}

func TestLog_CompactBeforeLastApplied(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 10)
    if err := l.CompactBefore(7, 6); err != nil { t.Fatalf("compact before 7: %v", err) }
    if l.FirstIndex() != 7 || l.LastIndex() != 10 || l.Size() != 4 {
        t.Fatalf("after compaction: [%d, %d] size %d", l.FirstIndex(), l.LastIndex(), l.Size())
    }
    for i := uint64(1); i <= 6; i++ {
        if _, err := l.Get(i); !errors.Is(err, ErrNotFound) { t.Fatalf("get %d after compaction: %v", i, err) }
    }
    for i := uint64(7); i <= 10; i++ {
        e, err := l.Get(i)
        if err != nil { t.Fatalf("get %d: %v", i, err) }
        if string(e.(*entry.CommandEntry).Payload) != fmt.Sprintf("cmd-%d", i) { t.Fatalf("entry %d payload changed", i) }
    }
    if term, err := l.Term(6); err != nil || term != 1 { t.Fatalf("term before first = %d, %v", term, err) }
    fill(t, l, 11, 12)
}

func TestLog_CompactionViolation(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 10)
    if err := l.CompactBefore(8, 6); !errors.Is(err, ErrCompactionViolation) {
        t.Fatalf("expected ErrCompactionViolation, got %v", err)
    }
    if l.FirstIndex() != 1 || l.Size() != 10 { t.Fatalf("rejected compaction modified the log") }
    if err := l.CompactBefore(12, 20); !errors.Is(err, ErrNotFound) { t.Fatalf("compaction past last+1: %v", err) }
    if err := l.CompactBefore(1, 0); err != nil { t.Fatalf("compaction at first index: %v", err) }
}

func TestLog_CompactEverything(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 5)
    if err := l.CompactBefore(6, 5); err != nil { t.Fatalf("compact: %v", err) }
    if !l.IsEmpty() || l.FirstIndex() != 6 || l.LastIndex() != 5 || l.Bytes() != 0 {
        t.Fatalf("after full compaction: empty=%v [%d, %d] bytes %d", l.IsEmpty(), l.FirstIndex(), l.LastIndex(), l.Bytes())
    }
    if _, err := l.Append(command(7, 1, "gap")); !errors.Is(err, ErrIndexMismatch) { t.Fatalf("append gap: %v", err) }
    fill(t, l, 6, 6)
}

func TestLog_CompactionReleasesOldStorage(t *testing.T) {
    l := newTestLog(t, Options{Allocator: buffer.DirectAllocator{}, InitialCapacity: 64})
    fill(t, l, 1, 10)
    old := l.buf
    if err := l.CompactBefore(4, 9); err != nil { t.Fatalf("compact: %v", err) }
    if err := old.Release(); !errors.Is(err, buffer.ErrReleased) {
        t.Fatalf("old storage not released exactly once: %v", err)
    }
    if !l.buf.Direct() { t.Fatalf("compaction changed storage backend") }
}

func TestLog_TruncateAfter(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 10)
    if err := l.TruncateAfter(5); err != nil { t.Fatalf("truncate: %v", err) }
    if _, err := l.Get(7); !errors.Is(err, ErrNotFound) { t.Fatalf("get 7 after truncation: %v", err) }
    if l.LastIndex() != 5 || l.Size() != 5 { t.Fatalf("last %d size %d", l.LastIndex(), l.Size()) }
    if err := l.TruncateAfter(5); err != nil { t.Fatalf("idempotent truncate: %v", err) }
    if err := l.TruncateAfter(9); err != nil { t.Fatalf("truncate past last: %v", err) }
    if l.LastIndex() != 5 { t.Fatalf("no-op truncate changed last index to %d", l.LastIndex()) }

    // the freed suffix is reused by the next append
    before := l.Bytes()
    e := command(6, 2, "replacement")
    if _, err := l.Append(e); err != nil { t.Fatalf("append after truncate: %v", err) }
    if l.Bytes() != before+frameHeaderSize+l.Registry().Size(e) { t.Fatalf("unexpected storage growth") }
    got, _ := l.Get(6)
    if string(got.(*entry.CommandEntry).Payload) != "replacement" || got.Term() != 2 { t.Fatalf("got %v", got) }
}

func TestLog_TruncateBelowFirst(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 10)
    _ = l.CompactBefore(5, 10)
    if err := l.TruncateAfter(2); !errors.Is(err, ErrNotFound) { t.Fatalf("truncate below first: %v", err) }
    if err := l.TruncateAfter(4); err != nil { t.Fatalf("truncate to first-1: %v", err) }
    if !l.IsEmpty() || l.FirstIndex() != 5 || l.LastIndex() != 4 { t.Fatalf("[%d, %d]", l.FirstIndex(), l.LastIndex()) }
    fill(t, l, 5, 6)
}

func TestLog_Reset(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 4)
    if err := l.Reset(100); err != nil { t.Fatalf("reset: %v", err) }
    if !l.IsEmpty() || l.FirstIndex() != 100 || l.LastIndex() != 99 { t.Fatalf("[%d, %d]", l.FirstIndex(), l.LastIndex()) }
    if _, err := l.Append(command(5, 1, "stale")); !errors.Is(err, ErrIndexMismatch) { t.Fatalf("append after reset: %v", err) }
    fill(t, l, 100, 101)
    if err := l.Reset(0); !errors.Is(err, ErrIndexMismatch) { t.Fatalf("reset 0: %v", err) }
}

func TestLog_DetectsCorruption(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 3)
    view, err := l.buf.View(l.offsets[1]+frameHeaderSize+5, 1)
    if err != nil { t.Fatalf("view: %v", err) }
    view[0] ^= 0xff
    if _, err := l.Get(2); !errors.Is(err, ErrCorrupt) { t.Fatalf("expected ErrCorrupt, got %v", err) }
    if _, err := l.Get(3); err != nil { t.Fatalf("neighbouring frame: %v", err) }
}

// sizedEntry misreports its size by skew bytes.
type sizedEntry struct {
    entry.Base
    skew int
}

func (e *sizedEntry) Kind() entry.Kind { return 1500 }
func (e *sizedEntry) Size() int        { return e.Base.Size() + 8 + e.skew }
func (e *sizedEntry) Reset()           { *e = sizedEntry{} }

func (e *sizedEntry) Encode(out buffer.Output) error {
    if err := e.Base.Encode(out); err != nil { return err }
    return out.WriteUint64(42)
}

func (e *sizedEntry) Decode(in buffer.Input) error {
    if err := e.Base.Decode(in); err != nil { return err }
    _, err := in.ReadUint64()
    return err
}

func TestLog_SizeMismatchRejected(t *testing.T) {
    reg := entry.NewRegistry()
    if err := reg.Register(1500, func() entry.Entry { return &sizedEntry{} }); err != nil { t.Fatalf("register: %v", err) }
    l := newTestLog(t, Options{Registry: reg, InitialCapacity: 256})
    fill(t, l, 1, 2)
    before := l.Bytes()
    sized := func(skew int) *sizedEntry {
        e := &sizedEntry{skew: skew}
        e.SetTerm(1)
        return e
    }
    for _, skew := range []int{-4, 4} {
        if _, err := l.Append(sized(skew)); !errors.Is(err, ErrSizeMismatch) {
            t.Fatalf("skew %d: expected ErrSizeMismatch, got %v", skew, err)
        }
        if l.LastIndex() != 2 || l.Bytes() != before { t.Fatalf("skew %d: failed append left state behind", skew) }
    }
    if _, err := l.Append(sized(0)); err != nil { t.Fatalf("honest entry: %v", err) }
    if _, err := l.Get(3); err != nil { t.Fatalf("get: %v", err) }
}

func TestLog_MaxCapacity(t *testing.T) {
    l := newTestLog(t, Options{InitialCapacity: 64, MaxCapacity: 128})
    var err error
    for i := uint64(1); err == nil && i < 100; i++ {
        _, err = l.Append(command(i, 1, "0123456789"))
    }
    if !errors.Is(err, buffer.ErrCapacity) { t.Fatalf("expected ErrCapacity, got %v", err) }
    if _, err := l.Get(l.LastIndex()); err != nil { t.Fatalf("last stored entry unreadable: %v", err) }
}

func TestLog_AcquireFromPool(t *testing.T) {
    l := newTestLog(t, Options{})
    fill(t, l, 1, 3)
    pool := entry.NewPool(l.Registry(), 0)
    h, err := l.Acquire(2, pool)
    if err != nil { t.Fatalf("acquire: %v", err) }
    e, _ := pool.Get(h)
    if e.Index() != 2 || !bytes.Equal(e.(*entry.CommandEntry).Payload, []byte("cmd-2")) { t.Fatalf("got %v", e) }
    _ = pool.Release(h)

    h, err = l.Acquire(3, pool)
    if err != nil { t.Fatalf("acquire: %v", err) }
    if pool.Allocated() != 1 { t.Fatalf("pool did not reuse the released entry") }
    e, _ = pool.Get(h)
    fresh, _ := l.Get(3)
    if fmt.Sprint(e) != fmt.Sprint(fresh) { t.Fatalf("pooled %v differs from fresh %v", e, fresh) }
    if _, err := l.Acquire(9, pool); !errors.Is(err, ErrNotFound) { t.Fatalf("acquire missing: %v", err) }
    if pool.Live() != 1 { t.Fatalf("failed acquire leaked a pool entry") }
}

func TestLog_ConcurrentReaders(t *testing.T) {
    l := newTestLog(t, Options{InitialCapacity: 16})
    fill(t, l, 1, 1)
    var wg sync.WaitGroup
    stop := make(chan struct{})
    errs := make(chan error, 4)
    for r := 0; r < 4; r++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for {
                select {
                case <-stop:
                    return
                default:
                }
                last := l.LastIndex()
                if _, err := l.Get(last); err != nil {
                    errs <- err
                    return
                }
            }
        }()
    }
    fill(t, l, 2, 500)
    close(stop)
    wg.Wait()
    close(errs)
    for err := range errs { t.Fatalf("reader: %v", err) }
}

func TestLog_Closed(t *testing.T) {
    l, err := New(Options{Allocator: buffer.DirectAllocator{}})
    if err != nil { t.Fatalf("new: %v", err) }
    fill(t, l, 1, 2)
    if err := l.Close(); err != nil { t.Fatalf("close: %v", err) }
    if err := l.Close(); err != nil { t.Fatalf("second close: %v", err) }
    if _, err := l.Append(command(3, 1, "x")); !errors.Is(err, ErrClosed) { t.Fatalf("append: %v", err) }
    if _, err := l.Get(1); !errors.Is(err, ErrClosed) { t.Fatalf("get: %v", err) }
}

func TestOptions_Validate(t *testing.T) {
    if err := (Options{InitialCapacity: -1}).Validate(); err == nil { t.Fatalf("expected error for negative capacity") }
    if err := (Options{MaxCapacity: 4}).Validate(); err == nil { t.Fatalf("expected error for tiny max capacity") }
    if err := (Options{}).Validate(); err != nil { t.Fatalf("zero options: %v", err) }
}
