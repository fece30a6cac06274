package buffer

import (
    obsmetrics "github.com/amirimatin/go-raftstore/pkg/observability/metrics"
)

const (
    backendHeap   = "heap"
    backendDirect = "direct"
)

// memory is the storage shared by a buffer and all of its duplicates and
// slices. Growth swaps buf in place so every view keeps seeing the same bytes.
type memory struct {
    buf      []byte
    direct   bool
    owned    bool
    released bool
}

func newHeapMemory(size int) *memory {
    m := &memory{buf: make([]byte, size), owned: true}
    m.account(size)
    return m
}

func newDirectMemory(size int) (*memory, error) {
    b, err := mapDirect(size)
    if err != nil { return nil, err }
    m := &memory{buf: b, direct: true, owned: true}
    m.account(size)
    return m, nil
}

func (m *memory) backend() string {
    if m.direct { return backendDirect }
    return backendHeap
}

func (m *memory) account(delta int) {
    if delta > 0 {
        obsmetrics.BufferAllocations.WithLabelValues(m.backend()).Inc()
    }
    obsmetrics.BufferBytes.WithLabelValues(m.backend()).Add(float64(delta))
}

// grow reallocates to size bytes, preserving contents. Memory that was
// wrapped rather than allocated becomes owned by the new allocation.
func (m *memory) grow(size int) error {
    if size <= len(m.buf) { return nil }
    var nb []byte
    if m.direct {
        b, err := mapDirect(size)
        if err != nil { return err }
        nb = b
    } else {
        nb = make([]byte, size)
    }
    copy(nb, m.buf)
    old, wasOwned := m.buf, m.owned
    m.buf, m.owned = nb, true
    if wasOwned {
        if m.direct { _ = unmapDirect(old) }
        m.account(size - len(old))
    } else {
        m.account(size)
    }
    obsmetrics.BufferGrowths.WithLabelValues(m.backend()).Inc()
    return nil
}

func (m *memory) free() error {
    if m.released { return ErrReleased }
    m.released = true
    if m.owned {
        m.account(-len(m.buf))
        if m.direct {
            if err := unmapDirect(m.buf); err != nil { return err }
        }
    }
    m.buf = nil
    return nil
}
