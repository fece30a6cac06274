package buffer

import (
    "bytes"
    "errors"
    "testing"
)

func allocators() map[string]Allocator {
    return map[string]Allocator{"heap": HeapAllocator{}, "direct": DirectAllocator{}}
}

func mustAllocate(t *testing.T, a Allocator, capacity, maxCapacity int) *Buffer {
    t.Helper()
    b, err := a.Allocate(capacity, maxCapacity)
    if err != nil { t.Fatalf("allocate(%d, %d): %v", capacity, maxCapacity, err) }
    t.Cleanup(func() { _ = b.Release() })
    return b
}

func TestBuffer_WriteFlipReadLong(t *testing.T) {
    b := mustAllocate(t, HeapAllocator{}, 8, 8)
    if err := b.WriteInt64(10); err != nil { t.Fatalf("write: %v", err) }
    b.Flip()
    v, err := b.ReadInt64()
    if err != nil { t.Fatalf("read: %v", err) }
    if v != 10 { t.Fatalf("read = %d, want 10", v) }

    raw := make([]byte, 8)
    b.Rewind()
    if err := b.ReadBytes(raw); err != nil { t.Fatalf("read bytes: %v", err) }
    d := WrapDirect(raw)
    if got, err := d.ReadInt64(); err != nil || got != 10 {
        t.Fatalf("direct wrap read = %d, %v; want 10", got, err)
    }
}

func TestBuffer_AllocateRejectsCapacityAboveMax(t *testing.T) {
    for name, a := range allocators() {
        if _, err := a.Allocate(17, 16); !errors.Is(err, ErrCapacity) {
            t.Fatalf("%s: err = %v, want ErrCapacity", name, err)
        }
        if _, err := a.Allocate(-1, 16); !errors.Is(err, ErrCapacity) {
            t.Fatalf("%s: negative capacity err = %v, want ErrCapacity", name, err)
        }
    }
}

func TestBuffer_CrossBackendEquivalence(t *testing.T) {
    write := func(b *Buffer) {
        t.Helper()
        steps := []error{
            b.WriteUint8(0xAB),
            b.WriteUint16(0xBEEF),
            b.WriteUint32(0xDEADBEEF),
            b.WriteUint64(0x0102030405060708),
            b.WriteInt64(-42),
            b.WriteBool(true),
            b.WriteBytes([]byte("raft")),
        }
        for i, err := range steps {
            if err != nil { t.Fatalf("write step %d: %v", i, err) }
        }
        b.Flip()
    }
    heap := mustAllocate(t, HeapAllocator{}, 4, 64)
    direct := mustAllocate(t, DirectAllocator{}, 4, 64)
    write(heap)
    write(direct)

    if !bytes.Equal(heap.Bytes(), direct.Bytes()) {
        t.Fatalf("byte mismatch:\n heap: %x\ndirect: %x", heap.Bytes(), direct.Bytes())
    }
    for _, b := range []*Buffer{heap, direct} {
        u8, _ := b.ReadUint8()
        u16, _ := b.ReadUint16()
        u32, _ := b.ReadUint32()
        u64, _ := b.ReadUint64()
        i64, _ := b.ReadInt64()
        flag, _ := b.ReadBool()
        tail := make([]byte, 4)
        if err := b.ReadBytes(tail); err != nil { t.Fatalf("read tail: %v", err) }
        if u8 != 0xAB || u16 != 0xBEEF || u32 != 0xDEADBEEF || u64 != 0x0102030405060708 || i64 != -42 || !flag || string(tail) != "raft" {
            t.Fatalf("decoded mismatch on %s", b)
        }
        if b.HasRemaining() { t.Fatalf("unexpected remaining %d", b.Remaining()) }
    }
}

func TestBuffer_TransferBetweenBackends(t *testing.T) {
    heap := mustAllocate(t, HeapAllocator{}, 8, 8)
    if err := heap.WriteInt64(10); err != nil { t.Fatalf("write: %v", err) }
    heap.Flip()

    direct := mustAllocate(t, DirectAllocator{}, 8, 8)
    if err := direct.WriteFrom(heap); err != nil { t.Fatalf("heap -> direct: %v", err) }
    direct.Flip()
    heap.Rewind()

    back := mustAllocate(t, HeapAllocator{}, 8, 8)
    if err := back.WriteFrom(direct.Duplicate()); err != nil { t.Fatalf("direct -> heap: %v", err) }
    back.Flip()

    if !bytes.Equal(heap.Bytes(), direct.Bytes()) || !bytes.Equal(direct.Bytes(), back.Bytes()) {
        t.Fatalf("transfer not byte-identical: %x %x %x", heap.Bytes(), direct.Bytes(), back.Bytes())
    }
    if v, _ := back.ReadInt64(); v != 10 { t.Fatalf("round trip = %d, want 10", v) }
}

func TestBuffer_OverflowOnFixedLimit(t *testing.T) {
    for name, a := range allocators() {
        for n := 0; n <= 16; n++ {
            b := mustAllocate(t, a, n, n)
            for i := 0; i < n; i++ {
                if err := b.WriteUint8(byte(i)); err != nil { t.Fatalf("%s n=%d: write %d: %v", name, n, i, err) }
            }
            if err := b.WriteUint8(0xFF); !errors.Is(err, ErrBufferOverflow) {
                t.Fatalf("%s n=%d: err = %v, want ErrBufferOverflow", name, n, err)
            }
            if b.Position() != n { t.Fatalf("%s n=%d: position moved to %d", name, n, b.Position()) }

            // Same property once the limit is fixed explicitly.
            b.Clear()
            if err := b.SetLimit(n); err != nil { t.Fatalf("set limit: %v", err) }
            if err := b.WriteBytes(make([]byte, n+1)); !errors.Is(err, ErrBufferOverflow) {
                t.Fatalf("%s n=%d: bulk err = %v, want ErrBufferOverflow", name, n, err)
            }
        }
    }
}

func TestBuffer_UnderflowPastLimit(t *testing.T) {
    for name, a := range allocators() {
        b := mustAllocate(t, a, 16, 16)
        if err := b.WriteUint32(7); err != nil { t.Fatalf("write: %v", err) }
        b.Flip()
        if _, err := b.ReadUint64(); !errors.Is(err, ErrBufferUnderflow) {
            t.Fatalf("%s: err = %v, want ErrBufferUnderflow", name, err)
        }
        if v, err := b.ReadUint32(); err != nil || v != 7 {
            t.Fatalf("%s: read after failed read = %d, %v", name, v, err)
        }
        if _, err := b.ReadUint8(); !errors.Is(err, ErrBufferUnderflow) {
            t.Fatalf("%s: err = %v, want ErrBufferUnderflow", name, err)
        }
        if err := b.ReadBytes(make([]byte, 1)); !errors.Is(err, ErrBufferUnderflow) {
            t.Fatalf("%s: bulk err = %v, want ErrBufferUnderflow", name, err)
        }
    }
}

func TestBuffer_GrowthCeiling(t *testing.T) {
    for name, a := range allocators() {
        b := mustAllocate(t, a, 8, 16)
        if err := b.WriteBytes(make([]byte, 16)); err != nil { t.Fatalf("%s: 16-byte write: %v", name, err) }
        if b.Capacity() != 16 { t.Fatalf("%s: capacity = %d, want 16", name, b.Capacity()) }

        c := mustAllocate(t, a, 8, 16)
        err := c.WriteBytes(make([]byte, 17))
        if !errors.Is(err, ErrCapacity) { t.Fatalf("%s: err = %v, want ErrCapacity", name, err) }
        if c.Capacity() != 8 || c.Position() != 0 { t.Fatalf("%s: failed write changed buffer: %s", name, c) }
    }
}

func TestBuffer_GrowthPowerOfTwo(t *testing.T) {
    b := mustAllocate(t, HeapAllocator{}, 4, 1024)
    if err := b.WriteBytes(make([]byte, 5)); err != nil { t.Fatalf("write: %v", err) }
    if b.Capacity() != 8 { t.Fatalf("capacity = %d, want 8", b.Capacity()) }
    if err := b.WriteBytes(make([]byte, 60)); err != nil { t.Fatalf("write: %v", err) }
    if b.Capacity() != 128 { t.Fatalf("capacity = %d, want 128", b.Capacity()) }

    capped := mustAllocate(t, HeapAllocator{}, 4, 100)
    if err := capped.WriteBytes(make([]byte, 70)); err != nil { t.Fatalf("write: %v", err) }
    if capped.Capacity() != 100 { t.Fatalf("capacity = %d, want 100", capped.Capacity()) }
}

func TestBuffer_GrowthPreservesContents(t *testing.T) {
    for name, a := range allocators() {
        b := mustAllocate(t, a, 2, 64)
        for i := 0; i < 20; i++ {
            if err := b.WriteUint16(uint16(i)); err != nil { t.Fatalf("%s: write %d: %v", name, i, err) }
        }
        b.Flip()
        for i := 0; i < 20; i++ {
            v, err := b.ReadUint16()
            if err != nil || v != uint16(i) { t.Fatalf("%s: read %d = %d, %v", name, i, v, err) }
        }
    }
}

func TestBuffer_CursorOperations(t *testing.T) {
    b := mustAllocate(t, HeapAllocator{}, 16, 16)
    _ = b.WriteUint32(1)
    _ = b.WriteUint32(2)
    b.Flip()
    if b.Limit() != 8 || b.Position() != 0 { t.Fatalf("after flip: %s", b) }

    _, _ = b.ReadUint32()
    b.Mark()
    if v, _ := b.ReadUint32(); v != 2 { t.Fatalf("read = %d, want 2", v) }
    if err := b.Reset(); err != nil { t.Fatalf("reset: %v", err) }
    if b.Position() != 4 { t.Fatalf("position after reset = %d, want 4", b.Position()) }

    b.Rewind()
    if b.Position() != 0 || b.Limit() != 8 { t.Fatalf("after rewind: %s", b) }
    if err := b.Reset(); !errors.Is(err, ErrInvalidMark) { t.Fatalf("reset after rewind err = %v", err) }

    b.Clear()
    if b.Position() != 0 || b.Limit() != 16 { t.Fatalf("after clear: %s", b) }

    if err := b.SetPosition(17); err == nil { t.Fatalf("expected error for position past limit") }
    if err := b.SetLimit(32); !errors.Is(err, ErrCapacity) { t.Fatalf("set limit err = %v", err) }
    if err := b.Skip(4); err != nil { t.Fatalf("skip: %v", err) }
    if b.Position() != 4 { t.Fatalf("position after skip = %d", b.Position()) }
}

func TestBuffer_DuplicateSharesMemory(t *testing.T) {
    for name, a := range allocators() {
        b := mustAllocate(t, a, 16, 16)
        d := b.Duplicate()
        if err := b.WriteUint64(99); err != nil { t.Fatalf("write: %v", err) }
        if d.Position() != 0 { t.Fatalf("%s: duplicate cursor moved", name) }
        if v, err := d.ReadUint64(); err != nil || v != 99 {
            t.Fatalf("%s: duplicate read = %d, %v", name, v, err)
        }

        s, err := b.Slice(8, 8)
        if err != nil { t.Fatalf("slice: %v", err) }
        if err := s.WriteUint64(7); err != nil { t.Fatalf("slice write: %v", err) }
        if err := s.WriteUint8(1); !errors.Is(err, ErrBufferOverflow) { t.Fatalf("%s: slice grew: %v", name, err) }
        if v, _ := b.ReadUint64(); v != 7 { t.Fatalf("%s: parent sees %d, want 7", name, v) }
        if _, err := b.Slice(10, 8); err == nil { t.Fatalf("%s: expected out of range slice error", name) }
    }
}

func TestBuffer_ReleaseOnce(t *testing.T) {
    for name, a := range allocators() {
        b, err := a.Allocate(8, 8)
        if err != nil { t.Fatalf("allocate: %v", err) }
        d := b.Duplicate()
        if err := b.Release(); err != nil { t.Fatalf("%s: release: %v", name, err) }
        if err := b.Release(); !errors.Is(err, ErrReleased) { t.Fatalf("%s: second release err = %v", name, err) }
        if err := d.WriteUint8(1); !errors.Is(err, ErrReleased) { t.Fatalf("%s: use after release err = %v", name, err) }
        if _, err := d.ReadUint8(); !errors.Is(err, ErrReleased) { t.Fatalf("%s: read after release err = %v", name, err) }
    }
}

func TestBuffer_DerivedReleaseLeavesOwnerMemory(t *testing.T) {
    for name, a := range allocators() {
        b, err := a.Allocate(16, 16)
        if err != nil { t.Fatalf("allocate: %v", err) }
        if err := b.WriteInt64(10); err != nil { t.Fatalf("write: %v", err) }

        d := b.Duplicate()
        if err := d.Release(); err != nil { t.Fatalf("%s: duplicate release: %v", name, err) }
        if err := d.Release(); !errors.Is(err, ErrReleased) { t.Fatalf("%s: second duplicate release err = %v", name, err) }
        if _, err := d.ReadUint8(); !errors.Is(err, ErrReleased) { t.Fatalf("%s: read on released duplicate err = %v", name, err) }

        s, err := b.Slice(0, 8)
        if err != nil { t.Fatalf("slice: %v", err) }
        if err := s.Release(); err != nil { t.Fatalf("%s: slice release: %v", name, err) }

        b.Flip()
        if v, err := b.ReadInt64(); err != nil || v != 10 {
            t.Fatalf("%s: owner read after derived release = %d, %v", name, v, err)
        }
        if err := b.Release(); err != nil { t.Fatalf("%s: owner release: %v", name, err) }
        if err := b.Release(); !errors.Is(err, ErrReleased) { t.Fatalf("%s: second owner release err = %v", name, err) }
    }
}

func TestBuffer_RejectsNegativeLengths(t *testing.T) {
    for name, a := range allocators() {
        b := mustAllocate(t, a, 8, 8)
        if err := b.Skip(-3); !errors.Is(err, ErrBufferUnderflow) { t.Fatalf("%s: skip(-3) err = %v", name, err) }
        if b.Position() != 0 { t.Fatalf("%s: position after rejected skip = %d", name, b.Position()) }
        if err := b.Ensure(-1); !errors.Is(err, ErrBufferOverflow) { t.Fatalf("%s: ensure(-1) err = %v", name, err) }
        if err := b.WriteUint8(1); err != nil { t.Fatalf("%s: write after rejected skip: %v", name, err) }
    }
}

func TestBuffer_WrapDoesNotCopy(t *testing.T) {
    raw := make([]byte, 4)
    b := Wrap(raw)
    if err := b.WriteUint32(0x01020304); err != nil { t.Fatalf("write: %v", err) }
    if !bytes.Equal(raw, []byte{1, 2, 3, 4}) { t.Fatalf("wrapped memory = %x", raw) }
    if err := b.WriteUint8(5); !errors.Is(err, ErrBufferOverflow) { t.Fatalf("wrapped buffer grew: %v", err) }
    if err := b.Release(); err != nil { t.Fatalf("release: %v", err) }
    if raw[0] != 1 { t.Fatalf("release touched caller memory") }
}

func TestBuffer_ViewAliasesMemory(t *testing.T) {
    b := mustAllocate(t, HeapAllocator{}, 8, 8)
    _ = b.WriteUint32(0x01020304)
    v, err := b.View(1, 2)
    if err != nil { t.Fatalf("view: %v", err) }
    if v[0] != 0x02 || v[1] != 0x03 { t.Fatalf("view = %x", v) }
    v[0] = 0xff
    b.Flip()
    if got, _ := b.ReadUint32(); got != 0x01ff0304 { t.Fatalf("write through view not visible: %x", got) }
    if _, err := b.View(6, 3); err == nil { t.Fatalf("expected error for view past capacity") }
}
