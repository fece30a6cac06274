// Package buffer provides cursor-based byte buffers over heap or off-heap
// memory.
//
// A Buffer tracks position, limit, capacity and a maximum capacity:
//
//     0 <= position <= limit <= capacity <= maxCapacity
//
// Every read and write advances position by its width. Reads past limit fail
// with ErrBufferUnderflow. Writes past capacity grow the buffer up to
// maxCapacity; writes past a limit fixed by Flip or SetLimit fail with
// ErrBufferOverflow. Buffer methods are bounds-checked; Trusted skips those
// checks for pre-validated call sites.
//
// Buffers are not safe for concurrent mutation. Duplicates and slices share
// memory but keep their own cursor; only the buffer that allocated or wrapped
// the memory can free it.
package buffer

import (
    "encoding/binary"
    "fmt"
    "math"
)

// MaxCapacity is the largest capacity any buffer may have.
const MaxCapacity = math.MaxInt32

// Buffer is a bounds-checked cursor over heap or off-heap memory.
type Buffer struct {
    mem         *memory
    offset      int
    position    int
    limit       int
    capacity    int
    maxCapacity int
    mark        int
    fixed       bool
    // owner is set on buffers returned by Allocate and Wrap. Derived views
    // only detach themselves on Release.
    owner    bool
    detached bool
}

// Allocator creates buffers on a particular backend.
type Allocator interface {
    Allocate(capacity, maxCapacity int) (*Buffer, error)
}

// HeapAllocator allocates buffers backed by Go-managed byte slices.
type HeapAllocator struct{}

func (HeapAllocator) Allocate(capacity, maxCapacity int) (*Buffer, error) {
    return Allocate(capacity, maxCapacity)
}

// DirectAllocator allocates buffers backed by memory mapped outside the Go
// heap. Such buffers must be released explicitly.
type DirectAllocator struct{}

func (DirectAllocator) Allocate(capacity, maxCapacity int) (*Buffer, error) {
    return AllocateDirect(capacity, maxCapacity)
}

func checkCapacity(capacity, maxCapacity int) error {
    if capacity < 0 {
        return fmt.Errorf("%w: negative capacity %d", ErrCapacity, capacity)
    }
    if maxCapacity > MaxCapacity {
        return fmt.Errorf("%w: max capacity %d above %d", ErrCapacity, maxCapacity, MaxCapacity)
    }
    if capacity > maxCapacity {
        return fmt.Errorf("%w: capacity %d, max capacity %d", ErrCapacity, capacity, maxCapacity)
    }
    return nil
}

// Allocate returns a heap buffer with the given initial capacity that may
// grow up to maxCapacity.
func Allocate(capacity, maxCapacity int) (*Buffer, error) {
    if err := checkCapacity(capacity, maxCapacity); err != nil { return nil, err }
    return newOwner(newHeapMemory(capacity), capacity, maxCapacity), nil
}

// AllocateDirect returns an off-heap buffer. Release must be called exactly
// once to return the memory.
func AllocateDirect(capacity, maxCapacity int) (*Buffer, error) {
    if err := checkCapacity(capacity, maxCapacity); err != nil { return nil, err }
    mem, err := newDirectMemory(capacity)
    if err != nil { return nil, err }
    return newOwner(mem, capacity, maxCapacity), nil
}

// Wrap returns a heap buffer over b. The buffer neither copies b nor owns it;
// its capacity and maximum capacity are len(b).
func Wrap(b []byte) *Buffer {
    return newOwner(&memory{buf: b}, len(b), len(b))
}

// WrapDirect returns a direct buffer over caller-supplied memory, typically a
// mapping the caller manages. Release does not unmap it.
func WrapDirect(b []byte) *Buffer {
    return newOwner(&memory{buf: b, direct: true}, len(b), len(b))
}

func newOwner(mem *memory, capacity, maxCapacity int) *Buffer {
    b := newBuffer(mem, 0, capacity, maxCapacity)
    b.owner = true
    return b
}

func newBuffer(mem *memory, offset, capacity, maxCapacity int) *Buffer {
    return &Buffer{mem: mem, offset: offset, limit: capacity, capacity: capacity, maxCapacity: maxCapacity, mark: -1}
}

func (b *Buffer) Position() int    { return b.position }
func (b *Buffer) Limit() int       { return b.limit }
func (b *Buffer) Capacity() int    { return b.capacity }
func (b *Buffer) MaxCapacity() int { return b.maxCapacity }
func (b *Buffer) Remaining() int   { return b.limit - b.position }
func (b *Buffer) HasRemaining() bool { return b.position < b.limit }

// Direct reports whether the buffer lives outside the Go heap.
func (b *Buffer) Direct() bool { return b.mem.direct }

// SetPosition moves the cursor. The position must lie within [0, limit].
func (b *Buffer) SetPosition(position int) error {
    if err := b.live(); err != nil { return err }
    if position < 0 || position > b.limit {
        return fmt.Errorf("%w: position %d outside [0, %d]", ErrBufferOverflow, position, b.limit)
    }
    b.position = position
    if b.mark > position { b.mark = -1 }
    return nil
}

// SetLimit fixes the limit. Writes beyond a fixed limit fail instead of
// growing the buffer until Clear is called.
func (b *Buffer) SetLimit(limit int) error {
    if err := b.live(); err != nil { return err }
    if limit < 0 || limit > b.capacity {
        return fmt.Errorf("%w: limit %d outside [0, %d]", ErrCapacity, limit, b.capacity)
    }
    b.limit = limit
    b.fixed = true
    if b.position > limit { b.position = limit }
    if b.mark > limit { b.mark = -1 }
    return nil
}

// Flip switches from writing to reading: limit becomes the current position
// and position is reset to zero.
func (b *Buffer) Flip() *Buffer {
    b.limit = b.position
    b.position = 0
    b.mark = -1
    b.fixed = true
    return b
}

// Rewind resets position to zero without touching limit.
func (b *Buffer) Rewind() *Buffer {
    b.position = 0
    b.mark = -1
    return b
}

// Clear resets position to zero and limit to the full capacity.
func (b *Buffer) Clear() *Buffer {
    b.position = 0
    b.limit = b.capacity
    b.mark = -1
    b.fixed = false
    return b
}

// Mark remembers the current position for a later Reset.
func (b *Buffer) Mark() *Buffer {
    b.mark = b.position
    return b
}

// Reset restores the position remembered by Mark.
func (b *Buffer) Reset() error {
    if b.mark < 0 { return ErrInvalidMark }
    b.position = b.mark
    return nil
}

// Skip advances position by n bytes without reading them.
func (b *Buffer) Skip(n int) error {
    if err := b.checkRead(n); err != nil { return err }
    b.position += n
    return nil
}

// Ensure makes room for n more bytes at the current position, growing the
// buffer if allowed. It does not move the cursor.
func (b *Buffer) Ensure(n int) error { return b.checkWrite(n) }

// Duplicate returns a buffer sharing this buffer's memory with an
// independent copy of its cursor. The duplicate does not own the memory.
func (b *Buffer) Duplicate() *Buffer {
    d := *b
    d.owner = false
    return &d
}

// Slice returns a fixed-size view of length bytes starting at offset. The
// view shares memory, starts at position zero, cannot grow and does not own
// the memory.
func (b *Buffer) Slice(offset, length int) (*Buffer, error) {
    if err := b.live(); err != nil { return nil, err }
    if offset < 0 || length < 0 || offset+length > b.capacity {
        return nil, fmt.Errorf("%w: slice [%d, %d) outside capacity %d", ErrBufferOverflow, offset, offset+length, b.capacity)
    }
    return newBuffer(b.mem, b.offset+offset, length, length), nil
}

// Bytes returns a copy of the bytes between position and limit.
func (b *Buffer) Bytes() []byte {
    if b.live() != nil { return nil }
    out := make([]byte, b.limit-b.position)
    copy(out, b.window()[b.position:b.limit])
    return out
}

// View returns the length bytes starting at offset without copying. The slice
// aliases buffer memory and is valid until the buffer grows or is released.
func (b *Buffer) View(offset, length int) ([]byte, error) {
    if err := b.live(); err != nil { return nil, err }
    if offset < 0 || length < 0 || offset+length > b.capacity {
        return nil, fmt.Errorf("%w: view [%d, %d) outside capacity %d", ErrBufferUnderflow, offset, offset+length, b.capacity)
    }
    return b.window()[offset : offset+length], nil
}

// Release frees the memory when called on the buffer that allocated or
// wrapped it; its duplicates and slices become unusable. On a duplicate or
// slice, Release only detaches that view and leaves the memory alone. A second
// call returns ErrReleased.
func (b *Buffer) Release() error {
    if b.owner { return b.mem.free() }
    if err := b.live(); err != nil { return err }
    b.detached = true
    return nil
}

func (b *Buffer) String() string {
    return fmt.Sprintf("Buffer[position=%d, limit=%d, capacity=%d, maxCapacity=%d, direct=%t]", b.position, b.limit, b.capacity, b.maxCapacity, b.mem.direct)
}

func (b *Buffer) window() []byte { return b.mem.buf[b.offset : b.offset+b.capacity] }

func (b *Buffer) live() error {
    if b.detached || b.mem.released { return ErrReleased }
    return nil
}

func (b *Buffer) checkRead(n int) error {
    if err := b.live(); err != nil { return err }
    if n < 0 {
        return fmt.Errorf("%w: negative length %d", ErrBufferUnderflow, n)
    }
    if b.position+n > b.limit {
        return fmt.Errorf("%w: %d bytes at position %d, limit %d", ErrBufferUnderflow, n, b.position, b.limit)
    }
    return nil
}

func (b *Buffer) checkWrite(n int) error {
    if err := b.live(); err != nil { return err }
    if n < 0 {
        return fmt.Errorf("%w: negative length %d", ErrBufferOverflow, n)
    }
    need := b.position + n
    if need <= b.limit { return nil }
    if b.fixed {
        return fmt.Errorf("%w: %d bytes at position %d, limit %d", ErrBufferOverflow, n, b.position, b.limit)
    }
    if need > b.maxCapacity {
        return fmt.Errorf("%w: %w: need %d bytes, max capacity %d", ErrBufferOverflow, ErrCapacity, need, b.maxCapacity)
    }
    return b.grow(need)
}

// grow raises capacity to the next power of two at or above need, capped at
// maxCapacity.
func (b *Buffer) grow(need int) error {
    size := nextPowerOfTwo(need)
    if size > b.maxCapacity { size = b.maxCapacity }
    if err := b.mem.grow(b.offset + size); err != nil { return err }
    b.capacity = size
    b.limit = size
    return nil
}

func nextPowerOfTwo(n int) int {
    p := 1
    for p < n { p <<= 1 }
    return p
}

func (b *Buffer) ReadUint8() (uint8, error) {
    if err := b.checkRead(1); err != nil { return 0, err }
    v := b.window()[b.position]
    b.position++
    return v, nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
    if err := b.checkRead(2); err != nil { return 0, err }
    v := binary.BigEndian.Uint16(b.window()[b.position:])
    b.position += 2
    return v, nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
    if err := b.checkRead(4); err != nil { return 0, err }
    v := binary.BigEndian.Uint32(b.window()[b.position:])
    b.position += 4
    return v, nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
    if err := b.checkRead(8); err != nil { return 0, err }
    v := binary.BigEndian.Uint64(b.window()[b.position:])
    b.position += 8
    return v, nil
}

func (b *Buffer) ReadInt64() (int64, error) {
    v, err := b.ReadUint64()
    return int64(v), err
}

func (b *Buffer) ReadBool() (bool, error) {
    v, err := b.ReadUint8()
    return v == 1, err
}

// ReadBytes fills p entirely or fails without moving the cursor.
func (b *Buffer) ReadBytes(p []byte) error {
    if err := b.checkRead(len(p)); err != nil { return err }
    b.position += copy(p, b.window()[b.position:])
    return nil
}

func (b *Buffer) WriteUint8(v uint8) error {
    if err := b.checkWrite(1); err != nil { return err }
    b.window()[b.position] = v
    b.position++
    return nil
}

func (b *Buffer) WriteUint16(v uint16) error {
    if err := b.checkWrite(2); err != nil { return err }
    binary.BigEndian.PutUint16(b.window()[b.position:], v)
    b.position += 2
    return nil
}

func (b *Buffer) WriteUint32(v uint32) error {
    if err := b.checkWrite(4); err != nil { return err }
    binary.BigEndian.PutUint32(b.window()[b.position:], v)
    b.position += 4
    return nil
}

func (b *Buffer) WriteUint64(v uint64) error {
    if err := b.checkWrite(8); err != nil { return err }
    binary.BigEndian.PutUint64(b.window()[b.position:], v)
    b.position += 8
    return nil
}

func (b *Buffer) WriteInt64(v int64) error { return b.WriteUint64(uint64(v)) }

func (b *Buffer) WriteBool(v bool) error {
    if v { return b.WriteUint8(1) }
    return b.WriteUint8(0)
}

func (b *Buffer) WriteBytes(p []byte) error {
    if err := b.checkWrite(len(p)); err != nil { return err }
    b.position += copy(b.window()[b.position:], p)
    return nil
}

// WriteFrom copies the remaining bytes of src into b and advances both
// cursors. src and b may live on different backends.
func (b *Buffer) WriteFrom(src *Buffer) error {
    if err := src.live(); err != nil { return err }
    n := src.Remaining()
    if err := b.checkWrite(n); err != nil { return err }
    copy(b.window()[b.position:], src.window()[src.position:src.limit])
    b.position += n
    src.position += n
    return nil
}
