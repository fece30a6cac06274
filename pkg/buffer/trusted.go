package buffer

import "encoding/binary"

// Trusted is unchecked access to a Buffer's cursor and memory.
//
// Trusted skips the limit check, never grows the buffer and never reports
// errors; every returned error is nil. The caller must guarantee that each
// access lies within the buffer's limit, usually by sizing the region up front
// with Buffer.Ensure. An access outside the underlying memory panics; an
// access past the limit but inside the memory silently leaves the cursor in an
// invalid state.
type Trusted struct {
    b *Buffer
}

// Trusted returns unchecked access to b. Use it only for call sites whose
// bounds were validated beforehand.
func (b *Buffer) Trusted() Trusted { return Trusted{b: b} }

// Buffer returns the checked buffer behind t.
func (t Trusted) Buffer() *Buffer { return t.b }

func (t Trusted) Remaining() int { return t.b.limit - t.b.position }

func (t Trusted) at() []byte { return t.b.mem.buf[t.b.offset+t.b.position:] }

func (t Trusted) ReadUint8() (uint8, error) {
    v := t.at()[0]
    t.b.position++
    return v, nil
}

func (t Trusted) ReadUint16() (uint16, error) {
    v := binary.BigEndian.Uint16(t.at())
    t.b.position += 2
    return v, nil
}

func (t Trusted) ReadUint32() (uint32, error) {
    v := binary.BigEndian.Uint32(t.at())
    t.b.position += 4
    return v, nil
}

func (t Trusted) ReadUint64() (uint64, error) {
    v := binary.BigEndian.Uint64(t.at())
    t.b.position += 8
    return v, nil
}

func (t Trusted) ReadInt64() (int64, error) {
    v, _ := t.ReadUint64()
    return int64(v), nil
}

func (t Trusted) ReadBool() (bool, error) {
    v, _ := t.ReadUint8()
    return v == 1, nil
}

func (t Trusted) ReadBytes(p []byte) error {
    t.b.position += copy(p, t.at()[:len(p)])
    return nil
}

func (t Trusted) WriteUint8(v uint8) error {
    t.at()[0] = v
    t.b.position++
    return nil
}

func (t Trusted) WriteUint16(v uint16) error {
    binary.BigEndian.PutUint16(t.at(), v)
    t.b.position += 2
    return nil
}

func (t Trusted) WriteUint32(v uint32) error {
    binary.BigEndian.PutUint32(t.at(), v)
    t.b.position += 4
    return nil
}

func (t Trusted) WriteUint64(v uint64) error {
    binary.BigEndian.PutUint64(t.at(), v)
    t.b.position += 8
    return nil
}

func (t Trusted) WriteInt64(v int64) error { return t.WriteUint64(uint64(v)) }

func (t Trusted) WriteBool(v bool) error {
    if v { return t.WriteUint8(1) }
    return t.WriteUint8(0)
}

func (t Trusted) WriteBytes(p []byte) error {
    t.b.position += copy(t.at()[:len(p)], p)
    return nil
}
