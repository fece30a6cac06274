package buffer

// Input is the read side shared by Buffer (bounds-checked) and Trusted
// (unchecked). Multi-byte integers are big-endian.
type Input interface {
    ReadUint8() (uint8, error)
    ReadUint16() (uint16, error)
    ReadUint32() (uint32, error)
    ReadUint64() (uint64, error)
    ReadInt64() (int64, error)
    ReadBool() (bool, error)
    ReadBytes(p []byte) error
    Remaining() int
}

// Output is the write side shared by Buffer and Trusted.
type Output interface {
    WriteUint8(v uint8) error
    WriteUint16(v uint16) error
    WriteUint32(v uint32) error
    WriteUint64(v uint64) error
    WriteInt64(v int64) error
    WriteBool(v bool) error
    WriteBytes(p []byte) error
}

var (
    _ Input  = (*Buffer)(nil)
    _ Output = (*Buffer)(nil)
    _ Input  = Trusted{}
    _ Output = Trusted{}
)
