package entry

import (
    "fmt"
    "sort"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/membership"
)

// Variable-length fields are a uint32 length followed by the raw bytes. The
// helpers below are exported for entry kinds defined outside this package.

// BytesSize returns the encoded width of a length-prefixed byte field.
func BytesSize(p []byte) int  { return 4 + len(p) }
func StringSize(s string) int { return 4 + len(s) }

func WriteBytes(out buffer.Output, p []byte) error {
    if err := out.WriteUint32(uint32(len(p))); err != nil { return err }
    return out.WriteBytes(p)
}

// ReadBytes reads a length-prefixed byte field. An empty field reads as nil.
func ReadBytes(in buffer.Input) ([]byte, error) {
    n, err := in.ReadUint32()
    if err != nil { return nil, err }
    if int(n) > in.Remaining() {
        return nil, fmt.Errorf("%w: field length %d exceeds %d remaining", buffer.ErrBufferUnderflow, n, in.Remaining())
    }
    if n == 0 { return nil, nil }
    p := make([]byte, n)
    if err := in.ReadBytes(p); err != nil { return nil, err }
    return p, nil
}

func WriteString(out buffer.Output, s string) error { return WriteBytes(out, []byte(s)) }

func ReadString(in buffer.Input) (string, error) {
    p, err := ReadBytes(in)
    return string(p), err
}

// Members are written as id, addr, then the metadata pairs sorted by key so
// the encoding of a given member is deterministic.

func MemberSize(m membership.MemberInfo) int {
    n := StringSize(m.ID) + StringSize(m.Addr) + 4
    for k, v := range m.Meta {
        n += StringSize(k) + StringSize(v)
    }
    return n
}

func WriteMember(out buffer.Output, m membership.MemberInfo) error {
    if err := WriteString(out, m.ID); err != nil { return err }
    if err := WriteString(out, m.Addr); err != nil { return err }
    keys := make([]string, 0, len(m.Meta))
    for k := range m.Meta { keys = append(keys, k) }
    sort.Strings(keys)
    if err := out.WriteUint32(uint32(len(keys))); err != nil { return err }
    for _, k := range keys {
        if err := WriteString(out, k); err != nil { return err }
        if err := WriteString(out, m.Meta[k]); err != nil { return err }
    }
    return nil
}

func ReadMember(in buffer.Input) (membership.MemberInfo, error) {
    var m membership.MemberInfo
    var err error
    if m.ID, err = ReadString(in); err != nil { return m, err }
    if m.Addr, err = ReadString(in); err != nil { return m, err }
    n, err := in.ReadUint32()
    if err != nil { return m, err }
    // every pair needs at least two length prefixes
    if int(n) > in.Remaining()/8 {
        return m, fmt.Errorf("%w: %d metadata pairs exceed %d remaining", buffer.ErrBufferUnderflow, n, in.Remaining())
    }
    if n > 0 { m.Meta = make(map[string]string, n) }
    for i := uint32(0); i < n; i++ {
        k, err := ReadString(in)
        if err != nil { return m, err }
        v, err := ReadString(in)
        if err != nil { return m, err }
        m.Meta[k] = v
    }
    return m, nil
}

func MembersSize(ms []membership.MemberInfo) int {
    n := 4
    for _, m := range ms { n += MemberSize(m) }
    return n
}

func WriteMembers(out buffer.Output, ms []membership.MemberInfo) error {
    if err := out.WriteUint32(uint32(len(ms))); err != nil { return err }
    for _, m := range ms {
        if err := WriteMember(out, m); err != nil { return err }
    }
    return nil
}

func ReadMembers(in buffer.Input) ([]membership.MemberInfo, error) {
    n, err := in.ReadUint32()
    if err != nil { return nil, err }
    // smallest member: id len, addr len, meta count
    if int(n) > in.Remaining()/12 {
        return nil, fmt.Errorf("%w: %d members exceed %d remaining", buffer.ErrBufferUnderflow, n, in.Remaining())
    }
    if n == 0 { return nil, nil }
    ms := make([]membership.MemberInfo, 0, n)
    for i := uint32(0); i < n; i++ {
        m, err := ReadMember(in)
        if err != nil { return nil, err }
        ms = append(ms, m)
    }
    return ms, nil
}
