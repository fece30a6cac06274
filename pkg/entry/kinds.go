package entry

import (
    "fmt"

    "github.com/google/uuid"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/membership"
)

// NoOpEntry is committed by a new leader at the start of its term.
type NoOpEntry struct {
    Base
}

func (e *NoOpEntry) Kind() Kind { return KindNoOp }
func (e *NoOpEntry) Reset()     { *e = NoOpEntry{} }

func (e *NoOpEntry) String() string {
    return fmt.Sprintf("NoOp[index=%d, term=%d]", e.index, e.term)
}

// CommandEntry carries an opaque client command submitted within a session.
type CommandEntry struct {
    Timestamped
    Session  uint64
    Sequence uint64
    Payload  []byte
}

func (e *CommandEntry) Kind() Kind { return KindCommand }

func (e *CommandEntry) Size() int {
    return e.Timestamped.Size() + 16 + BytesSize(e.Payload)
}

func (e *CommandEntry) Encode(out buffer.Output) error {
    if err := e.Timestamped.Encode(out); err != nil { return err }
    if err := out.WriteUint64(e.Session); err != nil { return err }
    if err := out.WriteUint64(e.Sequence); err != nil { return err }
    return WriteBytes(out, e.Payload)
}

func (e *CommandEntry) Decode(in buffer.Input) error {
    if err := e.Timestamped.Decode(in); err != nil { return err }
    var err error
    if e.Session, err = in.ReadUint64(); err != nil { return err }
    if e.Sequence, err = in.ReadUint64(); err != nil { return err }
    e.Payload, err = ReadBytes(in)
    return err
}

func (e *CommandEntry) Reset() { *e = CommandEntry{} }

func (e *CommandEntry) String() string {
    return fmt.Sprintf("Command[index=%d, term=%d, session=%d, sequence=%d, payload=%dB]",
        e.index, e.term, e.Session, e.Sequence, len(e.Payload))
}

// ConfigurationEntry records the voting and non-voting member sets.
type ConfigurationEntry struct {
    Base
    Active  []membership.MemberInfo
    Passive []membership.MemberInfo
}

func (e *ConfigurationEntry) Kind() Kind { return KindConfiguration }

func (e *ConfigurationEntry) Size() int {
    return e.Base.Size() + MembersSize(e.Active) + MembersSize(e.Passive)
}

func (e *ConfigurationEntry) Encode(out buffer.Output) error {
    if err := e.Base.Encode(out); err != nil { return err }
    if err := WriteMembers(out, e.Active); err != nil { return err }
    return WriteMembers(out, e.Passive)
}

func (e *ConfigurationEntry) Decode(in buffer.Input) error {
    if err := e.Base.Decode(in); err != nil { return err }
    var err error
    if e.Active, err = ReadMembers(in); err != nil { return err }
    e.Passive, err = ReadMembers(in)
    return err
}

func (e *ConfigurationEntry) Reset() { *e = ConfigurationEntry{} }

func (e *ConfigurationEntry) String() string {
    return fmt.Sprintf("Configuration[index=%d, term=%d, active=%d, passive=%d]",
        e.index, e.term, len(e.Active), len(e.Passive))
}

// RegisterEntry opens a client session on behalf of a member connection.
type RegisterEntry struct {
    Timestamped
    Member     membership.MemberInfo
    Connection uuid.UUID
}

func (e *RegisterEntry) Kind() Kind { return KindRegister }

func (e *RegisterEntry) Size() int {
    return e.Timestamped.Size() + MemberSize(e.Member) + len(e.Connection)
}

func (e *RegisterEntry) Encode(out buffer.Output) error {
    if err := e.Timestamped.Encode(out); err != nil { return err }
    if err := WriteMember(out, e.Member); err != nil { return err }
    return out.WriteBytes(e.Connection[:])
}

func (e *RegisterEntry) Decode(in buffer.Input) error {
    if err := e.Timestamped.Decode(in); err != nil { return err }
    var err error
    if e.Member, err = ReadMember(in); err != nil { return err }
    return in.ReadBytes(e.Connection[:])
}

func (e *RegisterEntry) Reset() { *e = RegisterEntry{} }

func (e *RegisterEntry) String() string {
    return fmt.Sprintf("Register[index=%d, term=%d, member=%s, connection=%s]",
        e.index, e.term, e.Member.ID, e.Connection)
}

// KeepAliveEntry refreshes a session's liveness.
type KeepAliveEntry struct {
    Timestamped
    Session uint64
}

func (e *KeepAliveEntry) Kind() Kind { return KindKeepAlive }
func (e *KeepAliveEntry) Size() int  { return e.Timestamped.Size() + 8 }

func (e *KeepAliveEntry) Encode(out buffer.Output) error {
    if err := e.Timestamped.Encode(out); err != nil { return err }
    return out.WriteUint64(e.Session)
}

func (e *KeepAliveEntry) Decode(in buffer.Input) error {
    if err := e.Timestamped.Decode(in); err != nil { return err }
    var err error
    e.Session, err = in.ReadUint64()
    return err
}

func (e *KeepAliveEntry) Reset() { *e = KeepAliveEntry{} }

func (e *KeepAliveEntry) String() string {
    return fmt.Sprintf("KeepAlive[index=%d, term=%d, session=%d]", e.index, e.term, e.Session)
}

// UnregisterEntry closes a session, either explicitly or on expiry.
type UnregisterEntry struct {
    Timestamped
    Session uint64
    Expired bool
}

func (e *UnregisterEntry) Kind() Kind { return KindUnregister }
func (e *UnregisterEntry) Size() int  { return e.Timestamped.Size() + 9 }

func (e *UnregisterEntry) Encode(out buffer.Output) error {
    if err := e.Timestamped.Encode(out); err != nil { return err }
    if err := out.WriteUint64(e.Session); err != nil { return err }
    return out.WriteBool(e.Expired)
}

func (e *UnregisterEntry) Decode(in buffer.Input) error {
    if err := e.Timestamped.Decode(in); err != nil { return err }
    var err error
    if e.Session, err = in.ReadUint64(); err != nil { return err }
    e.Expired, err = in.ReadBool()
    return err
}

func (e *UnregisterEntry) Reset() { *e = UnregisterEntry{} }

func (e *UnregisterEntry) String() string {
    return fmt.Sprintf("Unregister[index=%d, term=%d, session=%d, expired=%v]",
        e.index, e.term, e.Session, e.Expired)
}
