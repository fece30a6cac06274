// Package entry defines the log record kinds of the replicated log and the
// codec that moves them in and out of buffers.
//
// Every record is written as
//
//     kind(2) | index(8) | term(8) | [timestamp(8)] | payload
//
// Kind tags are part of the stored format and are never reassigned.
package entry

import (
    "strconv"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
)

// Kind is the stable numeric tag identifying an entry type on the wire.
type Kind uint16

const (
    KindNoOp          Kind = 300
    KindCommand       Kind = 301
    KindConfiguration Kind = 302
    KindRegister      Kind = 303
    KindKeepAlive     Kind = 304
    KindUnregister    Kind = 305
)

func (k Kind) String() string {
    switch k {
    case KindNoOp:
        return "NoOp"
    case KindCommand:
        return "Command"
    case KindConfiguration:
        return "Configuration"
    case KindRegister:
        return "Register"
    case KindKeepAlive:
        return "KeepAlive"
    case KindUnregister:
        return "Unregister"
    default:
        return "Kind(" + strconv.Itoa(int(k)) + ")"
    }
}

// Entry is a single record in the replicated log.
//
// Size must equal the number of bytes Encode writes; the log pre-sizes its
// storage from it. Kinds that embed Base or Timestamped must add their own
// payload width to the embedded Size exactly once.
type Entry interface {
    Kind() Kind
    Index() uint64
    SetIndex(index uint64)
    Term() uint64
    SetTerm(term uint64)
    Size() int
    Encode(out buffer.Output) error
    Decode(in buffer.Input) error
    // Reset zeroes the entry so a pool can hand it out again.
    Reset()
}

const (
    baseSize      = 16
    timestampSize = 8
)

// Base carries the fields shared by every entry.
type Base struct {
    index uint64
    term  uint64
}

func (b *Base) Index() uint64         { return b.index }
func (b *Base) SetIndex(index uint64) { b.index = index }
func (b *Base) Term() uint64          { return b.term }
func (b *Base) SetTerm(term uint64)   { b.term = term }
func (b *Base) Size() int             { return baseSize }

func (b *Base) Encode(out buffer.Output) error {
    if err := out.WriteUint64(b.index); err != nil { return err }
    return out.WriteUint64(b.term)
}

func (b *Base) Decode(in buffer.Input) error {
    var err error
    if b.index, err = in.ReadUint64(); err != nil { return err }
    b.term, err = in.ReadUint64()
    return err
}

// Timestamped extends Base with a wall-clock timestamp at millisecond
// precision.
type Timestamped struct {
    Base
    timestamp int64
}

// Timestamp returns the entry creation time.
func (t *Timestamped) Timestamp() time.Time { return time.UnixMilli(t.timestamp) }

// SetTimestamp stores ts truncated to milliseconds.
func (t *Timestamped) SetTimestamp(ts time.Time) { t.timestamp = ts.UnixMilli() }

func (t *Timestamped) Size() int { return t.Base.Size() + timestampSize }

func (t *Timestamped) Encode(out buffer.Output) error {
    if err := t.Base.Encode(out); err != nil { return err }
    return out.WriteInt64(t.timestamp)
}

func (t *Timestamped) Decode(in buffer.Input) error {
    if err := t.Base.Decode(in); err != nil { return err }
    var err error
    t.timestamp, err = in.ReadInt64()
    return err
}
