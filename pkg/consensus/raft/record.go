package raftcons

import (
    "fmt"

    "github.com/hashicorp/raft"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/entry"
)

// KindRaftRecord tags raft log records kept in a raftlog.Log.
const KindRaftRecord entry.Kind = 1000

// recordEntry carries one raft.Log. AppendedAt is kept at millisecond
// precision.
type recordEntry struct {
    entry.Timestamped
    Type       raft.LogType
    Data       []byte
    Extensions []byte
}

func newRecordEntry() entry.Entry { return &recordEntry{} }

func (e *recordEntry) Kind() entry.Kind { return KindRaftRecord }

func (e *recordEntry) Size() int {
    return e.Timestamped.Size() + 1 + entry.BytesSize(e.Data) + entry.BytesSize(e.Extensions)
}

func (e *recordEntry) Encode(out buffer.Output) error {
    if err := e.Timestamped.Encode(out); err != nil { return err }
    if err := out.WriteUint8(uint8(e.Type)); err != nil { return err }
    if err := entry.WriteBytes(out, e.Data); err != nil { return err }
    return entry.WriteBytes(out, e.Extensions)
}

func (e *recordEntry) Decode(in buffer.Input) error {
    if err := e.Timestamped.Decode(in); err != nil { return err }
    t, err := in.ReadUint8()
    if err != nil { return err }
    e.Type = raft.LogType(t)
    if e.Data, err = entry.ReadBytes(in); err != nil { return err }
    e.Extensions, err = entry.ReadBytes(in)
    return err
}

func (e *recordEntry) Reset() { *e = recordEntry{} }

func (e *recordEntry) String() string {
    return fmt.Sprintf("RaftRecord[index=%d, term=%d, type=%s, data=%dB]", e.Index(), e.Term(), e.Type, len(e.Data))
}

func (e *recordEntry) fromLog(l *raft.Log) {
    e.SetIndex(l.Index)
    e.SetTerm(l.Term)
    e.SetTimestamp(l.AppendedAt)
    e.Type = l.Type
    e.Data = l.Data
    e.Extensions = l.Extensions
}

func (e *recordEntry) toLog(l *raft.Log) {
    l.Index = e.Index()
    l.Term = e.Term()
    l.Type = e.Type
    l.Data = e.Data
    l.Extensions = e.Extensions
    l.AppendedAt = e.Timestamp()
}
