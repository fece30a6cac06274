package raftcons

import (
    "fmt"
    "io"
    "time"

    "github.com/hashicorp/raft"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/entry"
    "github.com/amirimatin/go-raftstore/pkg/membership"
    base "github.com/amirimatin/go-raftstore/pkg/state"
)

// sessionFSM bridges Raft Apply/Snapshot to the session state machine.
// Command data is one encoded entry.
type sessionFSM struct {
    st  base.SessionState
    reg *entry.Registry
}

func newSessionFSM(st base.SessionState, reg *entry.Registry) *sessionFSM {
    return &sessionFSM{st: st, reg: reg}
}

func (f *sessionFSM) Apply(l *raft.Log) interface{} {
    e, err := f.reg.Read(buffer.Wrap(l.Data))
    if err != nil {
        return fmt.Errorf("raftcons: decode log %d: %w", l.Index, err)
    }
    e.SetIndex(l.Index)
    e.SetTerm(l.Term)
    return f.st.Apply(l.Index, e)
}

// StoreConfiguration records raft configuration changes as configuration
// entries so the state machine tracks the member sets.
func (f *sessionFSM) StoreConfiguration(index uint64, cfg raft.Configuration) {
    e := &entry.ConfigurationEntry{}
    e.SetIndex(index)
    for _, srv := range cfg.Servers {
        mi := membership.MemberInfo{ID: string(srv.ID), Addr: string(srv.Address)}
        if srv.Suffrage == raft.Voter {
            e.Active = append(e.Active, mi)
        } else {
            e.Passive = append(e.Passive, mi)
        }
    }
    _ = f.st.Apply(index, e)
}

func (f *sessionFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.st.Snapshot()
    if err != nil { return nil, err }
    return &snapshot{blob: blob, at: time.Now()}, nil
}

func (f *sessionFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil { return err }
    return f.st.Restore(data)
}

type snapshot struct {
    blob []byte
    at   time.Time
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil { _ = sink.Cancel(); return err }
    return sink.Close()
}

func (s *snapshot) Release() {}

// Ensure compile-time interface compliance.
var _ raft.ConfigurationStore = (*sessionFSM)(nil)
