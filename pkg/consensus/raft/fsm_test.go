package raftcons

import (
    "bytes"
    "testing"
    "time"

    r "github.com/hashicorp/raft"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/entry"
    m "github.com/amirimatin/go-raftstore/pkg/membership"
    "github.com/amirimatin/go-raftstore/pkg/state/session"
)

func encode(t *testing.T, reg *entry.Registry, e entry.Entry) []byte {
    t.Helper()
    b, _ := buffer.Allocate(0, 1<<16)
    if err := reg.Write(e, b); err != nil { t.Fatalf("encode: %v", err) }
    return b.Flip().Bytes()
}

type memSink struct {
    bytes.Buffer
    cancelled bool
}

func (s *memSink) ID() string    { return "mem" }
func (s *memSink) Cancel() error { s.cancelled = true; return nil }
func (s *memSink) Close() error  { return nil }

func TestSessionFSM_ApplySnapshotRestore(t *testing.T) {
    reg := entry.NewRegistry()
    st := session.New()
    fsm := newSessionFSM(st, reg)

    fsm.StoreConfiguration(1, r.Configuration{Servers: []r.Server{
        {ID: "n1", Address: "127.0.0.1:1", Suffrage: r.Voter},
        {ID: "n2", Address: "127.0.0.1:2", Suffrage: r.Nonvoter},
    }})
    cfg := st.Configuration()
    if len(cfg.Active) != 1 || len(cfg.Passive) != 1 || cfg.Active[0].ID != "n1" { t.Fatalf("configuration %+v", cfg) }

    reg1 := &entry.RegisterEntry{Member: m.MemberInfo{ID: "c1", Addr: "127.0.0.1:9"}}
    reg1.SetTimestamp(time.UnixMilli(1_700_000_000_000))
    if v := fsm.Apply(&r.Log{Index: 2, Term: 1, Data: encode(t, reg, reg1)}); v != nil {
        t.Fatalf("apply register: %v", v)
    }
    cmd := &entry.CommandEntry{Session: 2, Sequence: 1, Payload: []byte("x")}
    if v := fsm.Apply(&r.Log{Index: 3, Term: 1, Data: encode(t, reg, cmd)}); v != nil {
        t.Fatalf("apply command: %v", v)
    }
    if v := fsm.Apply(&r.Log{Index: 4, Term: 1, Data: []byte{0xff, 0xff}}); v == nil {
        t.Fatalf("expected decode error for unknown kind")
    }
    if sess, ok := st.Session(2); !ok || sess.Commands != 1 { t.Fatalf("session %+v", sess) }

    snap, err := fsm.Snapshot()
    if err != nil { t.Fatalf("snapshot: %v", err) }
    sink := &memSink{}
    if err := snap.Persist(sink); err != nil { t.Fatalf("persist: %v", err) }

    st2 := session.New()
    if err := newSessionFSM(st2, reg).Restore(nopCloser{bytes.NewReader(sink.Bytes())}); err != nil { t.Fatalf("restore: %v", err) }
    if st2.LastApplied() != 3 { t.Fatalf("restored last applied = %d", st2.LastApplied()) }
    if _, ok := st2.Session(2); !ok { t.Fatalf("restored state lost session") }
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }
