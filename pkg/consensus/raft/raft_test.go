package raftcons

import (
    "context"
    "io"
    "log"
    "testing"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-raftstore/pkg/entry"
    m "github.com/amirimatin/go-raftstore/pkg/membership"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func awaitLeader(t *testing.T, n *Node) {
    t.Helper()
    deadline := time.Now().Add(3 * time.Second)
    for time.Now().Before(deadline) {
        if n.IsLeader() { return }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("node %s did not become leader in time", n.opts.NodeID)
}

func registerEntry(client string) *entry.RegisterEntry {
    e := &entry.RegisterEntry{Member: m.MemberInfo{ID: client, Addr: "127.0.0.1:9000"}, Connection: uuid.New()}
    e.SetTimestamp(time.Now())
    return e
}

func TestRaft_SingleNodeLeadership(t *testing.T) {
    n, err := New(Options{NodeID: "n1", Bootstrap: true, ApplyTimeout: 2 * time.Second, Logger: quietLogger()})
    if err != nil { t.Fatalf("new: %v", err) }

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()

    awaitLeader(t, n)

    // Ensure we receive a leadership notification
    select {
    case li, ok := <-n.LeaderCh():
        if !ok { t.Fatalf("leader channel closed unexpectedly") }
        if li.ID != "n1" { t.Fatalf("leader id = %q, want n1", li.ID) }
    case <-time.After(2 * time.Second):
        t.Fatalf("timed out waiting for leader event")
    }
}

func TestRaft_ApplyThroughBufferLog(t *testing.T) {
    n, err := New(Options{NodeID: "n1", Bootstrap: true, ApplyTimeout: 2 * time.Second, TrailingLogs: 1, LogDirect: true, Logger: quietLogger()})
    if err != nil { t.Fatalf("new: %v", err) }
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()
    awaitLeader(t, n)

    reg := registerEntry("client-1")
    if err := n.Apply(reg, 0); err != nil { t.Fatalf("apply register: %v", err) }
    id := reg.Index()
    if id == 0 { t.Fatalf("register entry index not assigned") }
    for seq := uint64(1); seq <= 20; seq++ {
        cmd := &entry.CommandEntry{Session: id, Sequence: seq, Payload: []byte("put")}
        cmd.SetTimestamp(time.Now())
        if err := n.Apply(cmd, 0); err != nil { t.Fatalf("apply command %d: %v", seq, err) }
    }
    sess, ok := n.Session().Session(id)
    if !ok || sess.Commands != 20 || sess.Member.ID != "client-1" { t.Fatalf("session %+v", sess) }

    unknown := &entry.KeepAliveEntry{Session: id + 1000}
    if err := n.Apply(unknown, 0); err == nil { t.Fatalf("expected error for keep-alive of unknown session") }

    rl := n.Log()
    if rl == nil { t.Fatalf("buffer log not in use") }
    if rl.LastIndex() < id+20 { t.Fatalf("raft log last index %d, want at least %d", rl.LastIndex(), id+20) }

    if err := n.Snapshot(); err != nil { t.Fatalf("snapshot: %v", err) }
    if rl.FirstIndex() <= 1 { t.Fatalf("snapshot did not compact the log, first index %d", rl.FirstIndex()) }
    if rl.FirstIndex() > n.appliedIndex()+1 { t.Fatalf("log compacted past applied index") }
}

func TestRaft_ApplyRequiresLeader(t *testing.T) {
    n, _ := New(Options{NodeID: "n1", Logger: quietLogger()})
    if err := n.Apply(&entry.NoOpEntry{}, time.Second); err == nil { t.Fatalf("expected error before start") }
}

func TestOptions_Validate(t *testing.T) {
    if err := (Options{}).Validate(); err == nil { t.Fatalf("expected error for empty node id") }
    if err := (Options{NodeID: "n1", LogStore: LogStoreBolt}).Validate(); err == nil { t.Fatalf("bolt log store needs a data dir") }
    if err := (Options{NodeID: "n1", LogStore: "tape"}).Validate(); err == nil { t.Fatalf("expected error for unknown log store") }
    if err := (Options{NodeID: "n1", LogStore: LogStoreInmem}).Validate(); err != nil { t.Fatalf("inmem: %v", err) }
}
