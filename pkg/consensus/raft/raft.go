package raftcons

import (
    "context"
    "fmt"
    "log"
    "net"
    "os"
    "path/filepath"
    "strconv"
    "sync/atomic"
    "time"

    "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    c "github.com/amirimatin/go-raftstore/pkg/consensus"
    "github.com/amirimatin/go-raftstore/pkg/entry"
    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    "github.com/amirimatin/go-raftstore/pkg/raftlog"
    "github.com/amirimatin/go-raftstore/pkg/state/session"
)

// Node implements consensus.Consensus using HashiCorp Raft. By default the
// raft log lives in a raftlog.Log and committed entries are applied to a
// session state machine.
type Node struct {
    opts  Options
    log   *log.Logger
    hlog  hclog.Logger
    r     *raft.Raft
    ref   atomic.Pointer[raft.Raft]
    lch   chan c.LeaderInfo
    // transport details
    addr  raft.ServerAddress
    trans raft.Transport
    lb    raft.LoopbackTransport

    reg     *entry.Registry
    session *session.State
    rlog    *raftlog.Log
    bolt    *raftboltdb.BoltStore
}

func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Node{
        opts:    opts,
        log:     logutil.Component(opts.Logger, "raft"),
        hlog:    newRaftLogger(opts.Logger, "raft"),
        lch:     make(chan c.LeaderInfo, 16),
        reg:     entry.NewRegistry(),
        session: session.New(),
    }, nil
}

func (n *Node) Start(ctx context.Context) error {
    if n.r != nil {
        return nil
    }

    // Raft configuration
    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    cfg.Logger = n.hlog
    if n.opts.HeartbeatTimeout > 0 {
        cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
        // Keep lease <= heartbeat to satisfy invariants
        if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
            cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
            if cfg.LeaderLeaseTimeout == 0 { cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout }
        }
    }
    if n.opts.ElectionTimeout > 0 { cfg.ElectionTimeout = n.opts.ElectionTimeout }
    if n.opts.CommitTimeout > 0 { cfg.CommitTimeout = n.opts.CommitTimeout }
    if n.opts.SnapshotInterval > 0 { cfg.SnapshotInterval = n.opts.SnapshotInterval }
    if n.opts.SnapshotThreshold > 0 { cfg.SnapshotThreshold = n.opts.SnapshotThreshold }
    if n.opts.TrailingLogs > 0 { cfg.TrailingLogs = n.opts.TrailingLogs }

    logs, stable, snaps, err := n.stores()
    if err != nil { return err }

    // Transport selection
    var (
        addr  raft.ServerAddress
        trans raft.Transport
    )
    if n.opts.BindAddr != "" {
        // TCP transport with dynamic advertise if port is :0
        var adv net.Addr
        if n.opts.Advertise != "" {
            a, err := net.ResolveTCPAddr("tcp", n.opts.Advertise)
            if err != nil { return fmt.Errorf("raftcons: advertise %q: %w", n.opts.Advertise, err) }
            adv = a
        }
        nt, err := raft.NewTCPTransportWithLogger(n.opts.BindAddr, adv, 3, 1*time.Second, n.hlog.Named("transport"))
        if err != nil { return err }
        trans = nt
        addr = nt.LocalAddr()
    } else {
        addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
    }

    fsm := newSessionFSM(n.session, n.reg)
    r, err := raft.NewRaft(cfg, fsm, logs, stable, snaps, trans)
    if err != nil {
        return err
    }
    n.r = r
    n.ref.Store(r)
    n.addr = addr
    n.trans = trans
    if lb, ok := n.trans.(raft.LoopbackTransport); ok { n.lb = lb }
    logutil.Infof(n.log, "raft started id=%s addr=%s log=%s", n.opts.NodeID, addr, n.logStoreKind())

    // Observe leadership/state changes and forward to LeaderCh.
    obsCh := make(chan raft.Observation, 32)
    observer := raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
        switch o.Data.(type) {
        case raft.LeaderObservation:
            return true
        default:
            return false
        }
    })
    n.r.RegisterObserver(observer)
    go func() {
        for range obsCh {
            // Emit leader info on relevant observations.
            id, addr, ok := n.Leader()
            if ok {
                n.emitLeader(c.LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
            }
        }
    }()

    // Also emit an initial leader snapshot if known shortly after start.
    go func() {
        // Small delay to allow Raft to settle, then emit if leader.
        time.Sleep(50 * time.Millisecond)
        id, addr, ok := n.Leader()
        if ok {
            n.emitLeader(c.LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
        }
    }()

    if n.opts.Bootstrap {
        cfgs := raft.Configuration{Servers: []raft.Server{{
            ID:      cfg.LocalID,
            Address: addr,
        }}}
        if err := n.r.BootstrapCluster(cfgs).Error(); err != nil && err != raft.ErrCantBootstrap {
            return err
        }
    }

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

// stores selects log, stable and snapshot stores from the options.
func (n *Node) stores() (raft.LogStore, raft.StableStore, raft.SnapshotStore, error) {
    var (
        stable raft.StableStore
        snaps  raft.SnapshotStore
    )
    // Storage selection: on-disk when DataDir provided, else in-memory.
    if n.opts.DataDir != "" {
        if n.opts.SnapshotsRetained == 0 { n.opts.SnapshotsRetained = 2 }
        if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil { return nil, nil, nil, err }
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
        if err != nil { return nil, nil, nil, err }
        n.bolt = bstore
        stable = bstore
        snaps, err = raft.NewFileSnapshotStoreWithLogger(n.opts.DataDir, n.opts.SnapshotsRetained, n.hlog.Named("snapshot"))
        if err != nil { return nil, nil, nil, err }
    } else {
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
    }

    switch n.logStoreKind() {
    case LogStoreBolt:
        return n.bolt, stable, snaps, nil
    case LogStoreInmem:
        return raft.NewInmemStore(), stable, snaps, nil
    }
    var alloc buffer.Allocator = buffer.HeapAllocator{}
    if n.opts.LogDirect { alloc = buffer.DirectAllocator{} }
    rl, err := raftlog.New(raftlog.Options{
        Allocator:       alloc,
        Registry:        entry.NewRegistry(),
        InitialCapacity: n.opts.LogInitialCapacity,
        MaxCapacity:     n.opts.LogMaxCapacity,
        Logger:          n.opts.Logger,
    })
    if err != nil { return nil, nil, nil, err }
    ls, err := NewLogStore(rl, n.appliedIndex, n.opts.Logger)
    if err != nil {
        _ = rl.Close()
        return nil, nil, nil, err
    }
    n.rlog = rl
    return ls, stable, snaps, nil
}

func (n *Node) logStoreKind() string {
    if n.opts.LogStore == "" { return LogStoreBuffer }
    return n.opts.LogStore
}

// appliedIndex bounds log compaction. raft does not hand no-op entries to
// the state machine, so its own applied index may run ahead.
func (n *Node) appliedIndex() uint64 {
    applied := n.session.LastApplied()
    if r := n.ref.Load(); r != nil {
        if ai := r.AppliedIndex(); ai > applied { applied = ai }
    }
    return applied
}

// Apply encodes e and replicates it through raft.
func (n *Node) Apply(e entry.Entry, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    if n.r.State() != raft.Leader {
        return fmt.Errorf("raftcons: not leader")
    }
    size := n.reg.Size(e)
    b, err := buffer.Allocate(size, size)
    if err != nil { return err }
    if err := n.reg.Write(e, b); err != nil { return err }
    t := timeout
    if t <= 0 && n.opts.ApplyTimeout > 0 { t = n.opts.ApplyTimeout }
    af := n.r.Apply(b.Flip().Bytes(), t)
    if err := af.Error(); err != nil { return err }
    if v := af.Response(); v != nil {
        if e, ok := v.(error); ok && e != nil { return e }
    }
    e.SetIndex(af.Index())
    return nil
}

func (n *Node) IsLeader() bool {
    if n.r == nil { return false }
    return n.r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    if n.r == nil { return "", "", false }
    a, sid := n.r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    if n.r == nil { return 0 }
    // Try to parse from stats; falls back to 0.
    if v := n.r.Stats()["current_term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil { return u }
    }
    return 0
}

func (n *Node) Stop() error {
    if n.r == nil { return nil }
    f := n.r.Shutdown()
    if err := f.Error(); err != nil { return err }
    n.r = nil
    n.ref.Store(nil)
    if n.rlog != nil {
        if err := n.rlog.Close(); err != nil { logutil.Warnf(n.log, "close log: %v", err) }
    }
    if n.bolt != nil {
        if err := n.bolt.Close(); err != nil { logutil.Warnf(n.log, "close bolt store: %v", err) }
    }
    return nil
}

// Ensure interface compliance
var (
    _ c.Consensus      = (*Node)(nil)
    _ c.LeaderNotifier = (*Node)(nil)
    _ c.Reconfigurer   = (*Node)(nil)
)

// Also implements optional LeaderNotifier.
func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
        // drop to avoid blocking; last-writer-wins semantics are ok for leadership
    }
}

// Addr returns the raft transport address once started.
func (n *Node) Addr() string { return string(n.addr) }

// Registry returns the registry used to encode applied entries.
func (n *Node) Registry() *entry.Registry { return n.reg }

// Session returns the local session state machine.
func (n *Node) Session() *session.State { return n.session }

// Log returns the buffer-backed raft log, or nil for other log stores.
func (n *Node) Log() *raftlog.Log { return n.rlog }

// StateSnapshot returns the current session snapshot (for testing/inspection).
func (n *Node) StateSnapshot() ([]byte, error) {
    return n.session.Snapshot()
}

// Snapshot takes a raft snapshot, compacting the log behind it.
func (n *Node) Snapshot() error {
    if n.r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    return n.r.Snapshot().Error()
}

// --- Dynamic Reconfiguration (optional) ---

// Servers returns the latest raft configuration.
func (n *Node) Servers() ([]c.Server, error) {
    if n.r == nil {
        return nil, fmt.Errorf("raftcons: not started")
    }
    f := n.r.GetConfiguration()
    if err := f.Error(); err != nil { return nil, err }
    var out []c.Server
    for _, srv := range f.Configuration().Servers {
        out = append(out, c.Server{ID: string(srv.ID), Addr: string(srv.Address), Voter: srv.Suffrage == raft.Voter})
    }
    return out, nil
}

// AddVoter adds a voting server to the Raft cluster if not already present.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    return n.addServer(id, addr, true, timeout)
}

// AddNonvoter adds a server that replicates the log without voting.
func (n *Node) AddNonvoter(id, addr string, timeout time.Duration) error {
    return n.addServer(id, addr, false, timeout)
}

func (n *Node) addServer(id, addr string, voter bool, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    // Fast-path: if exists with same address and suffrage, accept.
    cfg := n.r.GetConfiguration()
    if err := cfg.Error(); err == nil {
        for _, srv := range cfg.Configuration().Servers {
            if string(srv.ID) == id {
                if string(srv.Address) == addr && (srv.Suffrage == raft.Voter) == voter {
                    return nil
                }
                // Remove stale entry before adding
                rf := n.r.RemoveServer(srv.ID, 0, timeout)
                if err := rf.Error(); err != nil { return err }
                break
            }
        }
    }
    if voter {
        return n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
    }
    return n.r.AddNonvoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer removes a server from the Raft cluster if present.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    f := n.r.RemoveServer(raft.ServerID(id), 0, timeout)
    return f.Error()
}
