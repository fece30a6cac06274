package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-raftstore/pkg/cluster"
    cns "github.com/amirimatin/go-raftstore/pkg/consensus"
    consraft "github.com/amirimatin/go-raftstore/pkg/consensus/raft"
    "github.com/amirimatin/go-raftstore/pkg/discovery"
    dStatic "github.com/amirimatin/go-raftstore/pkg/discovery/static"
    "github.com/amirimatin/go-raftstore/pkg/entry"
    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    "github.com/amirimatin/go-raftstore/pkg/membership"
    ml "github.com/amirimatin/go-raftstore/pkg/membership/memberlist"
    obsmetrics "github.com/amirimatin/go-raftstore/pkg/observability/metrics"
    tlsx "github.com/amirimatin/go-raftstore/pkg/security/tlsconfig"
    "github.com/amirimatin/go-raftstore/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-raftstore/pkg/transport/grpc"
    "github.com/amirimatin/go-raftstore/pkg/transport/httpjson"
)

var errNotStarted = errors.New("bootstrap: node not started")

// MetaMgmt is the membership metadata key carrying a node's management address.
const MetaMgmt = "mgmt"

// Management API protocols.
const (
    MgmtHTTP = "http"
    MgmtGRPC = "grpc"
)

// Config defines high-level inputs to assemble a node with sensible
// defaults. Applications embed a node by providing this structure and
// calling Build/Run.
type Config struct {
    // Identity and addresses
    NodeID        string
    RaftAddr      string // e.g., ":9520" or "host:9520"
    RaftAdvertise string // optional when RaftAddr names a concrete host
    MemBind       string // membership bind host:port
    MemAdv        string // optional advertise host:port

    // MgmtAddr enables the management API (status/configure/metrics) when set.
    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"

    // TLS (optional) for the management API
    TLS tlsx.Options

    // SeedsCSV lists membership seeds (host:port).
    SeedsCSV string

    // Persistence and bootstrap
    DataDir   string // empty → in-memory stable and snapshot stores
    Bootstrap bool   // single-node bootstrap
    AutoJoin  bool   // leader adds gossiped members as voters

    // Raft log storage
    LogStore          string // buffer (default), bolt or inmem
    LogDirect         bool   // off-heap buffer log
    LogMaxCapacity    int
    SnapshotThreshold uint64
    TrailingLogs      uint64

    // SessionTimeout expires sessions not seen for this long; the leader
    // unregisters them. Zero disables expiry.
    SessionTimeout time.Duration
    // ApplyTimeout bounds session operations. Zero means 5s.
    ApplyTimeout time.Duration

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

func (c Config) Validate() error {
    if c.NodeID == "" {
        return errors.New("bootstrap: empty NodeID")
    }
    if c.RaftAddr == "" {
        return errors.New("bootstrap: empty RaftAddr")
    }
    if c.MemBind == "" {
        return errors.New("bootstrap: empty MemBind")
    }
    if c.SessionTimeout < 0 || c.ApplyTimeout < 0 {
        return errors.New("bootstrap: negative timeout")
    }
    switch c.MgmtProto {
    case "", MgmtHTTP, MgmtGRPC:
    default:
        return fmt.Errorf("bootstrap: unknown management protocol %q", c.MgmtProto)
    }
    return nil
}

// NewMgmtClient returns a management API client for proto ("http" when
// empty), using TLS when opts enables it.
func NewMgmtClient(proto string, timeout time.Duration, opts tlsx.Options) (transport.RPCClient, error) {
    cliTLS, err := opts.ClientHotReload()
    if err != nil { return nil, fmt.Errorf("bootstrap: tls client config: %w", err) }
    switch proto {
    case "", MgmtHTTP:
        c := httpjson.NewClient(timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, nil
    case MgmtGRPC:
        c := mgmtgrpc.NewClient(timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, nil
    default:
        return nil, fmt.Errorf("bootstrap: unknown management protocol %q", proto)
    }
}

func newMgmtServer(cfg Config) (transport.RPCServer, error) {
    var srvTLS *tls.Config
    if cfg.TLS.Enable {
        s, err := cfg.TLS.ServerHotReload()
        if err != nil { return nil, fmt.Errorf("bootstrap: tls server config: %w", err) }
        srvTLS = s
    }
    if cfg.MgmtProto == MgmtGRPC {
        s := mgmtgrpc.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        return s, nil
    }
    s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
    if srvTLS != nil { s.UseTLS(srvTLS) }
    return s, nil
}

// Node is an assembled raftstore node: a raft consensus node storing its log
// in a raftlog, gossip membership, and a cluster View over both.
type Node struct {
    cfg  Config
    log  *log.Logger
    disc discovery.Discovery

    Consensus  *consraft.Node
    Membership *ml.Membership
    Protocol   *cluster.RaftProtocol
    View       *cluster.View

    exec *cluster.Executor
    mgmt transport.RPCServer
    view atomic.Pointer[cluster.View]

    mu      sync.Mutex
    started bool
    closed  bool
}

// Build assembles a Node from Config without starting it.
func Build(cfg Config) (*Node, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if cfg.ApplyTimeout == 0 { cfg.ApplyTimeout = 5 * time.Second }

    seeds, err := dStatic.Parse(cfg.SeedsCSV)
    if err != nil { return nil, err }

    var mgmt transport.RPCServer
    if cfg.MgmtAddr != "" {
        if mgmt, err = newMgmtServer(cfg); err != nil { return nil, err }
    }

    cons, err := consraft.New(consraft.Options{
        NodeID:            cfg.NodeID,
        Logger:            cfg.Logger,
        BindAddr:          cfg.RaftAddr,
        Advertise:         cfg.RaftAdvertise,
        DataDir:           cfg.DataDir,
        Bootstrap:         cfg.Bootstrap,
        LogStore:          cfg.LogStore,
        LogDirect:         cfg.LogDirect,
        LogMaxCapacity:    cfg.LogMaxCapacity,
        SnapshotThreshold: cfg.SnapshotThreshold,
        TrailingLogs:      cfg.TrailingLogs,
    })
    if err != nil { return nil, err }

    n := &Node{
        cfg:       cfg,
        log:       logutil.Component(cfg.Logger, "node"),
        disc:      dStatic.New(seeds...),
        Consensus: cons,
        exec:      cluster.NewExecutor("node", cfg.Logger),
        mgmt:      mgmt,
    }
    return n, nil
}

// Run builds and starts a node, returning the instance for lifecycle
// control. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*Node, error) {
    n, err := Build(cfg)
    if err != nil { return nil, err }
    if err := n.Start(ctx); err != nil {
        _ = n.Close()
        return nil, err
    }
    return n, nil
}

// Start launches consensus, then membership advertising the raft and
// management addresses, then the cluster protocol and management endpoint.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.started { return nil }
    n.started = true
    obsmetrics.Register()

    if err := n.Consensus.Start(ctx); err != nil { return err }

    if n.mgmt != nil {
        if err := n.mgmt.Start(ctx, n.Status, n.Configure); err != nil { return err }
    }
    meta := map[string]string{membership.MetaRaftAddr: n.Consensus.Addr()}
    if n.mgmt != nil { meta[MetaMgmt] = n.mgmt.Addr() }
    mem, err := ml.New(ml.Options{NodeID: n.cfg.NodeID, Bind: n.cfg.MemBind, Advertise: n.cfg.MemAdv, Logger: n.cfg.Logger, Meta: meta})
    if err != nil { return err }
    n.Membership = mem
    if err := mem.Start(ctx); err != nil { return err }
    if seeds := n.disc.Seeds(); len(seeds) > 0 {
        logutil.Infof(n.log, "joining membership seeds: %v", seeds)
        if err := mem.Join(seeds); err != nil {
            logutil.Warnf(n.log, "membership join: %v", err)
        }
    }

    proto, err := cluster.NewRaftProtocol(cluster.Options{Consensus: n.Consensus, Membership: mem, Logger: n.cfg.Logger, AutoJoin: n.cfg.AutoJoin})
    if err != nil { return err }
    n.Protocol = proto
    n.View = cluster.NewView(proto, n.exec)
    if err := proto.Start(ctx); err != nil { return err }
    if err := n.View.Open(ctx); err != nil { return err }
    n.view.Store(n.View)
    if n.cfg.SessionTimeout > 0 {
        go n.expiryLoop(ctx)
    }
    return nil
}

// Status synthesizes the management status from the View, the raft log and
// the session state machine.
func (n *Node) Status(ctx context.Context) (transport.Status, error) {
    v := n.view.Load()
    if v == nil { return transport.Status{}, errNotStarted }
    st := v.State()
    out := transport.Status{NodeID: n.cfg.NodeID, Term: st.Term, Health: n.Membership.HealthScore()}
    if st.Leader != nil {
        l := memberStatus(st.Leader)
        out.Leader = &l
    }
    for _, m := range st.Members {
        out.Members = append(out.Members, memberStatus(m))
    }
    if rl := n.Consensus.Log(); rl != nil {
        out.Log = &transport.LogStatus{Store: consraft.LogStoreBuffer, FirstIndex: rl.FirstIndex(), LastIndex: rl.LastIndex(), LastTerm: rl.LastTerm(), Bytes: rl.Bytes()}
    }
    sess := n.Consensus.Session()
    out.LastApplied = sess.LastApplied()
    out.Sessions = len(sess.Sessions())
    return out, nil
}

func memberStatus(m *cluster.ResourceMember) transport.MemberStatus {
    return transport.MemberStatus{ID: m.ID(), Addr: m.URI(), RaftAddr: m.RaftAddr(), Local: m.IsLocal()}
}

// Configure reconciles the raft configuration through the View. Followers
// reject the request and hint the leader's management address.
func (n *Node) Configure(ctx context.Context, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
    v := n.view.Load()
    if v == nil { return transport.ConfigureResponse{}, errNotStarted }
    cfg := cluster.Config{}
    for _, s := range req.Servers {
        cfg.Servers = append(cfg.Servers, cns.Server{ID: s.ID, Addr: s.Addr, Voter: s.Voter})
    }
    _, err := v.Configure(ctx, cfg).Get(ctx)
    if err == nil {
        return transport.ConfigureResponse{Accepted: true}, nil
    }
    resp := transport.ConfigureResponse{Error: err.Error()}
    if errors.Is(err, cluster.ErrNotLeader) {
        if l, ok := v.Leader(); ok { resp.Leader = l.Meta(MetaMgmt) }
    }
    return resp, err
}

// Register opens a session for the local member on the leader and returns
// its id.
func (n *Node) Register() (uint64, error) {
    e := &entry.RegisterEntry{Connection: uuid.New()}
    if n.Membership != nil { e.Member = n.Membership.Local() }
    e.SetTimestamp(time.Now())
    if err := n.Consensus.Apply(e, n.cfg.ApplyTimeout); err != nil { return 0, err }
    return e.Index(), nil
}

// KeepAlive refreshes a session.
func (n *Node) KeepAlive(session uint64) error {
    e := &entry.KeepAliveEntry{Session: session}
    e.SetTimestamp(time.Now())
    return n.Consensus.Apply(e, n.cfg.ApplyTimeout)
}

// Submit replicates a command for a session. Resubmitting a sequence that
// was already applied is harmless.
func (n *Node) Submit(session, sequence uint64, payload []byte) (uint64, error) {
    e := &entry.CommandEntry{Session: session, Sequence: sequence, Payload: payload}
    e.SetTimestamp(time.Now())
    if err := n.Consensus.Apply(e, n.cfg.ApplyTimeout); err != nil { return 0, err }
    return e.Index(), nil
}

// Unregister closes a session.
func (n *Node) Unregister(session uint64) error {
    return n.unregister(session, false, time.Now())
}

func (n *Node) unregister(session uint64, expired bool, at time.Time) error {
    e := &entry.UnregisterEntry{Session: session, Expired: expired}
    e.SetTimestamp(at)
    return n.Consensus.Apply(e, n.cfg.ApplyTimeout)
}

// expiryLoop lets the leader unregister sessions that stopped sending
// keep-alives.
func (n *Node) expiryLoop(ctx context.Context) {
    ticker := time.NewTicker(n.cfg.SessionTimeout / 2)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-ticker.C:
            if !n.Consensus.IsLeader() { continue }
            for _, id := range n.Consensus.Session().Expired(now, n.cfg.SessionTimeout) {
                if err := n.unregister(id, true, now); err != nil {
                    logutil.Warnf(n.log, "expire session %d: %v", id, err)
                    continue
                }
                logutil.Infof(n.log, "session %d expired", id)
            }
        }
    }
}

// AwaitLeader blocks until a leader is known or ctx ends.
func (n *Node) AwaitLeader(ctx context.Context) (*cluster.ResourceMember, error) {
    for {
        if v := n.view.Load(); v != nil {
            if l, ok := v.Leader(); ok { return l, nil }
        }
        select {
        case <-ctx.Done():
            return nil, fmt.Errorf("bootstrap: no leader: %w", ctx.Err())
        case <-time.After(50 * time.Millisecond):
        }
    }
}

// Close stops the management endpoint, the protocol, membership and
// consensus in that order.
func (n *Node) Close() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.closed { return nil }
    n.closed = true
    if n.View != nil { _ = n.View.Close(context.Background()) }
    if n.mgmt != nil { _ = n.mgmt.Stop(context.Background()) }
    if n.Protocol != nil { _ = n.Protocol.Stop() }
    if n.Membership != nil {
        _ = n.Membership.Leave()
        _ = n.Membership.Stop()
    }
    err := n.Consensus.Stop()
    _ = n.exec.Close()
    return err
}
