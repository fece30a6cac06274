package memberlist

import (
    "context"
    "errors"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    base "github.com/amirimatin/go-raftstore/pkg/membership"
    "github.com/amirimatin/go-raftstore/pkg/observability/metrics"
)

// Options configures the memberlist-based membership implementation.
type Options struct {
    // NodeID is the unique node identifier.
    NodeID string

    // Bind is the bind address in host:port form (e.g. ":7946" or "0.0.0.0:7946").
    Bind string

    // Advertise is the advertised address (host:port) that peers will use to reach this node.
    // If empty, memberlist derives it from Bind.
    Advertise string

    // Meta is gossiped with the node, e.g. its raft address. The encoded form
    // must fit memberlist's metadata limit.
    Meta map[string]string

    // Logger is optional. If nil, log.Default() is used.
    Logger *log.Logger

    // Tuning parameters (optional). Zero means use defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

func (o Options) Validate() error {
    if o.NodeID == "" {
        return errors.New("memberlist: empty NodeID")
    }
    if o.Bind == "" {
        return errors.New("memberlist: empty Bind address")
    }
    return nil
}

// Membership implements base.Membership using HashiCorp memberlist.
type Membership struct {
    mu     sync.RWMutex
    opts   Options
    log    *log.Logger
    meta   []byte
    ml     *memberlist.Memberlist
    closed bool

    // evMu guards evts against close while memberlist callbacks, which may
    // fire during Start, are sending.
    evMu     sync.Mutex
    evts     chan base.Event
    evClosed bool
}

// New constructs a memberlist-backed membership.
func New(opts Options) (*Membership, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    meta, err := encodeMeta(opts.Meta)
    if err != nil {
        return nil, err
    }
    if len(meta) > memberlist.MetaMaxSize {
        return nil, fmt.Errorf("memberlist: metadata is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
    }
    return &Membership{
        opts: opts,
        log:  logutil.Component(opts.Logger, "memberlist"),
        meta: meta,
        evts: make(chan base.Event, 64),
    }, nil
}

// Start creates and launches the underlying memberlist instance.
func (m *Membership) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil {
        return nil
    }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil {
        return fmt.Errorf("memberlist: invalid bind address %q: %w", m.opts.Bind, err)
    }
    cfg.BindAddr = host
    cfg.BindPort = port

    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil {
            return fmt.Errorf("memberlist: invalid advertise address %q: %w", m.opts.Advertise, err)
        }
        cfg.AdvertiseAddr = ahost
        cfg.AdvertisePort = aport
    }

    if m.opts.ProbeInterval > 0 {
        cfg.ProbeInterval = m.opts.ProbeInterval
    }
    if m.opts.ProbeTimeout > 0 {
        cfg.ProbeTimeout = m.opts.ProbeTimeout
    }
    if m.opts.SuspicionMult > 0 {
        cfg.SuspicionMult = m.opts.SuspicionMult
    }
    cfg.Logger = m.log

    // Wire delegates: events and node meta propagation.
    cfg.Events = &eventDelegate{m: m}
    cfg.Delegate = &nodeDelegate{meta: m.meta}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    m.ml = ml
    logutil.Infof(m.log, "gossip started id=%s bind=%s", m.opts.NodeID, m.opts.Bind)

    // Close events channel when context is done or on Stop().
    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()

    return nil
}

func (m *Membership) Join(seeds []string) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return fmt.Errorf("memberlist: not started")
    }
    if len(seeds) == 0 {
        return nil
    }
    n, err := ml.Join(seeds)
    if err != nil {
        return err
    }
    logutil.Infof(m.log, "joined %d of %d seeds", n, len(seeds))
    return nil
}

func (m *Membership) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return base.MemberInfo{}
    }
    return m.memberInfo(m.ml.LocalNode())
}

func (m *Membership) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return nil
    }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, m.memberInfo(n))
    }
    return out
}

func (m *Membership) Events() <-chan base.Event { return m.evts }

func (m *Membership) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return nil
    }
    // best-effort: leave and give some time to broadcast
    if err := ml.Leave(time.Second); err != nil {
        logutil.Warnf(m.log, "leave: %v", err)
    }
    return nil
}

func (m *Membership) Stop() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed {
        return nil
    }
    m.closed = true
    if m.ml != nil {
        _ = m.ml.Shutdown()
        m.ml = nil
    }
    m.evMu.Lock()
    m.evClosed = true
    close(m.evts)
    m.evMu.Unlock()
    return nil
}

// HealthScore exposes memberlist's awareness score if available.
// Implements membership.HealthReporter.
func (m *Membership) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return -1
    }
    return m.ml.GetHealthScore()
}

func (m *Membership) memberInfo(n *memberlist.Node) base.MemberInfo {
    meta, err := decodeMeta(n.Meta)
    if err != nil {
        logutil.Warnf(m.log, "node %s: undecodable metadata: %v", n.Name, err)
        meta = map[string]string{}
    }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

func (m *Membership) emit(t base.EventType, n *memberlist.Node) {
    switch t {
    case base.EventJoin:
        metrics.ClusterMembers.Inc()
    case base.EventLeave, base.EventFailed:
        metrics.ClusterMembers.Dec()
    }
    m.evMu.Lock()
    defer m.evMu.Unlock()
    if m.evClosed {
        return
    }
    e := base.Event{Type: t, Member: m.memberInfo(n), At: time.Now()}
    select {
    case m.evts <- e:
    default:
        // drop if channel is full to avoid blocking
        logutil.Warnf(m.log, "dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

// eventDelegate adapts memberlist events to base.Event.
type eventDelegate struct {
    m *Membership
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
    if n == nil { return }
    d.m.emit(base.EventJoin, n)
}

// NotifyLeave separates graceful departures from nodes declared dead.
func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
    if n == nil { return }
    if n.State == memberlist.StateDead {
        d.m.emit(base.EventFailed, n)
        return
    }
    d.m.emit(base.EventLeave, n)
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) {
    if n == nil { return }
    d.m.emit(base.EventUpdate, n)
}

func splitHostPort(addr string) (string, int, error) {
    host, portStr, err := net.SplitHostPort(addr)
    if err != nil {
        return "", 0, err
    }
    port, err := strconv.Atoi(portStr)
    if err != nil || port < 0 || port > 65535 {
        return "", 0, fmt.Errorf("invalid port: %q", portStr)
    }
    return host, port, nil
}

// nodeDelegate implements memberlist.Delegate to propagate node metadata.
type nodeDelegate struct{ meta []byte }

// NodeMeta returns the encoded metadata. New rejects metadata above
// MetaMaxSize, so a smaller limit only drops it rather than truncating.
func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    return nil
}

// Unused hooks for our purposes; required to satisfy the interface.
func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}

var (
    _ base.Membership     = (*Membership)(nil)
    _ base.HealthReporter = (*Membership)(nil)
)
