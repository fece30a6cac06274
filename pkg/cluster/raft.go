package cluster

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-raftstore/pkg/consensus"
    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    "github.com/amirimatin/go-raftstore/pkg/membership"
    obsmetrics "github.com/amirimatin/go-raftstore/pkg/observability/metrics"
    "github.com/amirimatin/go-raftstore/pkg/observability/tracing"
)

// RaftProtocol is a Protocol over a consensus engine and a membership layer.
// Leadership is cached as one (leader, term) pair so reads are consistent.
type RaftProtocol struct {
    opts    Options
    log     *log.Logger
    cons    consensus.Consensus
    mem     membership.Membership
    exec    *Executor
    ownExec bool
    el      *Election
    eb      eventBus

    mu         sync.RWMutex
    leaderID   string
    leaderAddr string
    term       uint64
    run        struct {
        started bool
        closed  bool
    }
    stop chan struct{}
}

// NewRaftProtocol constructs a protocol from validated options. It performs
// no network activity; call Start once consensus and membership are running.
func NewRaftProtocol(opts Options) (*RaftProtocol, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts = opts.withDefaults()
    p := &RaftProtocol{
        opts: opts,
        log:  logutil.Component(opts.Logger, "cluster"),
        cons: opts.Consensus,
        mem:  opts.Membership,
        exec: opts.Executor,
        el:   newElection(),
        stop: make(chan struct{}),
    }
    if p.exec == nil {
        p.exec = NewExecutor("protocol", opts.Logger)
        p.ownExec = true
    }
    return p, nil
}

// Start begins watching leadership and membership.
func (p *RaftProtocol) Start(ctx context.Context) error {
    p.mu.Lock()
    if p.run.started {
        p.mu.Unlock()
        return nil
    }
    p.run.started = true
    p.mu.Unlock()

    obsmetrics.Register()
    p.refresh()
    go p.leaderWatchLoop(ctx)
    go p.membershipEventsLoop(ctx)
    return nil
}

// Stop ends the watch loops and closes an owned executor.
func (p *RaftProtocol) Stop() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.run.closed {
        return nil
    }
    p.run.closed = true
    close(p.stop)
    if p.ownExec {
        _ = p.exec.Close()
    }
    return nil
}

func (p *RaftProtocol) Executor() *Executor { return p.exec }

func (p *RaftProtocol) Election() *Election { return p.el }

func (p *RaftProtocol) Subscribe(ctx context.Context) <-chan Event { return p.eb.subscribe(ctx) }

func (p *RaftProtocol) Term() uint64 {
    p.mu.RLock()
    defer p.mu.RUnlock()
    return p.term
}

func (p *RaftProtocol) Leader() (membership.MemberInfo, bool) {
    p.mu.RLock()
    id, addr := p.leaderID, p.leaderAddr
    p.mu.RUnlock()
    if id == "" {
        return membership.MemberInfo{}, false
    }
    return p.resolve(id, addr, p.mem.Members()), true
}

// resolve finds the member with the given ID, or describes it from its raft
// address when gossip has not caught up.
func (p *RaftProtocol) resolve(id, raftAddr string, members []membership.MemberInfo) membership.MemberInfo {
    for _, m := range members {
        if m.ID == id {
            return m
        }
    }
    return membership.MemberInfo{ID: id, Addr: raftAddr, Meta: map[string]string{membership.MetaRaftAddr: raftAddr}}
}

func (p *RaftProtocol) Member(uri string) (membership.MemberInfo, bool) {
    for _, m := range p.mem.Members() {
        if m.Addr == uri || m.ID == uri || (m.Meta != nil && m.Meta[membership.MetaRaftAddr] == uri) {
            return m, true
        }
    }
    return membership.MemberInfo{}, false
}

func (p *RaftProtocol) LocalMember() membership.MemberInfo { return p.mem.Local() }

func (p *RaftProtocol) Members() []membership.MemberInfo { return p.mem.Members() }

// State reads leadership and membership under one lock.
func (p *RaftProtocol) State() State {
    p.mu.RLock()
    defer p.mu.RUnlock()
    members := p.mem.Members()
    st := State{Term: p.term, Local: p.mem.Local(), Members: members}
    if p.leaderID != "" {
        l := p.resolve(p.leaderID, p.leaderAddr, members)
        st.Leader = &l
    }
    return st
}

// Configuration returns the consensus configuration.
func (p *RaftProtocol) Configuration() (Config, error) {
    rc, ok := p.cons.(consensus.Reconfigurer)
    if !ok {
        return Config{}, ErrNoConsensus
    }
    servers, err := rc.Servers()
    if err != nil {
        return Config{}, err
    }
    return Config{Servers: servers}, nil
}

// Configure reconciles the consensus configuration towards cfg on a new
// goroutine. Only the leader can reconfigure.
func (p *RaftProtocol) Configure(cfg Config) *Future[Manager] {
    f := NewFuture[Manager]()
    if err := cfg.Validate(); err != nil {
        obsmetrics.ConfigureRequests.WithLabelValues("invalid").Inc()
        f.Complete(nil, err)
        return f
    }
    rc, ok := p.cons.(consensus.Reconfigurer)
    if !ok {
        obsmetrics.ConfigureRequests.WithLabelValues("unsupported").Inc()
        f.Complete(nil, ErrNoConsensus)
        return f
    }
    go func() {
        ctx, end := tracing.StartSpan(context.Background(), "raftstore.cluster.configure", attribute.Int("servers", len(cfg.Servers)))
        defer end()
        if err := p.reconcile(rc, cfg); err != nil {
            tracing.RecordError(ctx, err)
            result := "error"
            if errors.Is(err, ErrNotLeader) { result = "not_leader" }
            obsmetrics.ConfigureRequests.WithLabelValues(result).Inc()
            logutil.Warnf(p.log, "configure failed: %v", err)
            f.Complete(nil, err)
            return
        }
        obsmetrics.ConfigureRequests.WithLabelValues("ok").Inc()
        f.Complete(p, nil)
    }()
    return f
}

// reconcile adds or updates wanted servers, then removes the rest. The local
// server, if dropped, is removed last.
func (p *RaftProtocol) reconcile(rc consensus.Reconfigurer, cfg Config) error {
    if !p.cons.IsLeader() {
        return ErrNotLeader
    }
    current, err := rc.Servers()
    if err != nil {
        return err
    }
    timeout := p.opts.ConfigureTimeout
    want := make(map[string]struct{}, len(cfg.Servers))
    for _, s := range cfg.Servers {
        want[s.ID] = struct{}{}
        if s.Voter {
            err = rc.AddVoter(s.ID, s.Addr, timeout)
        } else {
            err = rc.AddNonvoter(s.ID, s.Addr, timeout)
        }
        if err != nil {
            return fmt.Errorf("cluster: add %s: %w", s.ID, err)
        }
    }
    localID := p.mem.Local().ID
    removeSelf := false
    for _, s := range current {
        if _, ok := want[s.ID]; ok {
            continue
        }
        if s.ID == localID {
            removeSelf = true
            continue
        }
        if err := rc.RemoveServer(s.ID, timeout); err != nil {
            return fmt.Errorf("cluster: remove %s: %w", s.ID, err)
        }
        logutil.Infof(p.log, "removed server id=%s", s.ID)
    }
    if removeSelf {
        if err := rc.RemoveServer(localID, timeout); err != nil {
            return fmt.Errorf("cluster: remove %s: %w", localID, err)
        }
    }
    logutil.Infof(p.log, "configuration applied: %d servers", len(cfg.Servers))
    return nil
}

func (p *RaftProtocol) leaderWatchLoop(ctx context.Context) {
    var lch <-chan consensus.LeaderInfo
    if ln, ok := p.cons.(consensus.LeaderNotifier); ok {
        lch = ln.LeaderCh()
    }
    ticker := time.NewTicker(p.opts.PollInterval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-p.stop:
            return
        case li, ok := <-lch:
            if !ok {
                lch = nil
                continue
            }
            p.observe(li.ID, li.Addr, li.Term, true)
        case <-ticker.C:
            p.refresh()
        }
    }
}

func (p *RaftProtocol) refresh() {
    id, addr, ok := p.cons.Leader()
    p.observe(id, addr, p.cons.Term(), ok)
}

// observe records a leadership reading and, when it differs from the cached
// one, publishes the new election result on the protocol executor.
func (p *RaftProtocol) observe(id, addr string, term uint64, ok bool) {
    if !ok {
        id, addr = "", ""
    }
    p.mu.Lock()
    if id == p.leaderID && term == p.term && addr == p.leaderAddr {
        p.mu.Unlock()
        return
    }
    lost := id == "" && p.leaderID != ""
    p.leaderID, p.leaderAddr, p.term = id, addr, term
    p.mu.Unlock()

    if p.cons.IsLeader() {
        obsmetrics.IsLeader.Set(1)
    } else {
        obsmetrics.IsLeader.Set(0)
    }
    r := ElectionResult{Status: ElectionInProgress, Term: term, At: time.Now()}
    ev := Event{Type: EventLeaderChanged, At: r.At, Term: term}
    if id != "" {
        l := p.resolve(id, addr, p.mem.Members())
        r.Status, r.Leader = ElectionComplete, &l
        ev.Member = &l
        obsmetrics.LeaderChanges.Inc()
        logutil.Infof(p.log, "leader change observed: id=%s term=%d", id, term)
        if p.opts.AutoJoin && p.cons.IsLeader() {
            go p.sweepMembers()
        }
    } else if lost {
        ev.Type = EventLeaderLost
        logutil.Infof(p.log, "leader lost at term=%d", term)
    } else {
        return
    }
    if err := p.exec.Execute(func() { p.el.record(r) }); err != nil {
        logutil.Debugf(p.log, "election result dropped: %v", err)
    }
    p.eb.publish(ev)
}

func (p *RaftProtocol) membershipEventsLoop(ctx context.Context) {
    evch := p.mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case <-p.stop:
            return
        case e, ok := <-evch:
            if !ok { return }
            et, known := memberEventType(e.Type)
            if !known { continue }
            m := e.Member
            p.eb.publish(Event{Type: et, At: e.At, Member: &m, Term: p.Term()})
            if p.opts.AutoJoin {
                p.reconcileMember(e)
            }
        }
    }
}

// reconcileMember adds a joining member as a voter, or removes one that left,
// when this node leads and the consensus supports reconfiguration.
func (p *RaftProtocol) reconcileMember(e membership.Event) {
    rc, ok := p.cons.(consensus.Reconfigurer)
    if !ok || !p.cons.IsLeader() || e.Member.ID == p.mem.Local().ID {
        return
    }
    switch e.Type {
    case membership.EventJoin:
        addr := e.Member.Meta[membership.MetaRaftAddr]
        if addr == "" { return }
        if err := rc.AddVoter(e.Member.ID, addr, p.opts.ConfigureTimeout); err != nil {
            logutil.Warnf(p.log, "add voter failed: id=%s addr=%s err=%v", e.Member.ID, addr, err)
            return
        }
        logutil.Infof(p.log, "added voter id=%s addr=%s", e.Member.ID, addr)
    case membership.EventLeave:
        if err := rc.RemoveServer(e.Member.ID, p.opts.ConfigureTimeout); err != nil {
            logutil.Warnf(p.log, "remove server failed: id=%s err=%v", e.Member.ID, err)
            return
        }
        logutil.Infof(p.log, "removed server id=%s", e.Member.ID)
    }
}

// sweepMembers adds every gossiped member once this node becomes leader, so
// members that joined before the election are not missed.
func (p *RaftProtocol) sweepMembers() {
    for _, m := range p.mem.Members() {
        p.reconcileMember(membership.Event{Type: membership.EventJoin, Member: m, At: time.Now()})
    }
}

var (
    _ Protocol = (*RaftProtocol)(nil)
    _ Manager  = (*RaftProtocol)(nil)
)
