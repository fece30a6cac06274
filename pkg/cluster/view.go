package cluster

import (
    "context"
    "fmt"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-raftstore/pkg/membership"
    "github.com/amirimatin/go-raftstore/pkg/observability/tracing"
)

// View is a resource-scoped projection of a Protocol. Every member it
// returns is wrapped in a ResourceMember, and asynchronous results are
// delivered on the View's executor rather than on protocol goroutines.
type View struct {
    proto Protocol
    exec  *Executor
}

// NewView returns a view over p whose callbacks run on exec.
func NewView(p Protocol, exec *Executor) *View {
    return &View{proto: p, exec: exec}
}

// Open is a no-op; the protocol owns all lifecycle.
func (v *View) Open(context.Context) error { return nil }

// Close is a no-op; the protocol owns all lifecycle.
func (v *View) Close(context.Context) error { return nil }

func (v *View) wrap(info membership.MemberInfo) *ResourceMember {
    return newResourceMember(info, v.proto.LocalMember().ID)
}

func (v *View) Leader() (*ResourceMember, bool) {
    l, ok := v.proto.Leader()
    if !ok {
        return nil, false
    }
    return v.wrap(l), true
}

func (v *View) Term() uint64 { return v.proto.Term() }

// Member looks up a member by gossip address, raft address or ID.
func (v *View) Member(uri string) (*ResourceMember, error) {
    m, ok := v.proto.Member(uri)
    if !ok {
        return nil, fmt.Errorf("%w: %s", ErrUnknownMember, uri)
    }
    return v.wrap(m), nil
}

func (v *View) LocalMember() *ResourceMember {
    local := v.proto.LocalMember()
    return newResourceMember(local, local.ID)
}

func (v *View) Members() []*ResourceMember {
    localID := v.proto.LocalMember().ID
    ms := v.proto.Members()
    out := make([]*ResourceMember, 0, len(ms))
    for _, m := range ms {
        out = append(out, newResourceMember(m, localID))
    }
    return out
}

// ViewState is a State with wrapped members.
type ViewState struct {
    Term    uint64
    Leader  *ResourceMember
    Local   *ResourceMember
    Members []*ResourceMember
}

// State returns one snapshot of term, leader and members. Later changes in
// the protocol are not reflected in a returned snapshot.
func (v *View) State() ViewState {
    st := v.proto.State()
    out := ViewState{Term: st.Term, Local: newResourceMember(st.Local, st.Local.ID)}
    if st.Leader != nil {
        out.Leader = newResourceMember(*st.Leader, st.Local.ID)
    }
    out.Members = make([]*ResourceMember, 0, len(st.Members))
    for _, m := range st.Members {
        out.Members = append(out.Members, newResourceMember(m, st.Local.ID))
    }
    return out
}

func (v *View) Election() *ViewElection {
    return &ViewElection{el: v.proto.Election(), exec: v.exec, localID: v.proto.LocalMember().ID}
}

// Configure submits cfg to the protocol's executor and returns immediately.
// The returned future completes on the View's executor, or on a goroutine of
// its own with ErrExecutorClosed once that executor is closed. There is no way
// to cancel a submitted configuration; ctx only parents the tracing span.
func (v *View) Configure(ctx context.Context, cfg Config) *Future[Manager] {
    f := NewFuture[Manager]()
    _, end := tracing.StartSpan(ctx, "raftstore.view.configure", attribute.Int("servers", len(cfg.Servers)))
    f.OnComplete(func(Manager, error) { end() })
    err := v.proto.Executor().Execute(func() {
        v.proto.Configure(cfg).OnComplete(func(m Manager, err error) {
            if xerr := v.exec.Execute(func() { f.Complete(m, err) }); xerr != nil {
                go f.Complete(nil, xerr)
            }
        })
    })
    if err != nil {
        f.Complete(nil, err)
    }
    return f
}

// MemberEvent is an Event with a wrapped member.
type MemberEvent struct {
    Type   EventType
    At     time.Time
    Member *ResourceMember
    Term   uint64
}

// Subscribe relays protocol events with members wrapped. The channel is
// closed when ctx is done.
func (v *View) Subscribe(ctx context.Context) <-chan MemberEvent {
    in := v.proto.Subscribe(ctx)
    out := make(chan MemberEvent, cap(in))
    localID := v.proto.LocalMember().ID
    go func() {
        defer close(out)
        for ev := range in {
            me := MemberEvent{Type: ev.Type, At: ev.At, Term: ev.Term}
            if ev.Member != nil {
                me.Member = newResourceMember(*ev.Member, localID)
            }
            select {
            case out <- me:
            default:
            }
        }
    }()
    return out
}

func (v *View) String() string {
    return fmt.Sprintf("cluster.View[members=%v]", v.Members())
}
