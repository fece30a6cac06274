package cluster

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/membership"
)

type EventType string

const (
    EventLeaderChanged EventType = "leader_changed"
    EventLeaderLost    EventType = "leader_lost"
    EventMemberJoin    EventType = "member_join"
    EventMemberLeave   EventType = "member_leave"
    EventMemberFailed  EventType = "member_failed"
    EventMemberUpdate  EventType = "member_update"
)

// Event describes a protocol-level change. Only the fields relevant to the
// event type are populated.
type Event struct {
    Type   EventType
    At     time.Time
    Member *membership.MemberInfo
    Term   uint64
}

// internal event bus
type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

// subscribe returns a buffered channel that is closed when ctx is done.
// Events are dropped for a subscriber that falls behind.
func (e *eventBus) subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    e.add(ch)
    go func() {
        <-ctx.Done()
        e.remove(ch)
        close(ch)
    }()
    return ch
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}

func memberEventType(t membership.EventType) (EventType, bool) {
    switch t {
    case membership.EventJoin:
        return EventMemberJoin, true
    case membership.EventLeave:
        return EventMemberLeave, true
    case membership.EventFailed:
        return EventMemberFailed, true
    case membership.EventUpdate:
        return EventMemberUpdate, true
    }
    return "", false
}
