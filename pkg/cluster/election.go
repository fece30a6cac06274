package cluster

import (
    "sync"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/membership"
)

type ElectionStatus int

const (
    ElectionInProgress ElectionStatus = iota
    ElectionComplete
)

func (s ElectionStatus) String() string {
    if s == ElectionComplete { return "complete" }
    return "in_progress"
}

// ElectionResult is the outcome of the latest election as seen locally.
// Leader is nil while an election is in progress.
type ElectionResult struct {
    Status ElectionStatus
    Term   uint64
    Leader *membership.MemberInfo
    At     time.Time
}

// Election tracks the latest election result and notifies listeners of new
// ones. Listeners run on the goroutine that records the result.
type Election struct {
    mu        sync.Mutex
    result    ElectionResult
    listeners map[uint64]func(ElectionResult)
    next      uint64
}

func newElection() *Election {
    return &Election{listeners: make(map[uint64]func(ElectionResult))}
}

func (e *Election) Result() ElectionResult {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.result
}

// AddListener registers fn and returns a function that removes it.
func (e *Election) AddListener(fn func(ElectionResult)) (remove func()) {
    e.mu.Lock()
    id := e.next
    e.next++
    e.listeners[id] = fn
    e.mu.Unlock()
    return func() {
        e.mu.Lock()
        delete(e.listeners, id)
        e.mu.Unlock()
    }
}

func (e *Election) record(r ElectionResult) {
    e.mu.Lock()
    e.result = r
    fns := make([]func(ElectionResult), 0, len(e.listeners))
    for _, fn := range e.listeners {
        fns = append(fns, fn)
    }
    e.mu.Unlock()
    for _, fn := range fns {
        fn(r)
    }
}

// ViewElection is an Election seen through a View: leaders are wrapped and
// listeners run on the View's executor.
type ViewElection struct {
    el      *Election
    exec    *Executor
    localID string
}

// ViewElectionResult mirrors ElectionResult with a wrapped leader.
type ViewElectionResult struct {
    Status ElectionStatus
    Term   uint64
    Leader *ResourceMember
    At     time.Time
}

func (e *ViewElection) wrap(r ElectionResult) ViewElectionResult {
    out := ViewElectionResult{Status: r.Status, Term: r.Term, At: r.At}
    if r.Leader != nil {
        out.Leader = newResourceMember(*r.Leader, e.localID)
    }
    return out
}

func (e *ViewElection) Result() ViewElectionResult { return e.wrap(e.el.Result()) }

// AddListener registers fn; each notification is queued on the View's
// executor. Notifications arriving after the executor closed are dropped.
func (e *ViewElection) AddListener(fn func(ViewElectionResult)) (remove func()) {
    return e.el.AddListener(func(r ElectionResult) {
        wr := e.wrap(r)
        _ = e.exec.Execute(func() { fn(wr) })
    })
}
