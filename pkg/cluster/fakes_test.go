package cluster

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/consensus"
    "github.com/amirimatin/go-raftstore/pkg/entry"
    "github.com/amirimatin/go-raftstore/pkg/membership"
)

// fakeConsensus is an in-memory consensus.Consensus with reconfiguration and
// leadership notification.
type fakeConsensus struct {
    mu       sync.Mutex
    self     string
    leaderID string
    addr     string
    term     uint64
    servers  map[string]consensus.Server
    removed  []string
    lch      chan consensus.LeaderInfo
}

func newFakeConsensus(self string) *fakeConsensus {
    return &fakeConsensus{self: self, servers: map[string]consensus.Server{}, lch: make(chan consensus.LeaderInfo, 16)}
}

func (f *fakeConsensus) Start(context.Context) error                  { return nil }
func (f *fakeConsensus) Apply(entry.Entry, time.Duration) error       { return nil }
func (f *fakeConsensus) Stop() error                                  { return nil }
func (f *fakeConsensus) LeaderCh() <-chan consensus.LeaderInfo        { return f.lch }

func (f *fakeConsensus) IsLeader() bool {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.leaderID == f.self
}

func (f *fakeConsensus) Leader() (string, string, bool) {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.leaderID, f.addr, f.leaderID != ""
}

func (f *fakeConsensus) Term() uint64 {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.term
}

func (f *fakeConsensus) elect(id, addr string, term uint64) {
    f.mu.Lock()
    f.leaderID, f.addr, f.term = id, addr, term
    f.mu.Unlock()
    if id != "" {
        f.lch <- consensus.LeaderInfo{ID: id, Addr: addr, Term: term}
    }
}

func (f *fakeConsensus) Servers() ([]consensus.Server, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    out := make([]consensus.Server, 0, len(f.servers))
    for _, s := range f.servers {
        out = append(out, s)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (f *fakeConsensus) AddVoter(id, addr string, _ time.Duration) error {
    return f.add(consensus.Server{ID: id, Addr: addr, Voter: true})
}

func (f *fakeConsensus) AddNonvoter(id, addr string, _ time.Duration) error {
    return f.add(consensus.Server{ID: id, Addr: addr})
}

func (f *fakeConsensus) add(s consensus.Server) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.leaderID != f.self { return fmt.Errorf("fake: not leader") }
    f.servers[s.ID] = s
    return nil
}

func (f *fakeConsensus) RemoveServer(id string, _ time.Duration) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    delete(f.servers, id)
    f.removed = append(f.removed, id)
    return nil
}

// plainConsensus hides the optional interfaces of fakeConsensus.
type plainConsensus struct{ consensus.Consensus }

type fakeMembership struct {
    mu      sync.Mutex
    local   membership.MemberInfo
    members []membership.MemberInfo
    evts    chan membership.Event
}

func newFakeMembership(localID string, ids ...string) *fakeMembership {
    m := &fakeMembership{evts: make(chan membership.Event, 16)}
    for i, id := range append([]string{localID}, ids...) {
        mi := membership.MemberInfo{
            ID:   id,
            Addr: fmt.Sprintf("127.0.0.1:%d", 7946+i),
            Meta: map[string]string{membership.MetaRaftAddr: fmt.Sprintf("127.0.0.1:%d", 7000+i)},
        }
        if id == localID { m.local = mi }
        m.members = append(m.members, mi)
    }
    return m
}

func (m *fakeMembership) Start(context.Context) error { return nil }
func (m *fakeMembership) Join([]string) error         { return nil }
func (m *fakeMembership) Leave() error                { return nil }
func (m *fakeMembership) Stop() error                 { return nil }
func (m *fakeMembership) Events() <-chan membership.Event { return m.evts }

func (m *fakeMembership) Local() membership.MemberInfo {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.local
}

func (m *fakeMembership) Members() []membership.MemberInfo {
    m.mu.Lock()
    defer m.mu.Unlock()
    return append([]membership.MemberInfo(nil), m.members...)
}

func (m *fakeMembership) drop(id string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i, mi := range m.members {
        if mi.ID == id {
            m.members = append(m.members[:i], m.members[i+1:]...)
            return
        }
    }
}
