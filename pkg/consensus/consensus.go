package consensus

import (
    "context"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/entry"
)

// Consensus is the minimal abstraction over a leader-based consensus engine
// (e.g., RAFT). It exposes leadership, term information and a write path for
// log entries.
type Consensus interface {
    Start(ctx context.Context) error
    // Apply replicates e and waits until it is applied locally. Index and
    // term of e are assigned by the engine.
    Apply(e entry.Entry, timeout time.Duration) error
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}

// LeaderInfo is one leadership observation: the leader and the term it leads.
type LeaderInfo struct {
    ID   string
    Addr string
    Term uint64
}

// LeaderNotifier is implemented by engines that push leadership changes.
// Observations may be coalesced; consumers that need the absence of a
// leader must still poll Leader.
type LeaderNotifier interface {
    LeaderCh() <-chan LeaderInfo
}
