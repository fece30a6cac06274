package cluster

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/consensus"
    "github.com/amirimatin/go-raftstore/pkg/membership"
)

// Options carries the components a RaftProtocol is assembled from. Instances
// are typically produced by bootstrap.
type Options struct {
    // Consensus supplies leadership and term. Configure additionally needs it
    // to implement consensus.Reconfigurer.
    Consensus consensus.Consensus

    // Membership supplies the member list (required).
    Membership membership.Membership

    // Logger is optional. If nil, log.Default() is used.
    Logger *log.Logger

    // Executor is the protocol's execution context. If nil, the protocol
    // creates and owns one.
    Executor *Executor

    // ConfigureTimeout bounds each reconfiguration step. Zero means 5s.
    ConfigureTimeout time.Duration

    // AutoJoin makes the leader add gossiped members that advertise a raft
    // address as voters, and remove members that leave gracefully.
    AutoJoin bool

    // PollInterval is how often leadership is re-read when the consensus
    // does not notify, and to detect a lost leader. Zero means 200ms.
    PollInterval time.Duration
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before NewRaftProtocol.
func (o Options) Validate() error {
    if o.Consensus == nil {
        return errors.New("cluster: nil Consensus")
    }
    if o.Membership == nil {
        return errors.New("cluster: nil Membership")
    }
    if o.ConfigureTimeout < 0 || o.PollInterval < 0 {
        return errors.New("cluster: negative duration")
    }
    return nil
}

func (o Options) withDefaults() Options {
    if o.Logger == nil { o.Logger = log.Default() }
    if o.ConfigureTimeout == 0 { o.ConfigureTimeout = 5 * time.Second }
    if o.PollInterval == 0 { o.PollInterval = 200 * time.Millisecond }
    return o
}
