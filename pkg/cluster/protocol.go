package cluster

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-raftstore/pkg/consensus"
    "github.com/amirimatin/go-raftstore/pkg/membership"
)

// State is a consistent snapshot of a protocol's leadership and membership.
type State struct {
    Term    uint64
    Leader  *membership.MemberInfo
    Local   membership.MemberInfo
    Members []membership.MemberInfo
}

// Config is a desired consensus configuration.
type Config struct {
    Servers []consensus.Server
}

func (c Config) Validate() error {
    if len(c.Servers) == 0 {
        return fmt.Errorf("%w: no servers", ErrInvalidConfig)
    }
    seen := make(map[string]struct{}, len(c.Servers))
    voters := 0
    for _, s := range c.Servers {
        if s.ID == "" || s.Addr == "" {
            return fmt.Errorf("%w: server needs id and address: %+v", ErrInvalidConfig, s)
        }
        if _, dup := seen[s.ID]; dup {
            return fmt.Errorf("%w: duplicate server %q", ErrInvalidConfig, s.ID)
        }
        seen[s.ID] = struct{}{}
        if s.Voter {
            voters++
        }
    }
    if voters == 0 {
        return fmt.Errorf("%w: no voters", ErrInvalidConfig)
    }
    return nil
}

// Manager is the management surface returned by a completed Configure.
type Manager interface {
    State() State
    Configuration() (Config, error)
}

// Protocol is the underlying cluster a View delegates to. Returned member
// descriptions belong to the protocol; callers outside this package see them
// only through ResourceMember.
type Protocol interface {
    Leader() (membership.MemberInfo, bool)
    Term() uint64
    Member(uri string) (membership.MemberInfo, bool)
    LocalMember() membership.MemberInfo
    Members() []membership.MemberInfo
    State() State
    Election() *Election
    // Configure reconciles the cluster towards cfg without blocking the
    // caller. The future completes on a protocol goroutine.
    Configure(cfg Config) *Future[Manager]
    Subscribe(ctx context.Context) <-chan Event
    // Executor is the protocol's own execution context.
    Executor() *Executor
}
