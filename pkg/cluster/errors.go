package cluster

import "errors"

var (
    ErrNotLeader      = errors.New("cluster: not leader")
    ErrNoConsensus    = errors.New("cluster: consensus does not support reconfiguration")
    ErrExecutorClosed = errors.New("cluster: executor closed")
    ErrUnknownMember  = errors.New("cluster: unknown member")
    ErrInvalidConfig  = errors.New("cluster: invalid configuration")
)
