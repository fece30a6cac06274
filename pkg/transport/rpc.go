package transport

import "context"

// MemberStatus describes one member in a Status.
type MemberStatus struct {
    ID       string `json:"id"`
    Addr     string `json:"addr"`
    RaftAddr string `json:"raftAddr,omitempty"`
    Local    bool   `json:"local,omitempty"`
}

// LogStatus describes the raft log of a node.
type LogStatus struct {
    Store      string `json:"store"`
    FirstIndex uint64 `json:"firstIndex"`
    LastIndex  uint64 `json:"lastIndex"`
    LastTerm   uint64 `json:"lastTerm"`
    Bytes      int    `json:"bytes"`
}

// Status is the payload of the management /status endpoint.
type Status struct {
    NodeID      string         `json:"nodeId"`
    Term        uint64         `json:"term"`
    Leader      *MemberStatus  `json:"leader,omitempty"`
    Members     []MemberStatus `json:"members"`
    Log         *LogStatus     `json:"log,omitempty"`
    LastApplied uint64         `json:"lastApplied"`
    Sessions    int            `json:"sessions"`
    // Health is the membership health score, -1 when unavailable.
    Health int `json:"health"`
}

// StatusFunc returns the local node status.
type StatusFunc func(ctx context.Context) (Status, error)

// ServerSpec is one server of a requested consensus configuration.
type ServerSpec struct {
    ID    string `json:"id"`
    Addr  string `json:"addr"`
    Voter bool   `json:"voter"`
}

// ConfigureRequest asks the leader to reconcile the consensus configuration.
type ConfigureRequest struct {
    Servers []ServerSpec `json:"servers"`
}

// ConfigureResponse indicates acceptance and optionally the leader or an error.
type ConfigureResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

// ConfigureFunc handles configuration requests (leader-only).
type ConfigureFunc func(ctx context.Context, req ConfigureRequest) (ConfigureResponse, error)

// RPCServer serves the management API over one protocol.
type RPCServer interface {
    Start(ctx context.Context, status StatusFunc, configure ConfigureFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient calls the management API of a node at addr.
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) (Status, error)
    PostConfigure(ctx context.Context, addr string, req ConfigureRequest) (ConfigureResponse, error)
}
