package consensus

import "time"

// Server is a participant in the consensus configuration.
type Server struct {
    ID    string
    Addr  string
    Voter bool
}

// Reconfigurer optionally allows dynamic membership reconfiguration
// (adding/removing servers) in the underlying consensus engine.
// Implementations that support it should satisfy this interface.
type Reconfigurer interface {
    Servers() ([]Server, error)
    AddVoter(id, addr string, timeout time.Duration) error
    AddNonvoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
}
