package state

import "github.com/amirimatin/go-raftstore/pkg/entry"

// SessionState is the replicated state machine fed from the log. Its last
// applied index bounds log compaction.
type SessionState interface {
    Apply(index uint64, e entry.Entry) error
    LastApplied() uint64
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}
