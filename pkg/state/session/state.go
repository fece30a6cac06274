package session

import (
    "encoding/json"
    "errors"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/entry"
    m "github.com/amirimatin/go-raftstore/pkg/membership"
    base "github.com/amirimatin/go-raftstore/pkg/state"
)

var (
    ErrUnknownSession = errors.New("session: unknown session")
    ErrUnsupported    = errors.New("session: unsupported entry kind")
)

// Session is a client session opened by a Register entry. Its id is the
// index of that entry.
type Session struct {
    ID         uint64       `json:"id"`
    Member     m.MemberInfo `json:"member"`
    Connection string       `json:"connection"`
    LastSeen   time.Time    `json:"last_seen"`
    // Sequence is the highest command sequence applied for the session.
    Sequence uint64 `json:"sequence"`
    Commands uint64 `json:"commands"`
}

// Configuration is the last applied cluster configuration.
type Configuration struct {
    Index   uint64         `json:"index"`
    Active  []m.MemberInfo `json:"active,omitempty"`
    Passive []m.MemberInfo `json:"passive,omitempty"`
}

// CommandFunc receives every command applied for the first time.
type CommandFunc func(index uint64, c *entry.CommandEntry)

// State is an in-memory session state machine.
type State struct {
    mu       sync.RWMutex
    sessions map[uint64]*Session
    config   Configuration
    applied  uint64
    onCmd    CommandFunc
}

func New() *State { return &State{sessions: make(map[uint64]*Session)} }

// OnCommand installs fn as the command callback. It runs under the state lock
// and must not call back into the State.
func (s *State) OnCommand(fn CommandFunc) {
    s.mu.Lock(); defer s.mu.Unlock()
    s.onCmd = fn
}

// Apply applies e at index. Indices at or below the last applied index are
// ignored so replays after a restore are harmless. The applied index
// advances even when the entry is rejected.
func (s *State) Apply(index uint64, e entry.Entry) error {
    s.mu.Lock(); defer s.mu.Unlock()
    if index <= s.applied { return nil }
    s.applied = index

    switch e := e.(type) {
    case *entry.NoOpEntry:
        return nil
    case *entry.ConfigurationEntry:
        s.config = Configuration{Index: index, Active: e.Active, Passive: e.Passive}
        return nil
    case *entry.RegisterEntry:
        s.sessions[index] = &Session{ID: index, Member: e.Member, Connection: e.Connection.String(), LastSeen: e.Timestamp()}
        return nil
    case *entry.KeepAliveEntry:
        sess, ok := s.sessions[e.Session]
        if !ok { return fmt.Errorf("%w: %d", ErrUnknownSession, e.Session) }
        sess.LastSeen = e.Timestamp()
        return nil
    case *entry.UnregisterEntry:
        if _, ok := s.sessions[e.Session]; !ok { return fmt.Errorf("%w: %d", ErrUnknownSession, e.Session) }
        delete(s.sessions, e.Session)
        return nil
    case *entry.CommandEntry:
        sess, ok := s.sessions[e.Session]
        if !ok { return fmt.Errorf("%w: %d", ErrUnknownSession, e.Session) }
        sess.LastSeen = e.Timestamp()
        // duplicate submission
        if e.Sequence <= sess.Sequence { return nil }
        sess.Sequence = e.Sequence
        sess.Commands++
        if s.onCmd != nil { s.onCmd(index, e) }
        return nil
    default:
        return fmt.Errorf("%w: %s", ErrUnsupported, e.Kind())
    }
}

// LastApplied returns the highest index passed to Apply or Restore.
func (s *State) LastApplied() uint64 {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.applied
}

// Session returns a copy of the session with the given id.
func (s *State) Session(id uint64) (Session, bool) {
    s.mu.RLock(); defer s.mu.RUnlock()
    sess, ok := s.sessions[id]
    if !ok { return Session{}, false }
    return *sess, true
}

// Sessions returns copies of all open sessions ordered by id.
func (s *State) Sessions() []Session {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.sorted()
}

// Expired returns the ids of sessions not seen within timeout of now. The
// leader closes them with Unregister entries marked expired.
func (s *State) Expired(now time.Time, timeout time.Duration) []uint64 {
    s.mu.RLock(); defer s.mu.RUnlock()
    var ids []uint64
    for _, sess := range s.sorted() {
        if now.Sub(sess.LastSeen) > timeout { ids = append(ids, sess.ID) }
    }
    return ids
}

// Configuration returns the last applied configuration.
func (s *State) Configuration() Configuration {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.config
}

func (s *State) sorted() []Session {
    arr := make([]Session, 0, len(s.sessions))
    for _, v := range s.sessions { arr = append(arr, *v) }
    sort.Slice(arr, func(i, j int) bool { return arr[i].ID < arr[j].ID })
    return arr
}

type snapshot struct {
    Version  int           `json:"version"`
    Applied  uint64        `json:"applied"`
    Config   Configuration `json:"config"`
    Sessions []Session     `json:"sessions"`
}

// Snapshot encodes state as a stable JSON for ease of debugging/migration.
func (s *State) Snapshot() ([]byte, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    return json.Marshal(snapshot{Version: 1, Applied: s.applied, Config: s.config, Sessions: s.sorted()})
}

func (s *State) Restore(buf []byte) error {
    var snap snapshot
    if err := json.Unmarshal(buf, &snap); err != nil {
        return err
    }
    if snap.Version != 1 { return fmt.Errorf("session: unsupported snapshot version %d", snap.Version) }
    s.mu.Lock(); defer s.mu.Unlock()
    s.sessions = make(map[uint64]*Session, len(snap.Sessions))
    for i := range snap.Sessions {
        sess := snap.Sessions[i]
        s.sessions[sess.ID] = &sess
    }
    s.config = snap.Config
    s.applied = snap.Applied
    return nil
}

// Ensure interface satisfaction at compile-time.
var _ base.SessionState = (*State)(nil)
