package raftcons

import (
    "errors"
    "log"
    "time"
)

// Log store kinds.
const (
    LogStoreBuffer = "buffer"
    LogStoreBolt   = "bolt"
    LogStoreInmem  = "inmem"
)

// Options configure the Raft-based Consensus implementation.
type Options struct {
    NodeID   string
    Logger   *log.Logger

    // Bootstrap forms a single-node cluster on Start when true.
    Bootstrap bool

    // Timeouts (optional). Zero means defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    ApplyTimeout     time.Duration // client-side apply wait

    // Networking & Storage
    // If BindAddr is non-empty, a TCP transport is used bound to this address
    // (e.g., "127.0.0.1:0"). Otherwise, an in-memory transport is used.
    BindAddr string
    // Advertise is the address peers dial when BindAddr is unspecified
    // (e.g. ":9520"). Optional.
    Advertise string

    // DataDir selects on-disk stores when non-empty (bolt stable store, file
    // snapshot store). When empty, in-memory stores are used.
    DataDir string

    // SnapshotsRetained controls how many snapshots to retain on disk.
    SnapshotsRetained int
    // Snapshot cadence (optional). Zero means defaults.
    SnapshotInterval  time.Duration
    SnapshotThreshold uint64
    TrailingLogs      uint64

    // LogStore selects where raft keeps its log: LogStoreBuffer (default)
    // appends to a raftlog.Log, LogStoreBolt shares the bolt file under
    // DataDir, LogStoreInmem uses raft's in-memory store.
    LogStore string
    // LogDirect keeps the buffer log in off-heap memory.
    LogDirect bool
    // Buffer log sizing (optional). Zero means defaults.
    LogInitialCapacity int
    LogMaxCapacity     int
}

// Validate performs a minimal validation of Options.
func (o Options) Validate() error {
    if o.NodeID == "" {
        return errors.New("raftcons: empty NodeID")
    }
    switch o.LogStore {
    case "", LogStoreBuffer, LogStoreInmem:
    case LogStoreBolt:
        if o.DataDir == "" { return errors.New("raftcons: bolt log store requires DataDir") }
    default:
        return errors.New("raftcons: unknown log store " + o.LogStore)
    }
    if o.LogInitialCapacity < 0 || o.LogMaxCapacity < 0 {
        return errors.New("raftcons: negative log capacity")
    }
    return nil
}
