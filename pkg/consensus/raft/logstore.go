package raftcons

import (
    "context"
    "errors"
    "fmt"
    "log"

    "github.com/hashicorp/raft"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-raftstore/pkg/entry"
    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    "github.com/amirimatin/go-raftstore/pkg/observability/tracing"
    "github.com/amirimatin/go-raftstore/pkg/raftlog"
)

// LogStore implements raft.LogStore over a raftlog.Log.
//
// raft removes a prefix after a snapshot and a suffix when its log conflicts
// with the leader's. Prefix removal is compaction and is bounded by the index
// the applied function reports; suffix removal is truncation. Ranges that
// would leave a gap are rejected.
type LogStore struct {
    log     *raftlog.Log
    pool    *entry.Pool
    applied func() uint64
    logger  *log.Logger
}

// NewLogStore wraps l. applied reports the last index applied to the state
// machine; when nil every stored entry counts as applied.
func NewLogStore(l *raftlog.Log, applied func() uint64, logger *log.Logger) (*LogStore, error) {
    reg := l.Registry()
    if err := reg.Register(KindRaftRecord, newRecordEntry); err != nil && !errors.Is(err, entry.ErrKindRegistered) {
        return nil, err
    }
    return &LogStore{
        log:     l,
        pool:    entry.NewPool(reg, 0),
        applied: applied,
        logger:  logutil.Component(logger, "logstore"),
    }, nil
}

// Log returns the underlying log.
func (s *LogStore) Log() *raftlog.Log { return s.log }

func (s *LogStore) FirstIndex() (uint64, error) {
    if s.log.IsEmpty() { return 0, nil }
    return s.log.FirstIndex(), nil
}

func (s *LogStore) LastIndex() (uint64, error) {
    if s.log.IsEmpty() { return 0, nil }
    return s.log.LastIndex(), nil
}

func (s *LogStore) GetLog(index uint64, out *raft.Log) error {
    h, err := s.log.Acquire(index, s.pool)
    if errors.Is(err, raftlog.ErrNotFound) { return raft.ErrLogNotFound }
    if err != nil { return err }
    defer s.pool.Release(h)
    return s.pool.With(h, func(e entry.Entry) error {
        rec, ok := e.(*recordEntry)
        if !ok { return fmt.Errorf("raftcons: index %d holds %s, not a raft record", index, e.Kind()) }
        rec.toLog(out)
        return nil
    })
}

func (s *LogStore) StoreLog(l *raft.Log) error { return s.StoreLogs([]*raft.Log{l}) }

func (s *LogStore) StoreLogs(logs []*raft.Log) error {
    for _, l := range logs {
        // an empty log resumes wherever raft continues, e.g. after a snapshot
        if s.log.IsEmpty() && l.Index != s.log.LastIndex()+1 {
            if err := s.log.Reset(l.Index); err != nil { return err }
        }
        if err := s.store(l); err != nil { return fmt.Errorf("raftcons: store log %d: %w", l.Index, err) }
    }
    return nil
}

func (s *LogStore) store(l *raft.Log) error {
    h, err := s.pool.Acquire(KindRaftRecord)
    if err != nil { return err }
    defer s.pool.Release(h)
    return s.pool.With(h, func(e entry.Entry) error {
        e.(*recordEntry).fromLog(l)
        _, err := s.log.Append(e)
        return err
    })
}

func (s *LogStore) DeleteRange(min, max uint64) error {
    ctx, end := tracing.StartSpan(context.Background(), "raftstore.logstore.delete_range",
        attribute.Int64("min", int64(min)), attribute.Int64("max", int64(max)))
    defer end()
    if s.log.IsEmpty() { return nil }
    first, last := s.log.FirstIndex(), s.log.LastIndex()
    if max < first || min > last { return nil }

    var err error
    switch {
    case min <= first && max >= last:
        err = s.log.Reset(last + 1)
    case min <= first:
        err = s.log.CompactBefore(max+1, s.lastApplied())
    case max >= last:
        err = s.log.TruncateAfter(min - 1)
    default:
        err = fmt.Errorf("raftcons: delete range [%d, %d] would split log [%d, %d]", min, max, first, last)
    }
    tracing.RecordError(ctx, err)
    if err != nil {
        logutil.Warnf(s.logger, "delete range [%d, %d]: %v", min, max, err)
        return err
    }
    logutil.Debugf(s.logger, "deleted range [%d, %d], log now [%d, %d]", min, max, s.log.FirstIndex(), s.log.LastIndex())
    return nil
}

// IsMonotonic makes raft clear the log after installing a snapshot instead of
// leaving a gap.
func (s *LogStore) IsMonotonic() bool { return true }

func (s *LogStore) lastApplied() uint64 {
    if s.applied == nil { return s.log.LastIndex() }
    return s.applied()
}

var (
    _ raft.LogStore          = (*LogStore)(nil)
    _ raft.MonotonicLogStore = (*LogStore)(nil)
)
