package raftlog

import "errors"

var (
    ErrIndexMismatch       = errors.New("raftlog: index mismatch")
    ErrNotFound            = errors.New("raftlog: entry not found")
    ErrCompactionViolation = errors.New("raftlog: compaction beyond last applied index")
    ErrTermMismatch        = errors.New("raftlog: term regression")
    ErrSizeMismatch        = errors.New("raftlog: encoded size differs from entry size")
    ErrCorrupt             = errors.New("raftlog: frame checksum mismatch")
    ErrClosed              = errors.New("raftlog: log closed")
)
