package entry

import "errors"

var (
    ErrUnknownKind    = errors.New("entry: unknown kind")
    ErrKindRegistered = errors.New("entry: kind already registered")
    ErrStaleHandle    = errors.New("entry: stale pool handle")
    ErrPoolExhausted  = errors.New("entry: pool exhausted")
)
