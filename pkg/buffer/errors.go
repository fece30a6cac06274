package buffer

import "errors"

var (
    // ErrCapacity is returned when a requested size exceeds a buffer's maximum capacity.
    ErrCapacity          = errors.New("buffer: capacity exceeds maximum")
    ErrBufferOverflow    = errors.New("buffer: overflow")
    ErrBufferUnderflow   = errors.New("buffer: underflow")
    ErrReleased          = errors.New("buffer: already released")
    ErrInvalidMark       = errors.New("buffer: invalid mark")
    ErrDirectUnsupported = errors.New("buffer: direct memory not supported on this platform")
)
