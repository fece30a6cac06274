package cluster

import (
    "context"
    "sync"
)

// Future is a single-assignment result cell. The first Complete wins; later
// calls are ignored.
type Future[T any] struct {
    mu   sync.Mutex
    done chan struct{}
    val  T
    err  error
    cbs  []func(T, error)
}

func NewFuture[T any]() *Future[T] {
    return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that already holds v and err.
func Completed[T any](v T, err error) *Future[T] {
    f := NewFuture[T]()
    f.Complete(v, err)
    return f
}

// Complete assigns the result and runs registered callbacks on the calling
// goroutine. It reports whether this call assigned the result.
func (f *Future[T]) Complete(v T, err error) bool {
    f.mu.Lock()
    select {
    case <-f.done:
        f.mu.Unlock()
        return false
    default:
    }
    f.val, f.err = v, err
    cbs := f.cbs
    f.cbs = nil
    close(f.done)
    f.mu.Unlock()
    for _, cb := range cbs {
        cb(v, err)
    }
    return true
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Get waits for the result or for ctx to end.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
    select {
    case <-f.done:
        return f.val, f.err
    case <-ctx.Done():
        var zero T
        return zero, ctx.Err()
    }
}

// OnComplete registers fn to run with the result. If the future is already
// complete, fn runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
    f.mu.Lock()
    select {
    case <-f.done:
        f.mu.Unlock()
        fn(f.val, f.err)
        return
    default:
    }
    f.cbs = append(f.cbs, fn)
    f.mu.Unlock()
}
