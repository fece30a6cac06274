package cluster

import (
    "log"
    "sync"

    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
)

// Executor runs submitted functions one at a time, in submission order, on a
// single goroutine. Code that must never run on another component's
// goroutine owns an Executor and receives its callbacks through it.
type Executor struct {
    name string
    log  *log.Logger

    mu     sync.Mutex
    cond   *sync.Cond
    queue  []func()
    closed bool
    done   chan struct{}
}

// NewExecutor starts a named executor. A nil logger uses log.Default().
func NewExecutor(name string, logger *log.Logger) *Executor {
    if logger == nil {
        logger = log.Default()
    }
    e := &Executor{name: name, log: logutil.Component(logger, "executor "+name), done: make(chan struct{})}
    e.cond = sync.NewCond(&e.mu)
    go e.run()
    return e
}

func (e *Executor) Name() string { return e.name }

// Execute queues fn. It never blocks on fn itself.
func (e *Executor) Execute(fn func()) error {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.closed {
        return ErrExecutorClosed
    }
    e.queue = append(e.queue, fn)
    e.cond.Signal()
    return nil
}

// Close stops accepting work. Functions already queued still run; Done
// reports when the last of them has returned.
func (e *Executor) Close() error {
    e.mu.Lock()
    if e.closed {
        e.mu.Unlock()
        return nil
    }
    e.closed = true
    e.cond.Signal()
    e.mu.Unlock()
    return nil
}

// Done is closed once the worker has drained its queue after Close.
func (e *Executor) Done() <-chan struct{} { return e.done }

func (e *Executor) run() {
    defer close(e.done)
    for {
        e.mu.Lock()
        for len(e.queue) == 0 && !e.closed {
            e.cond.Wait()
        }
        if len(e.queue) == 0 {
            e.mu.Unlock()
            return
        }
        fn := e.queue[0]
        e.queue[0] = nil
        e.queue = e.queue[1:]
        e.mu.Unlock()
        e.invoke(fn)
    }
}

func (e *Executor) invoke(fn func()) {
    defer func() {
        if r := recover(); r != nil {
            logutil.Errorf(e.log, "task panicked: %v", r)
        }
    }()
    fn()
}
