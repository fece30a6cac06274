package raftlog

import (
    "errors"
    "log"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/entry"
)

const defaultInitialCapacity = 4096

// Options configure a Log. Zero values select defaults.
type Options struct {
    // Allocator provides the backing storage. Defaults to heap memory.
    Allocator buffer.Allocator
    // Registry decodes stored entries. Defaults to the built-in kinds.
    Registry *entry.Registry

    // InitialCapacity is the size of the first storage buffer and the floor
    // for buffers allocated by compaction.
    InitialCapacity int
    // MaxCapacity bounds the bytes of live frames the log may hold.
    MaxCapacity int

    Logger *log.Logger
}

func (o Options) withDefaults() Options {
    if o.Allocator == nil { o.Allocator = buffer.HeapAllocator{} }
    if o.Registry == nil { o.Registry = entry.NewRegistry() }
    if o.MaxCapacity == 0 { o.MaxCapacity = buffer.MaxCapacity }
    if o.InitialCapacity == 0 { o.InitialCapacity = defaultInitialCapacity }
    if o.InitialCapacity > o.MaxCapacity { o.InitialCapacity = o.MaxCapacity }
    if o.Logger == nil { o.Logger = log.Default() }
    return o
}

// Validate reports option combinations New would reject.
func (o Options) Validate() error {
    if o.InitialCapacity < 0 { return errors.New("raftlog: negative initial capacity") }
    if o.MaxCapacity < 0 || o.MaxCapacity > buffer.MaxCapacity {
        return errors.New("raftlog: max capacity out of range")
    }
    if o.MaxCapacity > 0 && o.MaxCapacity < frameHeaderSize {
        return errors.New("raftlog: max capacity below frame header size")
    }
    return nil
}
