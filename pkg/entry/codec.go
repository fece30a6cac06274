package entry

import (
    "fmt"
    "sync"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
)

// TagSize is the width of the kind tag preceding every encoded entry.
const TagSize = 2

// Registry maps kind tags to entry constructors. The built-in kinds are
// present in every registry returned by NewRegistry; callers may add their
// own kinds with tags outside the built-in range.
type Registry struct {
    mu    sync.RWMutex
    ctors map[Kind]func() Entry
}

// NewRegistry returns a registry holding the built-in kinds.
func NewRegistry() *Registry {
    r := &Registry{ctors: make(map[Kind]func() Entry)}
    _ = r.Register(KindNoOp, func() Entry { return &NoOpEntry{} })
    _ = r.Register(KindCommand, func() Entry { return &CommandEntry{} })
    _ = r.Register(KindConfiguration, func() Entry { return &ConfigurationEntry{} })
    _ = r.Register(KindRegister, func() Entry { return &RegisterEntry{} })
    _ = r.Register(KindKeepAlive, func() Entry { return &KeepAliveEntry{} })
    _ = r.Register(KindUnregister, func() Entry { return &UnregisterEntry{} })
    return r
}

// Register binds kind to ctor. A tag can be bound once; the constructed
// entries must report the same kind.
func (r *Registry) Register(kind Kind, ctor func() Entry) error {
    if ctor == nil { return fmt.Errorf("entry: nil constructor for %s", kind) }
    if got := ctor().Kind(); got != kind {
        return fmt.Errorf("entry: constructor for %s builds %s", kind, got)
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.ctors[kind]; ok { return fmt.Errorf("%w: %s", ErrKindRegistered, kind) }
    r.ctors[kind] = ctor
    return nil
}

// Registered reports whether kind has a constructor.
func (r *Registry) Registered(kind Kind) bool {
    r.mu.RLock()
    defer r.mu.RUnlock()
    _, ok := r.ctors[kind]
    return ok
}

// New returns a zero entry of the given kind.
func (r *Registry) New(kind Kind) (Entry, error) {
    r.mu.RLock()
    ctor, ok := r.ctors[kind]
    r.mu.RUnlock()
    if !ok { return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind) }
    return ctor(), nil
}

// Size returns the encoded width of e including its tag.
func (r *Registry) Size(e Entry) int { return TagSize + e.Size() }

// Write encodes the tag and body of e to out.
func (r *Registry) Write(e Entry, out buffer.Output) error {
    if !r.Registered(e.Kind()) { return fmt.Errorf("%w: %s", ErrUnknownKind, e.Kind()) }
    if err := out.WriteUint16(uint16(e.Kind())); err != nil { return err }
    return e.Encode(out)
}

// ReadKind consumes and validates the tag of the next entry in in.
func (r *Registry) ReadKind(in buffer.Input) (Kind, error) {
    tag, err := in.ReadUint16()
    if err != nil { return 0, err }
    kind := Kind(tag)
    if !r.Registered(kind) { return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind) }
    return kind, nil
}

// Read decodes the next entry in in into a freshly constructed value.
func (r *Registry) Read(in buffer.Input) (Entry, error) {
    kind, err := r.ReadKind(in)
    if err != nil { return nil, err }
    e, err := r.New(kind)
    if err != nil { return nil, err }
    if err := e.Decode(in); err != nil { return nil, fmt.Errorf("entry: decode %s: %w", kind, err) }
    return e, nil
}
