package memberlist

import (
    "fmt"
    "sort"

    "github.com/amirimatin/go-raftstore/pkg/buffer"
    "github.com/amirimatin/go-raftstore/pkg/entry"
)

// Node metadata is gossiped as a count followed by key/value strings sorted
// by key, the same layout members use inside configuration entries.

func encodeMeta(meta map[string]string) ([]byte, error) {
    size := 4
    keys := make([]string, 0, len(meta))
    for k, v := range meta {
        keys = append(keys, k)
        size += entry.StringSize(k) + entry.StringSize(v)
    }
    sort.Strings(keys)
    b, err := buffer.Allocate(size, size)
    if err != nil { return nil, err }
    if err := b.WriteUint32(uint32(len(keys))); err != nil { return nil, err }
    for _, k := range keys {
        if err := entry.WriteString(b, k); err != nil { return nil, err }
        if err := entry.WriteString(b, meta[k]); err != nil { return nil, err }
    }
    return b.Flip().Bytes(), nil
}

func decodeMeta(p []byte) (map[string]string, error) {
    if len(p) == 0 { return map[string]string{}, nil }
    b := buffer.Wrap(p)
    n, err := b.ReadUint32()
    if err != nil { return nil, err }
    if int(n) > b.Remaining()/8 { return nil, fmt.Errorf("memberlist: meta declares %d pairs in %d bytes", n, b.Remaining()) }
    meta := make(map[string]string, n)
    for i := uint32(0); i < n; i++ {
        k, err := entry.ReadString(b)
        if err != nil { return nil, err }
        v, err := entry.ReadString(b)
        if err != nil { return nil, err }
        meta[k] = v
    }
    return meta, nil
}
