package static

import (
    "fmt"
    "net"
    "strings"

    "github.com/amirimatin/go-raftstore/pkg/discovery"
)

type staticSeeds struct {
    seeds []string
}

func (s *staticSeeds) Seeds() []string { return append([]string(nil), s.seeds...) }

// New returns a Discovery that always returns the given seeds, trimmed and
// without duplicates.
func New(seeds ...string) discovery.Discovery {
    cleaned := make([]string, 0, len(seeds))
    seen := make(map[string]struct{}, len(seeds))
    for _, v := range seeds {
        v = strings.TrimSpace(v)
        if v == "" { continue }
        if _, dup := seen[v]; dup { continue }
        seen[v] = struct{}{}
        cleaned = append(cleaned, v)
    }
    return &staticSeeds{seeds: cleaned}
}

// Parse converts a comma-separated list of host:port seeds. Empty items are
// skipped; an item without a port is an error.
func Parse(csv string) ([]string, error) {
    if strings.TrimSpace(csv) == "" {
        return nil, nil
    }
    var out []string
    for _, p := range strings.Split(csv, ",") {
        p = strings.TrimSpace(p)
        if p == "" { continue }
        if _, _, err := net.SplitHostPort(p); err != nil {
            return nil, fmt.Errorf("static: seed %q: %w", p, err)
        }
        out = append(out, p)
    }
    return out, nil
}
