package raftcons

import (
    "log"

    "github.com/hashicorp/go-hclog"

    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
)

// newRaftLogger returns an hclog.Logger for raft internals that writes to the
// same output as l and follows the logutil format and level.
func newRaftLogger(l *log.Logger, name string) hclog.Logger {
    if l == nil { l = log.Default() }
    level := hclog.Info
    if logutil.DebugEnabled() { level = hclog.Debug }
    return hclog.New(&hclog.LoggerOptions{
        Name:       name,
        Output:     l.Writer(),
        Level:      level,
        JSONFormat: logutil.JSONEnabled(),
    })
}
