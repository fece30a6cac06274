package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

func init() {
    if os.Getenv("RAFTSTORE_LOG_JSON") == "1" || os.Getenv("RAFTSTORE_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    if strings.EqualFold(os.Getenv("RAFTSTORE_LOG_LEVEL"), "debug") {
        debugMode.Store(true)
    }
}

func prefix(l *log.Logger, p string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), p, l.Flags())
}

func SetJSON(enabled bool)  { jsonMode.Store(enabled) }
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// JSONEnabled reports whether output is emitted as JSON lines.
func JSONEnabled() bool { return jsonMode.Load() }

// DebugEnabled reports whether Debugf output is emitted.
func DebugEnabled() bool { return debugMode.Load() }

// Component returns a logger writing to l's output whose messages carry the
// given component name.
func Component(l *log.Logger, name string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), l.Prefix()+"["+name+"] ", l.Flags())
}

func Debugf(l *log.Logger, f string, args ...any) {
    if !debugMode.Load() { return }
    logf(l, "debug", f, args...)
}
func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

func logf(l *log.Logger, level, f string, args ...any) {
    if l == nil { l = log.Default() }
    if jsonMode.Load() {
        // emit structured json
        msg := fmt.Sprintf(f, args...)
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   msg,
        }
        if c := strings.TrimSpace(l.Prefix()); c != "" { evt["component"] = strings.Trim(c, "[]") }
        b, _ := json.Marshal(evt)
        log.New(l.Writer(), "", l.Flags()).Println(string(b))
        return
    }
    switch level {
    case "debug":
        prefix(l, "DEBUG "+l.Prefix()).Printf(f, args...)
    case "info":
        prefix(l, "INFO "+l.Prefix()).Printf(f, args...)
    case "warn":
        prefix(l, "WARN "+l.Prefix()).Printf(f, args...)
    default:
        prefix(l, "ERROR "+l.Prefix()).Printf(f, args...)
    }
}
