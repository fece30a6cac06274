package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    // Buffer memory
    BufferAllocations = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "buffer",
        Name:      "allocations_total",
        Help:      "Total number of buffer memory allocations per backend",
    }, []string{"backend"})
    BufferGrowths = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "buffer",
        Name:      "growths_total",
        Help:      "Total number of buffer reallocations caused by writes past capacity",
    }, []string{"backend"})
    BufferBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "raftstore",
        Subsystem: "buffer",
        Name:      "bytes",
        Help:      "Bytes currently allocated by owned buffers per backend",
    }, []string{"backend"})

    // Entry pool
    PoolAcquires = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "pool",
        Name:      "acquires_total",
        Help:      "Entry pool acquisitions by outcome (reused or allocated)",
    }, []string{"outcome"})
    PoolLive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "raftstore",
        Subsystem: "pool",
        Name:      "live",
        Help:      "Entries currently held through pool handles",
    })

    // Log
    LogAppends = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "log",
        Name:      "appends_total",
        Help:      "Total number of entries appended to logs",
    })
    LogAppendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "log",
        Name:      "append_errors_total",
        Help:      "Rejected appends by reason",
    }, []string{"reason"})
    LogTruncations = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "log",
        Name:      "truncations_total",
        Help:      "Total number of suffix truncations",
    })
    LogCompactions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "log",
        Name:      "compactions_total",
        Help:      "Prefix compactions by result",
    }, []string{"result"})
    LogEntries = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "raftstore",
        Subsystem: "log",
        Name:      "entries",
        Help:      "Entries currently held by the most recently mutated log",
    })

    // Cluster view
    LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "raftstore",
        Name:      "leader_changes_total",
        Help:      "Total number of observed leader change events",
    })
    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "raftstore",
        Name:      "is_leader",
        Help:      "1 if this node is the leader, else 0",
    })
    ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "raftstore",
        Name:      "members_total",
        Help:      "Current number of known cluster members",
    })
    ConfigureRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "raftstore",
        Name:      "configure_requests_total",
        Help:      "Cluster configuration changes by result",
    }, []string{"result"})

    // Management gRPC client connections
    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "raftstore",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "raftstore",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(BufferAllocations)
        prometheus.MustRegister(BufferGrowths)
        prometheus.MustRegister(BufferBytes)
        prometheus.MustRegister(PoolAcquires)
        prometheus.MustRegister(PoolLive)
        prometheus.MustRegister(LogAppends)
        prometheus.MustRegister(LogAppendErrors)
        prometheus.MustRegister(LogTruncations)
        prometheus.MustRegister(LogCompactions)
        prometheus.MustRegister(LogEntries)
        prometheus.MustRegister(LeaderChanges)
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(ClusterMembers)
        prometheus.MustRegister(ConfigureRequests)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
