package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-raftstore/pkg/bootstrap"
    "github.com/amirimatin/go-raftstore/pkg/cluster"
    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    tracing "github.com/amirimatin/go-raftstore/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-raftstore/pkg/security/tlsconfig"
    "github.com/amirimatin/go-raftstore/pkg/transport"
)

// AddAll attaches the node subcommands (run/status/configure/bench/kinds) to
// the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewConfigureCmd())
    root.AddCommand(NewBenchCmd())
    root.AddCommand(NewKindsCmd())
}

// NewRunCmd returns the "run" command used to start a node.
func NewRunCmd() *cobra.Command {
    var (
        cfg                       bootstrap.Config
        traceEnable, jsonLogs     bool
        debugLogs                 bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a raftstore node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing --id") }
            if jsonLogs { logutil.SetJSON(true) }
            if debugLogs { logutil.SetDebug(true) }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg.Logger = log.Default()
            n, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer n.Close()

            remove := n.View.Election().AddListener(func(r cluster.ViewElectionResult) {
                if r.Leader == nil {
                    fmt.Fprintf(cmd.OutOrStdout(), "election in progress (term %d)\n", r.Term)
                    return
                }
                fmt.Fprintf(cmd.OutOrStdout(), "leader %s (term %d)\n", r.Leader, r.Term)
            })
            defer remove()

            fmt.Fprintln(cmd.OutOrStdout(), "node running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    f.StringVar(&cfg.RaftAddr, "raft-addr", "127.0.0.1:9520", "raft bind addr (tcp)")
    f.StringVar(&cfg.RaftAdvertise, "raft-adv", "", "raft advertise addr (host:port, needed when binding all interfaces)")
    f.StringVar(&cfg.MemBind, "mem-bind", "127.0.0.1:7946", "membership bind addr (host:port)")
    f.StringVar(&cfg.MemAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    f.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated membership seeds (host:port)")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", "127.0.0.1:17946", "management API address; empty disables it")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", bootstrap.MgmtHTTP, "management RPC protocol: http|grpc")
    addTLSFlags(cmd, &cfg.TLS)
    f.StringVar(&cfg.DataDir, "data", "", "raft data dir (stable store, snapshots)")
    f.BoolVar(&cfg.Bootstrap, "bootstrap", false, "bootstrap a single-node raft cluster")
    f.BoolVar(&cfg.AutoJoin, "auto-join", true, "leader adds gossiped members as voters")
    f.StringVar(&cfg.LogStore, "log-store", "buffer", "raft log store: buffer|bolt|inmem")
    f.BoolVar(&cfg.LogDirect, "log-direct", false, "keep the buffer log off-heap")
    f.IntVar(&cfg.LogMaxCapacity, "log-max-bytes", 0, "buffer log capacity ceiling in bytes (0 = default)")
    f.Uint64Var(&cfg.SnapshotThreshold, "snapshot-threshold", 0, "entries between snapshots (0 = raft default)")
    f.Uint64Var(&cfg.TrailingLogs, "trailing-logs", 0, "entries kept behind a snapshot (0 = raft default)")
    f.DurationVar(&cfg.SessionTimeout, "session-timeout", 0, "expire sessions silent for this long (0 = never)")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    f.BoolVar(&jsonLogs, "log-json", false, "emit JSON log lines")
    f.BoolVar(&debugLogs, "debug", false, "enable debug logging")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
        mc      mgmtClientFlags
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            cli, err := mc.client(timeout)
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            st, err := cli.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            enc := json.NewEncoder(cmd.OutOrStdout())
            enc.SetIndent("", "  ")
            return enc.Encode(st)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    mc.register(cmd)
    return cmd
}

// NewConfigureCmd returns the "configure" command.
func NewConfigureCmd() *cobra.Command {
    var (
        addr, voters, nonvoters string
        timeout                 time.Duration
        mc                      mgmtClientFlags
    )
    cmd := &cobra.Command{
        Use:   "configure",
        Short: "Reconcile the raft configuration to the given servers",
        RunE: func(cmd *cobra.Command, args []string) error {
            var req transport.ConfigureRequest
            for _, group := range []struct {
                csv   string
                voter bool
            }{{voters, true}, {nonvoters, false}} {
                specs, err := parseServers(group.csv, group.voter)
                if err != nil { return err }
                req.Servers = append(req.Servers, specs...)
            }
            if len(req.Servers) == 0 { return fmt.Errorf("missing --voters") }
            cli, err := mc.client(timeout)
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            resp, err := cli.PostConfigure(ctx, addr, req)
            if err != nil && resp.Leader != "" {
                return fmt.Errorf("configure error: %w (leader at %s)", err, resp.Leader)
            }
            if err != nil { return fmt.Errorf("configure error: %w", err) }
            return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of the leader (host:port)")
    cmd.Flags().StringVar(&voters, "voters", "", "comma-separated id=raftaddr voters")
    cmd.Flags().StringVar(&nonvoters, "nonvoters", "", "comma-separated id=raftaddr non-voters")
    cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
    mc.register(cmd)
    return cmd
}

// mgmtClientFlags selects the protocol and TLS settings of a management client.
type mgmtClientFlags struct {
    proto string
    tls   tlsx.Options
}

func (m *mgmtClientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&m.proto, "mgmt-proto", bootstrap.MgmtHTTP, "management RPC protocol: http|grpc")
    addTLSFlags(cmd, &m.tls)
}

func (m *mgmtClientFlags) client(timeout time.Duration) (transport.RPCClient, error) {
    return bootstrap.NewMgmtClient(m.proto, timeout, m.tls)
}

func addTLSFlags(cmd *cobra.Command, o *tlsx.Options) {
    f := cmd.Flags()
    f.BoolVar(&o.Enable, "tls-enable", false, "enable mTLS for the management transport")
    f.StringVar(&o.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    f.StringVar(&o.CertFile, "tls-cert", "", "path to node certificate (PEM)")
    f.StringVar(&o.KeyFile, "tls-key", "", "path to node private key (PEM)")
    f.BoolVar(&o.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    f.StringVar(&o.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

// parseServers parses "id=host:port,..." lists.
func parseServers(csv string, voter bool) ([]transport.ServerSpec, error) {
    var out []transport.ServerSpec
    for _, item := range strings.Split(csv, ",") {
        item = strings.TrimSpace(item)
        if item == "" { continue }
        id, addr, ok := strings.Cut(item, "=")
        if !ok || id == "" || addr == "" {
            return nil, fmt.Errorf("invalid server %q, want id=host:port", item)
        }
        out = append(out, transport.ServerSpec{ID: id, Addr: addr, Voter: voter})
    }
    return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
