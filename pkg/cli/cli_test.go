package cli

import (
    "bytes"
    "strings"
    "testing"

    "github.com/spf13/cobra"
)

func TestRunBench_CompactsAndReadsBack(t *testing.T) {
    for _, direct := range []bool{false, true} {
        res, err := RunBench(BenchOptions{Entries: 500, PayloadBytes: 32, Direct: direct, CompactEvery: 100, Keep: 50})
        if err != nil { t.Fatalf("direct=%v: %v", direct, err) }
        if res.Appended != 500 || res.LastIndex != 500 { t.Fatalf("direct=%v: result %+v", direct, res) }
        if res.FirstIndex != 451 || res.Read != 50 || res.Compacted != 450 {
            t.Fatalf("direct=%v: result %+v", direct, res)
        }
    }
    if _, err := RunBench(BenchOptions{}); err == nil { t.Fatalf("expected error for zero entries") }
}

func TestParseServers(t *testing.T) {
    got, err := parseServers(" a=127.0.0.1:1, b=127.0.0.1:2 ,", true)
    if err != nil { t.Fatalf("parse: %v", err) }
    if len(got) != 2 || got[0].ID != "a" || got[1].Addr != "127.0.0.1:2" || !got[1].Voter { t.Fatalf("got %+v", got) }
    if _, err := parseServers("a", true); err == nil { t.Fatalf("expected error for missing address") }
}

func TestKindsCmd(t *testing.T) {
    root := &cobra.Command{Use: "raftstorectl"}
    AddAll(root)
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetArgs([]string{"kinds"})
    if err := root.Execute(); err != nil { t.Fatalf("kinds: %v", err) }
    lines := strings.Split(strings.TrimSpace(out.String()), "\n")
    if len(lines) != 6 { t.Fatalf("kinds printed %d lines:\n%s", len(lines), out.String()) }
    if !strings.Contains(lines[0], "tag=300") || !strings.Contains(lines[5], "tag=305") { t.Fatalf("unexpected output:\n%s", out.String()) }
}

func TestManagementCmds_RejectUnknownProtocol(t *testing.T) {
    cases := []struct {
        cmd  *cobra.Command
        args []string
    }{
        {NewStatusCmd(), []string{"--mgmt-proto", "udp"}},
        {NewConfigureCmd(), []string{"--mgmt-proto", "udp", "--voters", "n1=127.0.0.1:9520"}},
    }
    for _, c := range cases {
        var out bytes.Buffer
        c.cmd.SetOut(&out)
        c.cmd.SetErr(&out)
        c.cmd.SetArgs(c.args)
        if err := c.cmd.Execute(); err == nil || !strings.Contains(err.Error(), `"udp"`) {
            t.Fatalf("%s: err = %v", c.cmd.Name(), err)
        }
    }
}

func TestRunCmd_ManagementFlags(t *testing.T) {
    cmd := NewRunCmd()
    for _, name := range []string{"mgmt-proto", "tls-enable", "tls-ca", "tls-cert", "tls-key", "tls-skip-verify", "tls-server-name"} {
        if cmd.Flags().Lookup(name) == nil { t.Fatalf("run is missing --%s", name) }
    }
    if got := cmd.Flags().Lookup("mgmt-proto").DefValue; got != "http" { t.Fatalf("mgmt-proto default = %q", got) }
}
