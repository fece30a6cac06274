package main

import (
    "log"

    "github.com/spf13/cobra"

    raftstorecli "github.com/amirimatin/go-raftstore/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "raftstorectl",
        Short:         "go-raftstore node and log tooling",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all commands from pkg/cli for reuse in services
    raftstorecli.AddAll(root)
    return root
}
