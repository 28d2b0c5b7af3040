// Package main implements truthctl, the operator CLI for truthd.
//
// Most commands talk to a running daemon over HTTP. The migrate and rebuild
// commands open the database directly using the daemon's configuration.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	serverURL  string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "truthctl",
		Short: "CLI for truthd knowledge PR operations",
		Long: `truthctl drives the truthd pipeline: analyze turns, build knowledge PRs,
run conflict checks and routing, merge, and inspect the resulting graphs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:9090", "truthd server URL")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file for local commands (default ~/.config/truthd/config.yaml)")

	root.AddCommand(
		newHealthCmd(opts),
		newAnalyzeCmd(opts),
		newPRCmd(opts),
		newGraphCmd(opts),
		newMigrateCmd(opts),
		newRebuildCmd(opts),
	)
	return root
}
