// Command shuttle synchronizes a multi-replica workspace to a remote
// machine over SSH, transferring only what changed.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "shuttle",
	Short: "Incremental workspace synchronization over SSH",
	Long: `shuttle mirrors a local development workspace, including nested
repositories, onto a remote machine. Each run transfers only the commits
and working-tree changes the remote does not already have, and restores
large-object payloads that exist locally but only as pointer stubs
remotely.

The remote workspace is treated as a disposable mirror: any drift on the
remote side is discarded on every run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .shuttle.yaml in . or $HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror activity log to stderr")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(targetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
