package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleetsync",
		Short: "Offline-first command queue for fleet devices",
		Long: "fleetsync queues driver actions while the device is offline and delivers them\n" +
			"to the fleet API in causal order once connectivity and battery allow.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newFailuresCmd())
	cmd.AddCommand(newSyncCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fleetsync %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
