package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/db"
	"github.com/zulandar/fleetsync/internal/models"
)

func newPendingCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	return cmd
}

func runPending(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	recs, err := newQueue(cfg, gormDB).PendingRecords(cmd.Context())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No pending commands.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tPRIORITY\tREF\tATTEMPTS\tSTATE\tLAST ERROR")
	now := time.Now()
	for _, r := range recs {
		ref := r.EntityRef
		if r.TempEntityID != "" {
			ref = r.TempEntityID
		}
		if ref == "" {
			ref = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.ID, r.Kind, command.Priority(r.Priority), ref, r.RetryCount, r.MaxRetries,
			pendingState(r, now), truncate(r.LastError, 60))
	}
	return w.Flush()
}

func pendingState(r models.QueuedCommand, now time.Time) string {
	if r.IsExecuting {
		return "sending"
	}
	due := time.UnixMilli(r.NextAttemptAt)
	if r.NextAttemptAt == 0 || !due.After(now) {
		return "due"
	}
	return "retry in " + due.Sub(now).Truncate(time.Second).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
