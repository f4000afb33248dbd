package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fleetsync/internal/db"
)

func newFailuresCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List commands that could not be delivered",
		Long: "Lists commands that left the queue undelivered: retries exhausted, rejected by the\n" +
			"server, or conflicting with server state. Use 'requeue' to try one again or\n" +
			"'dismiss' to acknowledge it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFailuresList(cmd, configPath, all)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	cmd.Flags().BoolVar(&all, "all", false, "include dismissed failures")
	cmd.AddCommand(newFailuresDismissCmd())
	cmd.AddCommand(newFailuresRequeueCmd())
	return cmd
}

func runFailuresList(cmd *cobra.Command, configPath string, all bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	failures, err := newQueue(cfg, gormDB).Failures(cmd.Context(), all)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Fprintln(out, "No failures.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tREASON\tATTEMPTS\tFAILED\tERROR")
	for _, f := range failures {
		reason := f.Reason
		if f.Dismissed {
			reason += " (dismissed)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			f.ID, f.Kind, reason, f.RetryCount, f.FailedAt.Local().Format(time.DateTime), truncate(f.LastError, 60))
	}
	return w.Flush()
}

func newFailuresDismissCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Acknowledge a failure and hide it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFailureID(args[0])
			if err != nil {
				return err
			}
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer db.Close(gormDB)

			if err := newQueue(cfg, gormDB).DismissFailure(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dismissed failure %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	return cmd
}

func newFailuresRequeueCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Queue a failed command again with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFailureID(args[0])
			if err != nil {
				return err
			}
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer db.Close(gormDB)

			recID, err := newQueue(cfg, gormDB).RequeueFailure(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued failure %d as #%d\n", id, recID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	return cmd
}

func parseFailureID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid failure id %q", s)
	}
	return uint(id), nil
}
