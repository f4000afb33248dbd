package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fleetsync/internal/db"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status",
		Long:  "Shows the local queue: pending and executing commands, the next due attempt, reconciled temp ids and open failures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	stats, err := db.CollectStats(gormDB)
	if err != nil {
		return err
	}
	next, err := newQueue(cfg, gormDB).NextDue(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Device:      %s\n", cfg.DeviceID)
	fmt.Fprintf(out, "Server:      %s\n", cfg.Server.BaseURL)
	fmt.Fprintf(out, "Store:       %s\n", storeLabel(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.Database))
	fmt.Fprintf(out, "Pending:     %d (%d executing)\n", stats.Queued, stats.Executing)
	if next.IsZero() {
		fmt.Fprintf(out, "Next due:    -\n")
	} else if !next.After(time.Now()) {
		fmt.Fprintf(out, "Next due:    now\n")
	} else {
		fmt.Fprintf(out, "Next due:    %s (%s)\n", next.Local().Format(time.DateTime), formatAge(next))
	}
	fmt.Fprintf(out, "Reconciled:  %d temp ids\n", stats.Reconciliations)
	fmt.Fprintf(out, "Failures:    %d open\n", stats.Failures)
	return nil
}

func storeLabel(driver, path, database string) string {
	if driver == "sqlite" {
		return "sqlite " + path
	}
	return driver + " " + database
}
