package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/fleetsync/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the queue database",
		Long:  "Creates the queue store if needed and migrates the queue, reconciliation and failure tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	fmt.Fprintf(out, "Loaded config for device %q from %s\n", cfg.DeviceID, configPath)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	stats, err := db.CollectStats(gormDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Queue: %d queued, %d executing, %d reconciliations, %d open failures\n",
		stats.Queued, stats.Executing, stats.Reconciliations, stats.Failures)
	return nil
}
