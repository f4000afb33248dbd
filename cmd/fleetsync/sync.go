package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/fleetsync/internal/db"
	"github.com/zulandar/fleetsync/internal/orchestrator"
)

func newSyncCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued commands now",
		Long: "Runs one forced sync batch in the foreground and exits. Connectivity is read from\n" +
			"the sensor state file or probed. Commands are attempted regardless of battery.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	return cmd
}

func runSync(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	ctx := cmd.Context()

	eng := buildEngine(cfg, gormDB, out)
	defer eng.orch.Stop()

	snap, err := currentSnapshot(ctx, cfg, eng)
	if err != nil {
		return err
	}
	eng.orch.Seed(snap)

	res, err := eng.agent.ForceSyncNow(ctx)
	if errors.Is(err, orchestrator.ErrOffline) {
		return fmt.Errorf("cannot sync: %s is unreachable (%s)", cfg.Server.BaseURL, snap.Network)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sync complete: %s\n", res)
	if n := res.Failed() + res.Conflicted; n > 0 {
		fmt.Fprintf(out, "%d commands could not be delivered; see 'fleetsync failures'\n", n)
	}
	return nil
}
