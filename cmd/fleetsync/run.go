package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fleetsync/internal/alert"
	"github.com/zulandar/fleetsync/internal/alert/discord"
	"github.com/zulandar/fleetsync/internal/alert/slack"
	"github.com/zulandar/fleetsync/internal/config"
	"github.com/zulandar/fleetsync/internal/db"
	"github.com/zulandar/fleetsync/internal/sensor"
	"github.com/zulandar/fleetsync/internal/status"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const alertTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: "Runs the sync orchestrator in the foreground. Network and battery state come from\n" +
			"the platform bridge's state file (sensors.state_file) or, without one, from probing\n" +
			"the fleet API. The local status API is served when status.enabled is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	if closer := setupLogging(cfg.Log); closer != nil {
		defer closer.Close()
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := buildEngine(cfg, gormDB, out)

	recovered, err := eng.queue.RecoverStale(ctx, cfg.Sync.StaleAfter)
	if err != nil {
		return err
	}
	if recovered > 0 {
		fmt.Fprintf(out, "Recovered %d commands left executing by a previous run\n", recovered)
	}

	notifier, err := buildNotifier(cfg.Alerts)
	if err != nil {
		return err
	}
	eng.queue.SetOnTerminal(alert.Hook(notifier, alertTimeout))

	fmt.Fprintf(out, "Device %s syncing to %s (%s store)\n", cfg.DeviceID, cfg.Server.BaseURL, cfg.Storage.Driver)

	if err := eng.orch.Start(ctx); err != nil {
		return err
	}
	defer eng.orch.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.orch.Watch(gctx, sensorSource(cfg, eng))
	})
	if cfg.Status.Enabled {
		g.Go(func() error {
			return status.Start(gctx, status.StartOpts{
				Service: eng.agent,
				Addr:    cfg.Status.Addr,
				Out:     out,
			})
		})
	}

	<-gctx.Done()
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Shutting down...")
	return nil
}

// setupLogging tees the standard logger into a rotated file when one is
// configured.
func setupLogging(lc config.LogConfig) io.Closer {
	if lc.File == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}

func buildNotifier(ac config.AlertsConfig) (alert.Notifier, error) {
	notifiers := alert.Multi{alert.Log{}}
	if ac.Slack.BotToken != "" {
		n, err := slack.New(slack.Opts{BotToken: ac.Slack.BotToken, ChannelID: ac.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if ac.Discord.BotToken != "" {
		n, err := discord.New(discord.Opts{BotToken: ac.Discord.BotToken, ChannelID: ac.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}

func sensorSource(cfg *config.Config, eng *engine) sensor.Source {
	if cfg.Sensors.StateFile != "" {
		return &sensor.FileSource{
			Path:          cfg.Sensors.StateFile,
			Prober:        eng.client,
			ProbeInterval: cfg.Sensors.ProbeInterval,
		}
	}
	return &sensor.ProbeSource{Prober: eng.client, Interval: cfg.Sensors.ProbeInterval}
}

// currentSnapshot is a one-shot reading for commands that do not watch.
func currentSnapshot(ctx context.Context, cfg *config.Config, eng *engine) (sensor.Snapshot, error) {
	if cfg.Sensors.StateFile == "" {
		return sensor.Probe(ctx, eng.client), nil
	}
	snap, err := sensor.ReadFile(cfg.Sensors.StateFile)
	if err != nil {
		return sensor.Snapshot{}, err
	}
	return sensor.Validate(ctx, snap, eng.client), nil
}
