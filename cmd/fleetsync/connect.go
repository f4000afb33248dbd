package main

import (
	"fmt"
	"io"
	"time"

	"github.com/zulandar/fleetsync/internal/agent"
	"github.com/zulandar/fleetsync/internal/api"
	"github.com/zulandar/fleetsync/internal/config"
	"github.com/zulandar/fleetsync/internal/db"
	"github.com/zulandar/fleetsync/internal/executor"
	"github.com/zulandar/fleetsync/internal/orchestrator"
	"github.com/zulandar/fleetsync/internal/policy"
	"github.com/zulandar/fleetsync/internal/queue"
	"gorm.io/gorm"
)

const defaultConfigPath = "fleetsync.yaml"

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s store: %w", cfg.Storage.Driver, err)
	}

	return cfg, gormDB, nil
}

func newQueue(cfg *config.Config, gormDB *gorm.DB) *queue.Queue {
	return queue.New(gormDB, queue.Opts{
		MaxRetries:  cfg.Sync.MaxRetries,
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffCap:  cfg.Sync.BackoffCap,
		Jitter:      cfg.Sync.BackoffJitter,
		DeferDelay:  cfg.Sync.DeferDelay,
	})
}

func newClient(cfg *config.Config) *api.Client {
	client := api.New(cfg.Server.BaseURL, cfg.Server.Token)
	client.DeviceID = cfg.DeviceID
	client.Timeout = cfg.Server.Timeout
	return client
}

// engine bundles everything a sync needs.
type engine struct {
	cfg    *config.Config
	db     *gorm.DB
	client *api.Client
	queue  *queue.Queue
	orch   *orchestrator.Orchestrator
	agent  *agent.Agent
}

func buildEngine(cfg *config.Config, gormDB *gorm.DB, out io.Writer) *engine {
	q := newQueue(cfg, gormDB)
	client := newClient(cfg)
	exec := executor.New(client, q, cfg.Server.Timeout)
	network, power := policy.FromConfig(cfg.Network, cfg.Power)
	orch := orchestrator.New(q, exec, network, power, orchestrator.Opts{
		WorkerPool: cfg.Sync.WorkerPool,
		BatchLimit: cfg.Sync.BatchLimit,
		Out:        out,
	})
	return &engine{
		cfg:    cfg,
		db:     gormDB,
		client: client,
		queue:  q,
		orch:   orch,
		agent:  agent.New(q, orch),
	}
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	if d < 0 {
		return "in " + (-d).Truncate(time.Second).String()
	}
	return d.Truncate(time.Second).String() + " ago"
}
