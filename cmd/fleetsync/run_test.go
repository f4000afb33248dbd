package main

import (
	"strings"
	"testing"

	"github.com/zulandar/fleetsync/internal/alert"
	"github.com/zulandar/fleetsync/internal/config"
	"github.com/zulandar/fleetsync/internal/sensor"
)

func TestRunCmd_Help(t *testing.T) {
	out, err := runCmd(t, "run", "--help")
	if err != nil {
		t.Fatalf("run --help failed: %v", err)
	}
	if !strings.Contains(out, "state file") || !strings.Contains(out, "--config") {
		t.Errorf("unexpected run help: %s", out)
	}
}

func TestSyncCmd_Help(t *testing.T) {
	out, err := runCmd(t, "sync", "--help")
	if err != nil {
		t.Fatalf("sync --help failed: %v", err)
	}
	if !strings.Contains(out, "forced sync") {
		t.Errorf("unexpected sync help: %s", out)
	}
}

func TestSyncCmd_UnreachableServer(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := runCmd(t, "db", "init", "-c", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}
	_, err := runCmd(t, "sync", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("expected unreachable error, got: %v", err)
	}
}

func TestBuildNotifier(t *testing.T) {
	n, err := buildNotifier(config.AlertsConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := n.(alert.Multi); !ok || len(m) != 1 {
		t.Errorf("notifier = %#v, want log only", n)
	}

	n, err = buildNotifier(config.AlertsConfig{
		Slack:   config.SlackConfig{BotToken: "xoxb-test", ChannelID: "C123"},
		Discord: config.DiscordConfig{BotToken: "discord-test", ChannelID: "456"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := n.(alert.Multi); !ok || len(m) != 3 {
		t.Errorf("notifier = %#v, want log, slack and discord", n)
	}
}

func TestSensorSource(t *testing.T) {
	cfg := config.Default("http://127.0.0.1:1")
	eng := buildEngine(cfg, nil, nil)

	if _, ok := sensorSource(cfg, eng).(*sensor.ProbeSource); !ok {
		t.Error("expected probe source without a state file")
	}
	cfg.Sensors.StateFile = "/run/fleetsync/state.json"
	src, ok := sensorSource(cfg, eng).(*sensor.FileSource)
	if !ok {
		t.Fatal("expected file source with a state file")
	}
	if src.Path != cfg.Sensors.StateFile || src.Prober == nil {
		t.Errorf("file source = %+v", src)
	}
}
