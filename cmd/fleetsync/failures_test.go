package main

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/fleetsync/internal/models"
)

func TestFailuresCmd_Help(t *testing.T) {
	out, err := runCmd(t, "failures", "--help")
	if err != nil {
		t.Fatalf("failures --help failed: %v", err)
	}
	for _, want := range []string{"dismiss", "requeue", "--all"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help to mention %q, got: %s", want, out)
		}
	}
}

func TestFailures_Empty(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := runCmd(t, "db", "init", "-c", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}
	out, err := runCmd(t, "failures", "-c", cfg)
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if !strings.Contains(out, "No failures.") {
		t.Errorf("expected empty list, got: %s", out)
	}
}

func TestFailuresDismiss_NotFound(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := runCmd(t, "db", "init", "-c", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}
	if _, err := runCmd(t, "failures", "dismiss", "7", "-c", cfg); err == nil {
		t.Error("expected error dismissing a missing failure")
	}
}

func TestFailuresRequeue_BadID(t *testing.T) {
	_, err := runCmd(t, "failures", "requeue", "abc")
	if err == nil || !strings.Contains(err.Error(), "invalid failure id") {
		t.Errorf("expected invalid id error, got: %v", err)
	}
}

func TestParseFailureID(t *testing.T) {
	if id, err := parseFailureID("42"); err != nil || id != 42 {
		t.Errorf("parseFailureID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"0", "-1", "x"} {
		if _, err := parseFailureID(bad); err == nil {
			t.Errorf("parseFailureID(%q) should fail", bad)
		}
	}
}

func TestPendingState(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		rec  models.QueuedCommand
		want string
	}{
		{"executing", models.QueuedCommand{IsExecuting: true}, "sending"},
		{"never scheduled", models.QueuedCommand{}, "due"},
		{"past", models.QueuedCommand{NextAttemptAt: now.Add(-time.Minute).UnixMilli()}, "due"},
		{"future", models.QueuedCommand{NextAttemptAt: now.Add(90 * time.Second).UnixMilli()}, "retry in 1m30s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pendingState(tt.rec, now); got != tt.want {
				t.Errorf("pendingState = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456..." {
		t.Errorf("truncate(long) = %q", got)
	}
}
