package main

import (
	"strings"
	"testing"
)

func TestEnqueueCmd_Help(t *testing.T) {
	out, err := runCmd(t, "enqueue", "--help")
	if err != nil {
		t.Fatalf("enqueue --help failed: %v", err)
	}
	for _, sub := range []string{"start-duty", "end-duty", "location", "push-token", "accept-assignment", "raw"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestEnqueueStartDuty_RequiresVehicle(t *testing.T) {
	_, err := runCmd(t, "enqueue", "start-duty", "-c", writeConfig(t))
	if err == nil || !strings.Contains(err.Error(), "vehicle") {
		t.Errorf("expected missing vehicle error, got: %v", err)
	}
}

func TestEnqueueLocation_NoPointsIsInvalid(t *testing.T) {
	_, err := runCmd(t, "enqueue", "location", "-c", "/nonexistent/fleetsync.yaml")
	if err == nil || !strings.Contains(err.Error(), "at least one point") {
		t.Errorf("expected validation error before loading config, got: %v", err)
	}
}

func TestEnqueueRaw_UnknownKind(t *testing.T) {
	_, err := runCmd(t, "enqueue", "raw", "--kind", "teleport", "--payload", "{}")
	if err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Errorf("expected unknown kind error, got: %v", err)
	}
}

func TestEnqueue_ThenPendingAndStatus(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := runCmd(t, "db", "init", "-c", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}

	out, err := runCmd(t, "enqueue", "start-duty", "-c", cfg, "--vehicle", "van-12", "--odometer", "1200")
	if err != nil {
		t.Fatalf("enqueue start-duty: %v", err)
	}
	if !strings.Contains(out, "Queued start_duty #1 (critical priority)") {
		t.Errorf("unexpected enqueue output: %s", out)
	}
	if !strings.Contains(out, "Temp id:         tmp-") {
		t.Errorf("expected temp id in output, got: %s", out)
	}

	out, err = runCmd(t, "enqueue", "raw", "-c", cfg, "--kind", "push-token-update",
		"--payload", `{"token":"abc","platform":"fcm"}`, "--key", "push-1")
	if err != nil {
		t.Fatalf("enqueue raw: %v", err)
	}
	if !strings.Contains(out, "Idempotency key: push-1") {
		t.Errorf("expected caller key in output, got: %s", out)
	}

	out, err = runCmd(t, "pending", "-c", cfg)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !strings.Contains(out, "start_duty") || !strings.Contains(out, "push_token_update") {
		t.Errorf("expected both commands listed, got: %s", out)
	}
	if !strings.Contains(out, "0/3") {
		t.Errorf("expected attempt counts, got: %s", out)
	}
	if strings.Index(out, "start_duty") > strings.Index(out, "push_token_update") {
		t.Errorf("expected critical command listed first, got: %s", out)
	}

	out, err = runCmd(t, "status", "-c", cfg)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Pending:     2 (0 executing)") {
		t.Errorf("unexpected status output: %s", out)
	}
	if !strings.Contains(out, "Failures:    0 open") {
		t.Errorf("unexpected status output: %s", out)
	}
}

func TestParsePoint(t *testing.T) {
	pt, err := parsePoint("52.52, 13.405")
	if err != nil {
		t.Fatal(err)
	}
	if pt.Latitude != 52.52 || pt.Longitude != 13.405 {
		t.Errorf("parsePoint = %+v", pt)
	}

	for _, bad := range []string{"52.52", "north,13", "52,east"} {
		if _, err := parsePoint(bad); err == nil {
			t.Errorf("parsePoint(%q) should fail", bad)
		}
	}
}
