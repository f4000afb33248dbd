package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/fleetsync/internal/config"
	"github.com/zulandar/fleetsync/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StorageConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.StorageConfig{Host: "127.0.0.1", Port: 3306, User: "root", Database: "fleetsync"},
			want: "root@tcp(127.0.0.1:3306)/fleetsync?parseTime=true",
		},
		{
			name: "custom host and credentials",
			cfg:  config.StorageConfig{Host: "10.0.0.5", Port: 3307, User: "sync", Password: "pw", Database: "van17"},
			want: "sync:pw@tcp(10.0.0.5:3307)/van17?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.StorageConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err)
	}
}

func TestConnect_MySQLUnreachable(t *testing.T) {
	_, err := Connect(config.StorageConfig{Driver: "mysql", Host: "127.0.0.1", Port: 1, User: "root", Database: "x"})
	if err == nil {
		t.Fatal("expected error connecting to a closed port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q", err)
	}
}

func TestConnect_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	gdb, err := Connect(config.StorageConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(gdb)

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	sqlDB, _ := gdb.DB()
	if n := sqlDB.Stats().MaxOpenConnections; n != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", n)
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 3 {
		t.Errorf("AllModels() returned %d models, want 3", got)
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	gdb, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T missing", m)
		}
	}
}

func TestCollectStats(t *testing.T) {
	gdb, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	gdb.Create(&models.QueuedCommand{IdempotencyKey: "a", Kind: "end_duty", Payload: "{}"})
	gdb.Create(&models.QueuedCommand{IdempotencyKey: "b", Kind: "end_duty", Payload: "{}", IsExecuting: true})
	gdb.Create(&models.Reconciliation{TempEntityID: "tmp-1", ServerEntityID: "42"})
	gdb.Create(&models.CommandFailure{IdempotencyKey: "c", Reason: models.FailureRejected})
	gdb.Create(&models.CommandFailure{IdempotencyKey: "d", Reason: models.FailureRejected, Dismissed: true})

	s, err := CollectStats(gdb)
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if s.Queued != 2 || s.Executing != 1 || s.Reconciliations != 1 || s.Failures != 1 {
		t.Errorf("stats = %+v, want 2/1/1/1", s)
	}
}
