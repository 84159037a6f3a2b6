package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if got, want := cfg.Scheduler.AssignInterval, time.Second; got != want {
		t.Fatalf("assign interval: got %v want %v", got, want)
	}
	if got, want := cfg.Scheduler.HeartbeatTimeout, 30*time.Second; got != want {
		t.Fatalf("heartbeat timeout: got %v want %v", got, want)
	}
	if cfg.Scheduler.RequeueOnOffline {
		t.Fatalf("requeue_on_offline should default to false")
	}
	if got, want := cfg.Hub.IdleTimeout, 30*time.Minute; got != want {
		t.Fatalf("idle timeout: got %v want %v", got, want)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	body := `
listen: ":9999"
scheduler:
  assign_interval: 250ms
  max_assignments_per_tick: 4
  requeue_on_offline: true
snapshot:
  backend: sqlite
  path: /tmp/orch.db
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("ORCH_MAX_ASSIGNMENTS_PER_TICK", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Fatalf("listen: got %q", cfg.Listen)
	}
	if got, want := cfg.Scheduler.AssignInterval, 250*time.Millisecond; got != want {
		t.Fatalf("assign interval: got %v want %v", got, want)
	}
	if got, want := cfg.Scheduler.MaxAssignmentsPerTick, 2; got != want {
		t.Fatalf("env override: got %d want %d", got, want)
	}
	if !cfg.Scheduler.RequeueOnOffline {
		t.Fatalf("requeue_on_offline not read from yaml")
	}
	if cfg.Snapshot.Backend != "sqlite" || cfg.Snapshot.Path != "/tmp/orch.db" {
		t.Fatalf("snapshot: got %+v", cfg.Snapshot)
	}
	// untouched keys keep defaults
	if got, want := cfg.Scheduler.LivenessInterval, 10*time.Second; got != want {
		t.Fatalf("liveness interval: got %v want %v", got, want)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("ORCH_SNAPSHOT_BACKEND", "floppy")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestFractionalPenaltyFromEnv(t *testing.T) {
	t.Setenv("ORCH_SUCCESS_RATE_PENALTY", "2.5")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := cfg.Scheduler.SuccessRatePenalty, 2.5; got != want {
		t.Fatalf("success rate penalty: got %v want %v", got, want)
	}
}
