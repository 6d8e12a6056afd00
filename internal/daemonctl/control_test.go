package daemonctl_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"lifeline/internal/config"
	"lifeline/internal/daemonctl"
	"lifeline/internal/queue"
	"lifeline/internal/testsupport"
)

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	if _, err := store.Publish(context.Background(), queue.ChannelObservations, testsupport.Observation(t, map[string]float64{"fire": 0.9})); err != nil {
		t.Fatalf("publish: %v", err)
	}
	store.Close()

	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Connected {
		t.Fatal("expected no IPC connection without a daemon")
	}
	if snap.Status.Running {
		t.Fatal("expected not-running status")
	}

	found := false
	for _, ch := range snap.Status.Pipeline.Channels {
		if ch.Channel == queue.ChannelObservations {
			found = true
			if ch.Ready != 1 {
				t.Fatalf("expected 1 ready observation, got %d", ch.Ready)
			}
		}
	}
	if !found {
		t.Fatal("expected observations channel in offline stats")
	}

	if snap.Status.QueueDBPath != cfg.QueueDBPath() {
		t.Fatalf("expected queue db path %q, got %q", cfg.QueueDBPath(), snap.Status.QueueDBPath)
	}
	if snap.Status.SocketPath != cfg.SocketPath() {
		t.Fatalf("expected socket path %q, got %q", cfg.SocketPath(), snap.Status.SocketPath)
	}
}

func TestBuildStatusSnapshotNilConfig(t *testing.T) {
	if _, err := daemonctl.BuildStatusSnapshot(context.Background(), "/tmp/nope.sock", nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestBuildSystemChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	lines := daemonctl.BuildSystemChecks(cfg, false)
	byLabel := make(map[string]daemonctl.StatusLine, len(lines))
	for _, line := range lines {
		byLabel[line.Label] = line
	}

	if byLabel["Lifeline"].Severity != "warn" {
		t.Fatalf("expected warn for stopped daemon, got %q", byLabel["Lifeline"].Severity)
	}
	if byLabel["Settlement"].Severity != "ok" {
		t.Fatalf("expected ok for simulator settlement, got %q", byLabel["Settlement"].Severity)
	}
	if byLabel["Notifications"].Severity != "warn" {
		t.Fatalf("expected warn for unconfigured notifications, got %q", byLabel["Notifications"].Severity)
	}
	if byLabel["Intake bridge"].Severity != "info" {
		t.Fatalf("expected info for disabled bridge, got %q", byLabel["Intake bridge"].Severity)
	}

	lines = daemonctl.BuildSystemChecks(cfg, true)
	for _, line := range lines {
		if line.Label == "Lifeline" && line.Severity != "ok" {
			t.Fatalf("expected ok for running daemon, got %q", line.Severity)
		}
	}
}

func TestDeriveDataDir(t *testing.T) {
	cfg := &config.Config{}
	cfg.Paths.DataDir = "/var/lib/lifeline"

	if dir := daemonctl.DeriveDataDir("/run/lifeline/lifelined.lock", "", cfg); dir != "/run/lifeline" {
		t.Fatalf("expected lock dir to win, got %q", dir)
	}
	if dir := daemonctl.DeriveDataDir("", "/data/queue.db", cfg); dir != "/data" {
		t.Fatalf("expected queue db dir, got %q", dir)
	}
	if dir := daemonctl.DeriveDataDir("", "", cfg); dir != "/var/lib/lifeline" {
		t.Fatalf("expected config data dir, got %q", dir)
	}
	if dir := daemonctl.DeriveDataDir("", "", nil); dir != "" {
		t.Fatalf("expected empty dir, got %q", dir)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, daemonctl.PIDFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := daemonctl.ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
}

func TestForceKillProcessMissingPID(t *testing.T) {
	if _, err := daemonctl.ForceKillProcess(filepath.Join(t.TempDir(), "absent.pid"), "", 0); err == nil {
		t.Fatal("expected error when pid cannot be determined")
	}
}
