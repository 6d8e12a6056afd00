package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/pelletier/go-toml/v2"

	"lifeline/internal/config"
	"lifeline/internal/daemon"
	"lifeline/internal/ipc"
	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/orchestrator"
	"lifeline/internal/queue"
	"lifeline/internal/settlement"
	"lifeline/internal/testsupport"
)

type idleLoop struct {
	name string
}

func (l idleLoop) Name() string { return l.name }

func (l idleLoop) Run(ctx context.Context, beat func()) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			beat()
		}
	}
}

func (l idleLoop) Counts() (uint64, uint64) { return 0, 0 }

type cliTestEnv struct {
	cfg        *config.Config
	broker     queue.Broker
	daemon     *daemon.Daemon
	logger     *slog.Logger
	socketPath string
	configPath string
}

// setupCLITestEnv boots a daemon with an IPC server on a per-test socket
// and writes a config file reproducing the test paths so commands resolve
// the same storage the daemon uses.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(homeDir, ".config", "lifeline", "config.toml")
	writeTestConfig(t, configPath, cfg)

	broker := testsupport.MustOpenQueue(t, cfg)

	ledgerStore, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		ledgerStore.Close()
	})

	settle, err := settlement.Open(cfg)
	if err != nil {
		t.Fatalf("settlement.Open: %v", err)
	}
	t.Cleanup(func() {
		settle.Close()
	})

	hub := logging.NewHub(128)
	logger := logging.TeeLogger(nil, hub.Handler())

	manager := ledger.NewManager(ledgerStore, settle, nil, logger, ledger.PolicyFromConfig(cfg))
	orch := orchestrator.New(orchestrator.PolicyFromConfig(cfg), broker, manager, logger, nil, idleLoop{name: "detector"})

	d, err := daemon.New(cfg, broker, ledgerStore, manager, orch, nil, logger, hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socketPath := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	waitForSocket(t, socketPath)

	return &cliTestEnv{
		cfg:        cfg,
		broker:     broker,
		daemon:     d,
		logger:     logger,
		socketPath: socketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(path)
		if err == nil {
			client.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("IPC socket %s never became dialable", path)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
