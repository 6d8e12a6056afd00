package ipc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"lifeline/internal/daemon"
	"lifeline/internal/ipc"
	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/orchestrator"
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

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
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

	socket := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if status.PID <= 0 {
		t.Fatalf("expected a pid, got %d", status.PID)
	}
	if status.QueueDBPath != cfg.QueueDBPath() {
		t.Fatalf("queue db path = %q, want %q", status.QueueDBPath, cfg.QueueDBPath())
	}
	if len(status.Pipeline.Workers) != 1 || status.Pipeline.Workers[0].Name != "detector" {
		t.Fatalf("unexpected worker snapshot: %+v", status.Pipeline.Workers)
	}

	obsResp, err := client.Observe(ipc.ObservationRequest{
		Source:    "field-kit-7",
		Latitude:  37.77,
		Longitude: -122.42,
		Signals:   map[string]float64{"fire": 0.93},
	})
	if err != nil {
		t.Fatalf("Observe RPC failed: %v", err)
	}
	if obsResp.ID == "" {
		t.Fatal("expected observation id")
	}
	if obsResp.Channel != "observations" {
		t.Fatalf("observation channel = %q, want observations", obsResp.Channel)
	}

	if _, err := client.Observe(ipc.ObservationRequest{Latitude: 1, Longitude: 2}); err == nil {
		t.Fatal("expected validation error for observation without source")
	}

	stats, err := client.QueueStats()
	if err != nil {
		t.Fatalf("QueueStats RPC failed: %v", err)
	}
	var ready int
	for _, ch := range stats.Channels {
		if ch.Channel == "observations" {
			ready = ch.Ready
		}
	}
	if ready != 1 {
		t.Fatalf("expected one ready observation, got %d", ready)
	}

	list, err := client.QueueList("observations", 10)
	if err != nil {
		t.Fatalf("QueueList RPC failed: %v", err)
	}
	if len(list.Messages) != 1 {
		t.Fatalf("expected one queued message, got %d", len(list.Messages))
	}
	if list.Messages[0].EventID != obsResp.ID {
		t.Fatalf("queued event id = %q, want %q", list.Messages[0].EventID, obsResp.ID)
	}
	if list.Messages[0].EventKind != "observation" {
		t.Fatalf("queued event kind = %q, want observation", list.Messages[0].EventKind)
	}

	replay, err := client.QueueReplay("observations")
	if err != nil {
		t.Fatalf("QueueReplay RPC failed: %v", err)
	}
	if replay.Replayed != 0 {
		t.Fatalf("expected no dead letters to replay, got %d", replay.Replayed)
	}

	txs, err := client.TxList("", 10)
	if err != nil {
		t.Fatalf("TxList RPC failed: %v", err)
	}
	if len(txs.Transactions) != 0 {
		t.Fatalf("expected no transactions yet, got %d", len(txs.Transactions))
	}

	tail, err := client.LogTail(50)
	if err != nil {
		t.Fatalf("LogTail RPC failed: %v", err)
	}
	if len(tail.Records) == 0 {
		t.Fatal("expected retained log records")
	}

	purge, err := client.QueuePurge("observations")
	if err != nil {
		t.Fatalf("QueuePurge RPC failed: %v", err)
	}
	if purge.Purged != 1 {
		t.Fatalf("expected to purge one envelope, got %d", purge.Purged)
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected Stopped=true")
	}

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC after stop failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDialMissingSocket(t *testing.T) {
	if _, err := ipc.Dial(t.TempDir() + "/missing.sock"); err == nil {
		t.Fatal("expected dial error for missing socket")
	}
}
