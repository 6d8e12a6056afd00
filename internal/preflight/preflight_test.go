package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"lifeline/internal/config"
	"lifeline/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckQueueStore_OK(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckQueueStore(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLedgerStore_OK(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckLedgerStore(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckRedis_Unreachable(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQueueBackend("redis", "127.0.0.1:1"))
	result := CheckRedis(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for unreachable redis")
	}
}

func TestCheckSettlement_Sim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckSettlement(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass for simulator, got: %s", result.Detail)
	}
}

func TestCheckSettlement_RPC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Settlement.Mode = "rpc"
	cfg.Settlement.Endpoint = srv.URL

	result := CheckSettlement(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckSettlement_RPCMissingEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Settlement.Mode = "rpc"
	cfg.Settlement.Endpoint = ""

	result := CheckSettlement(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for missing endpoint")
	}
}

func TestCheckBridgeDevice_Missing(t *testing.T) {
	result := CheckBridgeDevice(filepath.Join(t.TempDir(), "ttyUSB9"))
	if result.Passed {
		t.Fatal("expected failure for missing device")
	}
}

func TestCheckBridgeDevice_OK(t *testing.T) {
	device := filepath.Join(t.TempDir(), "ttyUSB0")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckBridgeDevice(device)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	// data dir + log dir + queue + ledger + settlement
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if !Passed(results) {
		t.Fatal("expected Passed to be true")
	}
}

func TestRunAll_IncludesBridgeWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	cfg.Intake.BridgeEnabled = true
	cfg.Intake.BridgeDevice = filepath.Join(t.TempDir(), "absent")

	results := RunAll(context.Background(), cfg)
	found := false
	for _, r := range results {
		if r.Name == "Intake bridge device" {
			found = true
			if r.Passed {
				t.Error("expected bridge device check to fail for missing node")
			}
		}
	}
	if !found {
		t.Fatal("expected bridge device check in results")
	}
	if Passed(results) {
		t.Fatal("expected Passed to be false")
	}
}

func TestCheckNotificationsFromConfig(t *testing.T) {
	cfg := config.Default()
	result := CheckNotificationsFromConfig(&cfg)
	if result.Passed {
		t.Fatal("expected not-configured to fail")
	}

	cfg.Notifications.NtfyTopic = "https://ntfy.sh/lifeline-ops"
	result = CheckNotificationsFromConfig(&cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}
