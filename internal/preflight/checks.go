package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"lifeline/internal/config"
	"lifeline/internal/ledger"
	"lifeline/internal/queue"
	"lifeline/internal/settlement"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckQueueStore verifies the SQLite queue database opens and answers a
// health probe. Opening creates the database file when it does not exist,
// the same as daemon startup would.
func CheckQueueStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Queue storage"

	store, err := queue.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}
	defer store.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.CheckHealth(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: cfg.QueueDBPath()}
}

// CheckRedis verifies the Redis queue backend answers a ping.
func CheckRedis(ctx context.Context, cfg *config.Config) Result {
	const name = "Queue storage"

	addr := strings.TrimSpace(cfg.Queue.RedisAddr)
	if addr == "" {
		return Result{Name: name, Detail: "missing redis address"}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("redis unreachable at %s (%v)", addr, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("redis at %s", addr)}
}

// CheckLedgerStore verifies the transaction ledger database opens and
// answers a health probe.
func CheckLedgerStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Ledger storage"

	store, err := ledger.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}
	defer store.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.CheckHealth(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: cfg.LedgerDBPath()}
}

// CheckSettlement verifies the configured settlement client is reachable.
func CheckSettlement(ctx context.Context, cfg *config.Config) Result {
	const name = "Settlement network"

	if cfg.Settlement.Mode == "rpc" && strings.TrimSpace(cfg.Settlement.Endpoint) == "" {
		return Result{Name: name, Detail: "missing endpoint"}
	}

	client, err := settlement.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.CheckHealth(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	if strings.TrimSpace(cfg.Settlement.Mode) == "rpc" {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("rpc endpoint %s reachable", cfg.Settlement.Endpoint)}
	}
	return Result{Name: name, Passed: true, Detail: "simulator ready"}
}

// CheckBridgeDevice verifies the intake bridge device node is present and
// readable.
func CheckBridgeDevice(device string) Result {
	const name = "Intake bridge device"

	device = strings.TrimSpace(device)
	if device == "" {
		return Result{Name: name, Detail: "missing device path"}
	}
	info, err := os.Stat(device)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", device)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", device, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", device)}
	}
	if err := unix.Access(device, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", device, err)}
	}
	return Result{Name: name, Passed: true, Detail: device}
}

// summarizeNetworkError produces a human-readable summary for settlement
// health check failures.
func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (settlement endpoint unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (settlement endpoint unreachable)"
	}
	return err.Error()
}
