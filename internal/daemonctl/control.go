// Package daemonctl drives the daemon process from the CLI: launching it
// detached, waiting for its socket, stopping it gracefully with a forced
// kill as last resort, and assembling the status snapshot the status
// command renders whether or not the daemon is up.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lifeline/internal/api"
	"lifeline/internal/config"
	"lifeline/internal/ipc"
	"lifeline/internal/preflight"
	"lifeline/internal/queue"
)

// PIDFileName is the daemon pid file kept alongside the lock in the data
// directory.
const PIDFileName = "lifelined.pid"

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// Launch starts a detached lifeline daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches and/or starts the daemon and returns the resulting state.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	statusResp, statusErr := client.Status()
	if statusErr == nil && statusResp != nil && statusResp.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}

	if resp != nil {
		message := strings.TrimSpace(resp.Message)
		if resp.Started {
			return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
		}
		if strings.EqualFold(message, "daemon already running") {
			if launched {
				return StartResult{State: StartStateStarted, Launched: true, Message: message}, nil
			}
			return StartResult{State: StartStateAlreadyRunning, Message: message}, nil
		}
		if message != "" {
			return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
		}
	}

	return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
}

// WaitForShutdown waits for daemon IPC to disappear or report not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && !status.Running {
			return nil
		}
		if statusErr != nil {
			lastErr = statusErr
		} else {
			lastErr = fmt.Errorf("daemon still running")
		}
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for shutdown")
	}
	return fmt.Errorf("daemon did not stop: %w", lastErr)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	pid := 0
	if status != nil {
		pid = status.PID
	}
	return true, pid, nil
}

// DeriveDataDir determines the daemon data directory from status and
// config hints. The lock, socket, pid file, and SQLite databases all live
// there.
func DeriveDataDir(lockPath, queueDBPath string, cfg *config.Config) string {
	if lockPath != "" {
		return filepath.Dir(lockPath)
	}
	if queueDBPath != "" {
		return filepath.Dir(queueDBPath)
	}
	if cfg != nil && strings.TrimSpace(cfg.Paths.DataDir) != "" {
		return cfg.Paths.DataDir
	}
	return ""
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pidStr != "" {
			if parsed, parseErr := strconv.Atoi(pidStr); parseErr == nil && parsed > 0 {
				pid = parsed
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate requests daemon stop and force-kills the process if still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	statusResp, statusErr := client.Status()
	var lockPath, queueDBPath string
	pid := 0
	if statusErr == nil && statusResp != nil {
		lockPath = statusResp.LockPath
		queueDBPath = statusResp.QueueDBPath
		pid = statusResp.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if resp != nil {
		result.StopAcknowledged = resp.Stopped
	}

	_ = WaitForShutdown(socketPath, gracePeriod)
	alive, livePID, aliveErr := ProcessInfo(socketPath)
	if aliveErr != nil {
		alive = false
	}
	if !alive {
		return result, nil
	}

	currentPID := livePID
	if currentPID == 0 {
		currentPID = pid
	}
	dataDir := DeriveDataDir(lockPath, queueDBPath, cfg)
	if dataDir == "" {
		return result, fmt.Errorf("unable to determine daemon data directory")
	}
	pidPath := filepath.Join(dataDir, PIDFileName)
	lockFile := lockPath
	if lockFile == "" {
		lockFile = filepath.Join(dataDir, "lifelined.lock")
	}
	killedPID, killErr := ForceKillProcess(pidPath, lockFile, currentPID)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// StatusLine is one operator-facing readiness line in status output.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Snapshot aggregates everything the status command renders: the daemon's
// own report when reachable, queue backlog read straight from storage when
// it is not, and config-derived system checks either way.
type Snapshot struct {
	Connected    bool               `json:"connected"`
	Status       ipc.StatusResponse `json:"status"`
	SystemChecks []StatusLine       `json:"system_checks"`
}

// BuildStatusSnapshot collects daemon status and applies offline fallbacks
// for queue backlog and storage paths.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snap.Status = *resp
			snap.Connected = true
		}
	}

	if !snap.Status.Running {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		broker, openErr := queue.OpenBroker(cfg)
		if openErr == nil {
			stats, statsErr := broker.Stats(queryCtx)
			_ = broker.Close()
			if statsErr == nil {
				snap.Status.Pipeline.Channels = api.FromChannelStats(sortedStats(stats))
			}
		}
	}

	if snap.Status.QueueDBPath == "" {
		snap.Status.QueueDBPath = cfg.QueueDBPath()
	}
	if snap.Status.LedgerDBPath == "" {
		snap.Status.LedgerDBPath = cfg.LedgerDBPath()
	}
	if snap.Status.LockPath == "" {
		snap.Status.LockPath = cfg.LockPath()
	}
	if snap.Status.SocketPath == "" {
		snap.Status.SocketPath = socketPath
	}

	snap.SystemChecks = BuildSystemChecks(cfg, snap.Status.Running)
	return snap, nil
}

// BuildSystemChecks resolves status lines that combine runtime state and
// config checks.
func BuildSystemChecks(cfg *config.Config, daemonRunning bool) []StatusLine {
	lines := make([]StatusLine, 0, 5)
	if daemonRunning {
		lines = append(lines, StatusLine{Label: "Lifeline", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, StatusLine{Label: "Lifeline", Severity: "warn", Detail: "Not running (run `lifeline start`)"})
	}

	lines = append(lines, StatusLine{Label: "Queue backend", Severity: "info", Detail: preflight.QueueBackendLabel(cfg)})

	settlement := preflight.CheckSettlementFromConfig(cfg)
	switch {
	case settlement.Passed:
		lines = append(lines, StatusLine{Label: "Settlement", Severity: "ok", Detail: settlement.Detail})
	case strings.EqualFold(strings.TrimSpace(settlement.Detail), "Unknown"):
		lines = append(lines, StatusLine{Label: "Settlement", Severity: "info", Detail: settlement.Detail})
	default:
		lines = append(lines, StatusLine{Label: "Settlement", Severity: "error", Detail: settlement.Detail})
	}

	notify := preflight.CheckNotificationsFromConfig(cfg)
	if notify.Passed {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "ok", Detail: notify.Detail})
	} else {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "warn", Detail: notify.Detail})
	}

	bridge := preflight.CheckBridgeFromConfig(cfg)
	switch {
	case bridge.Passed && strings.EqualFold(strings.TrimSpace(bridge.Detail), "Disabled"):
		lines = append(lines, StatusLine{Label: "Intake bridge", Severity: "info", Detail: bridge.Detail})
	case bridge.Passed:
		lines = append(lines, StatusLine{Label: "Intake bridge", Severity: "ok", Detail: bridge.Detail})
	default:
		lines = append(lines, StatusLine{Label: "Intake bridge", Severity: "warn", Detail: bridge.Detail})
	}

	return lines
}

func sortedStats(stats map[string]queue.ChannelStats) []queue.ChannelStats {
	out := make([]queue.ChannelStats, 0, len(stats))
	for _, entry := range stats {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
