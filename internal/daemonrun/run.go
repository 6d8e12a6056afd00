// Package daemonrun boots the daemon process: logging, preflight, storage,
// pipeline assembly, IPC, and signal handling all live here so the
// lifelined binary and the CLI's hidden daemon subcommand share one
// bootstrap.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/daemon"
	"lifeline/internal/detector"
	"lifeline/internal/disburser"
	"lifeline/internal/intake"
	"lifeline/internal/ipc"
	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/notifications"
	"lifeline/internal/orchestrator"
	"lifeline/internal/preflight"
	"lifeline/internal/queue"
	"lifeline/internal/settlement"
	"lifeline/internal/verifier"
	"lifeline/internal/worker"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the lifeline daemon runtime loop. It returns when the context
// is cancelled, a SIGINT/SIGTERM arrives, or the pipeline dies of a
// storage failure.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("lifeline-%s.log", runID))

	hub := logging.NewHub(4096)
	logger, err := logging.New(logging.Options{
		Level:            resolveLevel(opts.LogLevel, cfg),
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logging.TeeLogger(logger, hub.Handler())

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update lifeline.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "lifeline-*.log", Exclude: []string{logPath}},
	)

	logPreflight(signalCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	broker, err := queue.OpenBroker(cfg)
	if err != nil {
		logger.Error("open queue backend", logging.Error(err))
		return err
	}
	defer broker.Close()

	ledgerStore, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open transaction ledger", logging.Error(err))
		return err
	}
	defer ledgerStore.Close()

	settle, err := settlement.Open(cfg)
	if err != nil {
		logger.Error("open settlement client", logging.Error(err))
		return err
	}
	defer settle.Close()

	notifier := notifications.NewService(cfg)
	manager := ledger.NewManager(ledgerStore, settle, notifier, logger, ledger.PolicyFromConfig(cfg))

	loops := buildLoops(cfg, broker, manager, logger, notifier)
	orch := orchestrator.New(orchestrator.PolicyFromConfig(cfg), broker, manager, logger, notifier, loops...)
	bridge := intake.NewBridge(cfg, broker, logger)

	d, err := daemon.New(cfg, broker, ledgerStore, manager, orch, bridge, logger, hub, notifier)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and storage access"),
			logging.String(logging.FieldImpact, "pipeline is not processing events"),
		)
	}

	select {
	case <-signalCtx.Done():
	case <-d.Done():
		if fatalErr := d.Err(); fatalErr != nil {
			logger.Error("pipeline failed", logging.Error(fatalErr))
			return fatalErr
		}
	}
	logger.Info("lifeline daemon shutting down")
	return nil
}

// buildLoops assembles the supervised pipeline: the three stage workers
// chained over the queue channels, plus the ledger's confirmation poller.
func buildLoops(cfg *config.Config, broker queue.Broker, manager *ledger.Manager, logger *slog.Logger, notifier notifications.Service) []orchestrator.Runnable {
	visibility := time.Duration(cfg.Queue.VisibilityTimeout) * time.Second
	poll := time.Duration(cfg.Queue.PollInterval) * time.Second
	retryWait := time.Duration(cfg.Queue.ErrorRetryWait) * time.Second

	det := worker.New(worker.Config{
		Name:           "detector",
		Input:          queue.ChannelObservations,
		Output:         queue.ChannelDetections,
		Visibility:     visibility,
		PollInterval:   poll,
		ErrorRetryWait: retryWait,
		MaxRetries:     cfg.Pipeline.DetectorMaxRetries,
	}, broker, detector.NewHandler(detector.NewHeuristicAnalyzer(), logger), logger, notifier)

	ver := worker.New(worker.Config{
		Name:           "verifier",
		Input:          queue.ChannelDetections,
		Output:         queue.ChannelDisbursements,
		Visibility:     visibility,
		PollInterval:   poll,
		ErrorRetryWait: retryWait,
		MaxRetries:     cfg.Pipeline.VerifierMaxRetries,
	}, broker, verifier.NewHandler(cfg, verifier.NewEnsembleScorer(), logger), logger, notifier)

	dis := worker.New(worker.Config{
		Name:           "disburser",
		Input:          queue.ChannelDisbursements,
		Visibility:     visibility,
		PollInterval:   poll,
		ErrorRetryWait: retryWait,
		MaxRetries:     cfg.Pipeline.DisburserMaxRetries,
	}, broker, disburser.NewHandler(manager, logger), logger, notifier)

	return []orchestrator.Runnable{det, ver, dis, manager.ConfirmationLoop()}
}

func resolveLevel(flagLevel string, cfg *config.Config) string {
	if strings.TrimSpace(flagLevel) != "" {
		return flagLevel
	}
	return cfg.Logging.Level
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "resolve the failing check before relying on the pipeline"),
			logging.String(logging.FieldImpact, "dependent pipeline stages may fail"),
		)
	}
}

// ensureCurrentLogPointer keeps lifeline.log pointing at the newest
// timestamped run log. Hard link is the fallback for filesystems without
// symlink support.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "lifeline.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
