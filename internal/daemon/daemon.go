package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"lifeline/internal/config"
	"lifeline/internal/event"
	"lifeline/internal/intake"
	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/metrics"
	"lifeline/internal/notifications"
	"lifeline/internal/orchestrator"
	"lifeline/internal/queue"
)

// Daemon coordinates the pipeline services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	broker   queue.Broker
	ledger   *ledger.Store
	manager  *ledger.Manager
	orch     *orchestrator.Orchestrator
	bridge   *intake.Bridge
	notifier notifications.Service
	hub      *logging.Hub
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status is the daemon's runtime snapshot served to operators.
type Status struct {
	Running    bool
	PID        int
	Pipeline   orchestrator.Status
	QueueDB    string
	LedgerDB   string
	LockPath   string
	SocketPath string
}

// New wires a daemon around already-constructed collaborators. The bridge
// may be nil when hardware intake is disabled; hub and notifier may be nil.
func New(cfg *config.Config, broker queue.Broker, ledgerStore *ledger.Store, manager *ledger.Manager, orch *orchestrator.Orchestrator, bridge *intake.Bridge, logger *slog.Logger, hub *logging.Hub, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || broker == nil || ledgerStore == nil || manager == nil || orch == nil {
		return nil, errors.New("daemon requires config, broker, ledger, manager, and orchestrator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewNoop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		broker:   broker,
		ledger:   ledgerStore,
		manager:  manager,
		orch:     orch,
		bridge:   bridge,
		notifier: notifier,
		hub:      hub,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the pipeline, the hardware
// bridge, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lifeline daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.orch.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start pipeline: %w", err)
	}
	if d.bridge != nil {
		if err := d.bridge.Start(d.ctx); err != nil {
			d.logger.Warn("hardware bridge failed to start", logging.Error(err))
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		d.orch.Stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("lifeline daemon started", logging.String("lock", d.lockPath))
	d.notify(d.ctx, notifications.EventPipelineStarted, notifications.Payload{
		"queue_backend": d.cfg.Queue.Backend,
	})
	return nil
}

// Stop halts the pipeline and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.bridge != nil {
		d.bridge.Stop()
	}
	d.orch.Stop()
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("lifeline daemon stopped")
	d.notify(context.Background(), notifications.EventPipelineStopped, nil)
}

// Close stops the daemon and releases the storage handles it was given.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.broker != nil {
		errs = append(errs, d.broker.Close())
	}
	if d.ledger != nil {
		errs = append(errs, d.ledger.Close())
	}
	return errors.Join(errs...)
}

// Done reports pipeline-fatal termination, such as storage loss.
func (d *Daemon) Done() <-chan struct{} {
	return d.orch.Done()
}

// Err returns the fatal pipeline error once Done is closed.
func (d *Daemon) Err() error {
	return d.orch.Err()
}

// Status returns the current daemon snapshot.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		Pipeline:   d.orch.Status(ctx),
		QueueDB:    d.cfg.QueueDBPath(),
		LedgerDB:   d.cfg.LedgerDBPath(),
		LockPath:   d.lockPath,
		SocketPath: d.cfg.SocketPath(),
	}
}

// SubmitObservation publishes an operator-submitted observation at the
// head of the pipeline and returns the assigned message id.
func (d *Daemon) SubmitObservation(ctx context.Context, ev *event.Event) (string, error) {
	if ev == nil || ev.Kind != event.KindObservation {
		return "", errors.New("only observation events may be submitted")
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	messageID, err := d.broker.Publish(ctx, queue.ChannelObservations, ev)
	if err != nil {
		return "", err
	}
	metrics.ObservationsIngested.WithLabelValues(ev.Observation.Source).Inc()
	d.logger.Info("observation submitted",
		logging.String(logging.FieldEventID, ev.ID),
		logging.String(logging.FieldMessageID, messageID),
		logging.String("source", ev.Observation.Source),
	)
	return messageID, nil
}

// ChannelStats returns per-channel queue counts sorted by channel name.
func (d *Daemon) ChannelStats(ctx context.Context) ([]queue.ChannelStats, error) {
	stats, err := d.broker.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]queue.ChannelStats, 0, len(stats))
	for _, entry := range stats {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

// ListMessages peeks at a channel's envelopes without touching leases.
func (d *Daemon) ListMessages(ctx context.Context, channel string, limit int) ([]*queue.Envelope, error) {
	return d.broker.List(ctx, channel, limit)
}

// ReplayDeadLetters returns a channel's dead-lettered envelopes to the
// base channel with a fresh attempt budget.
func (d *Daemon) ReplayDeadLetters(ctx context.Context, channel string) (int64, error) {
	moved, err := d.broker.Replay(ctx, channel)
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		d.logger.Info("dead letters replayed",
			logging.String(logging.FieldChannel, queue.BaseChannel(channel)),
			logging.Int64("replayed_count", moved),
		)
	}
	return moved, nil
}

// PurgeChannel deletes every envelope on a channel.
func (d *Daemon) PurgeChannel(ctx context.Context, channel string) (int64, error) {
	removed, err := d.broker.Purge(ctx, channel)
	if err != nil {
		return 0, err
	}
	d.logger.Info("channel purged",
		logging.String(logging.FieldChannel, channel),
		logging.Int64("removed_count", removed),
	)
	return removed, nil
}

// Transactions lists ledger records, optionally filtered by status. The
// filter also accepts "attention" for records flagged for operators.
func (d *Daemon) Transactions(ctx context.Context, status string, limit int) ([]*ledger.Record, error) {
	trimmed := strings.TrimSpace(strings.ToLower(status))
	switch trimmed {
	case "":
		return d.ledger.List(ctx, limit)
	case "attention":
		return d.ledger.ListNeedsAttention(ctx)
	}
	for _, known := range ledger.Statuses() {
		if trimmed == string(known) {
			return d.ledger.ListByStatus(ctx, known, limit)
		}
	}
	return nil, fmt.Errorf("unknown transaction status %q", status)
}

// Transaction fetches one ledger record with its submission log.
func (d *Daemon) Transaction(ctx context.Context, key string) (*ledger.Record, []ledger.Attempt, error) {
	rec, err := d.ledger.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := d.ledger.History(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return rec, attempts, nil
}

// LogRecords returns up to limit retained log records, oldest first.
func (d *Daemon) LogRecords(limit int) []logging.Record {
	if d.hub == nil {
		return nil
	}
	return d.hub.Records(limit)
}

// TestNotification pushes a test event through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{
		"message": "lifeline notification test",
	}); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// CheckHealth probes the daemon's storage and settlement collaborators.
func (d *Daemon) CheckHealth(ctx context.Context) error {
	if err := d.broker.CheckHealth(ctx); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := d.manager.CheckHealth(ctx); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func (d *Daemon) notify(ctx context.Context, evt notifications.Event, payload notifications.Payload) {
	if err := d.notifier.Publish(ctx, evt, payload); err != nil {
		d.logger.Warn("notification publish failed",
			logging.String("notification", string(evt)),
			logging.Error(err),
		)
	}
}
