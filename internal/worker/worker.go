// Package worker runs one pipeline stage against the durable queue. A
// Worker owns the consume/handle/settle loop for a single input channel;
// the stage semantics live behind the stage.Handler it wraps. Settlement
// order is fixed: a forwarded event is published before the input
// envelope is acknowledged, so a crash between the two duplicates work
// instead of losing it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"lifeline/internal/event"
	"lifeline/internal/logging"
	"lifeline/internal/metrics"
	"lifeline/internal/notifications"
	"lifeline/internal/queue"
	"lifeline/internal/services"
	"lifeline/internal/stage"
)

// Config fixes a worker's channel wiring and retry policy.
type Config struct {
	// Name identifies the worker in logs, metrics, and supervision.
	Name string
	// Input is the channel the worker consumes.
	Input string
	// Output is the default channel Forward outcomes publish to. Empty is
	// allowed for terminal stages whose handler never forwards.
	Output string
	// Visibility is the lease duration requested per delivery.
	Visibility time.Duration
	// PollInterval is how long to sleep when the input channel is empty.
	PollInterval time.Duration
	// ErrorRetryWait is how long to back off after a consume error.
	ErrorRetryWait time.Duration
	// MaxRetries bounds redeliveries: an envelope is handled at most
	// MaxRetries+1 times before it dead-letters.
	MaxRetries int
	// HeartbeatInterval is how often the worker beats while a handler
	// call is in flight. Zero picks a default well under the
	// supervisor's stale-heartbeat timeout.
	HeartbeatInterval time.Duration
}

// Worker drives one stage handler against the queue.
type Worker struct {
	cfg      Config
	broker   queue.Broker
	handler  stage.Handler
	logger   *slog.Logger
	notifier notifications.Service

	processed atomic.Uint64
	failures  atomic.Uint64
}

// New wires a worker. The logger may be nil; notifications may be nil when
// the caller has none configured.
func New(cfg Config, broker queue.Broker, handler stage.Handler, logger *slog.Logger, notifier notifications.Service) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	if cfg.Name == "" {
		cfg.Name = handler.Name()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	return &Worker{
		cfg:      cfg,
		broker:   broker,
		handler:  handler,
		logger:   logging.NewComponentLogger(logger, cfg.Name),
		notifier: notifier,
	}
}

// Name identifies the worker in supervision and status output.
func (w *Worker) Name() string { return w.cfg.Name }

// Counts reports envelopes settled successfully and failures observed.
func (w *Worker) Counts() (processed, failures uint64) {
	return w.processed.Load(), w.failures.Load()
}

// Health surfaces the wrapped handler's dependency health.
func (w *Worker) Health(ctx context.Context) stage.Health {
	return w.handler.HealthCheck(ctx)
}

// Run polls the input channel until ctx ends. It returns nil on clean
// shutdown and an error only when the worker cannot continue: queue
// storage loss or a Fatal handler outcome. The supervisor owns what
// happens next; the envelope in flight stays leased and reappears after
// visibility expiry.
func (w *Worker) Run(ctx context.Context, beat func()) error {
	w.logger.Info("worker started",
		logging.String(logging.FieldChannel, w.cfg.Input),
		logging.Duration("visibility", w.cfg.Visibility),
	)
	for {
		if beat != nil {
			beat()
		}
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		default:
		}

		envelope, err := w.broker.Consume(ctx, w.cfg.Input, w.cfg.Visibility)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return nil
			}
			if errors.Is(err, queue.ErrStorageUnavailable) {
				logging.ErrorWithContext(w.logger, "queue storage unavailable", "queue_storage_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
				return err
			}
			w.logger.Error("consume failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
			)
			w.wait(ctx, w.cfg.ErrorRetryWait)
			continue
		}
		if envelope == nil {
			w.wait(ctx, w.cfg.PollInterval)
			continue
		}

		if err := w.process(ctx, envelope, beat); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return nil
			}
			return err
		}
	}
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// process settles one envelope. A returned error stops the worker.
func (w *Worker) process(ctx context.Context, envelope *queue.Envelope, beat func()) error {
	logger := w.logger.With(
		logging.String(logging.FieldMessageID, envelope.MessageID),
		logging.Int(logging.FieldAttempt, envelope.Attempt),
	)

	ev, err := envelope.Event()
	if err != nil {
		// Undecodable payloads can never succeed; park them for inspection.
		w.failures.Add(1)
		metrics.EventErrors.WithLabelValues(w.cfg.Name, "decode").Inc()
		logger.Error("payload does not decode, dead-lettering",
			logging.Error(err),
			logging.String(logging.FieldEventType, "payload_undecodable"),
		)
		return w.deadLetter(ctx, logger, envelope, "", err)
	}

	ev.RetryCount = envelope.Attempt - 1
	ctx = services.WithWorker(ctx, w.cfg.Name)
	ctx = services.WithEventID(ctx, ev.ID)
	ctx = services.WithChannel(ctx, w.cfg.Input)
	logger = logger.With(logging.String(logging.FieldEventID, ev.ID))

	outcome := w.handle(ctx, beat, ev)
	switch outcome.Kind {
	case stage.KindForward:
		return w.settleForward(ctx, logger, envelope, outcome)
	case stage.KindDrop:
		if err := w.ack(ctx, logger, envelope); err != nil {
			return err
		}
		w.processed.Add(1)
		metrics.EventsProcessed.WithLabelValues(w.cfg.Name, "drop").Inc()
		logger.Info("event dropped",
			logging.String(logging.FieldOutcome, outcome.Kind.String()),
			logging.String("reason", outcome.Reason),
		)
		return nil
	case stage.KindRetryLater:
		return w.settleRetry(ctx, logger, envelope, ev, outcome.Err)
	case stage.KindFatal:
		w.failures.Add(1)
		metrics.EventErrors.WithLabelValues(w.cfg.Name, "fatal").Inc()
		logging.ErrorWithContext(logger, "handler failure stops the worker", "stage_fatal",
			logging.Error(outcome.Err),
			logging.String(logging.FieldErrorHint, "envelope stays leased and redelivers after visibility expiry"),
		)
		if outcome.Err != nil {
			return outcome.Err
		}
		return services.Wrap(services.ErrUnavailable, w.cfg.Name, "handle", "handler reported fatal without cause", nil)
	default:
		// A handler bug; treat like fatal so it cannot loop silently.
		w.failures.Add(1)
		return services.Wrap(services.ErrPermanent, w.cfg.Name, "handle",
			fmt.Sprintf("unknown outcome kind %d", int(outcome.Kind)), nil)
	}
}

// handle runs the stage handler while keeping the supervisor's heartbeat
// fresh. A handler call may legitimately outlast the stale-heartbeat
// timeout (a full ledger submission round with backoff), so the worker
// beats on an interval until the handler returns.
func (w *Worker) handle(ctx context.Context, beat func(), ev *event.Event) stage.Outcome {
	if beat == nil {
		return w.handler.Handle(ctx, ev)
	}
	outcomes := make(chan stage.Outcome, 1)
	go func() { outcomes <- w.handler.Handle(ctx, ev) }()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case outcome := <-outcomes:
			return outcome
		case <-ticker.C:
			beat()
		}
	}
}

// settleForward publishes downstream strictly before acking the input.
func (w *Worker) settleForward(ctx context.Context, logger *slog.Logger, envelope *queue.Envelope, outcome stage.Outcome) error {
	channel := outcome.Channel
	if channel == "" {
		channel = w.cfg.Output
	}
	if channel == "" {
		w.failures.Add(1)
		return services.Wrap(services.ErrConfiguration, w.cfg.Name, "forward", "no output channel configured", nil)
	}
	forwarded := outcome.Event
	if forwarded == nil {
		w.failures.Add(1)
		return services.Wrap(services.ErrPermanent, w.cfg.Name, "forward", "forward outcome without event", nil)
	}

	if _, err := w.broker.Publish(ctx, channel, forwarded); err != nil {
		if errors.Is(err, queue.ErrStorageUnavailable) {
			w.failures.Add(1)
			return err
		}
		// A malformed handler product cannot be retried into shape.
		w.failures.Add(1)
		metrics.EventErrors.WithLabelValues(w.cfg.Name, "publish").Inc()
		logger.Error("forward rejected by queue, dead-lettering input",
			logging.Error(err),
			logging.String(logging.FieldChannel, channel),
		)
		return w.deadLetter(ctx, logger, envelope, forwarded.ID, err)
	}

	if err := w.ack(ctx, logger, envelope); err != nil {
		return err
	}
	w.processed.Add(1)
	metrics.EventsProcessed.WithLabelValues(w.cfg.Name, "forward").Inc()
	logger.Info("event forwarded",
		logging.String(logging.FieldOutcome, "forward"),
		logging.String(logging.FieldChannel, channel),
		logging.String(logging.FieldEventKind, string(forwarded.Kind)),
	)
	return nil
}

// settleRetry requeues while budget remains, then dead-letters. The budget
// counts deliveries: attempt MaxRetries+1 is the last one handled.
func (w *Worker) settleRetry(ctx context.Context, logger *slog.Logger, envelope *queue.Envelope, ev *event.Event, cause error) error {
	w.failures.Add(1)
	metrics.EventErrors.WithLabelValues(w.cfg.Name, "retry").Inc()

	if envelope.Attempt > w.cfg.MaxRetries {
		logging.ErrorWithContext(logger, "retries exhausted, dead-lettering", "retries_exhausted",
			logging.Error(cause),
			logging.Int("max_retries", w.cfg.MaxRetries),
		)
		return w.deadLetter(ctx, logger, envelope, ev.ID, cause)
	}

	if err := w.broker.Reject(ctx, envelope.MessageID, true); err != nil {
		return w.settleError(logger, "requeue", err)
	}
	logger.Warn("event requeued for retry",
		logging.Error(cause),
		logging.Int("max_retries", w.cfg.MaxRetries),
	)
	return nil
}

// deadLetter parks the envelope on the input's dead-letter companion.
func (w *Worker) deadLetter(ctx context.Context, logger *slog.Logger, envelope *queue.Envelope, eventID string, cause error) error {
	if err := w.broker.Reject(ctx, envelope.MessageID, false); err != nil {
		return w.settleError(logger, "dead-letter", err)
	}
	deadChannel := queue.DeadLetterChannel(envelope.Channel)
	metrics.DeadLetters.WithLabelValues(envelope.Channel).Inc()
	logger.Error("event dead-lettered",
		logging.String(logging.FieldChannel, deadChannel),
		logging.Error(cause),
	)
	payload := notifications.Payload{
		"worker":  w.cfg.Name,
		"channel": deadChannel,
	}
	if eventID != "" {
		payload["event"] = eventID
	}
	if cause != nil {
		payload["detail"] = cause.Error()
	}
	w.notify(ctx, notifications.EventDeadLetter, payload)
	return nil
}

// ack settles the input envelope after any downstream publish.
func (w *Worker) ack(ctx context.Context, logger *slog.Logger, envelope *queue.Envelope) error {
	err := w.broker.Ack(ctx, envelope.MessageID)
	if err == nil {
		return nil
	}
	if errors.Is(err, queue.ErrUnknownMessage) {
		// The lease expired mid-handle and someone else settled the
		// envelope. Downstream work may run twice; the ledger's
		// idempotency absorbs it.
		logger.Warn("envelope settled elsewhere, possible duplicate forward",
			logging.String(logging.FieldEventType, "lease_lost"),
		)
		return nil
	}
	return w.settleError(logger, "ack", err)
}

func (w *Worker) settleError(logger *slog.Logger, operation string, err error) error {
	w.failures.Add(1)
	logging.ErrorWithContext(logger, "queue settle failed", "queue_settle_failed",
		logging.String("operation", operation),
		logging.Error(err),
	)
	return err
}

func (w *Worker) notify(ctx context.Context, evt notifications.Event, payload notifications.Payload) {
	if err := w.notifier.Publish(ctx, evt, payload); err != nil {
		w.logger.Debug("notification publish failed",
			logging.String("event", string(evt)),
			logging.Error(err),
		)
	}
}
