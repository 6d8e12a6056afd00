package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/event"
	"lifeline/internal/logging"
	"lifeline/internal/metrics"
	"lifeline/internal/notifications"
	"lifeline/internal/services"
	"lifeline/internal/settlement"
)

// Policy holds the submission and confirmation knobs the manager runs under.
type Policy struct {
	BaseFee              int64
	FeeMultiplier        float64
	MaxAttempts          int
	RetryBackoff         time.Duration
	RetryBackoffCap      time.Duration
	ConfirmationInterval time.Duration
	ConfirmationDeadline time.Duration
}

// PolicyFromConfig derives the manager policy from the settlement section.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		BaseFee:              cfg.Settlement.BaseFee,
		FeeMultiplier:        cfg.Settlement.FeeMultiplier,
		MaxAttempts:          cfg.Settlement.MaxAttempts,
		RetryBackoff:         time.Duration(cfg.Settlement.RetryBackoff) * time.Second,
		RetryBackoffCap:      time.Duration(cfg.Settlement.RetryBackoffCap) * time.Second,
		ConfirmationInterval: time.Duration(cfg.Settlement.ConfirmationInterval) * time.Second,
		ConfirmationDeadline: time.Duration(cfg.Settlement.ConfirmationDeadline) * time.Second,
	}
}

// Manager owns the disbursement state machine. It serializes work per
// transaction key, short-circuits keys the network may already own, and
// carries every submission round through the durable attempt log so a
// crash at any point resolves by record status, never by resubmitting
// blindly.
type Manager struct {
	store    *Store
	client   settlement.Client
	notifier notifications.Service
	logger   *slog.Logger
	policy   Policy

	mu   sync.Mutex
	keys map[string]*sync.Mutex

	confirmed atomic.Uint64
	checkErrs atomic.Uint64
}

// NewManager wires the transaction manager over its store and network client.
func NewManager(store *Store, client settlement.Client, notifier notifications.Service, logger *slog.Logger, policy Policy) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	return &Manager{
		store:    store,
		client:   client,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "ledger"),
		policy:   policy,
	}
}

// lockKey returns the mutex serializing all work on one transaction key.
func (m *Manager) lockKey(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]*sync.Mutex)
	}
	lock, ok := m.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keys[key] = lock
	}
	return lock
}

// Disburse drives one disbursement to the settlement network. The key is
// the pipeline event id; calling again with the same key is safe at any
// point in the lifecycle:
//
//   - confirmed or submitted records return immediately without touching
//     the network
//   - pending and failed records get a fresh submission round, resuming
//     the lifetime attempt count and last attempted fee
//
// Within a round the manager retries transient failures up to
// Policy.MaxAttempts times with exponential backoff, escalating the fee by
// Policy.FeeMultiplier after each transient failure. Permanent failures
// mark the record failed and return a permanent error. Exhausting the
// round leaves the record pending and returns a transient error so the
// caller retries by redelivery.
func (m *Manager) Disburse(ctx context.Context, key string, recipients []event.Recipient) (*Record, error) {
	if key == "" {
		return nil, services.Wrap(services.ErrValidation, "ledger", "disburse", "empty transaction key", nil)
	}

	lock := m.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNoRecord):
		rec, err = m.store.Create(ctx, key, recipients, m.policy.BaseFee)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	logger := m.logger.With(
		logging.String(logging.FieldTxKey, key),
		logging.Float64("total", rec.Total),
	)

	if rec.Settled() {
		logger.Info("disbursement already settled",
			logging.String("status", string(rec.Status)),
			logging.String(logging.FieldTxRef, rec.Reference),
		)
		return rec, nil
	}

	return m.submitRounds(ctx, logger, rec)
}

// submitRounds runs up to MaxAttempts submissions for one record. The
// caller holds the key lock. The record's persisted recipients are
// authoritative; amounts never change after the record exists.
func (m *Manager) submitRounds(ctx context.Context, logger *slog.Logger, rec *Record) (*Record, error) {
	fee := rec.Fee
	if fee <= 0 {
		fee = m.policy.BaseFee
	}
	backoff := m.policy.RetryBackoff
	var lastErr error

	for round := 1; round <= m.policy.MaxAttempts; round++ {
		attempt := rec.Attempts + round

		// Persist the attempt ordinal and fee before the network sees the
		// request, so a crash mid-submit is visible in the record.
		if err := m.store.BeginAttempt(ctx, rec.Key, attempt, fee); err != nil {
			return nil, err
		}

		start := time.Now()
		reference, err := m.client.Submit(ctx, settlement.SubmitRequest{
			Key:        rec.Key,
			Recipients: rec.Recipients,
			Fee:        fee,
		})
		metrics.SettlementLatency.WithLabelValues("submit").Observe(time.Since(start).Seconds())

		if err == nil {
			return m.finishSubmitted(ctx, logger, rec, attempt, fee, reference)
		}

		lastErr = err
		if !services.IsTransient(err) || services.IsValidation(err) {
			return nil, m.finishPermanent(ctx, logger, rec, attempt, fee, err)
		}

		metrics.TxSubmissions.WithLabelValues(AttemptTransient).Inc()
		m.logAttempt(ctx, logger, Attempt{
			Key:     rec.Key,
			Number:  attempt,
			Fee:     fee,
			Outcome: AttemptTransient,
			Detail:  err.Error(),
		})
		logger.Warn("submission failed, will retry",
			logging.Int(logging.FieldAttempt, attempt),
			logging.Int64("fee", fee),
			logging.Error(err),
		)

		fee = escalateFee(fee, m.policy.FeeMultiplier)

		if round == m.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrTransient, "ledger", "disburse", "interrupted between submission attempts", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.policy.RetryBackoffCap {
			backoff = m.policy.RetryBackoffCap
		}
	}

	// Record stays pending; redelivery gets a fresh round later.
	logger.Warn("submission attempts exhausted",
		logging.Int("rounds", m.policy.MaxAttempts),
		logging.Error(lastErr),
	)
	return nil, services.Wrap(services.ErrTransient, "ledger", "disburse",
		fmt.Sprintf("exhausted %d submission attempts", m.policy.MaxAttempts), lastErr)
}

func (m *Manager) finishSubmitted(ctx context.Context, logger *slog.Logger, rec *Record, attempt int, fee int64, reference string) (*Record, error) {
	if err := m.store.MarkSubmitted(ctx, rec.Key, reference); err != nil {
		return nil, err
	}
	m.logAttempt(ctx, logger, Attempt{
		Key:     rec.Key,
		Number:  attempt,
		Fee:     fee,
		Outcome: AttemptSubmitted,
	})
	metrics.TxSubmissions.WithLabelValues(AttemptSubmitted).Inc()
	logger.Info("transaction submitted",
		logging.String(logging.FieldTxRef, reference),
		logging.Int(logging.FieldAttempt, attempt),
		logging.Int64("fee", fee),
	)
	m.notify(ctx, notifications.EventTransactionSubmitted, notifications.Payload{
		"key":       rec.Key,
		"reference": reference,
		"total":     fmt.Sprintf("%.4f", rec.Total),
	})
	return m.store.Get(ctx, rec.Key)
}

func (m *Manager) finishPermanent(ctx context.Context, logger *slog.Logger, rec *Record, attempt int, fee int64, cause error) error {
	m.logAttempt(ctx, logger, Attempt{
		Key:     rec.Key,
		Number:  attempt,
		Fee:     fee,
		Outcome: AttemptPermanent,
		Detail:  cause.Error(),
	})
	if err := m.store.MarkFailed(ctx, rec.Key, cause.Error()); err != nil {
		return err
	}
	metrics.TxSubmissions.WithLabelValues(AttemptPermanent).Inc()
	logging.ErrorWithContext(logger, "transaction failed permanently", "tx_failed",
		logging.String(logging.FieldTxKey, rec.Key),
		logging.Int(logging.FieldAttempt, attempt),
		logging.Error(cause),
	)
	m.notify(ctx, notifications.EventTransactionFailed, notifications.Payload{
		"key":    rec.Key,
		"detail": cause.Error(),
	})
	return services.Wrap(services.ErrPermanent, "ledger", "disburse", "network rejected transaction", cause)
}

// logAttempt appends to the submission log. The log is advisory history;
// a write failure must not mask the submission outcome.
func (m *Manager) logAttempt(ctx context.Context, logger *slog.Logger, entry Attempt) {
	if err := m.store.LogAttempt(ctx, entry); err != nil {
		logger.Warn("attempt log write failed", logging.Error(err))
	}
}

// escalateFee applies the multiplier, always moving at least one unit so
// a multiplier close to 1.0 still escalates.
func escalateFee(fee int64, multiplier float64) int64 {
	next := int64(float64(fee) * multiplier)
	if next <= fee {
		next = fee + 1
	}
	return next
}

// ConfirmationLoop is the supervised runner that resolves submitted
// records to confirmed, and flags records stuck past the confirmation
// deadline for operator attention.
type ConfirmationLoop struct {
	m *Manager
}

// ConfirmationLoop returns the manager's confirmation poller in the shape
// the orchestrator supervises.
func (m *Manager) ConfirmationLoop() *ConfirmationLoop {
	return &ConfirmationLoop{m: m}
}

// Name identifies the loop in supervision and status output.
func (c *ConfirmationLoop) Name() string { return "confirmations" }

// Counts reports confirmations resolved and check failures observed.
func (c *ConfirmationLoop) Counts() (uint64, uint64) {
	return c.m.confirmed.Load(), c.m.checkErrs.Load()
}

// Run polls submitted records every ConfirmationInterval until ctx ends.
// Ledger storage failure is fatal and returned to the supervisor; network
// check failures are logged and retried next sweep.
func (c *ConfirmationLoop) Run(ctx context.Context, beat func()) error {
	m := c.m
	m.logger.Info("confirmation loop started",
		logging.Duration("interval", m.policy.ConfirmationInterval),
		logging.Duration("deadline", m.policy.ConfirmationDeadline),
	)
	for {
		if beat != nil {
			beat()
		}
		if err := m.sweepSubmitted(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			m.logger.Info("confirmation loop stopped")
			return nil
		case <-time.After(m.policy.ConfirmationInterval):
		}
	}
}

// sweepSubmitted checks every submitted record against the network once.
// Only storage failures are returned; per-record check errors are counted
// and retried on the next sweep.
func (m *Manager) sweepSubmitted(ctx context.Context) error {
	records, err := m.store.ListByStatus(ctx, StatusSubmitted, 0)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.checkRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) checkRecord(ctx context.Context, rec *Record) error {
	logger := m.logger.With(
		logging.String(logging.FieldTxKey, rec.Key),
		logging.String(logging.FieldTxRef, rec.Reference),
	)

	start := time.Now()
	status, err := m.client.Check(ctx, rec.Reference)
	metrics.SettlementLatency.WithLabelValues("check").Observe(time.Since(start).Seconds())
	if err != nil {
		m.checkErrs.Add(1)
		logger.Warn("confirmation check failed", logging.Error(err))
		return m.flagOverdue(ctx, logger, rec)
	}

	switch status {
	case settlement.StatusConfirmed:
		if err := m.store.MarkConfirmed(ctx, rec.Key); err != nil {
			return err
		}
		m.confirmed.Add(1)
		logger.Info("transaction confirmed")
		m.notify(ctx, notifications.EventTransactionConfirmed, notifications.Payload{
			"key":       rec.Key,
			"reference": rec.Reference,
			"total":     fmt.Sprintf("%.4f", rec.Total),
		})
		return nil
	case settlement.StatusPending, settlement.StatusNotFound:
		// Not found can mean the network has not indexed the reference
		// yet. The record stays submitted either way; resubmitting a
		// transaction the network may own is never safe.
		return m.flagOverdue(ctx, logger, rec)
	default:
		m.checkErrs.Add(1)
		logger.Warn("unrecognized settlement status", logging.String("status", string(status)))
		return m.flagOverdue(ctx, logger, rec)
	}
}

// flagOverdue marks a record for operator attention once confirmation has
// been outstanding past the deadline. The flag is set exactly once; the
// loop never resubmits on the operator's behalf.
func (m *Manager) flagOverdue(ctx context.Context, logger *slog.Logger, rec *Record) error {
	if rec.SubmittedAt.IsZero() || time.Since(rec.SubmittedAt) <= m.policy.ConfirmationDeadline {
		return nil
	}
	set, err := m.store.MarkNeedsAttention(ctx, rec.Key)
	if err != nil {
		return err
	}
	if !set {
		return nil
	}
	logging.ErrorWithContext(logger, "confirmation overdue, operator attention needed", "tx_overdue",
		logging.String(logging.FieldErrorHint, "inspect the reference on the settlement network before any manual resubmission"),
		logging.Duration("outstanding", time.Since(rec.SubmittedAt)),
	)
	m.notify(ctx, notifications.EventNeedsAttention, notifications.Payload{
		"key":       rec.Key,
		"reference": rec.Reference,
	})
	return nil
}

// RefreshStatusGauges republishes per-status record counts. The
// orchestrator calls this on its status sweep.
func (m *Manager) RefreshStatusGauges(ctx context.Context) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return
	}
	for _, status := range Statuses() {
		metrics.TxByStatus.WithLabelValues(string(status)).Set(float64(stats.ByStatus[status]))
	}
}

// Stats proxies the store summary for status surfaces.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}

// CheckHealth proxies the store health probe.
func (m *Manager) CheckHealth(ctx context.Context) error {
	return m.store.CheckHealth(ctx)
}

func (m *Manager) notify(ctx context.Context, evt notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(ctx, evt, payload); err != nil {
		m.logger.Debug("notification publish failed",
			logging.String("event", string(evt)),
			logging.Error(err),
		)
	}
}
