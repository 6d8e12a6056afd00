// Package disburser is the final pipeline stage: it hands funding
// instructions to the transaction manager. The event id is the
// idempotency key, so redelivered disbursements settle as no-ops.
package disburser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lifeline/internal/event"
	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/stage"
)

// Ledger is the slice of the transaction manager this stage needs.
type Ledger interface {
	Disburse(ctx context.Context, key string, recipients []event.Recipient) (*ledger.Record, error)
	CheckHealth(ctx context.Context) error
}

// Handler is the disbursement stage: it validates funding instructions
// and drives them through the ledger.
type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewHandler builds the disbursement stage around a transaction manager.
func NewHandler(ledger Ledger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		ledger: ledger,
		logger: logging.NewComponentLogger(logger, "disburser"),
	}
}

// Name identifies the stage in logs and status output.
func (h *Handler) Name() string { return "disburser" }

// Handle disburses one funding instruction. A settled or newly submitted
// transaction ends the event's journey; failures requeue so the retry
// budget and dead-letter channel govern what happens next. Ledger storage
// loss stops the worker without settling the envelope.
func (h *Handler) Handle(ctx context.Context, ev *event.Event) stage.Outcome {
	logger := logging.WithContext(ctx, h.logger)

	if ev.Kind != event.KindDisbursement || ev.Disbursement == nil {
		return stage.Drop(fmt.Sprintf("disburser expects disbursements, got %s", ev.Kind))
	}
	disb := ev.Disbursement
	if err := disb.Validate(); err != nil {
		return stage.FromError(err)
	}

	rec, err := h.ledger.Disburse(ctx, ev.ID, disb.Recipients)
	if err != nil {
		if errors.Is(err, ledger.ErrStorageUnavailable) {
			return stage.Fatal(err)
		}
		logger.Warn("disbursement not settled",
			logging.String(logging.FieldTxKey, ev.ID),
			logging.Error(err),
		)
		return stage.FromError(err)
	}

	logger.Info("disbursement settled",
		logging.String(logging.FieldTxKey, rec.Key),
		logging.String(logging.FieldTxRef, rec.Reference),
		logging.String("status", string(rec.Status)),
		logging.Int(logging.FieldAttempt, rec.Attempts),
		logging.Float64("total", rec.Total),
	)
	return stage.Drop(fmt.Sprintf("transaction %s %s after %d attempt(s)", rec.Key, rec.Status, rec.Attempts))
}

// HealthCheck probes the ledger store.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.ledger.CheckHealth(ctx); err != nil {
		return stage.Unhealthy(h.Name(), err.Error())
	}
	return stage.Healthy(h.Name())
}
