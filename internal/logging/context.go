package logging

import (
	"context"
	"log/slog"

	"lifeline/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldWorker is the standardized structured logging key for pipeline worker names.
	FieldWorker = "worker"
	// FieldChannel is the standardized structured logging key for queue channel names.
	FieldChannel = "channel"
	// FieldMessageID is the standardized structured logging key for queue message identifiers.
	FieldMessageID = "message_id"
	// FieldEventID is the standardized structured logging key for pipeline event identifiers.
	FieldEventID = "event_id"
	// FieldEventKind is the standardized structured logging key for event payload kinds.
	FieldEventKind = "event_kind"
	// FieldDisasterType is the standardized structured logging key for disaster type tags.
	FieldDisasterType = "disaster_type"
	// FieldAttempt is the standardized structured logging key for delivery or submission attempts.
	FieldAttempt = "attempt"
	// FieldOutcome is the standardized structured logging key for stage handler outcomes.
	FieldOutcome = "outcome"
	// FieldTxKey is the standardized structured logging key for transaction idempotency keys.
	FieldTxKey = "tx_key"
	// FieldTxRef is the standardized structured logging key for settlement network references.
	FieldTxRef = "tx_ref"
	// FieldEventType is the standardized structured logging key for log event type tags.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator remediation hints.
	FieldErrorHint = "error_hint"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.EventIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEventID, id))
	}
	if worker, ok := services.WorkerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorker, worker))
	}
	if channel, ok := services.ChannelFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldChannel, channel))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
