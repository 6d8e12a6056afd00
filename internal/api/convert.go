package api

import (
	"slices"
	"strings"
	"time"

	"lifeline/internal/event"
	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/orchestrator"
	"lifeline/internal/queue"
	"lifeline/internal/services"
	"lifeline/internal/stage"
)

// FromPipelineStatus converts the orchestrator summary to its API
// representation. Workers keep supervision order; channels arrive sorted
// from the broker; health is reordered deterministically.
func FromPipelineStatus(status orchestrator.Status) PipelineStatus {
	dto := PipelineStatus{
		Running:    status.Running,
		Degraded:   status.Degraded(),
		StartedAt:  formatTime(status.StartedAt),
		FatalError: status.FatalError,
		Workers:    make([]WorkerStatus, 0, len(status.Workers)),
		Channels:   FromChannelStats(status.Channels),
		Ledger:     FromLedgerStats(status.Ledger),
		Health:     StageHealthSlice(status.Health),
	}
	for _, w := range status.Workers {
		dto.Workers = append(dto.Workers, FromWorkerStatus(w))
	}
	return dto
}

// FromWorkerStatus converts one supervision snapshot.
func FromWorkerStatus(w orchestrator.WorkerStatus) WorkerStatus {
	return WorkerStatus{
		Name:          w.Name,
		State:         string(w.State),
		LastHeartbeat: formatTime(w.LastHeartbeat),
		Restarts:      w.Restarts,
		Processed:     w.Processed,
		Failures:      w.Failures,
		SuccessRate:   w.SuccessRate,
		LastError:     w.LastError,
	}
}

// FromChannelStats converts broker channel stats, preserving order.
func FromChannelStats(stats []queue.ChannelStats) []ChannelStatus {
	out := make([]ChannelStatus, 0, len(stats))
	for _, s := range stats {
		out = append(out, ChannelStatus{
			Channel:     s.Channel,
			Ready:       s.Ready,
			Leased:      s.Leased,
			DeadLetters: s.DeadLetters,
			Depth:       s.Depth(),
		})
	}
	return out
}

// FromLedgerStats converts the ledger rollup.
func FromLedgerStats(stats ledger.Stats) LedgerStatus {
	counts := make(map[string]int, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		counts[string(status)] = count
	}
	return LedgerStatus{
		Counts:         counts,
		NeedsAttention: stats.NeedsAttention,
		TotalAmount:    stats.TotalAmount,
	}
}

// StageHealthSlice orders per-stage health deterministically by name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromRecord converts a ledger record to its API representation.
func FromRecord(rec *ledger.Record) Transaction {
	if rec == nil {
		return Transaction{}
	}
	dto := Transaction{
		Key:            rec.Key,
		Status:         string(rec.Status),
		Total:          rec.Total,
		Fee:            rec.Fee,
		Attempts:       rec.Attempts,
		Reference:      rec.Reference,
		LastError:      rec.LastError,
		NeedsAttention: rec.NeedsAttention,
		CreatedAt:      formatTime(rec.CreatedAt),
		UpdatedAt:      formatTime(rec.UpdatedAt),
		SubmittedAt:    formatTime(rec.SubmittedAt),
		ConfirmedAt:    formatTime(rec.ConfirmedAt),
	}
	if len(rec.Recipients) > 0 {
		dto.Recipients = make([]Recipient, 0, len(rec.Recipients))
		for _, r := range rec.Recipients {
			dto.Recipients = append(dto.Recipients, Recipient{Address: r.Address, Role: r.Role, Amount: r.Amount})
		}
	}
	return dto
}

// FromRecords converts a slice of ledger records into API DTOs.
func FromRecords(recs []*ledger.Record) []Transaction {
	if len(recs) == 0 {
		return nil
	}
	out := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromEnvelopes converts queued envelopes for display. Payload bytes stay
// server-side; only the decoded event identity travels.
func FromEnvelopes(envelopes []*queue.Envelope) []QueueMessage {
	if len(envelopes) == 0 {
		return nil
	}
	out := make([]QueueMessage, 0, len(envelopes))
	for _, env := range envelopes {
		msg := QueueMessage{
			MessageID:  env.MessageID,
			Channel:    env.Channel,
			Sender:     env.Sender,
			Attempt:    env.Attempt,
			EnqueuedAt: formatTime(env.EnqueuedAt),
			LeasedTo:   formatTime(env.LeaseExpiresAt),
		}
		if ev, err := env.Event(); err == nil {
			msg.EventID = ev.ID
			msg.EventKind = string(ev.Kind)
		}
		out = append(out, msg)
	}
	return out
}

// FromAttempts converts a transaction's submission log.
func FromAttempts(attempts []ledger.Attempt) []TxAttempt {
	if len(attempts) == 0 {
		return nil
	}
	out := make([]TxAttempt, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, TxAttempt{
			Number:  a.Number,
			Fee:     a.Fee,
			Outcome: a.Outcome,
			Detail:  a.Detail,
			At:      formatTime(a.At),
		})
	}
	return out
}

// FromLogRecords converts retained hub records for transport.
func FromLogRecords(records []logging.Record) []LogRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]LogRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, LogRecord{
			Time:      formatTime(rec.Time),
			Level:     rec.Level,
			Component: rec.Component,
			Message:   rec.Message,
			Attrs:     rec.Attrs,
		})
	}
	return out
}

// Event validates the request and wraps it in a pipeline event with a
// fresh id, ready to publish on the observations channel.
func (r ObservationRequest) Event() (*event.Event, error) {
	source := strings.TrimSpace(r.Source)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "observation", "missing source", nil)
	}

	capturedAt := time.Now().UTC()
	if trimmed := strings.TrimSpace(r.CapturedAt); trimmed != "" {
		ts, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "observation", "capturedAt must be RFC3339", err)
		}
		capturedAt = ts.UTC()
	}

	ev := event.NewObservation(event.Observation{
		Source:     source,
		CapturedAt: capturedAt,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		MediaType:  r.MediaType,
		SizeBytes:  r.SizeBytes,
		Signals:    r.Signals,
	})
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
