// Package ledger tracks every disbursement transaction from first
// submission to network confirmation. The transaction key is the pipeline
// event id, so replays and redeliveries of the same event collapse onto
// one record: callers may invoke Disburse any number of times and at most
// one transaction reaches the network.
package ledger

import (
	"time"

	"lifeline/internal/event"
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	// StatusPending means no submission has been accepted by the network
	// yet. Records stay pending across failed submission rounds.
	StatusPending Status = "pending"
	// StatusSubmitted means the network accepted the transaction and
	// returned a reference; confirmation is outstanding.
	StatusSubmitted Status = "submitted"
	// StatusConfirmed means the network finalized the transaction. The
	// record is immutable from here on.
	StatusConfirmed Status = "confirmed"
	// StatusFailed means the last submission round ended in a permanent
	// error. A later Disburse call may try again.
	StatusFailed Status = "failed"
)

// Statuses lists every record status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusSubmitted, StatusConfirmed, StatusFailed}
}

// Record is the durable state of one disbursement transaction.
type Record struct {
	// Key is the pipeline event id and the network idempotency key.
	Key        string
	Status     Status
	Recipients []event.Recipient
	// Total is the sum of recipient amounts, denormalized for queries.
	Total float64
	// Fee is the network fee the next (or last) submission carries. It
	// escalates by the configured multiplier after transient failures.
	Fee int64
	// Attempts counts submissions tried over the record's lifetime,
	// including ones from earlier Disburse calls.
	Attempts int
	// Reference is the network handle returned on acceptance, empty
	// until the record reaches submitted.
	Reference string
	LastError string
	// NeedsAttention is set when confirmation has been outstanding past
	// the configured deadline and an operator should look.
	NeedsAttention bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SubmittedAt    time.Time
	ConfirmedAt    time.Time
}

// Settled reports whether the record reached a state where no further
// submission may happen: the network may already own the transaction.
func (r *Record) Settled() bool {
	return r.Status == StatusSubmitted || r.Status == StatusConfirmed
}

// Attempt is one entry in the append-only submission log.
type Attempt struct {
	Key string
	// Number is the lifetime attempt ordinal, 1-based.
	Number int
	// Fee is the fee this attempt carried.
	Fee int64
	// Outcome is "submitted", "transient", or "permanent".
	Outcome string
	Detail  string
	At      time.Time
}

// Attempt outcomes recorded in the submission log.
const (
	AttemptSubmitted = "submitted"
	AttemptTransient = "transient"
	AttemptPermanent = "permanent"
)

// Stats summarizes the ledger for status surfaces.
type Stats struct {
	ByStatus       map[Status]int
	NeedsAttention int
	TotalAmount    float64
}
