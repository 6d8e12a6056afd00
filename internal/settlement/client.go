// Package settlement talks to the settlement network that carries
// disbursement transactions. The ledger manager is the only caller that
// submits; the CLI and preflight use the health surface.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/event"
)

// Status reports where a submitted transaction stands on the network.
type Status string

const (
	// StatusConfirmed means the network finalized the transaction.
	StatusConfirmed Status = "confirmed"
	// StatusPending means the transaction is known but not yet final.
	StatusPending Status = "pending"
	// StatusNotFound means the network has no record of the reference.
	StatusNotFound Status = "not_found"
)

// SubmitRequest carries one disbursement to the network. Key is the
// event id and doubles as the network-side idempotency key.
type SubmitRequest struct {
	Key        string
	Recipients []event.Recipient
	Fee        int64
}

// Total sums the recipient amounts in the request.
func (r SubmitRequest) Total() float64 {
	var total float64
	for _, rec := range r.Recipients {
		total += rec.Amount
	}
	return total
}

// Client is the settlement network surface the ledger depends on.
// Submit returns a network reference on acceptance; Check resolves a
// reference to its current status.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Check(ctx context.Context, reference string) (Status, error)
	CheckHealth(ctx context.Context) error
	Close() error
}

// Open builds the settlement client selected by cfg.Settlement.Mode.
func Open(cfg *config.Config) (Client, error) {
	switch strings.TrimSpace(cfg.Settlement.Mode) {
	case "", "sim":
		return NewSimulator(), nil
	case "rpc":
		timeout := time.Duration(cfg.Settlement.RequestTimeout) * time.Second
		return NewRPC(cfg.Settlement.Endpoint, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported settlement mode %q", cfg.Settlement.Mode)
	}
}
