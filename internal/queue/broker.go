package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/event"
)

// DeadLetterSuffix is appended to a channel name to form its dead-letter
// companion channel.
const DeadLetterSuffix = ".dead"

// The pipeline topology: each stage consumes one channel and feeds the
// next. Intake publishes to observations; the disburser terminates the
// chain.
const (
	ChannelObservations  = "observations"
	ChannelDetections    = "detections"
	ChannelDisbursements = "disbursements"
)

// Envelope is a message as delivered by a Broker. The queue owns the
// envelope until it is acked; LeaseExpiresAt reports when an unacked
// delivery becomes consumable again.
type Envelope struct {
	MessageID      string
	Channel        string
	Sender         string
	Payload        []byte
	Attempt        int
	EnqueuedAt     time.Time
	LeaseExpiresAt time.Time
}

// Event decodes the envelope payload.
func (e *Envelope) Event() (*event.Event, error) {
	return event.Decode(e.Payload)
}

// ChannelStats aggregates counts for one base channel and its dead-letter
// companion.
type ChannelStats struct {
	Channel     string
	Ready       int
	Leased      int
	DeadLetters int
}

// Depth is the number of undelivered envelopes, leased included.
func (s ChannelStats) Depth() int {
	return s.Ready + s.Leased
}

// Broker is the durable channel contract shared by the pipeline stages, the
// orchestrator, and the operator tooling. Consume is a non-blocking poll
// that returns a nil Envelope when the channel is empty; callers own the
// polling cadence.
type Broker interface {
	Publish(ctx context.Context, channel string, ev *event.Event) (string, error)
	Consume(ctx context.Context, channel string, visibility time.Duration) (*Envelope, error)
	Ack(ctx context.Context, messageID string) error
	Reject(ctx context.Context, messageID string, requeue bool) error
	Depth(ctx context.Context, channel string) (int, error)
	Stats(ctx context.Context) (map[string]ChannelStats, error)
	Channels(ctx context.Context) ([]string, error)
	List(ctx context.Context, channel string, limit int) ([]*Envelope, error)
	Replay(ctx context.Context, channel string) (int64, error)
	Purge(ctx context.Context, channel string) (int64, error)
	CheckHealth(ctx context.Context) error
	Close() error
}

// OpenBroker selects and opens the configured queue backend.
func OpenBroker(cfg *config.Config) (Broker, error) {
	switch cfg.Queue.Backend {
	case "redis":
		return NewRedis(cfg)
	case "", "sqlite":
		return Open(cfg)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// DeadLetterChannel returns the dead-letter companion for a channel. Dead
// channels are their own companion so a reject from one never nests.
func DeadLetterChannel(channel string) string {
	if IsDeadLetter(channel) {
		return channel
	}
	return channel + DeadLetterSuffix
}

// BaseChannel strips the dead-letter suffix if present.
func BaseChannel(channel string) string {
	return strings.TrimSuffix(channel, DeadLetterSuffix)
}

// IsDeadLetter reports whether a channel name denotes a dead-letter channel.
func IsDeadLetter(channel string) bool {
	return strings.HasSuffix(channel, DeadLetterSuffix)
}

func validateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("channel name is empty")
	}
	if strings.ContainsAny(channel, " \t\n") {
		return fmt.Errorf("channel name %q contains whitespace", channel)
	}
	return nil
}
