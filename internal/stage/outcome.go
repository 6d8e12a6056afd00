package stage

import (
	"fmt"

	"lifeline/internal/event"
	"lifeline/internal/services"
)

// Kind classifies what a handler decided about one envelope.
type Kind int

const (
	// KindForward hands the (possibly transformed) event to the next channel.
	KindForward Kind = iota
	// KindDrop acknowledges the envelope without forwarding it.
	KindDrop
	// KindRetryLater requeues the envelope for another delivery.
	KindRetryLater
	// KindFatal stops the worker and leaves the envelope unacknowledged.
	KindFatal
)

// String renders the kind for logs and worker snapshots.
func (k Kind) String() string {
	switch k {
	case KindForward:
		return "forward"
	case KindDrop:
		return "drop"
	case KindRetryLater:
		return "retry_later"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is a handler's verdict on a single event. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Outcome struct {
	Kind    Kind
	Event   *event.Event // Forward: the event to publish downstream
	Channel string       // Forward: optional override of the worker's output channel
	Reason  string       // Drop: why the event ends here
	Err     error        // RetryLater and Fatal: the failure that triggered it
}

// Forward sends ev to the worker's configured output channel.
func Forward(ev *event.Event) Outcome {
	return Outcome{Kind: KindForward, Event: ev}
}

// ForwardTo sends ev to an explicit channel instead of the worker default.
func ForwardTo(channel string, ev *event.Event) Outcome {
	return Outcome{Kind: KindForward, Event: ev, Channel: channel}
}

// Drop acknowledges the event without forwarding. The reason appears in
// logs and is the only trace the event leaves behind.
func Drop(reason string) Outcome {
	return Outcome{Kind: KindDrop, Reason: reason}
}

// RetryLater asks for another delivery of the same envelope. Once the
// worker's retry budget is spent the envelope dead-letters instead.
func RetryLater(err error) Outcome {
	return Outcome{Kind: KindRetryLater, Err: err}
}

// Fatal stops the worker without settling the envelope. Visibility
// expiry returns the envelope to the channel and the orchestrator
// restarts the worker.
func Fatal(err error) Outcome {
	return Outcome{Kind: KindFatal, Err: err}
}

// FromError converts a collaborator error into the outcome its
// classification calls for: validation failures drop because a retry
// cannot fix bad input, storage loss is fatal, and everything else
// retries until the worker's budget dead-letters it.
func FromError(err error) Outcome {
	switch {
	case services.IsValidation(err):
		return Drop(err.Error())
	case services.IsUnavailable(err):
		return Fatal(err)
	default:
		return RetryLater(err)
	}
}
