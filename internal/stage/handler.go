package stage

import (
	"context"

	"lifeline/internal/event"
)

// Handler describes the contract the pipeline worker needs from each stage.
type Handler interface {
	// Name identifies the stage in logs, heartbeats, and status output.
	Name() string
	// Handle inspects one event and decides its fate. Handlers must not
	// ack, reject, or publish themselves; the worker owns the envelope.
	Handle(context.Context, *event.Event) Outcome
	// HealthCheck reports whether the stage's collaborators are reachable.
	HealthCheck(context.Context) Health
}
