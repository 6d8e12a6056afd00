package services

import "context"

type contextKey string

const (
	eventIDKey   contextKey = "event_id"
	workerKey    contextKey = "worker"
	channelKey   contextKey = "channel"
	requestIDKey contextKey = "request_id"
)

// WithEventID annotates context with the pipeline event identifier.
func WithEventID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, eventIDKey, id)
}

// EventIDFromContext extracts the pipeline event identifier if present.
func EventIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(eventIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorker annotates context with the worker name.
func WithWorker(ctx context.Context, worker string) context.Context {
	if worker == "" {
		return ctx
	}
	return context.WithValue(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker name if present.
func WorkerFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workerKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithChannel annotates context with the queue channel name.
func WithChannel(ctx context.Context, channel string) context.Context {
	if channel == "" {
		return ctx
	}
	return context.WithValue(ctx, channelKey, channel)
}

// ChannelFromContext returns the queue channel name if present.
func ChannelFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(channelKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
