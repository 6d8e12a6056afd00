// Package logging assembles structured slog loggers and formatting helpers
// used across lifeline components.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code can automatically tag
// log lines with worker names, channels, and event identifiers. The package
// also provides a no-op logger for tests and a bounded in-memory hub that
// backs the daemon's log tail surface.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits data with the same shape.
package logging
