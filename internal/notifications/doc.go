// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover crashes, dead letters, transaction
// milestones, and pipeline lifecycle so callers emit consistent messages
// without duplicating HTTP glue. Per-category config gates let operators
// mute the chatty categories while keeping alerts.
//
// Extend this package if you need alternative transports; all pipeline code
// depends only on the simple Service interface.
package notifications
