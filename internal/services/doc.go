// Package services defines the shared error taxonomy and context plumbing
// used by pipeline components.
//
// Errors are tagged with sentinel markers (validation, transient, permanent,
// configuration, unavailable) so workers and the transaction manager can map
// failures to retry policy without string matching. Context helpers carry
// event, worker, and channel identity for structured logging.
package services
