// Package queue provides the durable message channels that connect the
// pipeline stages.
//
// A Broker owns named channels of event envelopes. Publish appends, Consume
// leases the oldest ready envelope and hides it for a visibility window, Ack
// removes it, and Reject either requeues it or moves it to the channel's
// dead-letter companion ("<channel>.dead"). A lease that expires without an
// ack makes the envelope consumable again with its attempt count incremented,
// so repeated crashes surface as rising attempts instead of lost messages.
//
// Two backends implement Broker: a SQLite store (the default; survives
// restarts with zero external services) and a Redis broker for deployments
// that already run one. Ordering is FIFO per channel for envelopes that were
// never redelivered; redelivered envelopes may interleave.
//
// Treat this package as the single source of truth for delivery semantics;
// schema changes bump the version in schema.go and users clear the queue
// database to adopt the new schema.
package queue
