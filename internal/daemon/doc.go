// Package daemon hosts the running pipeline: it enforces single-instance
// execution through a lock file, drives the orchestrator and the hardware
// bridge through their lifecycles, and exposes the operator surface the
// IPC and HTTP layers call into.
//
// The daemon does not construct its own collaborators; the composition
// root opens the queue broker, ledger, settlement client, and supervisor
// and hands them in. That keeps the wiring testable with in-memory or
// temporary-file backends.
package daemon
