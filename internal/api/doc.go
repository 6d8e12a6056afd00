// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal pipeline models into transport-friendly
// DTOs that the CLI and other consumers can render without coupling to
// internal types.
//
// # Key Types
//
// PipelineStatus: daemon running state, per-worker supervision snapshots,
// per-channel queue depths, and the ledger rollup.
//
// Transaction: transport representation of a ledger record with recipients,
// fee, attempt count, and lifecycle timestamps.
//
// ObservationRequest: operator-submitted observation accepted over the API
// and injected at the head of the pipeline.
//
// LogRecord: structured log payloads for live tailing.
//
// # Converters
//
// FromPipelineStatus: orchestrator.Status -> PipelineStatus with
// deterministic worker, channel, and health ordering.
//
// FromRecord: ledger.Record -> Transaction.
//
// ObservationRequest.Event: validated request -> pipeline event with a
// fresh id.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (orchestrator.State, ledger.Status) are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds; zero times are omitted.
package api
