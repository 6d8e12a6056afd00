package ipc

import "lifeline/internal/api"

// StartRequest triggers pipeline startup.
type StartRequest struct{}

// StartResponse indicates whether the pipeline was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the pipeline.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// PipelineStatus mirrors the HTTP API pipeline DTO for IPC callers.
type PipelineStatus = api.PipelineStatus

// ChannelStatus describes the backlog of one queue channel.
type ChannelStatus = api.ChannelStatus

// QueueMessage describes one queued envelope.
type QueueMessage = api.QueueMessage

// Transaction describes one ledger record.
type Transaction = api.Transaction

// TxAttempt is one entry of a transaction's submission log.
type TxAttempt = api.TxAttempt

// LogRecord is one retained log line.
type LogRecord = api.LogRecord

// ObservationRequest is an operator-submitted observation.
type ObservationRequest = api.ObservationRequest

// StatusResponse represents combined daemon/pipeline status information.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	Pipeline     PipelineStatus `json:"pipeline"`
	QueueDBPath  string         `json:"queue_db_path"`
	LedgerDBPath string         `json:"ledger_db_path"`
	LockPath     string         `json:"lock_path"`
	SocketPath   string         `json:"socket_path"`
}

// ObserveRequest submits one observation into the pipeline.
type ObserveRequest struct {
	Observation ObservationRequest `json:"observation"`
}

// ObserveResponse acknowledges an accepted observation.
type ObserveResponse struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// QueueStatsRequest fetches per-channel queue stats.
type QueueStatsRequest struct{}

// QueueStatsResponse contains per-channel queue stats.
type QueueStatsResponse struct {
	Channels []ChannelStatus `json:"channels"`
}

// QueueListRequest peeks at one channel's envelopes.
type QueueListRequest struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
}

// QueueListResponse contains queued envelopes, oldest first.
type QueueListResponse struct {
	Messages []QueueMessage `json:"messages"`
}

// QueueReplayRequest moves a channel's dead letters back onto the live
// channel. Channel accepts either the base or the dead-letter name.
type QueueReplayRequest struct {
	Channel string `json:"channel"`
}

// QueueReplayResponse reports number of replayed envelopes.
type QueueReplayResponse struct {
	Replayed int64 `json:"replayed"`
}

// QueuePurgeRequest discards all envelopes on a channel.
type QueuePurgeRequest struct {
	Channel string `json:"channel"`
}

// QueuePurgeResponse reports number of purged envelopes.
type QueuePurgeResponse struct {
	Purged int64 `json:"purged"`
}

// TxListRequest filters transaction listing. Status accepts a lifecycle
// state, "attention", or empty for all records.
type TxListRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

// TxListResponse contains ledger records, newest first.
type TxListResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// TxShowRequest fetches a single transaction by idempotency key.
type TxShowRequest struct {
	Key string `json:"key"`
}

// TxShowResponse contains one transaction with its submission log.
type TxShowResponse struct {
	Transaction Transaction `json:"transaction"`
	Attempts    []TxAttempt `json:"attempts"`
}

// LogTailRequest fetches the most recent retained log records.
type LogTailRequest struct {
	Limit int `json:"limit"`
}

// LogTailResponse returns retained log records, oldest first.
type LogTailResponse struct {
	Records []LogRecord `json:"records"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
