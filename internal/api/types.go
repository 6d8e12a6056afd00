package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WorkerStatus describes one supervised pipeline loop.
type WorkerStatus struct {
	Name          string  `json:"name"`
	State         string  `json:"state"`
	LastHeartbeat string  `json:"lastHeartbeat,omitempty"`
	Restarts      int     `json:"restarts"`
	Processed     uint64  `json:"processed"`
	Failures      uint64  `json:"failures"`
	SuccessRate   float64 `json:"successRate"`
	LastError     string  `json:"lastError,omitempty"`
}

// ChannelStatus describes the backlog of one queue channel.
type ChannelStatus struct {
	Channel     string `json:"channel"`
	Ready       int    `json:"ready"`
	Leased      int    `json:"leased"`
	DeadLetters int    `json:"deadLetters"`
	Depth       int    `json:"depth"`
}

// LedgerStatus rolls up transaction records by lifecycle state.
type LedgerStatus struct {
	Counts         map[string]int `json:"counts"`
	NeedsAttention int            `json:"needsAttention"`
	TotalAmount    float64        `json:"totalAmount"`
}

// StageHealth mirrors collaborator readiness for one pipeline stage.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// PipelineStatus aggregates daemon runtime information for API consumers.
type PipelineStatus struct {
	Running    bool            `json:"running"`
	Degraded   bool            `json:"degraded"`
	StartedAt  string          `json:"startedAt,omitempty"`
	FatalError string          `json:"fatalError,omitempty"`
	Workers    []WorkerStatus  `json:"workers"`
	Channels   []ChannelStatus `json:"channels"`
	Ledger     LedgerStatus    `json:"ledger"`
	Health     []StageHealth   `json:"health"`
}

// Recipient is one funding target within a transaction.
type Recipient struct {
	Address string  `json:"address"`
	Role    string  `json:"role"`
	Amount  float64 `json:"amount"`
}

// Transaction describes a ledger record in a transport-friendly format.
type Transaction struct {
	Key            string      `json:"key"`
	Status         string      `json:"status"`
	Recipients     []Recipient `json:"recipients"`
	Total          float64     `json:"total"`
	Fee            int64       `json:"fee"`
	Attempts       int         `json:"attempts"`
	Reference      string      `json:"reference,omitempty"`
	LastError      string      `json:"lastError,omitempty"`
	NeedsAttention bool        `json:"needsAttention"`
	CreatedAt      string      `json:"createdAt,omitempty"`
	UpdatedAt      string      `json:"updatedAt,omitempty"`
	SubmittedAt    string      `json:"submittedAt,omitempty"`
	ConfirmedAt    string      `json:"confirmedAt,omitempty"`
}

// QueueMessage describes one queued envelope without exposing the payload
// bytes: the event id and kind are decoded for display.
type QueueMessage struct {
	MessageID  string `json:"messageId"`
	Channel    string `json:"channel"`
	EventID    string `json:"eventId,omitempty"`
	EventKind  string `json:"eventKind,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt string `json:"enqueuedAt,omitempty"`
	LeasedTo   string `json:"leasedTo,omitempty"`
}

// TxAttempt is one entry of a transaction's submission log.
type TxAttempt struct {
	Number  int    `json:"number"`
	Fee     int64  `json:"fee"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"at,omitempty"`
}

// ObservationRequest is an operator-submitted observation. CapturedAt is
// RFC3339 and defaults to the submission time when empty.
type ObservationRequest struct {
	Source     string             `json:"source"`
	CapturedAt string             `json:"capturedAt,omitempty"`
	Latitude   float64            `json:"latitude"`
	Longitude  float64            `json:"longitude"`
	MediaType  string             `json:"mediaType,omitempty"`
	SizeBytes  int64              `json:"sizeBytes,omitempty"`
	Signals    map[string]float64 `json:"signals"`
}

// ObservationResponse acknowledges an accepted observation.
type ObservationResponse struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// LogRecord is one retained log line.
type LogRecord struct {
	Time      string            `json:"time"`
	Level     string            `json:"level"`
	Component string            `json:"component,omitempty"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// StatusResponse wraps the pipeline status payload.
type StatusResponse struct {
	Status PipelineStatus `json:"status"`
}

// ChannelListResponse wraps per-channel queue stats.
type ChannelListResponse struct {
	Channels []ChannelStatus `json:"channels"`
}

// MessageListResponse wraps a peek at one channel's envelopes.
type MessageListResponse struct {
	Messages []QueueMessage `json:"messages"`
}

// TransactionListResponse wraps a collection of transactions.
type TransactionListResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// TransactionResponse wraps a single transaction with its submission log.
type TransactionResponse struct {
	Transaction Transaction `json:"transaction"`
	Attempts    []TxAttempt `json:"attempts,omitempty"`
}

// LogTailResponse wraps retained log records, oldest first.
type LogTailResponse struct {
	Records []LogRecord `json:"records"`
}
