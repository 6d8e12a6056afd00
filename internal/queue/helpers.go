package queue

import (
	"database/sql"
	"time"
)

const envelopeColumns = "message_id, channel, sender, payload, attempts, enqueued_at, lease_expires_at"

func scanEnvelope(scanner interface{ Scan(dest ...any) error }) (*Envelope, error) {
	var (
		messageID    string
		channel      string
		sender       sql.NullString
		payload      []byte
		attempts     int
		enqueuedRaw  string
		leaseExpires sql.NullInt64
	)

	if err := scanner.Scan(
		&messageID,
		&channel,
		&sender,
		&payload,
		&attempts,
		&enqueuedRaw,
		&leaseExpires,
	); err != nil {
		return nil, err
	}

	envelope := &Envelope{
		MessageID: messageID,
		Channel:   channel,
		Sender:    sender.String,
		Payload:   payload,
		Attempt:   attempts,
	}
	if enqueued, err := time.Parse(time.RFC3339Nano, enqueuedRaw); err == nil {
		envelope.EnqueuedAt = enqueued
	}
	if leaseExpires.Valid {
		envelope.LeaseExpiresAt = time.Unix(0, leaseExpires.Int64).UTC()
	}
	return envelope, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
