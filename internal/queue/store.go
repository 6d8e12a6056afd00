package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lifeline/internal/event"
	"lifeline/internal/services"
)

// Publish appends an event to a channel and returns the assigned message id.
// It never blocks on consumer presence; the only failure modes are an
// invalid event and unavailable storage.
func (s *Store) Publish(ctx context.Context, channel string, ev *event.Event) (string, error) {
	if err := validateChannel(channel); err != nil {
		return "", err
	}
	payload, err := ev.Encode()
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}

	messageID := uuid.NewString()
	sender, _ := services.WorkerFromContext(ctx)
	enqueuedAt := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO messages (message_id, channel, sender, payload, attempts, enqueued_at)
         VALUES (?, ?, ?, ?, 0, ?)`,
		messageID,
		channel,
		nullableString(sender),
		payload,
		enqueuedAt,
	); err != nil {
		return "", storageError("insert message", err)
	}
	return messageID, nil
}

// Consume leases the oldest ready envelope on a channel and hides it until
// the visibility window elapses. It returns (nil, nil) when the channel has
// nothing ready. The delivered Attempt count is 1-based and includes
// redeliveries after expired leases.
func (s *Store) Consume(ctx context.Context, channel string, visibility time.Duration) (*Envelope, error) {
	if err := validateChannel(channel); err != nil {
		return nil, err
	}
	if visibility <= 0 {
		return nil, fmt.Errorf("visibility timeout must be positive, got %s", visibility)
	}

	now := time.Now().UTC()
	token := uuid.NewString()

	// A single UPDATE claims atomically even with concurrent consumers;
	// the unique token lets us read back the row we won.
	res, err := s.execWithRetry(
		ctx,
		`UPDATE messages
         SET attempts = attempts + 1, lease_expires_at = ?, lease_token = ?
         WHERE id = (
             SELECT id FROM messages
             WHERE channel = ? AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
             ORDER BY id LIMIT 1
         )`,
		now.Add(visibility).UnixNano(),
		token,
		channel,
		now.UnixNano(),
	)
	if err != nil {
		return nil, storageError("claim message", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageError("claim rows affected", err)
	}
	if affected == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM messages WHERE lease_token = ?`, token)
	envelope, err := scanEnvelope(row)
	if err != nil {
		return nil, storageError("read claimed message", err)
	}
	return envelope, nil
}

// Ack removes a delivered envelope permanently.
func (s *Store) Ack(ctx context.Context, messageID string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM messages WHERE message_id = ?`, messageID)
	if err != nil {
		return storageError("ack message", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("ack rows affected", err)
	}
	if affected == 0 {
		return errUnknown(messageID)
	}
	return nil
}

// Reject settles a delivered envelope without completing it. With requeue
// the lease is cleared so the envelope is consumable immediately; without
// it the envelope moves unchanged to the channel's dead-letter companion
// with its attempt count frozen.
func (s *Store) Reject(ctx context.Context, messageID string, requeue bool) error {
	var (
		res sql.Result
		err error
	)
	if requeue {
		res, err = s.execWithRetry(
			ctx,
			`UPDATE messages SET lease_expires_at = NULL, lease_token = NULL WHERE message_id = ?`,
			messageID,
		)
	} else {
		res, err = s.execWithRetry(
			ctx,
			`UPDATE messages
             SET channel = CASE WHEN channel LIKE '%'||? THEN channel ELSE channel||? END,
                 lease_expires_at = NULL, lease_token = NULL, dead_lettered_at = ?
             WHERE message_id = ?`,
			DeadLetterSuffix,
			DeadLetterSuffix,
			time.Now().UTC().Format(time.RFC3339Nano),
			messageID,
		)
	}
	if err != nil {
		return storageError("reject message", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("reject rows affected", err)
	}
	if affected == 0 {
		return errUnknown(messageID)
	}
	return nil
}

// Depth counts the envelopes held by a channel, leased included.
func (s *Store) Depth(ctx context.Context, channel string) (int, error) {
	if err := validateChannel(channel); err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE channel = ?`, channel).Scan(&count); err != nil {
		return 0, storageError("channel depth", err)
	}
	return count, nil
}

// Stats aggregates counts per base channel, folding each dead-letter
// companion into its base entry.
func (s *Store) Stats(ctx context.Context) (map[string]ChannelStats, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT channel,
                COUNT(1),
                SUM(CASE WHEN lease_expires_at IS NOT NULL AND lease_expires_at > ? THEN 1 ELSE 0 END)
         FROM messages GROUP BY channel`,
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return nil, storageError("queue stats", err)
	}
	defer rows.Close()

	stats := make(map[string]ChannelStats)
	for rows.Next() {
		var (
			channel string
			total   int
			leased  int
		)
		if err := rows.Scan(&channel, &total, &leased); err != nil {
			return nil, storageError("scan stats row", err)
		}
		base := BaseChannel(channel)
		entry := stats[base]
		entry.Channel = base
		if IsDeadLetter(channel) {
			entry.DeadLetters += total
		} else {
			entry.Ready += total - leased
			entry.Leased += leased
		}
		stats[base] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate stats rows", err)
	}
	return stats, nil
}

// Channels lists every channel holding at least one envelope, dead-letter
// channels included.
func (s *Store) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT channel FROM messages ORDER BY channel`)
	if err != nil {
		return nil, storageError("list channels", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, storageError("scan channel", err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate channels", err)
	}
	return channels, nil
}

// List peeks at envelopes on a channel in delivery order without touching
// leases. A non-positive limit returns everything.
func (s *Store) List(ctx context.Context, channel string, limit int) ([]*Envelope, error) {
	if err := validateChannel(channel); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+envelopeColumns+` FROM messages WHERE channel = ? ORDER BY id LIMIT ?`,
		channel,
		limit,
	)
	if err != nil {
		return nil, storageError("list messages", err)
	}
	defer rows.Close()

	var envelopes []*Envelope
	for rows.Next() {
		envelope, err := scanEnvelope(rows)
		if err != nil {
			return nil, storageError("scan message", err)
		}
		envelopes = append(envelopes, envelope)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate messages", err)
	}
	return envelopes, nil
}

// Replay moves every envelope parked on a channel's dead-letter companion
// back onto the base channel with a fresh attempt budget. The channel may
// be given as either the base or the dead-letter name.
func (s *Store) Replay(ctx context.Context, channel string) (int64, error) {
	if err := validateChannel(channel); err != nil {
		return 0, err
	}
	base := BaseChannel(channel)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE messages
         SET channel = ?, attempts = 0, lease_expires_at = NULL, lease_token = NULL, dead_lettered_at = NULL
         WHERE channel = ?`,
		base,
		DeadLetterChannel(base),
	)
	if err != nil {
		return 0, storageError("replay dead letters", err)
	}
	return res.RowsAffected()
}

// Purge deletes every envelope on a channel and returns the count removed.
func (s *Store) Purge(ctx context.Context, channel string) (int64, error) {
	if err := validateChannel(channel); err != nil {
		return 0, err
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM messages WHERE channel = ?`, channel)
	if err != nil {
		return 0, storageError("purge channel", err)
	}
	return res.RowsAffected()
}

var _ Broker = (*Store)(nil)
