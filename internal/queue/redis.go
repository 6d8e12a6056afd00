package queue

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lifeline/internal/config"
	"lifeline/internal/event"
	"lifeline/internal/services"
)

// Redis implements Broker on a Redis server. Each channel is a ready list
// plus a lease zset scored by expiry; message bodies live in per-message
// hashes. Expired leases are reclaimed lazily by the claim script, so no
// background janitor is needed.
type Redis struct {
	client *redis.Client
	prefix string
}

// claimScript atomically reclaims expired leases, pops the oldest ready
// message, leases it, and bumps its delivery count.
// KEYS[1] = ready list, KEYS[2] = lease zset
// ARGV[1] = now (unix nanos), ARGV[2] = lease expiry (unix nanos),
// ARGV[3] = message hash key prefix
var claimScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for i = #expired, 1, -1 do
    redis.call("ZREM", KEYS[2], expired[i])
    redis.call("LPUSH", KEYS[1], expired[i])
end
local id = redis.call("LPOP", KEYS[1])
if not id then
    return false
end
redis.call("ZADD", KEYS[2], ARGV[2], id)
local attempts = redis.call("HINCRBY", ARGV[3] .. id, "attempts", 1)
return {id, attempts}
`)

// ackScript removes a message everywhere it could live.
// KEYS[1] = message hash key
// ARGV[1] = message id, ARGV[2] = key prefix
var ackScript = redis.NewScript(`
local channel = redis.call("HGET", KEYS[1], "channel")
if not channel then
    return 0
end
redis.call("ZREM", ARGV[2] .. "leases:" .. channel, ARGV[1])
redis.call("LREM", ARGV[2] .. "q:" .. channel, 0, ARGV[1])
redis.call("DEL", KEYS[1])
return 1
`)

// requeueScript clears a lease so the message is consumable immediately.
// KEYS[1] = message hash key
// ARGV[1] = message id, ARGV[2] = key prefix
var requeueScript = redis.NewScript(`
local channel = redis.call("HGET", KEYS[1], "channel")
if not channel then
    return 0
end
if redis.call("ZREM", ARGV[2] .. "leases:" .. channel, ARGV[1]) == 1 then
    redis.call("LPUSH", ARGV[2] .. "q:" .. channel, ARGV[1])
end
return 1
`)

// deadLetterScript moves a message to its channel's dead-letter companion,
// attempt count frozen. Messages already on a dead channel stay there.
// KEYS[1] = message hash key
// ARGV[1] = message id, ARGV[2] = key prefix, ARGV[3] = dead-letter suffix,
// ARGV[4] = dead-lettered-at timestamp
var deadLetterScript = redis.NewScript(`
local channel = redis.call("HGET", KEYS[1], "channel")
if not channel then
    return 0
end
local dead = channel
if string.sub(channel, -string.len(ARGV[3])) ~= ARGV[3] then
    dead = channel .. ARGV[3]
end
redis.call("ZREM", ARGV[2] .. "leases:" .. channel, ARGV[1])
redis.call("LREM", ARGV[2] .. "q:" .. channel, 0, ARGV[1])
redis.call("HSET", KEYS[1], "channel", dead, "dead_lettered_at", ARGV[4])
redis.call("RPUSH", ARGV[2] .. "q:" .. dead, ARGV[1])
redis.call("SADD", ARGV[2] .. "channels", dead)
return 1
`)

// replayScript moves every message on a dead-letter channel back to its
// base channel with attempts reset.
// KEYS[1] = dead ready list, KEYS[2] = dead lease zset
// ARGV[1] = key prefix, ARGV[2] = dead channel, ARGV[3] = base channel
var replayScript = redis.NewScript(`
local moved = redis.call("LRANGE", KEYS[1], 0, -1)
local leased = redis.call("ZRANGE", KEYS[2], 0, -1)
for i = 1, #leased do
    moved[#moved + 1] = leased[i]
end
for i = 1, #moved do
    local id = moved[i]
    redis.call("HSET", ARGV[1] .. "msg:" .. id, "channel", ARGV[3], "attempts", 0)
    redis.call("HDEL", ARGV[1] .. "msg:" .. id, "dead_lettered_at")
    redis.call("RPUSH", ARGV[1] .. "q:" .. ARGV[3], id)
end
redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
redis.call("SREM", ARGV[1] .. "channels", ARGV[2])
if #moved > 0 then
    redis.call("SADD", ARGV[1] .. "channels", ARGV[3])
end
return #moved
`)

// purgeScript deletes a channel's ready list, lease zset, and every message
// hash they reference.
// KEYS[1] = ready list, KEYS[2] = lease zset
// ARGV[1] = key prefix, ARGV[2] = channel name
var purgeScript = redis.NewScript(`
local count = 0
local ready = redis.call("LRANGE", KEYS[1], 0, -1)
for i = 1, #ready do
    redis.call("DEL", ARGV[1] .. "msg:" .. ready[i])
    count = count + 1
end
local leased = redis.call("ZRANGE", KEYS[2], 0, -1)
for i = 1, #leased do
    redis.call("DEL", ARGV[1] .. "msg:" .. leased[i])
    count = count + 1
end
redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
redis.call("SREM", ARGV[1] .. "channels", ARGV[2])
return count
`)

// NewRedis builds a Redis-backed broker from the queue section of the
// configuration. The connection is established lazily; preflight calls
// CheckHealth to fail fast on an unreachable server.
func NewRedis(cfg *config.Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	return &Redis{client: client, prefix: "lifeline:"}, nil
}

func (r *Redis) readyKey(channel string) string { return r.prefix + "q:" + channel }
func (r *Redis) leaseKey(channel string) string { return r.prefix + "leases:" + channel }
func (r *Redis) messageKey(id string) string    { return r.prefix + "msg:" + id }
func (r *Redis) channelsKey() string            { return r.prefix + "channels" }

// Publish appends an event to a channel and returns the assigned message id.
func (r *Redis) Publish(ctx context.Context, channel string, ev *event.Event) (string, error) {
	if err := validateChannel(channel); err != nil {
		return "", err
	}
	payload, err := ev.Encode()
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	sender, _ := services.WorkerFromContext(ctx)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.messageKey(messageID), map[string]any{
		"channel":     channel,
		"sender":      sender,
		"payload":     payload,
		"attempts":    0,
		"enqueued_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.RPush(ctx, r.readyKey(channel), messageID)
	pipe.SAdd(ctx, r.channelsKey(), channel)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", storageError("publish message", err)
	}
	return messageID, nil
}

// Consume leases the oldest ready envelope, reclaiming expired leases first.
func (r *Redis) Consume(ctx context.Context, channel string, visibility time.Duration) (*Envelope, error) {
	if err := validateChannel(channel); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := claimScript.Run(
		ctx,
		r.client,
		[]string{r.readyKey(channel), r.leaseKey(channel)},
		now.UnixNano(),
		now.Add(visibility).UnixNano(),
		r.prefix+"msg:",
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("claim message", err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) != 2 {
		return nil, storageError("claim message", errors.New("unexpected claim reply"))
	}
	messageID, _ := reply[0].(string)
	attempts, _ := reply[1].(int64)

	envelope, err := r.loadEnvelope(ctx, messageID)
	if err != nil {
		return nil, err
	}
	envelope.Attempt = int(attempts)
	envelope.LeaseExpiresAt = now.Add(visibility)
	return envelope, nil
}

// Ack removes a delivered envelope permanently.
func (r *Redis) Ack(ctx context.Context, messageID string) error {
	return r.settle(ctx, ackScript, messageID, "ack message")
}

// Reject requeues a delivered envelope or moves it to the dead-letter
// channel, matching the SQLite store's contract.
func (r *Redis) Reject(ctx context.Context, messageID string, requeue bool) error {
	if requeue {
		return r.settle(ctx, requeueScript, messageID, "requeue message")
	}
	res, err := deadLetterScript.Run(
		ctx,
		r.client,
		[]string{r.messageKey(messageID)},
		messageID,
		r.prefix,
		DeadLetterSuffix,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return storageError("dead-letter message", err)
	}
	if res == 0 {
		return errUnknown(messageID)
	}
	return nil
}

func (r *Redis) settle(ctx context.Context, script *redis.Script, messageID, operation string) error {
	res, err := script.Run(ctx, r.client, []string{r.messageKey(messageID)}, messageID, r.prefix).Int()
	if err != nil {
		return storageError(operation, err)
	}
	if res == 0 {
		return errUnknown(messageID)
	}
	return nil
}

// Depth counts the envelopes held by a channel, leased included.
func (r *Redis) Depth(ctx context.Context, channel string) (int, error) {
	if err := validateChannel(channel); err != nil {
		return 0, err
	}
	pipe := r.client.Pipeline()
	ready := pipe.LLen(ctx, r.readyKey(channel))
	leased := pipe.ZCard(ctx, r.leaseKey(channel))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, storageError("channel depth", err)
	}
	return int(ready.Val() + leased.Val()), nil
}

// Stats aggregates counts per base channel. Leases that have already
// expired count as ready since the next claim reclaims them.
func (r *Redis) Stats(ctx context.Context) (map[string]ChannelStats, error) {
	channels, err := r.client.SMembers(ctx, r.channelsKey()).Result()
	if err != nil {
		return nil, storageError("list channels", err)
	}

	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	stats := make(map[string]ChannelStats)
	for _, channel := range channels {
		ready, err := r.client.LLen(ctx, r.readyKey(channel)).Result()
		if err != nil {
			return nil, storageError("channel length", err)
		}
		expired, err := r.client.ZCount(ctx, r.leaseKey(channel), "-inf", now).Result()
		if err != nil {
			return nil, storageError("count expired leases", err)
		}
		live, err := r.client.ZCount(ctx, r.leaseKey(channel), "("+now, "+inf").Result()
		if err != nil {
			return nil, storageError("count live leases", err)
		}
		total := int(ready + expired + live)
		if total == 0 {
			continue
		}

		base := BaseChannel(channel)
		entry := stats[base]
		entry.Channel = base
		if IsDeadLetter(channel) {
			entry.DeadLetters += total
		} else {
			entry.Ready += int(ready + expired)
			entry.Leased += int(live)
		}
		stats[base] = entry
	}
	return stats, nil
}

// Channels lists every channel holding at least one envelope.
func (r *Redis) Channels(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.channelsKey()).Result()
	if err != nil {
		return nil, storageError("list channels", err)
	}
	var channels []string
	for _, channel := range members {
		depth, err := r.Depth(ctx, channel)
		if err != nil {
			return nil, err
		}
		if depth > 0 {
			channels = append(channels, channel)
		}
	}
	sort.Strings(channels)
	return channels, nil
}

// List peeks at envelopes on a channel without touching leases. Ready
// envelopes come first in delivery order, then leased ones.
func (r *Redis) List(ctx context.Context, channel string, limit int) ([]*Envelope, error) {
	if err := validateChannel(channel); err != nil {
		return nil, err
	}
	ready, err := r.client.LRange(ctx, r.readyKey(channel), 0, -1).Result()
	if err != nil {
		return nil, storageError("list ready messages", err)
	}
	leased, err := r.client.ZRangeWithScores(ctx, r.leaseKey(channel), 0, -1).Result()
	if err != nil {
		return nil, storageError("list leased messages", err)
	}

	var envelopes []*Envelope
	appendEnvelope := func(messageID string, leaseExpires int64) error {
		if limit > 0 && len(envelopes) >= limit {
			return nil
		}
		envelope, err := r.loadEnvelope(ctx, messageID)
		if err != nil {
			return err
		}
		if leaseExpires > 0 {
			envelope.LeaseExpiresAt = time.Unix(0, leaseExpires).UTC()
		}
		envelopes = append(envelopes, envelope)
		return nil
	}

	for _, messageID := range ready {
		if err := appendEnvelope(messageID, 0); err != nil {
			return nil, err
		}
	}
	for _, member := range leased {
		messageID, _ := member.Member.(string)
		if err := appendEnvelope(messageID, int64(member.Score)); err != nil {
			return nil, err
		}
	}
	return envelopes, nil
}

// Replay moves every envelope parked on a channel's dead-letter companion
// back onto the base channel with a fresh attempt budget.
func (r *Redis) Replay(ctx context.Context, channel string) (int64, error) {
	if err := validateChannel(channel); err != nil {
		return 0, err
	}
	base := BaseChannel(channel)
	dead := DeadLetterChannel(base)
	count, err := replayScript.Run(
		ctx,
		r.client,
		[]string{r.readyKey(dead), r.leaseKey(dead)},
		r.prefix,
		dead,
		base,
	).Int64()
	if err != nil {
		return 0, storageError("replay dead letters", err)
	}
	return count, nil
}

// Purge deletes every envelope on a channel and returns the count removed.
func (r *Redis) Purge(ctx context.Context, channel string) (int64, error) {
	if err := validateChannel(channel); err != nil {
		return 0, err
	}
	count, err := purgeScript.Run(
		ctx,
		r.client,
		[]string{r.readyKey(channel), r.leaseKey(channel)},
		r.prefix,
		channel,
	).Int64()
	if err != nil {
		return 0, storageError("purge channel", err)
	}
	return count, nil
}

// CheckHealth verifies the server answers a PING.
func (r *Redis) CheckHealth(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Ping(connCtx).Err(); err != nil {
		return storageError("ping redis", err)
	}
	return nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) loadEnvelope(ctx context.Context, messageID string) (*Envelope, error) {
	fields, err := r.client.HGetAll(ctx, r.messageKey(messageID)).Result()
	if err != nil {
		return nil, storageError("load message", err)
	}
	if len(fields) == 0 {
		return nil, errUnknown(messageID)
	}

	envelope := &Envelope{
		MessageID: messageID,
		Channel:   fields["channel"],
		Sender:    fields["sender"],
		Payload:   []byte(fields["payload"]),
	}
	if attempts, err := strconv.Atoi(fields["attempts"]); err == nil {
		envelope.Attempt = attempts
	}
	if enqueued, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		envelope.EnqueuedAt = enqueued
	}
	return envelope, nil
}

var _ Broker = (*Redis)(nil)
