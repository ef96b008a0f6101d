package core

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// ErrAuditQueueEmpty is returned by Reserve when nothing is pending.
var ErrAuditQueueEmpty = errors.New("audit queue empty")

// AuditQueue carries serialized audit records from the API to the archiver.
// A reserved record is hidden for the visibility timeout; if it is not acked
// by then, Reclaim makes it pending again.
type AuditQueue interface {
	Push(ctx context.Context, payload string) error
	Reserve(ctx context.Context, visibility time.Duration) (string, error)
	Ack(ctx context.Context, payload string) error
	Reclaim(ctx context.Context, now time.Time) (int, error)
}

// RedisClientRaw exposes the subset used for queue metrics and heartbeats.
type RedisClientRaw interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZCount(ctx context.Context, key, min, max string) *redis.IntCmd
}

// pending is a list consumed from the tail; processing is a sorted set
// scored by visibility deadline in unix milliseconds.
var reserveScript = redis.NewScript(`
local v = redis.call('RPOP', KEYS[1])
if v then
  redis.call('ZADD', KEYS[2], ARGV[1], v)
end
return v
`)

// Reclaimed records go back to the tail so they are retried before newer ones.
var reclaimScript = redis.NewScript(`
local vals = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #vals > 0 then
  redis.call('ZREM', KEYS[1], unpack(vals))
  redis.call('RPUSH', KEYS[2], unpack(vals))
end
return #vals
`)

// RedisAuditQueue implements AuditQueue on a Redis list and sorted set.
type RedisAuditQueue struct {
	client     *redis.Client
	pending    string
	processing string
	batch      int
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// NewRedisAuditQueue binds the audit queue keys on client.
func NewRedisAuditQueue(client *redis.Client) *RedisAuditQueue {
	return &RedisAuditQueue{
		client:     client,
		pending:    AuditPendingKey,
		processing: AuditProcessingKey,
		batch:      reclaimBatchSize,
	}
}

func (q *RedisAuditQueue) Push(ctx context.Context, payload string) error {
	if err := q.client.LPush(ctx, q.pending, payload).Err(); err != nil {
		return oops.Code("AUDIT_QUEUE_WRITE_FAILED").With("key", q.pending).Wrap(err)
	}
	return nil
}

// Reserve moves the oldest pending record into processing in one script call,
// so a crash between the two steps cannot lose it.
func (q *RedisAuditQueue) Reserve(ctx context.Context, visibility time.Duration) (string, error) {
	deadline := time.Now().Add(visibility).UnixMilli()
	res, err := reserveScript.Run(ctx, q.client, []string{q.pending, q.processing}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAuditQueueEmpty
	}
	if err != nil {
		return "", oops.Code("AUDIT_QUEUE_READ_FAILED").With("key", q.pending).Wrap(err)
	}
	payload, ok := res.(string)
	if !ok {
		return "", oops.Code("AUDIT_QUEUE_READ_FAILED").Errorf("unexpected reserve reply %T", res)
	}
	return payload, nil
}

func (q *RedisAuditQueue) Ack(ctx context.Context, payload string) error {
	if err := q.client.ZRem(ctx, q.processing, payload).Err(); err != nil {
		return oops.Code("AUDIT_QUEUE_WRITE_FAILED").With("key", q.processing).Wrap(err)
	}
	return nil
}

// Reclaim returns every record whose deadline is at or before now to pending,
// in batches, and reports how many moved.
func (q *RedisAuditQueue) Reclaim(ctx context.Context, now time.Time) (int, error) {
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	total := 0
	for {
		n, err := reclaimScript.Run(ctx, q.client, []string{q.processing, q.pending}, cutoff, q.batch).Int()
		if err != nil {
			return total, oops.Code("AUDIT_QUEUE_WRITE_FAILED").With("key", q.processing).Wrap(err)
		}
		total += n
		if n < q.batch {
			return total, nil
		}
	}
}

// QueueAuditPublisher serializes audit records onto the audit queue.
type QueueAuditPublisher struct {
	queue AuditQueue
}

func NewQueueAuditPublisher(queue AuditQueue) *QueueAuditPublisher {
	return &QueueAuditPublisher{queue: queue}
}

// Publish pushes rec as JSON. The request id keeps otherwise identical
// records distinct inside the processing sorted set.
func (p *QueueAuditPublisher) Publish(ctx context.Context, rec AuditRecord) error {
	if rec.RequestID == "" {
		rec.RequestID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.queue.Push(ctx, string(data))
}
