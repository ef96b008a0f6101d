package core

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

var ErrArchiverNotFound = errors.New("archiver not found")

// AuditQueueDepth counts records waiting, reserved by an archiver, and
// reserved past their visibility deadline (due for reclaim).
type AuditQueueDepth struct {
	Pending  int64 `json:"pending"`
	Reserved int64 `json:"reserved"`
	Overdue  int64 `json:"overdue"`
}

// AuditQueueOverview is what the admin audit-queue endpoint returns.
type AuditQueueOverview struct {
	Depth     AuditQueueDepth     `json:"depth"`
	Archivers []ArchiverHeartbeat `json:"archivers"`
}

// AuditQueueMonitor reads queue depth and archiver heartbeats from Redis.
type AuditQueueMonitor struct {
	redis RedisClientRaw
	now   func() time.Time
}

func NewAuditQueueMonitor(client RedisClientRaw) *AuditQueueMonitor {
	return &AuditQueueMonitor{redis: client, now: time.Now}
}

func (m *AuditQueueMonitor) Overview(ctx context.Context) (AuditQueueOverview, error) {
	depth, err := m.Depth(ctx)
	if err != nil {
		return AuditQueueOverview{}, err
	}
	archivers, err := m.Archivers(ctx)
	if err != nil {
		return AuditQueueOverview{}, err
	}
	return AuditQueueOverview{Depth: depth, Archivers: archivers}, nil
}

func (m *AuditQueueMonitor) Depth(ctx context.Context) (AuditQueueDepth, error) {
	pending, err := m.redis.LLen(ctx, AuditPendingKey).Result()
	if err != nil {
		return AuditQueueDepth{}, oops.Code("AUDIT_QUEUE_READ_FAILED").With("key", AuditPendingKey).Wrap(err)
	}
	reserved, err := m.redis.ZCard(ctx, AuditProcessingKey).Result()
	if err != nil {
		return AuditQueueDepth{}, oops.Code("AUDIT_QUEUE_READ_FAILED").With("key", AuditProcessingKey).Wrap(err)
	}
	deadline := strconv.FormatInt(m.now().UnixMilli(), 10)
	overdue, err := m.redis.ZCount(ctx, AuditProcessingKey, "-inf", deadline).Result()
	if err != nil {
		return AuditQueueDepth{}, oops.Code("AUDIT_QUEUE_READ_FAILED").With("key", AuditProcessingKey).Wrap(err)
	}
	return AuditQueueDepth{Pending: pending, Reserved: reserved, Overdue: overdue}, nil
}

// Archivers returns the live heartbeats ordered by archiver id. Entries that
// expire between the scan and the read, or fail to decode, are skipped.
func (m *AuditQueueMonitor) Archivers(ctx context.Context) ([]ArchiverHeartbeat, error) {
	var keys []string
	iter := m.redis.Scan(ctx, 0, ArchiverHeartbeatPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, oops.Code("AUDIT_QUEUE_READ_FAILED").With("match", ArchiverHeartbeatPrefix+"*").Wrap(err)
	}

	out := make([]ArchiverHeartbeat, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := m.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, oops.Code("AUDIT_QUEUE_READ_FAILED").With("keys", len(keys)).Wrap(err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var hb ArchiverHeartbeat
		if err := json.Unmarshal([]byte(raw), &hb); err != nil {
			continue
		}
		out = append(out, hb)
	}
	slices.SortFunc(out, func(a, b ArchiverHeartbeat) int { return strings.Compare(a.ArchiverID, b.ArchiverID) })
	return out, nil
}

// Archiver returns one heartbeat, or ErrArchiverNotFound once it has expired.
func (m *AuditQueueMonitor) Archiver(ctx context.Context, id string) (*ArchiverHeartbeat, error) {
	raw, err := m.redis.Get(ctx, archiverHeartbeatKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrArchiverNotFound
	}
	if err != nil {
		return nil, oops.Code("AUDIT_QUEUE_READ_FAILED").With("archiver_id", id).Wrap(err)
	}
	var hb ArchiverHeartbeat
	if err := json.Unmarshal([]byte(raw), &hb); err != nil {
		return nil, oops.Code("AUDIT_QUEUE_READ_FAILED").With("archiver_id", id).Wrap(err)
	}
	return &hb, nil
}
