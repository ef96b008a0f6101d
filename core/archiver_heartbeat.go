package core

import (
	"context"
	"encoding/json"
	"time"
)

const (
	ArchiverHeartbeatPrefix = "audit-archiver:heartbeat:"
	ArchiverHeartbeatTTL    = 45 * time.Second
)

// Archiver states reported in heartbeats.
const (
	ArchiverStarting = "starting"
	ArchiverIdle     = "idle"
	ArchiverBusy     = "busy"
)

// ArchiverHeartbeat is the liveness record an archiver process keeps in Redis.
// It disappears on its own once the process stops refreshing it.
type ArchiverHeartbeat struct {
	ArchiverID     string    `json:"archiver_id"`
	ArchiveDir     string    `json:"archive_dir"`
	Slots          int       `json:"slots"`
	State          string    `json:"state"`
	InFlight       int       `json:"in_flight"`
	Archived       int64     `json:"archived"`
	Dropped        int64     `json:"dropped"`
	Failed         int64     `json:"failed"`
	LastError      string    `json:"last_error,omitempty"`
	LastArchivedAt time.Time `json:"last_archived_at,omitzero"`
	HeapBytes      uint64    `json:"heap_bytes"`
	Goroutines     int       `json:"goroutines"`
	StartedAt      time.Time `json:"started_at"`
	SeenAt         time.Time `json:"seen_at"`
}

func archiverHeartbeatKey(id string) string {
	return ArchiverHeartbeatPrefix + id
}

// publishHeartbeat stamps hb with now and stores it under the archiver's key.
func publishHeartbeat(ctx context.Context, client RedisClientRaw, hb ArchiverHeartbeat, now time.Time) error {
	hb.SeenAt = now.UTC()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, archiverHeartbeatKey(hb.ArchiverID), data, ArchiverHeartbeatTTL).Err()
}
