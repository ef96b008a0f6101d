package core

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

const heartbeatInterval = 5 * time.Second

// ArchiverTracker keeps the counters of one archiver process. Slots report
// through Begin and Done; Run publishes the result until its context ends.
type ArchiverTracker struct {
	mu       sync.Mutex
	hb       ArchiverHeartbeat
	interval time.Duration
	now      func() time.Time
}

func NewArchiverTracker(archiverID, archiveDir string, slots int) *ArchiverTracker {
	now := time.Now().UTC()
	return &ArchiverTracker{
		hb: ArchiverHeartbeat{
			ArchiverID: archiverID,
			ArchiveDir: archiveDir,
			Slots:      slots,
			State:      ArchiverStarting,
			StartedAt:  now,
		},
		interval: heartbeatInterval,
		now:      time.Now,
	}
}

// Run publishes immediately and then every interval. Publish failures are
// logged and retried on the next tick.
func (t *ArchiverTracker) Run(ctx context.Context, client RedisClientRaw, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	t.publish(ctx, client, logger)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.publish(ctx, client, logger)
		}
	}
}

// Begin marks one more record in flight.
func (t *ArchiverTracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hb.InFlight++
	t.hb.State = ArchiverBusy
}

// Done settles a record: nil counts as archived, a malformed record as
// dropped, anything else as failed.
func (t *ArchiverTracker) Done(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hb.InFlight > 0 {
		t.hb.InFlight--
	}
	switch {
	case err == nil:
		t.hb.Archived++
		t.hb.LastArchivedAt = t.now().UTC()
	case errors.Is(err, ErrMalformedAuditRecord):
		t.hb.Dropped++
		t.hb.LastError = err.Error()
	default:
		t.hb.Failed++
		t.hb.LastError = err.Error()
	}
	if t.hb.InFlight == 0 {
		t.hb.State = ArchiverIdle
	}
}

// Snapshot returns a copy of the current heartbeat.
func (t *ArchiverTracker) Snapshot() ArchiverHeartbeat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hb
}

func (t *ArchiverTracker) publish(ctx context.Context, client RedisClientRaw, logger *slog.Logger) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	t.mu.Lock()
	if t.hb.State == ArchiverStarting {
		t.hb.State = ArchiverIdle
	}
	t.hb.HeapBytes = ms.HeapAlloc
	t.hb.Goroutines = runtime.NumGoroutine()
	hb := t.hb
	t.mu.Unlock()

	if err := publishHeartbeat(ctx, client, hb, t.now()); err != nil && ctx.Err() == nil {
		logger.WarnContext(ctx, "heartbeat publish failed", "archiver_id", hb.ArchiverID, "error", err)
	}
}
