package core

import (
	"context"
	"runtime"
	"time"
)

// SystemStatus is the admin snapshot of the API process and the audit queue.
type SystemStatus struct {
	UptimeSeconds int64             `json:"uptime_seconds"`
	Goroutines    int               `json:"goroutines"`
	HeapBytes     uint64            `json:"heap_bytes"`
	AuditQueue    AuditQueueSummary `json:"audit_queue"`
}

type AuditQueueSummary struct {
	Enabled       bool  `json:"enabled"`
	Reachable     bool  `json:"reachable"`
	Pending       int64 `json:"pending"`
	Reserved      int64 `json:"reserved"`
	Overdue       int64 `json:"overdue"`
	Archivers     int   `json:"archivers"`
	BusyArchivers int   `json:"busy_archivers"`
}

// CollectSystemStatus never fails: when Redis cannot be read the queue
// section reports reachable=false with zero counts.
func CollectSystemStatus(ctx context.Context, monitor *AuditQueueMonitor, startedAt time.Time) SystemStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st := SystemStatus{
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  ms.HeapAlloc,
	}
	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	if monitor == nil {
		return st
	}

	st.AuditQueue.Enabled = true
	overview, err := monitor.Overview(ctx)
	if err != nil {
		return st
	}
	st.AuditQueue.Reachable = true
	st.AuditQueue.Pending = overview.Depth.Pending
	st.AuditQueue.Reserved = overview.Depth.Reserved
	st.AuditQueue.Overdue = overview.Depth.Overdue
	st.AuditQueue.Archivers = len(overview.Archivers)
	for _, a := range overview.Archivers {
		if a.State == ArchiverBusy {
			st.AuditQueue.BusyArchivers++
		}
	}
	return st
}
