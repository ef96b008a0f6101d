package core

import "time"

// Redis keys and timings of the audit record queue.
const (
	AuditPendingKey    = "audit:pending"
	AuditProcessingKey = "audit:processing"

	// DefaultVisibilityTimeout is how long an archiver may hold a record before it is reclaimed.
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultReclaimInterval   = 15 * time.Second

	reclaimBatchSize = 500
)
