package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	ackTimeout          = 2 * time.Second
	defaultIdleBackoff  = 100 * time.Millisecond
	defaultErrorBackoff = time.Second
)

// AuditRecordSink persists one serialized audit record.
type AuditRecordSink interface {
	Process(ctx context.Context, payload string) error
}

// ArchiverPool drains the audit queue into a sink with a fixed number of
// slots, and reclaims records whose visibility timeout ran out.
type ArchiverPool struct {
	Queue           AuditQueue
	Sink            AuditRecordSink
	Tracker         *ArchiverTracker
	Logger          *slog.Logger
	Slots           int
	Visibility      time.Duration
	ReclaimInterval time.Duration
	IdleBackoff     time.Duration
	ErrorBackoff    time.Duration
}

// Run blocks until ctx is done and every slot has returned.
func (p ArchiverPool) Run(ctx context.Context) {
	p = p.withDefaults()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()
	for i := 1; i <= p.Slots; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.slotLoop(ctx, p.Logger.With("slot", slot))
		}(i)
	}
	wg.Wait()
}

func (p ArchiverPool) withDefaults() ArchiverPool {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Slots <= 0 {
		p.Slots = 1
	}
	if p.Visibility <= 0 {
		p.Visibility = DefaultVisibilityTimeout
	}
	if p.ReclaimInterval <= 0 {
		p.ReclaimInterval = DefaultReclaimInterval
	}
	if p.IdleBackoff <= 0 {
		p.IdleBackoff = defaultIdleBackoff
	}
	if p.ErrorBackoff <= 0 {
		p.ErrorBackoff = defaultErrorBackoff
	}
	if p.Tracker == nil {
		p.Tracker = NewArchiverTracker("local", "", p.Slots)
	}
	return p
}

func (p ArchiverPool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.Queue.Reclaim(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					p.Logger.WarnContext(ctx, "audit reclaim failed", "error", err)
				}
				continue
			}
			if n > 0 {
				p.Logger.InfoContext(ctx, "reclaimed expired audit records", "count", n)
			}
		}
	}
}

func (p ArchiverPool) slotLoop(ctx context.Context, logger *slog.Logger) {
	for {
		payload, err := p.Queue.Reserve(ctx, p.Visibility)
		switch {
		case err == nil:
			p.handle(ctx, logger, payload)
			continue
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrAuditQueueEmpty):
			if !sleepCtx(ctx, p.IdleBackoff) {
				return
			}
		default:
			logger.WarnContext(ctx, "audit reserve failed", "error", err)
			if !sleepCtx(ctx, p.ErrorBackoff) {
				return
			}
		}
	}
}

// handle archives one payload. Failed writes are left unacked for reclaim;
// malformed payloads are acked so they are not retried forever.
func (p ArchiverPool) handle(ctx context.Context, logger *slog.Logger, payload string) {
	p.Tracker.Begin()
	err := p.Sink.Process(ctx, payload)
	p.Tracker.Done(err)

	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedAuditRecord):
		logger.WarnContext(ctx, "dropping malformed audit record", "error", err)
	default:
		logger.ErrorContext(ctx, "audit archive write failed", "error", err)
		return
	}

	// an archived record must not be redelivered just because shutdown began
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := p.Queue.Ack(ackCtx, payload); err != nil {
		logger.WarnContext(ctx, "audit ack failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
