package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrMalformedAuditRecord marks queue payloads that can never be archived.
var ErrMalformedAuditRecord = errors.New("malformed audit record")

// AuditArchiver appends queued audit records to daily JSONL files.
// Process is safe for concurrent use.
type AuditArchiver struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

func NewAuditArchiver(dir string) (*AuditArchiver, error) {
	if dir == "" {
		return nil, errors.New("audit archive dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit archive dir %s: %w", dir, err)
	}
	return &AuditArchiver{dir: dir, now: time.Now}, nil
}

// Process decodes one queue payload and writes it as a single line.
// Malformed payloads return ErrMalformedAuditRecord and should be dropped.
func (a *AuditArchiver) Process(ctx context.Context, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rec AuditRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAuditRecord, err)
	}
	if rec.Method == "" || rec.Path == "" {
		return fmt.Errorf("%w: missing method or path", ErrMalformedAuditRecord)
	}
	at := rec.OccurredAt
	if at.IsZero() {
		at = a.now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := a.fileForLocked(at.UTC())
	if err != nil {
		return err
	}
	_, err = f.Write(line)
	return err
}

// Path returns the archive file used for records occurring at t.
func (a *AuditArchiver) Path(t time.Time) string {
	return filepath.Join(a.dir, "audit-"+t.UTC().Format("2006-01-02")+".jsonl")
}

func (a *AuditArchiver) fileForLocked(t time.Time) (*os.File, error) {
	day := t.Format("2006-01-02")
	if a.file != nil && a.day == day {
		return a.file, nil
	}
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	f, err := os.OpenFile(a.Path(t), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	a.file, a.day = f, day
	return f, nil
}

// Close releases the open archive file.
func (a *AuditArchiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
