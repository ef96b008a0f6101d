package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const auditPublishTimeout = 2 * time.Second

// AuditRecord is what the interceptor observed for one request. It lives for
// the duration of the request and is only handed to the log and publisher.
type AuditRecord struct {
	RequestID    string    `json:"request_id"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	RequestBody  string    `json:"request_body"`
	Status       int       `json:"status,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	Failure      string    `json:"failure,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AuditPublisher ships completed records somewhere durable. Errors never fail the request.
type AuditPublisher interface {
	Publish(ctx context.Context, rec AuditRecord) error
}

// AuditOptions configures AuditInterceptor.
type AuditOptions struct {
	Logger           *slog.Logger
	ExcludedPrefixes []string
	Publisher        AuditPublisher
}

var auditBufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// AuditInterceptor logs every request and response body that passes through it.
//
// The response is written into a request-owned buffer, logged when its content
// type is textual, then copied once to the real writer. Handler failures (panics
// or errors attached with c.Error) are logged and left to propagate: the buffer
// is dropped and the outer error handling writes the response instead.
// Requests under an excluded prefix are passed through untouched.
func AuditInterceptor(opts AuditOptions) gin.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefixes := cleanPrefixes(opts.ExcludedPrefixes)
	publisher := opts.Publisher

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if auditExempt(path, prefixes) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		rec := AuditRecord{
			RequestID:  requestIDFrom(c),
			Method:     c.Request.Method,
			Path:       path,
			OccurredAt: time.Now().UTC(),
		}
		reqLog := logger.With("request_id", rec.RequestID)

		body, readErr := bufferRequestBody(c.Request)
		rec.RequestBody = string(body)
		if readErr != nil {
			reqLog.WarnContext(ctx, "request body read failed", "method", rec.Method, "path", rec.Path, "error", readErr)
		}
		reqLog.InfoContext(ctx, "incoming request", "method", rec.Method, "path", rec.Path, "body", rec.RequestBody)

		buf := auditBufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		original := c.Writer
		c.Writer = &captureWriter{ResponseWriter: original, body: buf}

		done := false
		defer func() {
			c.Writer = original
			buf.Reset()
			auditBufferPool.Put(buf)
			if done {
				return
			}
			if r := recover(); r != nil {
				rec.Failure = fmt.Sprint(r)
				reqLog.ErrorContext(ctx, "unhandled failure while executing request",
					"method", rec.Method, "path", rec.Path, "panic", r, "stack", string(debug.Stack()))
				recordAudited(rec.Method, http.StatusInternalServerError)
				publishAudit(ctx, reqLog, publisher, rec)
				panic(r)
			}
		}()

		before := len(c.Errors)
		c.Next()

		if len(c.Errors) > before {
			failed := c.Errors[before:]
			rec.Failure = failed.String()
			reqLog.ErrorContext(ctx, "request failed",
				"method", rec.Method, "path", rec.Path, "kind", KindOf(failed.Last().Err), "errors", failed.Errors())
			done = true
			// answered later as a 500 by the error translator
			recordAudited(rec.Method, http.StatusInternalServerError)
			publishAudit(ctx, reqLog, publisher, rec)
			return
		}

		rec.Status = original.Status()
		rec.ContentType = original.Header().Get("Content-Type")
		if textualContentType(rec.ContentType) {
			rec.ResponseBody = buf.String()
			reqLog.InfoContext(ctx, "outgoing response", "status", rec.Status, "body", rec.ResponseBody)
		}

		if buf.Len() == 0 {
			original.WriteHeaderNow()
		} else if _, err := original.Write(buf.Bytes()); err != nil {
			reqLog.WarnContext(ctx, "response copy failed", "status", rec.Status, "error", err)
		}
		done = true
		recordAudited(rec.Method, rec.Status)
		publishAudit(ctx, reqLog, publisher, rec)
	}
}

func publishAudit(ctx context.Context, reqLog *slog.Logger, publisher AuditPublisher, rec AuditRecord) {
	if publisher == nil {
		return
	}
	// the client may already be gone; the record should still ship
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPublishTimeout)
	defer cancel()
	if err := publisher.Publish(ctx, rec); err != nil {
		AuditPublishFailures.Inc()
		reqLog.WarnContext(ctx, "audit publish failed", "error", err)
	}
}

// bufferRequestBody reads the body once and replaces it with a reader over the
// same bytes. A read failure is replayed to the handler after the bytes that arrived.
func bufferRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), failingReader{err: err}))
		return data, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func textualContentType(ct string) bool {
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "text/plain")
}

// auditExempt matches whole path segments: "/swagger" covers "/swagger" and
// "/swagger/index.html" but not "/swaggerish".
func auditExempt(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func cleanPrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out = append(out, p)
	}
	return out
}

// captureWriter diverts body bytes into an owned buffer. Status and headers
// still go through the wrapped writer.
type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *captureWriter) Written() bool {
	return w.body.Len() > 0 || w.ResponseWriter.Written()
}

func (w *captureWriter) Size() int {
	return w.body.Len()
}

// Flush is a no-op: nothing reaches the client until the handler returns.
func (w *captureWriter) Flush() {}
