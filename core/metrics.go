package core

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for login and registration counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// LoginAttempts counts logins by outcome and taxonomy kind.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hrleave_login_attempts_total",
		Help: "Total number of login attempts",
	},
	[]string{"outcome", "kind"},
)

// Registrations counts registrations by outcome and taxonomy kind.
var Registrations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hrleave_registrations_total",
		Help: "Total number of registration attempts",
	},
	[]string{"outcome", "kind"},
)

// AuditedRequests counts requests seen by the audit interceptor.
var AuditedRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hrleave_audited_requests_total",
		Help: "Total number of requests captured by the audit interceptor",
	},
	[]string{"method", "status_class"},
)

// AuditPublishFailures counts audit records that could not be queued.
var AuditPublishFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "hrleave_audit_publish_failures_total",
		Help: "Total number of audit records that failed to publish",
	},
)

// RegisterMetrics registers the package collectors with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(Registrations)
	reg.MustRegister(AuditedRequests)
	reg.MustRegister(AuditPublishFailures)
}

func recordLogin(err error) {
	LoginAttempts.WithLabelValues(outcomeOf(err), string(KindOf(err))).Inc()
}

func recordRegistration(err error) {
	Registrations.WithLabelValues(outcomeOf(err), string(KindOf(err))).Inc()
}

func recordAudited(method string, status int) {
	AuditedRequests.WithLabelValues(method, strconv.Itoa(status/100)+"xx").Inc()
}

func outcomeOf(err error) string {
	switch KindOf(err) {
	case KindNone:
		return OutcomeSuccess
	case KindDownstreamFailure:
		return OutcomeError
	default:
		return OutcomeRejected
	}
}
