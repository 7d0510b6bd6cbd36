package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal   prometheus.Counter
	LoginFailureTotal   prometheus.Counter
	UserCreatedTotal    prometheus.Counter
	LinkSuccessTotal    prometheus.Counter
	LinkConflictTotal   prometheus.Counter
	UnlinkTotal         prometheus.Counter
	PersistRetryTotal   prometheus.Counter
	AuditAppendFailures prometheus.Counter
)

// Init initializes and registers the identity metrics. Call once at
// startup; a nil registerer skips registration (tests).
func Init(reg prometheus.Registerer) {
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_logins_success_total",
		Help: "Total number of successful logins across all providers.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_logins_failure_total",
		Help: "Total number of failed login attempts.",
	})
	UserCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_users_created_total",
		Help: "Total number of canonical accounts created.",
	})
	LinkSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_links_success_total",
		Help: "Total number of successful provider link operations.",
	})
	LinkConflictTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_links_conflict_total",
		Help: "Total number of link attempts rejected as conflicts.",
	})
	UnlinkTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_unlinks_total",
		Help: "Total number of successful provider unlink operations.",
	})
	PersistRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_persist_retries_total",
		Help: "Total number of optimistic-concurrency persist retries.",
	})
	AuditAppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_audit_append_failures_total",
		Help: "Total number of audit log append failures.",
	})

	if reg == nil {
		return
	}
	registerAll(reg)
}

// Inc increments a counter, tolerating uninitialized metrics so library
// consumers that never call Init still work.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func registerAll(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		LoginSuccessTotal, LoginFailureTotal, UserCreatedTotal,
		LinkSuccessTotal, LinkConflictTotal, UnlinkTotal,
		PersistRetryTotal, AuditAppendFailures,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register identity metric")
		}
	}
}
