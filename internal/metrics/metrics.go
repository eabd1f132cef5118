// Package metrics exposes security signals as Prometheus metrics.
//
// Collector satisfies the observer interfaces of the audit, security,
// session, invitation and notify packages so each component reports
// without importing Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neerthuli"

// Collector holds the service counters.
type Collector struct {
	loginAttempts  *prometheus.CounterVec
	lockouts       prometheus.Counter
	invitations    *prometheus.CounterVec
	sessionsOpened prometheus.Counter
	sessionsEnded  prometheus.Counter
	sweepRemoved   *prometheus.CounterVec
	sweepFailures  *prometheus.CounterVec
	auditFailures  *prometheus.CounterVec
	auditDropped   *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts that crossed the lockout threshold.",
		}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_total",
			Help:      "Invitation lifecycle events.",
		}, []string{"event"}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Sessions terminated by logout or administrative revoke.",
		}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Rows removed or expired by retention sweeps.",
		}, []string{"job"}),
		sweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Retention sweep runs that failed.",
		}, []string{"job"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit events that could not be persisted.",
		}, []string{"type"}),
		auditDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit events dropped because the buffer was full.",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification outcomes by kind.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.lockouts,
		c.invitations,
		c.sessionsOpened,
		c.sessionsEnded,
		c.sweepRemoved,
		c.sweepFailures,
		c.auditFailures,
		c.auditDropped,
		c.notifications,
	)
	return c
}

// LoginAttempt implements security.Observer.
func (c *Collector) LoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.loginAttempts.WithLabelValues(result).Inc()
}

// AccountLocked implements security.Observer.
func (c *Collector) AccountLocked() { c.lockouts.Inc() }

// InvitationEvent implements invitation.Observer.
func (c *Collector) InvitationEvent(event string) {
	c.invitations.WithLabelValues(event).Inc()
}

// SessionCreated implements session.Observer.
func (c *Collector) SessionCreated() { c.sessionsOpened.Inc() }

// SessionsRevoked implements session.Observer.
func (c *Collector) SessionsRevoked(n int) {
	if n > 0 {
		c.sessionsEnded.Add(float64(n))
	}
}

// SweepCompleted records a finished sweep job.
func (c *Collector) SweepCompleted(job string, removed int64) {
	c.sweepRemoved.WithLabelValues(job).Add(float64(removed))
}

// SweepFailed records a failed sweep job.
func (c *Collector) SweepFailed(job string) {
	c.sweepFailures.WithLabelValues(job).Inc()
}

// AuditWriteFailed implements audit.Observer.
func (c *Collector) AuditWriteFailed(eventType string) {
	c.auditFailures.WithLabelValues(eventType).Inc()
}

// AuditDropped implements audit.Observer.
func (c *Collector) AuditDropped(eventType string) {
	c.auditDropped.WithLabelValues(eventType).Inc()
}

// NotificationDelivered implements notify.Observer.
func (c *Collector) NotificationDelivered(kind string, ok bool) {
	result := "failed"
	if ok {
		result = "delivered"
	}
	c.notifications.WithLabelValues(kind, result).Inc()
}

// NotificationDropped implements notify.Observer.
func (c *Collector) NotificationDropped(kind string) {
	c.notifications.WithLabelValues(kind, "dropped").Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
