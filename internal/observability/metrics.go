package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rentiful"

// Metrics holds the application's Prometheus collectors on a private
// registry. Recording methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	Verifications      *prometheus.CounterVec
	GuardRejections    *prometheus.CounterVec
	Provisioning *prometheus.CounterVec
	LocalAuth          *prometheus.CounterVec
	AuditDropped       prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_verifications_total",
				Help:      "Credential verification attempts by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		GuardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_rejections_total",
				Help:      "Requests rejected by the access guard",
			},
			[]string{"reason"},
		),
		Provisioning: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profiles_provisioned_total",
				Help:      "Profiles created on first access, by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		LocalAuth: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "local_auth_total",
				Help:      "Local register and login attempts",
			},
			[]string{"action", "outcome"},
		),
		AuditDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_dropped_total",
				Help:      "Auth audit events dropped because the buffer was full",
			},
		),
	}
}

// ObserveVerification implements identity.Observer
func (m *Metrics) ObserveVerification(strategy, outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(strategy, outcome).Inc()
}

// RecordGuardRejection counts a guard rejection
func (m *Metrics) RecordGuardRejection(reason string) {
	if m == nil {
		return
	}
	m.GuardRejections.WithLabelValues(reason).Inc()
}

// RecordProvisioning counts a first-access provisioning attempt
func (m *Metrics) RecordProvisioning(role, outcome string) {
	if m == nil {
		return
	}
	m.Provisioning.WithLabelValues(role, outcome).Inc()
}

// RecordLocalAuth counts a register or login attempt
func (m *Metrics) RecordLocalAuth(action, outcome string) {
	if m == nil {
		return
	}
	m.LocalAuth.WithLabelValues(action, outcome).Inc()
}

// RecordAuditDropped counts an audit event lost to back-pressure
func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
