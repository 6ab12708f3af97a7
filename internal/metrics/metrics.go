// Package metrics provides Prometheus instrumentation for the lifecycle layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auth_lifecycle"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing,
// so components can take it as an optional dependency.
type Metrics struct {
	SessionsCreated      *prometheus.CounterVec
	SessionsDisplaced    prometheus.Counter
	SessionValidations   *prometheus.CounterVec
	RefreshTotal         *prometheus.CounterVec
	RefreshEndpointFails *prometheus.CounterVec
	RefreshDuration      prometheus.Histogram
	CredentialVerify     *prometheus.CounterVec
	CredentialSync       *prometheus.CounterVec
	MirrorWriteFailures  prometheus.Counter
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SessionsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Sessions created, by creation mode",
			},
			[]string{"mode"}, // mode=create/force/exclusive
		),
		SessionsDisplaced: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_displaced_total",
				Help:      "Sessions invalidated because a newer login replaced them",
			},
		),
		SessionValidations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_validations_total",
				Help:      "Session validations, by result",
			},
			[]string{"result"}, // result=valid/invalid/error
		),
		RefreshTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Token refresh outcomes",
			},
			[]string{"result"}, // result=success/transient/terminal/storage/throttled
		),
		RefreshEndpointFails: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_endpoint_failures_total",
				Help:      "Failed calls to individual refresh endpoints",
			},
			[]string{"endpoint"},
		),
		RefreshDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_refresh_duration_seconds",
				Help:      "Wall time of a deduplicated refresh, including retries",
				Buckets:   prometheus.DefBuckets,
			},
		),
		CredentialVerify: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_verify_total",
				Help:      "Credential verifications, by match kind",
			},
			[]string{"match"},
		),
		CredentialSync: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_sync_items_total",
				Help:      "Credential sync item outcomes",
			},
			[]string{"action"},
		),
		MirrorWriteFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_mirror_write_failures_total",
				Help:      "Best-effort mirror writes that failed or timed out",
			},
		),
	}
}

func (m *Metrics) SessionCreated(mode string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(mode).Inc()
}

func (m *Metrics) SessionDisplaced() {
	if m == nil {
		return
	}
	m.SessionsDisplaced.Inc()
}

func (m *Metrics) SessionValidated(result string) {
	if m == nil {
		return
	}
	m.SessionValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshEndpointFailed(endpoint string) {
	if m == nil {
		return
	}
	m.RefreshEndpointFails.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ObserveRefresh(seconds float64) {
	if m == nil {
		return
	}
	m.RefreshDuration.Observe(seconds)
}

func (m *Metrics) CredentialVerified(match string) {
	if m == nil {
		return
	}
	m.CredentialVerify.WithLabelValues(match).Inc()
}

func (m *Metrics) CredentialSynced(action string) {
	if m == nil {
		return
	}
	m.CredentialSync.WithLabelValues(action).Inc()
}

func (m *Metrics) MirrorWriteFailed() {
	if m == nil {
		return
	}
	m.MirrorWriteFailures.Inc()
}
