package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/tandem/internal/router"
	"github.com/linnemanlabs/tandem/internal/telemetry"
)

// Metrics holds Prometheus metrics for the gateway.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	ShadowSampledTotal   prometheus.Counter
	ShadowCandidates     prometheus.Gauge
	ComparisonsTotal     *prometheus.CounterVec
	BackendCallDuration  *prometheus.HistogramVec
	TelemetrySubmissions *prometheus.CounterVec
	AuditAppendsTotal    *prometheus.CounterVec
	AuditRecordsTotal    prometheus.Counter
	DBQueryDuration      *prometheus.HistogramVec
}

// NewMetrics registers and returns gateway metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_inference_requests_total",
			Help: "Total inference requests by tenant and skill.",
		}, []string{"tenant", "skill"}),
		ShadowSampledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tandem_shadow_candidates_sampled_total",
			Help: "Total shadow candidates sampled for dispatch.",
		}),
		ShadowCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_shadow_candidates",
			Help: "Shadow candidates chosen for the most recent request.",
		}),
		ComparisonsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_shadow_comparisons_total",
			Help: "Shadow comparisons by selected policy, shadow policy and outcome.",
		}, []string{"selected_policy", "shadow_policy", "match"}),
		BackendCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tandem_backend_call_duration_seconds",
			Help:    "Duration of backend calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"policy_id", "role", "outcome"}),
		TelemetrySubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_telemetry_submissions_total",
			Help: "Output event submissions by role and outcome.",
		}, []string{"role", "outcome"}),
		AuditAppendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_audit_appends_total",
			Help: "Audit log append batches by outcome.",
		}, []string{"outcome"}),
		AuditRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tandem_audit_records_total",
			Help: "Audit records written.",
		}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tandem_db_query_duration_seconds",
			Help:    "Duration of catalog database queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"method", "route", "outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.ShadowSampledTotal,
		m.ShadowCandidates,
		m.ComparisonsTotal,
		m.BackendCallDuration,
		m.TelemetrySubmissions,
		m.AuditAppendsTotal,
		m.AuditRecordsTotal,
		m.DBQueryDuration,
	)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// observeDecision records a routing decision.
func (m *Metrics) observeDecision(tenant, skill string, shadows int) {
	m.RequestsTotal.WithLabelValues(tenant, skill).Inc()
	m.ShadowCandidates.Set(float64(shadows))
	if shadows > 0 {
		m.ShadowSampledTotal.Add(float64(shadows))
	}
}

// DispatchHooks returns router hooks that time backend calls.
func (m *Metrics) DispatchHooks() router.DispatchHooks {
	return router.DispatchHooks{
		OnCall: func(policyID string, role router.Role, seconds float64, err error) {
			m.BackendCallDuration.WithLabelValues(policyID, string(role), outcome(err)).Observe(seconds)
		},
	}
}

// TelemetryHooks returns emitter hooks for submissions, comparisons and audit
// appends.
func (m *Metrics) TelemetryHooks() telemetry.Hooks {
	return telemetry.Hooks{
		OnSubmit: func(role router.Role, err error) {
			m.TelemetrySubmissions.WithLabelValues(string(role), outcome(err)).Inc()
		},
		OnComparison: func(selected, shadow string, match bool) {
			m.ComparisonsTotal.WithLabelValues(selected, shadow, strconv.FormatBool(match)).Inc()
		},
		OnAudit: func(records int, err error) {
			m.AuditAppendsTotal.WithLabelValues(outcome(err)).Inc()
			if err == nil {
				m.AuditRecordsTotal.Add(float64(records))
			}
		},
	}
}

// ObserveQuery implements postgres.QueryObserver.
func (m *Metrics) ObserveQuery(_ context.Context, method, route, result string, dur time.Duration) {
	m.DBQueryDuration.WithLabelValues(method, route, result).Observe(dur.Seconds())
}
