package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecard_transitions_total",
			Help: "Total number of committed ledger transitions",
		},
		[]string{"entity", "event"},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecard_verifications_total",
			Help: "Total number of crossing verifications",
		},
		[]string{"result", "reason"},
	)

	ReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecard_reconciled_total",
			Help: "Total number of entities repaired by reconciliation",
		},
		[]string{"kind"},
	)

	SinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecard_event_sink_failures_total",
			Help: "Total number of event deliveries a sink failed to handle",
		},
		[]string{"sink"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordTransition(entity, event string) {
	TransitionsTotal.WithLabelValues(entity, event).Inc()
}

func RecordVerification(result, reason string) {
	VerificationsTotal.WithLabelValues(result, reason).Inc()
}

func RecordReconciled(kind string, n int) {
	if n > 0 {
		ReconciledTotal.WithLabelValues(kind).Add(float64(n))
	}
}

func RecordSinkFailure(sink string) {
	SinkFailuresTotal.WithLabelValues(sink).Inc()
}
