package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Encounter lifecycle
	VisitTransitions       *prometheus.CounterVec
	ConsultationsCompleted *prometheus.CounterVec
	ConsultationLatency    prometheus.Histogram
	Conflicts              *prometheus.CounterVec
	PaymentsReceived       prometheus.Counter
	LedgerBackfilled       prometheus.Counter
	CiphertextNormalized   prometheus.Counter

	// Field cipher read fallbacks
	CipherPlaintextReads       prometheus.Counter
	CipherDoubleEncryptedReads prometheus.Counter

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
	RateLimited  prometheus.Counter

	// Redis metrics
	RedisOperations *prometheus.CounterVec
	RedisLatency    *prometheus.HistogramVec
}

// NewRegistry returns the registry served on /metrics, with the Go runtime
// and process collectors already attached. It is the only gatherer exposed.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics registers every collector on reg. Tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VisitTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visit_transitions_total",
			Help:      "Visit status transitions by target status and outcome",
		}, []string{"to", "outcome"}),
		ConsultationsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consultations_completed_total",
			Help:      "Completed consultations by admission decision",
		}, []string{"decision"}),
		ConsultationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consultation_completion_duration_seconds",
			Help:      "Time spent in the consultation completion transaction",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Operations rejected because the state had already changed",
		}, []string{"operation"}),
		PaymentsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_received_total",
			Help:      "Ledger entries marked paid",
		}),
		LedgerBackfilled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_backfilled_entries_total",
			Help:      "Pending ledger entries created by reconciliation",
		}),
		CiphertextNormalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ciphertext_normalized_fields_total",
			Help:      "Encrypted fields rewritten to the single-pass format",
		}),
		CipherPlaintextReads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "field_cipher",
			Name:      "plaintext_reads_total",
			Help:      "Sensitive fields read back as legacy plaintext",
		}),
		CipherDoubleEncryptedReads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "field_cipher",
			Name:      "double_encrypted_reads_total",
			Help:      "Sensitive fields that needed two decryption passes",
		}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the per-client limiter",
		}),

		RedisOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
		RedisLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redis_operation_duration_seconds",
			Help:      "Duration of Redis operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"operation"}),
	}
}

// NewTestMetrics returns metrics bound to a throwaway registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry(), "test")
}
