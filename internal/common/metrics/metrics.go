package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "rentbilling_"

// Result labels shared by callers.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	invoicesGenerated  *prometheus.CounterVec
	generationRuns     *prometheus.CounterVec
	generationLatency  prometheus.Histogram
	webhookEvents      *prometheus.CounterVec
	reconcileTotal     *prometheus.CounterVec
	reconcileLatency   *prometheus.HistogramVec
	payoutsScheduled   prometheus.Counter
	auditWriteFailures prometheus.Counter
)

// Init registers the billing metrics with the default registry. Until Init is
// called the Observe/Inc helpers are no-ops.
func Init() {
	registerOnce.Do(func() {
		invoicesGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoices_generated_total",
				Help: "Invoices handled by generation runs by result (created, skipped, failed)",
			},
			[]string{"result"},
		)
		generationRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "generation_runs_total",
				Help: "Invoice generation runs by result",
			},
			[]string{"result"},
		)
		generationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "generation_latency_seconds",
				Help:    "Invoice generation run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		webhookEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_events_total",
				Help: "Payment webhook deliveries by event type and HTTP status",
			},
			[]string{"event", "status"},
		)
		reconcileTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_total",
				Help: "Reconciliation attempts by outcome",
			},
			[]string{"outcome"},
		)
		reconcileLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reconcile_latency_seconds",
				Help:    "Reconciliation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		payoutsScheduled = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "payouts_scheduled_total",
				Help: "Owner payouts scheduled by reconciliation",
			},
		)
		auditWriteFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "audit_write_failures_total",
				Help: "Failed writes to the webhook audit log",
			},
		)

		prometheus.MustRegister(
			invoicesGenerated,
			generationRuns,
			generationLatency,
			webhookEvents,
			reconcileTotal,
			reconcileLatency,
			payoutsScheduled,
			auditWriteFailures,
		)
	})
}

// ObserveGeneration records the outcome of one generation run.
func ObserveGeneration(result string, created, skipped, failed int, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if generationRuns != nil {
		generationRuns.WithLabelValues(result).Inc()
	}
	if generationLatency != nil {
		generationLatency.Observe(duration.Seconds())
	}
	if invoicesGenerated != nil {
		invoicesGenerated.WithLabelValues("created").Add(float64(created))
		invoicesGenerated.WithLabelValues("skipped").Add(float64(skipped))
		invoicesGenerated.WithLabelValues("failed").Add(float64(failed))
	}
}

// IncWebhookEvent counts a webhook delivery by event type and response status.
func IncWebhookEvent(event, status string) {
	if event == "" {
		event = "unknown"
	}
	if webhookEvents != nil {
		webhookEvents.WithLabelValues(event, status).Inc()
	}
}

// ObserveReconcile records reconciliation latency and outcome.
func ObserveReconcile(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if reconcileTotal != nil {
		reconcileTotal.WithLabelValues(outcome).Inc()
	}
	if reconcileLatency != nil {
		reconcileLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncPayoutScheduled counts a newly scheduled payout.
func IncPayoutScheduled() {
	if payoutsScheduled != nil {
		payoutsScheduled.Inc()
	}
}

// IncAuditWriteFailure counts a failed audit log write.
func IncAuditWriteFailure() {
	if auditWriteFailures != nil {
		auditWriteFailures.Inc()
	}
}
