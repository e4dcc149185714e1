package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	InboundProcessed  prometheus.Counter
	InboundDuplicates prometheus.Counter
	InboundRejected   prometheus.Counter
	CasesCreated      prometheus.Counter
	CasesClosed       prometheus.Counter
	CasesEscalated    prometheus.Counter
	AlertsSent        prometheus.Counter
	SweepRuns         prometheus.Counter
	SweepDuration     prometheus.Histogram
	NotifyFailures    prometheus.Counter
	OpenCases         prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		InboundProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_inbound_processed_total",
			Help: "Total number of inbound messages applied",
		}),
		InboundDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_inbound_duplicates_total",
			Help: "Total number of redelivered messages skipped by the dedupe ledger",
		}),
		InboundRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_inbound_rejected_total",
			Help: "Total number of inbound messages rejected by validation",
		}),
		CasesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_cases_created_total",
			Help: "Total number of cases created",
		}),
		CasesClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_cases_closed_total",
			Help: "Total number of cases closed by admins",
		}),
		CasesEscalated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_cases_escalated_total",
			Help: "Total number of cases escalated",
		}),
		AlertsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_escalation_alerts_total",
			Help: "Total number of escalation alerts that passed the alert gate",
		}),
		SweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_sweep_runs_total",
			Help: "Total number of escalation sweep executions",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "casetrack_sweep_duration_seconds",
			Help:    "Time spent walking open cases per sweep",
			Buckets: prometheus.DefBuckets,
		}),
		NotifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_notify_failures_total",
			Help: "Total number of notification deliveries that failed after retries",
		}),
		OpenCases: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "casetrack_open_cases",
			Help: "Number of currently open cases",
		}),
	}
}
