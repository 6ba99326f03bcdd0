package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that ran to a recorded terminal state.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles that aborted into error_recorded.
	OutcomeError = "error"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "cycles_total",
			Help:      "Total number of remediation cycles handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triage_engine",
			Name:      "cycle_seconds",
			Help:      "Remediation cycle latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "classifications_total",
			Help:      "Total classifications produced, partitioned by failure class.",
		},
		[]string{"class"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "actions_total",
			Help:      "Total actions executed, partitioned by kind and status.",
		},
		[]string{"kind", "status"},
	)

	ledgerAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "ledger_append_failures_total",
			Help:      "Total audit ledger append failures.",
		},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "escalations_total",
			Help:      "Total incidents escalated to a human.",
		},
	)
)

// Register attaches triage-engine collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		classificationsTotal,
		actionsTotal,
		ledgerAppendFailuresTotal,
		escalationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a remediation cycle duration and outcome label.
// Labels outside the known set are dropped rather than miscounted.
func ObserveCycle(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeError:
	default:
		return
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveClassification counts a produced failure class.
func ObserveClassification(class string) {
	classificationsTotal.WithLabelValues(class).Inc()
}

// ObserveAction counts an executed action by kind and status.
func ObserveAction(kind, status string) {
	actionsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveLedgerAppendFailure counts a failed audit append.
func ObserveLedgerAppendFailure() {
	ledgerAppendFailuresTotal.Inc()
}

// ObserveEscalation counts an incident handed to a human.
func ObserveEscalation() {
	escalationsTotal.Inc()
}
