package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/querydesk/querydesk/internal/dataset"
)

var (
	pipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydesk_pipeline_outcomes_total",
			Help: "Total number of pipeline turns by dataset and outcome kind.",
		},
		[]string{"dataset", "kind"},
	)
	pipelineTurnLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querydesk_pipeline_turn_latency_ms",
			Help:    "End-to-end pipeline turn latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000, 40000},
		},
		[]string{"dataset"},
	)
	completionPingFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querydesk_completion_ping_failures_total",
			Help: "Total number of failed completion endpoint liveness pings.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineOutcomesTotal,
		pipelineTurnLatencyMs,
		completionPingFailuresTotal,
	)
}

// ObservePipelineOutcome records one finished turn. Dataset ids outside the
// catalog share the "unknown" label.
func ObservePipelineOutcome(datasetID dataset.ID, kind string, elapsed time.Duration) {
	label := datasetLabel(datasetID)
	pipelineOutcomesTotal.WithLabelValues(label, kind).Inc()
	pipelineTurnLatencyMs.WithLabelValues(label).Observe(float64(elapsed.Milliseconds()))
}

func datasetLabel(id dataset.ID) string {
	if _, ok := dataset.Lookup(id); ok {
		return string(id)
	}
	return "unknown"
}

func IncrementCompletionPingFailure() {
	completionPingFailuresTotal.Inc()
}
