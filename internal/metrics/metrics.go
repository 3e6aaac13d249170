// Package metrics holds the Prometheus registry and collectors shared by Kioku components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// RunsTotal counts workflow runs reaching a terminal or retry state.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_workflow_runs_total",
			Help: "Workflow runs by workflow and outcome (completed, errored, failed)",
		},
		[]string{"workflow", "outcome"},
	)
	// StepsTotal counts step executions. Replayed steps are counted as skipped.
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_workflow_steps_total",
			Help: "Workflow step executions by step and outcome (completed, failed, skipped)",
		},
		[]string{"step", "outcome"},
	)
	// StepDuration observes how long step actions take.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kioku_workflow_step_duration_seconds",
			Help:    "Duration of workflow step actions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"step"},
	)
	// QueriesTotal counts retrieval pipeline invocations by outcome.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_queries_total",
			Help: "Retrieval queries by outcome (answered, generation_failed, error)",
		},
		[]string{"outcome"},
	)
	// ContextNotes observes how many notes were placed in the prompt context.
	ContextNotes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kioku_query_context_notes",
			Help:    "Number of notes included in the prompt context per query",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)
	// PartialDeletes counts note deletions whose vector could not be removed.
	PartialDeletes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kioku_partial_deletes_total",
			Help: "Note deletions that left an orphaned vector behind",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RunsTotal, StepsTotal, StepDuration, QueriesTotal, ContextNotes, PartialDeletes,
	)
}

// Handler returns the HTTP handler exposing Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
