package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline outcomes used as the "outcome" label of PipelineRuns.
const (
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
)

var (
	// PipelineRuns counts finished pipeline executions by terminal outcome.
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Message pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	// PipelineStageDuration observes time spent in each pipeline stage.
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time spent per message pipeline stage.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// SafetyBlocks counts content-policy hits; direction is "inbound" or "outbound".
	SafetyBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_blocks_total",
			Help: "Messages replaced by a safe response.",
		},
		[]string{"direction"},
	)

	// LLMRequests counts completion calls by purpose (lore|reply) and outcome.
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Completion backend calls by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)

	// PlatformDeliveries counts outbound reply sends by outcome (ok|error).
	PlatformDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_deliveries_total",
			Help: "Replies sent to the platform by outcome.",
		},
		[]string{"outcome"},
	)

	// DispatchQueueDepth gauges tasks waiting for a worker.
	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Pipeline tasks waiting for a worker.",
		},
	)

	// DispatchDropped counts tasks rejected because the queue stayed full or closed.
	DispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_dropped_total",
			Help: "Pipeline tasks dropped before running.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PipelineRuns,
		PipelineStageDuration,
		SafetyBlocks,
		LLMRequests,
		PlatformDeliveries,
		DispatchQueueDepth,
		DispatchDropped,
	)
}

// ObserveStage records how long stage took since start.
func ObserveStage(stage string, start time.Time) {
	PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
