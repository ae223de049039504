package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow tracking metrics
	WorkflowsTracked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_workflows_tracked_total",
			Help: "Total number of workflows registered for tracking",
		},
	)

	WorkflowsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_workflows_finished_total",
			Help: "Total number of workflows that reached a terminal state",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkflowsCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_workflows_cleaned_total",
			Help: "Total number of finished workflows removed by cleanup sweeps",
		},
	)

	// Agent metrics
	AgentsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_agents_finished_total",
			Help: "Total number of agent executions that finished",
		},
		[]string{"state"},
	)

	AgentExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_agent_execution_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
	)

	// Streaming metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_ws_connections_active",
			Help: "Number of live WebSocket connections",
		},
	)

	BroadcastsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_broadcasts_sent_total",
			Help: "Total number of messages fanned out to watchers",
		},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_broadcasts_dropped_total",
			Help: "Total number of sockets pruned after a failed send",
		},
	)

	SSEStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_sse_streams_active",
			Help: "Number of live SSE streams",
		},
	)

	// Mirror / archive metrics
	SnapshotMirrorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_snapshot_mirror_errors_total",
			Help: "Total number of failed snapshot mirror writes",
		},
	)

	WorkflowsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_workflows_archived_total",
			Help: "Total number of workflow summaries persisted",
		},
		[]string{"status"},
	)
)

// RecordAgentFinished records counters for an agent that reached a
// terminal state.
func RecordAgentFinished(state string, durationSeconds float64) {
	AgentsFinished.WithLabelValues(state).Inc()
	if durationSeconds > 0 {
		AgentExecutionDuration.Observe(durationSeconds)
	}
}
