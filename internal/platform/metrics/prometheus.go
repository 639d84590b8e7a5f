package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the execution core
type Metrics struct {
	// Program execution metrics
	ExecutionsStarted   *prometheus.CounterVec
	ExecutionsCompleted *prometheus.CounterVec
	ExecutionsFailed    *prometheus.CounterVec
	ExecutionsStopped   *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	ExecutionsRunning   prometheus.Gauge

	// Workflow metrics
	WorkflowExecutionsStarted *prometheus.CounterVec
	WorkflowExecutionsDone    *prometheus.CounterVec
	NodeDispatchesTotal       *prometheus.CounterVec
	NodeRetriesTotal          *prometheus.CounterVec
	NodeDuration              *prometheus.HistogramVec
	NodesRunning              prometheus.Gauge

	// Streaming hub metrics
	StreamEventsPublished *prometheus.CounterVec
	StreamEventsDropped   *prometheus.CounterVec
	StreamSubscribers     prometheus.Gauge
	StreamTopics          prometheus.Gauge

	// Task queue metrics
	QueueDepth     prometheus.Gauge
	TasksEnqueued  prometheus.Counter
	TasksProcessed *prometheus.CounterVec

	// UI interaction metrics
	InteractionsCreated  prometheus.Counter
	InteractionsResolved *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New(namespace string) *Metrics {
	m := &Metrics{
		ExecutionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of program executions started",
			},
			[]string{"language"},
		),
		ExecutionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of program executions completed",
			},
			[]string{"language"},
		),
		ExecutionsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_failed_total",
				Help:      "Total number of failed program executions",
			},
			[]string{"language", "error_code"},
		),
		ExecutionsStopped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_stopped_total",
				Help:      "Total number of user-stopped program executions",
			},
			[]string{"language"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Program execution duration in seconds",
				Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"language"},
		),
		ExecutionsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "executions_running",
				Help:      "Number of program executions currently running",
			},
		),

		WorkflowExecutionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_executions_started_total",
				Help:      "Total number of workflow executions started",
			},
			[]string{"workflow_id"},
		),
		WorkflowExecutionsDone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_executions_done_total",
				Help:      "Total number of workflow executions reaching a terminal state",
			},
			[]string{"status"},
		),
		NodeDispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_dispatches_total",
				Help:      "Total number of workflow node dispatches",
			},
			[]string{"node_type"},
		),
		NodeRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_retries_total",
				Help:      "Total number of workflow node retries",
			},
			[]string{"node_type"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Workflow node execution duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"node_type"},
		),
		NodesRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nodes_running",
				Help:      "Number of workflow nodes currently running",
			},
		),

		StreamEventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_published_total",
				Help:      "Total number of events published to the streaming hub",
			},
			[]string{"event_type"},
		),
		StreamEventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_dropped_total",
				Help:      "Total number of events dropped for slow subscribers",
			},
			[]string{"event_type"},
		),
		StreamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_subscribers",
				Help:      "Number of active stream subscribers",
			},
		),
		StreamTopics: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_topics",
				Help:      "Number of live execution topics",
			},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "task_queue_depth",
				Help:      "Number of tasks waiting in the background queue",
			},
		),
		TasksEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_enqueued_total",
				Help:      "Total number of tasks enqueued",
			},
		),
		TasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_processed_total",
				Help:      "Total number of tasks processed by the worker",
			},
			[]string{"status"},
		),

		InteractionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ui_interactions_created_total",
				Help:      "Total number of UI interactions created",
			},
		),
		InteractionsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ui_interactions_resolved_total",
				Help:      "Total number of UI interactions resolved",
			},
			[]string{"status"},
		),
	}

	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.ExecutionsStarted,
		m.ExecutionsCompleted,
		m.ExecutionsFailed,
		m.ExecutionsStopped,
		m.ExecutionDuration,
		m.ExecutionsRunning,
		m.WorkflowExecutionsStarted,
		m.WorkflowExecutionsDone,
		m.NodeDispatchesTotal,
		m.NodeRetriesTotal,
		m.NodeDuration,
		m.NodesRunning,
		m.StreamEventsPublished,
		m.StreamEventsDropped,
		m.StreamSubscribers,
		m.StreamTopics,
		m.QueueDepth,
		m.TasksEnqueued,
		m.TasksProcessed,
		m.InteractionsCreated,
		m.InteractionsResolved,
	)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
