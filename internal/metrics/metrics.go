// Package metrics implements Prometheus metrics for the container run loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesFetchedTotal counts envelopes pulled from the ConsumerMux,
	// labelled by the raw system/stream they came from.
	EnvelopesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runloop_envelopes_fetched_total",
			Help: "Total number of envelopes fetched from the consumer mux",
		},
		[]string{"system", "stream"},
	)

	// EnvelopesProcessedTotal counts envelopes a task worker finished
	// processing, labelled by outcome.
	EnvelopesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runloop_envelopes_processed_total",
			Help: "Total number of envelopes a task worker finished processing",
		},
		[]string{"task", "outcome"}, // outcome: "ok" | "error"
	)

	// MessagesInFlight tracks the current number of outstanding
	// ProcessAsync calls per task.
	MessagesInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runloop_messages_in_flight",
			Help: "Current number of ProcessAsync calls outstanding per task",
		},
		[]string{"task"},
	)

	// TaskState tracks each task worker's current lifecycle state
	// (0=running, 1=draining, 2=finished, 3=failed).
	TaskState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runloop_task_state",
			Help: "Current lifecycle state of each task worker",
		},
		[]string{"task"},
	)

	// CommitDurationSeconds measures how long one commit protocol
	// invocation takes, including the sync-mode quiesce wait.
	CommitDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runloop_commit_duration_seconds",
			Help:    "Duration of the commit protocol per task",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"task"},
	)

	// CommitsTotal counts commit protocol invocations by scope.
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runloop_commits_total",
			Help: "Total number of commit protocol invocations",
		},
		[]string{"scope"},
	)

	// WindowsTotal counts window callback invocations.
	WindowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runloop_windows_total",
			Help: "Total number of window callback invocations",
		},
		[]string{"task"},
	)

	// ShutdownsTotal counts shutdown requests observed by the run loop,
	// by scope.
	ShutdownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runloop_shutdowns_total",
			Help: "Total number of shutdown requests observed by the run loop",
		},
		[]string{"scope"},
	)
)

// Task lifecycle state values published on the TaskState gauge.
const (
	TaskStateRunning  = 0
	TaskStateDraining = 1
	TaskStateFinished = 2
	TaskStateFailed   = 3
)
