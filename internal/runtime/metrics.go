package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts runs that reached a final status.
	// Labels: graph (onboard, resolve), status (succeeded, failed, cancelled, interrupted)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seagent",
			Subsystem: "runtime",
			Name:      "runs_total",
			Help:      "Total number of runs by graph and final status",
		},
		[]string{"graph", "status"},
	)

	// RunDuration tracks wall time from run start to its final status.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seagent",
			Subsystem: "runtime",
			Name:      "run_duration_seconds",
			Help:      "Duration of runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"graph"},
	)

	// StageDuration tracks each completed stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seagent",
			Subsystem: "runtime",
			Name:      "stage_duration_seconds",
			Help:      "Duration of graph stages in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"graph", "stage", "status"},
	)

	// ActiveRuns is the number of runs executing in this process.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seagent",
			Subsystem: "runtime",
			Name:      "active_runs",
			Help:      "Runs currently executing",
		},
	)

	// RejectedRuns counts CreateRun calls refused because the thread was busy.
	RejectedRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seagent",
			Subsystem: "runtime",
			Name:      "rejected_runs_total",
			Help:      "Runs rejected because the thread already had an active run",
		},
	)
)
