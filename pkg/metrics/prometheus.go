package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_webhooks_total",
			Help: "Provider webhooks received by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_workflow_runs_total",
			Help: "Workflow runs by kind and status transition",
		},
		[]string{"kind", "status"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidflow_workflow_step_duration_seconds",
			Help:    "Workflow step execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"kind", "step", "outcome"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_events_published_total",
			Help: "Progress events published by procedure and stage",
		},
		[]string{"procedure", "stage"},
	)

	LiveSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vidflow_live_subscribers",
			Help: "Open live status streams by procedure",
		},
		[]string{"procedure"},
	)

	StalledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_stalled_runs_total",
			Help: "Runs force-failed by the stall supervisor",
		},
		[]string{"kind"},
	)

	OutboxRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidflow_outbox_events_total",
			Help: "Run lifecycle outbox rows relayed by outcome",
		},
		[]string{"outcome"},
	)
)
