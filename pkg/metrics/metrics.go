package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "furnace_build_info",
			Help: "Build information of the furnace orchestrator",
		},
		[]string{"version", "commit", "date"},
	)

	MonitorChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "furnace_monitor_checks_total",
			Help: "Total number of fee monitor evaluations",
		},
		[]string{"triggered"},
	)

	ClaimableFeesLamports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "furnace_claimable_fees_lamports",
			Help: "Last observed claimable fee estimate in lamports",
		},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "furnace_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "furnace_pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~51s
		},
		[]string{"stage"},
	)

	ClaimedLamportsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "furnace_claimed_lamports_total",
			Help: "Cumulative lamports claimed from the bonding curve",
		},
	)

	TokensBurnedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "furnace_tokens_burned_total",
			Help: "Cumulative tokens sent to the incinerator, in display units",
		},
	)

	TriggerConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "furnace_trigger_conflicts_total",
			Help: "Triggers refused because a pipeline run was already in flight",
		},
	)
)
