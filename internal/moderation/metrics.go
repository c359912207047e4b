package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Bilolbee/apkban/internal/strikes"
)

var attachmentsChecked = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apkban_attachments_checked_total",
	Help: "Attachments that reached the moderation pipeline, by outcome",
}, []string{"outcome"})

var actionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apkban_actions_total",
	Help: "Escalation actions dispatched",
}, []string{"action"})

var pipelineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apkban_pipeline_failures_total",
	Help: "Pipeline failures by stage and error class",
}, []string{"stage", "class"})

var pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "apkban_pipeline_duration_seconds",
	Help:    "Duration of one attachment pipeline run",
	Buckets: prometheus.DefBuckets,
})

var TrackedUsers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "apkban_tracked_users",
	Help: "Ledger records currently held",
})

var TotalStrikes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "apkban_strikes",
	Help: "Sum of strikes across the ledger",
})

// RecordLedgerStats publishes a ledger snapshot as gauges.
func RecordLedgerStats(stats strikes.Stats) {
	TrackedUsers.Set(float64(stats.TotalUsers))
	TotalStrikes.Set(float64(stats.TotalViolations))
}
