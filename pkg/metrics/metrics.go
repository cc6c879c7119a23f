package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's prometheus instruments.
// Counters are labeled by source/stage so a single webhook storm or a
// failing enrichment stage is visible without log digging.
type Metrics struct {
	WebhookEvents   *prometheus.CounterVec // labels: endpoint, result
	RecordingsSaved *prometheus.CounterVec // labels: source
	StageRuns       *prometheus.CounterVec // labels: stage, result
	SweepRuns       prometheus.Counter
	SweepSkipped    prometheus.Counter
	SweepItems      *prometheus.CounterVec // labels: status
}

// New builds and registers the instrument set. A nil registerer falls back
// to the default prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by endpoint and result",
		}, []string{"endpoint", "result"}),
		RecordingsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_saved_total",
			Help:      "Recordings persisted to blob storage by acquisition source",
		}, []string{"source"}),
		StageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_stage_runs_total",
			Help:      "Enrichment stage executions by stage and result",
		}, []string{"stage", "result"}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_sweep_runs_total",
			Help:      "Completed polling sweeps",
		}),
		SweepSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_sweep_skipped_total",
			Help:      "Sweep ticks skipped because a sweep was already running",
		}),
		SweepItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_sweep_items_total",
			Help:      "Per-call sweep outcomes",
		}, []string{"status"}),
	}
}
