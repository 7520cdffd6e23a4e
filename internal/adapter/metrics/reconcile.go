package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics tracks reconciliation passes.
type ReconcileMetrics struct {
	PassDuration     prometheus.Histogram
	PassesTotal      *prometheus.CounterVec
	ActionsEnqueued  *prometheus.CounterVec
	SubscriptionSkip *prometheus.CounterVec
	AvatarUpdates    *prometheus.CounterVec
	LastPassUnix     prometheus.Gauge
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a reconciliation pass.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Total reconciliation passes, by outcome (completed, failed, skipped_overlap, skipped_lock).",
		}, []string{"outcome"}),
		ActionsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "actions_enqueued_total",
			Help:      "Total actions enqueued, by kind.",
		}, []string{"kind"}),
		SubscriptionSkip: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "subscriptions_skipped_total",
			Help:      "Subscriptions skipped during a pass, by reason.",
		}, []string{"reason"}),
		AvatarUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "avatar_updates_total",
			Help:      "Streamer avatar writes, by source platform.",
		}, []string{"platform"}),
		LastPassUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "last_completed_pass_timestamp_seconds",
			Help:      "Unix time of the last completed pass.",
		}),
	}

	reg.MustRegister(m.PassDuration, m.PassesTotal, m.ActionsEnqueued, m.SubscriptionSkip, m.AvatarUpdates, m.LastPassUnix)
	return m
}
