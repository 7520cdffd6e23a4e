package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProbeMetrics tracks calls to streaming platform APIs.
type ProbeMetrics struct {
	Calls        *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	BreakerState *prometheus.GaugeVec
}

func NewProbeMetrics(reg prometheus.Registerer) *ProbeMetrics {
	m := &ProbeMetrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "calls_total",
			Help:      "Total probe calls, by platform and outcome (live, offline, not_found, error, rejected).",
		}, []string{"platform", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Probe call latency, by platform.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "circuit_breaker_state",
			Help:      "Probe circuit breaker state per platform (0=closed, 1=half-open, 2=open).",
		}, []string{"platform"}),
	}

	reg.MustRegister(m.Calls, m.Duration, m.BreakerState)
	return m
}
