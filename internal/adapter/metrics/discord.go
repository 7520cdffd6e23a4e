package metrics

import "github.com/prometheus/client_golang/prometheus"

// DiscordMetrics tracks Discord REST calls made by the messaging and role sinks.
type DiscordMetrics struct {
	Requests        *prometheus.CounterVec
	WebhooksCreated prometheus.Counter
}

func NewDiscordMetrics(reg prometheus.Registerer) *DiscordMetrics {
	m := &DiscordMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discord",
			Name:      "requests_total",
			Help:      "Discord REST calls, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		WebhooksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discord",
			Name:      "webhooks_created_total",
			Help:      "Announcement webhooks created on demand.",
		}),
	}

	reg.MustRegister(m.Requests, m.WebhooksCreated)
	return m
}
