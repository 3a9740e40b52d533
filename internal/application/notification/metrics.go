package notification

import "github.com/prometheus/client_golang/prometheus"

const (
	ChannelPush  = "push"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelNone  = "none"

	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Metrics holds the router's delivery counters.
type Metrics struct {
	Dispatched  *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
	Deactivated prometheus.Counter
}

func NewMetrics() *Metrics {
	const namespace = "notifier"
	return &Metrics{
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Adapter calls by channel and outcome.",
		}, []string{"channel", "outcome"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages acknowledged without delivery, by queue and reason.",
		}, []string{"queue", "reason"}),
		Deactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_tokens_deactivated_total",
			Help:      "Push tokens retired after the provider reported them unregistered.",
		}),
	}
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Dispatched, m.Dropped, m.Deactivated}
}
