// Package metrics exposes the bridge's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's counters.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	UnknownActionsTotal   prometheus.Counter
	RateLimitedTotal      prometheus.Counter
	DeliveryFailuresTotal prometheus.Counter
	RelaysTotal           prometheus.Counter
}

// New registers the bridge metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Inbound channel requests by action.",
		}, []string{"action"}),
		UnknownActionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_unknown_actions_total",
			Help: "Inbound requests dropped for carrying an unknown action.",
		}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_rate_limited_total",
			Help: "Inbound requests dropped by the per-domain rate limiter.",
		}),
		DeliveryFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_delivery_failures_total",
			Help: "Outbound envelope deliveries swallowed after a send error.",
		}),
		RelaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relays_total",
			Help: "One-shot messages relayed to a tab channel.",
		}),
	}
}

// RegisterChannelGauge exposes the number of live channels.
func RegisterChannelGauge(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "bridge_channels_open",
		Help: "Currently registered tab channels.",
	}, func() float64 { return float64(count()) })
}
