package bus

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the bus's internal counters and gauges. They are created
// against prometheus's default collector types but are never attached to
// an HTTP exporter here — the node's observability surface is out of
// scope, but the internal counters themselves are not (spec §1, §4.2).
type Metrics struct {
	published     prometheus.Counter
	dropped       prometheus.Counter
	subscriptions prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "choreocore",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Envelopes passed to Publish.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "choreocore",
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Envelopes dropped due to a full subscription queue.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "choreocore",
			Subsystem: "bus",
			Name:      "subscriptions",
			Help:      "Currently active subscriptions.",
		}),
	}
}

// Register attaches the bus's collectors to reg, letting a node compose
// its own registry out of every subsystem's internal metrics without any
// of them opening an HTTP listener themselves.
func (b *Bus) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{b.metrics.published, b.metrics.dropped, b.metrics.subscriptions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
