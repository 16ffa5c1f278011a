// Package metrics holds the reference server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shareboard"

type Metrics struct {
	Connections   prometheus.Gauge
	Rooms         prometheus.Gauge
	FramesIn      *prometheus.CounterVec
	FramesBad     prometheus.Counter
	Rejections    *prometheus.CounterVec
	SlowClients   prometheus.Counter
	StoreErrors   *prometheus.CounterVec
	TicketsIssued prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests so runs do not collide on the default registerer.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open realtime connections",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with a running broadcast actor",
		}),
		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Client frames accepted, by action",
		}, []string{"action"}),
		FramesBad: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_invalid_total",
			Help:      "Client frames dropped as malformed",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rejections_total",
			Help:      "Realtime connections closed with a reserved close code",
		}, []string{"code"}),
		SlowClients: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_clients_dropped_total",
			Help:      "Clients dropped because their outbox was full",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence failures, by operation",
		}, []string{"op"}),
		TicketsIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_issued_total",
			Help:      "Realtime tickets minted",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
