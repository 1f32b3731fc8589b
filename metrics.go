package epoll

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OpenConnections prometheus.Gauge
	Accepted        prometheus.Counter
	Rejected        prometheus.Counter
	Evicted         prometheus.Counter
	Responses       *prometheus.CounterVec
}

// NewMetrics creates the server collectors and registers them when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var m = &Metrics{
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpd",
			Name:      "open_connections",
			Help:      "Client connections currently registered with the event loop.",
		}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpd",
			Name:      "accepted_connections_total",
			Help:      "Client connections accepted.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpd",
			Name:      "rejected_connections_total",
			Help:      "Client connections refused because the server was at capacity.",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpd",
			Name:      "idle_evictions_total",
			Help:      "Client connections closed by the idle timer.",
		}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpd",
			Name:      "responses_total",
			Help:      "Responses prepared, by status code.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.OpenConnections, m.Accepted, m.Rejected, m.Evicted, m.Responses)
	}
	return m
}

func (m *Metrics) response(status int) {
	m.Responses.WithLabelValues(strconv.Itoa(status)).Inc()
}
