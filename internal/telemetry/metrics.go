// Package telemetry exposes gossip node metrics through a per-node
// Prometheus registry and serves the admin HTTP endpoints.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"gossipsim/internal/gossip"
)

const namespace = "gossip"

// Metrics records deliveries and fan-outs. It implements gossip.Sink and
// gossip.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	deliveries  *prometheus.CounterVec
	unreachable *prometheus.CounterVec
	propagation prometheus.Histogram
	fanoutTime  prometheus.Histogram
	inFlight    prometheus.Gauge
}

// NewMetrics creates the collectors on a fresh registry. The registry also
// carries the Go and process collectors.
func NewMetrics(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	startTime := time.Now()

	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "deliveries_total",
			Help:        "Inbound deliveries by event kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		unreachable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "peer_unreachable_total",
			Help:        "Failed outbound deliver calls by peer.",
			ConstLabels: labels,
		}, []string{"peer"}),
		propagation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "propagation_seconds",
			Help:        "Time between a neighbor sending a message and this node receiving it.",
			ConstLabels: labels,
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		}),
		fanoutTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "fanout_duration_seconds",
			Help:        "Duration of one fan-out including link delays.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 13),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "fanouts_in_flight",
			Help:        "Fan-outs currently running.",
			ConstLabels: labels,
		}),
	}
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "uptime_seconds",
		Help:        "Process uptime in seconds.",
		ConstLabels: labels,
	}, func() float64 { return time.Since(startTime).Seconds() })

	m.Registry.MustRegister(
		m.deliveries, m.unreachable, m.propagation, m.fanoutTime, m.inFlight, uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Record implements gossip.Sink.
func (m *Metrics) Record(e gossip.Event) {
	m.deliveries.WithLabelValues(string(e.Kind)).Inc()
	if e.PropagationTimeMs != nil {
		m.propagation.Observe(*e.PropagationTimeMs / 1000)
	}
}

func (m *Metrics) FanoutStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) FanoutFinished(elapsed time.Duration) {
	m.inFlight.Dec()
	m.fanoutTime.Observe(elapsed.Seconds())
}

func (m *Metrics) PeerUnreachable(peer gossip.Peer, _ error) {
	m.unreachable.WithLabelValues(peer.ID).Inc()
}
