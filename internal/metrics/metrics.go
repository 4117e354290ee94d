// Package metrics exposes the server's operational counters. All methods
// are nil-safe so library code can record unconditionally and tests can
// run without a registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// ConnectedClients tracks registered websocket connections.
	ConnectedClients prometheus.Gauge

	// MessagesRouted counts messages accepted and fanned out.
	MessagesRouted prometheus.Counter

	// DeliveriesDropped counts per-connection sends abandoned because the
	// outbound queue was full or the socket was closing.
	DeliveriesDropped prometheus.Counter

	// PresenceEvents counts presence notifications by event type.
	PresenceEvents *prometheus.CounterVec

	// CallSignals counts relayed call signaling frames by kind.
	CallSignals *prometheus.CounterVec

	// Frames counts inbound frames by type, unknown types included.
	Frames *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New registers the collectors with the default registry. Safe to call
// more than once; every call returns the same instance.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "parley_connected_clients",
				Help: "Current number of registered websocket connections",
			}),
			MessagesRouted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "parley_messages_routed_total",
				Help: "Total number of chat messages routed to rooms",
			}),
			DeliveriesDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "parley_deliveries_dropped_total",
				Help: "Total number of per-connection deliveries dropped",
			}),
			PresenceEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "parley_presence_events_total",
				Help: "Total number of presence events fanned out, by event",
			}, []string{"event"}),
			CallSignals: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "parley_call_signals_total",
				Help: "Total number of call signaling frames relayed, by kind",
			}, []string{"kind"}),
			Frames: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "parley_frames_total",
				Help: "Total number of inbound frames processed, by type",
			}, []string{"type"}),
		}
	})
	return metricsInstance
}

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ClientConnected() {
	if m == nil || m.ConnectedClients == nil {
		return
	}
	m.ConnectedClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil || m.ConnectedClients == nil {
		return
	}
	m.ConnectedClients.Dec()
}

func (m *Metrics) MessageRouted() {
	if m == nil || m.MessagesRouted == nil {
		return
	}
	m.MessagesRouted.Inc()
}

func (m *Metrics) DeliveryDropped() {
	if m == nil || m.DeliveriesDropped == nil {
		return
	}
	m.DeliveriesDropped.Inc()
}

func (m *Metrics) PresenceEvent(event string) {
	if m == nil || m.PresenceEvents == nil {
		return
	}
	m.PresenceEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) CallSignal(kind string) {
	if m == nil || m.CallSignals == nil {
		return
	}
	m.CallSignals.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameReceived(typ string) {
	if m == nil || m.Frames == nil {
		return
	}
	m.Frames.WithLabelValues(typ).Inc()
}
