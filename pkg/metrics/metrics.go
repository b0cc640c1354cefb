package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gosignal"

// Drop reasons used as the "reason" label of messages_dropped_total.
const (
	ReasonDecode          = "decode"
	ReasonMalformed       = "malformed"
	ReasonUnknownAction   = "unknown_action"
	ReasonNotJoined       = "not_joined"
	ReasonTargetNotFound  = "target_not_found"
	ReasonInvalidField    = "invalid_field"
	ReasonSendFailed      = "send_failed"
	ReasonRateLimited     = "rate_limited"
	ReasonRoomIDExhausted = "room_id_exhausted"
	ReasonInternal        = "internal"
)

// Gauges are read from the registry at scrape time.
type Gauges struct {
	Rooms    func() int
	Sessions func() int
}

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections  prometheus.Counter
	received     *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	relayed      prometheus.Counter
	sendFailures prometheus.Counter
}

func New(g Gauges) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "WebSocket connections accepted.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages with a recognised action.",
		}, []string{"action"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped without a reply.",
		}, []string{"reason"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_relayed_total",
			Help:      "Signal payloads queued for their target peer.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound frames that could not be queued.",
		}),
	}
	reg.MustRegister(
		m.connections, m.received, m.dropped, m.relayed, m.sendFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if g.Rooms != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one member.",
		}, func() float64 { return float64(g.Rooms()) }))
	}
	if g.Sessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connected peers.",
		}, func() float64 { return float64(g.Sessions()) }))
	}
	return m
}

// Handler exposes the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) MessageReceived(action string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(action).Inc()
}

func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SignalRelayed() {
	if m == nil {
		return
	}
	m.relayed.Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}
