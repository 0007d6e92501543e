package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
	"github.com/smartfarm/farmbridge/internal/ingest"
)

const namespace = "farmbridge"

// Metrics holds the bridge's Prometheus collectors. It satisfies
// mqtt.Observer and ingest.Observer.
type Metrics struct {
	connectionState prometheus.Gauge
	connects        *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	messages        *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connection_state",
			Help:      "Broker connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connect_attempts_total",
			Help:      "Finished broker connection attempts by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "publishes_total",
			Help:      "Finished publishes by topic and result.",
		}, []string{"topic", "result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Inbound broker messages by route and outcome.",
		}, []string{"route", "outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected live-feed clients.",
		}),
	}

	reg.MustRegister(m.connectionState, m.connects, m.publishes, m.messages, m.wsClients)
	return m
}

// RegisterCounter exposes a monotonically increasing value owned elsewhere,
// e.g. events the WebSocket hub dropped, as farmbridge_<subsystem>_<name>.
func RegisterCounter(reg prometheus.Registerer, subsystem, name, help string, read func() uint64) {
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(read()) }))
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StateChanged records the broker connection state.
func (m *Metrics) StateChanged(s mqtt.State) {
	m.connectionState.Set(float64(s))
}

// ConnectFinished counts a connection attempt by result.
func (m *Metrics) ConnectFinished(err error) {
	m.connects.WithLabelValues(connectResult(err)).Inc()
}

// PublishFinished counts a publish by topic and result.
func (m *Metrics) PublishFinished(topic string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.publishes.WithLabelValues(topic, result).Inc()
}

// MessageHandled counts an inbound message.
func (m *Metrics) MessageHandled(route ingest.Route, outcome ingest.Outcome) {
	m.messages.WithLabelValues(string(route), string(outcome)).Inc()
}

// SetWebSocketClients records the live-feed client count.
func (m *Metrics) SetWebSocketClients(n int) {
	m.wsClients.Set(float64(n))
}

func connectResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, mqtt.ErrConnectTimeout):
		return "timeout"
	case errors.Is(err, mqtt.ErrConnectAborted):
		return "aborted"
	case errors.Is(err, mqtt.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}

var (
	_ mqtt.Observer   = (*Metrics)(nil)
	_ ingest.Observer = (*Metrics)(nil)
)
