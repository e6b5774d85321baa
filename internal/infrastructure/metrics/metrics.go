package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kbuck1/navilink/internal/navilink"
)

const namespace = "navilink"

// Metrics holds the navilinkd collectors on a private registry. It
// implements navilink.Observer so the link reports into it directly.
type Metrics struct {
	registry *prometheus.Registry

	linkConnected   prometheus.Gauge
	polls           *prometheus.CounterVec
	lastPoll        prometheus.Gauge
	reconnects      *prometheus.CounterVec
	messages        *prometheus.CounterVec
	commands        *prometheus.CounterVec
	deviceAvailable *prometheus.GaugeVec
	temperature     *prometheus.GaugeVec
	powerOn         *prometheus.GaugeVec
}

var _ navilink.Observer = (*Metrics)(nil)

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		linkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_connected",
			Help:      "Whether the cloud MQTT session is connected (1) or not (0)",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status poll rounds by result",
		}, []string{"result"}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_poll_timestamp_seconds",
			Help:      "Unix time of the last poll round that got every response",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by cause",
		}, []string{"reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound MQTT messages by route",
		}, []string{"route"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Control commands by command and result",
		}, []string{"command", "result"}),
		deviceAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_available",
			Help:      "Whether a device session has live state",
		}, []string{"device_id"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_temperature",
			Help:      "Device temperature in the device's display unit",
		}, []string{"device_id", "kind", "unit"}),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_power_on",
			Help:      "Whether the water heater is powered on",
		}, []string{"device_id"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.linkConnected,
		m.polls,
		m.lastPoll,
		m.reconnects,
		m.messages,
		m.commands,
		m.deviceAvailable,
		m.temperature,
		m.powerOn,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// LinkConnected implements navilink.Observer.
func (m *Metrics) LinkConnected(connected bool) {
	m.linkConnected.Set(boolValue(connected))
}

// PollCompleted implements navilink.Observer.
func (m *Metrics) PollCompleted(ok bool) {
	if ok {
		m.polls.WithLabelValues("ok").Inc()
		m.lastPoll.Set(float64(time.Now().Unix()))
		return
	}
	m.polls.WithLabelValues("failed").Inc()
}

// Reconnecting implements navilink.Observer.
func (m *Metrics) Reconnecting(cause error) {
	m.reconnects.WithLabelValues(reconnectReason(cause)).Inc()
}

// MessageReceived implements navilink.Observer.
func (m *Metrics) MessageReceived(route string) {
	m.messages.WithLabelValues(route).Inc()
}

// CommandCompleted implements navilink.Observer.
func (m *Metrics) CommandCompleted(command string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, navilink.ErrResponseTimeout):
		result = "timeout"
	case errors.Is(err, navilink.ErrUnsupported):
		result = "unsupported"
	default:
		result = "error"
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// ObserveSnapshot updates the per-device gauges.
func (m *Metrics) ObserveSnapshot(snap navilink.Snapshot) {
	m.deviceAvailable.WithLabelValues(snap.ID).Set(boolValue(snap.Available))
	if !snap.Available {
		return
	}
	unit := "fahrenheit"
	if snap.Celsius {
		unit = "celsius"
	}
	m.temperature.WithLabelValues(snap.ID, "current", unit).Set(snap.CurrentTemperature)
	m.temperature.WithLabelValues(snap.ID, "target", unit).Set(snap.TargetTemperature)
	m.powerOn.WithLabelValues(snap.ID).Set(boolValue(snap.PowerOn))
}

// reconnectReason maps a link error to a low-cardinality label.
func reconnectReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, navilink.ErrStaleConnection):
		return "stale"
	case errors.Is(err, navilink.ErrDisconnected):
		return "disconnected"
	case errors.Is(err, navilink.ErrAuth):
		return "auth"
	case errors.Is(err, navilink.ErrResponseTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
