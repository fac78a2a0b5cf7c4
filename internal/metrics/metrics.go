// Package metrics exposes Prometheus collectors for the queue client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several clients can live in one
// process (and one test binary) without colliding. All methods are safe on
// a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	connected         prometheus.Gauge
	reconnectAttempts prometheus.Counter
	eventsReceived    *prometheus.CounterVec
	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	queueEntries      *prometheus.GaugeVec
}

// New creates a Collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "medqueue_connected",
			Help: "1 while the event channel is connected",
		}),
		reconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "medqueue_reconnect_attempts_total",
			Help: "Reconnection attempts made by the transport",
		}),
		eventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medqueue_events_received_total",
			Help: "Events received on the event channel",
		}, []string{"event"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medqueue_commands_total",
			Help: "Correlated commands by outcome",
		}, []string{"command", "result"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medqueue_command_duration_seconds",
			Help:    "Time from emitting a correlated command to its resolution",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"command"}),
		queueEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medqueue_queue_entries",
			Help: "Entries in the locally held queue by status",
		}, []string{"status"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetConnected records the connectivity flag.
func (c *Collector) SetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
}

// ReconnectAttempt counts one reconnection attempt.
func (c *Collector) ReconnectAttempt() {
	if c == nil {
		return
	}
	c.reconnectAttempts.Inc()
}

// EventReceived counts one inbound event.
func (c *Collector) EventReceived(event string) {
	if c == nil {
		return
	}
	c.eventsReceived.WithLabelValues(event).Inc()
}

// CommandResult records the outcome of a correlated command.
func (c *Collector) CommandResult(command, result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(command, result).Inc()
	c.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// SetQueueEntries replaces the per-status entry gauges.
func (c *Collector) SetQueueEntries(byStatus map[string]int) {
	if c == nil {
		return
	}
	c.queueEntries.Reset()
	for status, n := range byStatus {
		c.queueEntries.WithLabelValues(status).Set(float64(n))
	}
}
