// Package metrics exposes Prometheus instrumentation for the realtime engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the instrumentation surface used by the hub, gateway and services.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameDelivered(event string)
	FrameDropped(event string)
	NotificationPersisted()
	NotificationPersistFailed()
	NotificationPushed()
	DocumentEditRelayed()
	SignalRejected(signal, reason string)
}

// Collector records metrics into a Prometheus registry.
type Collector struct {
	connections          prometheus.Gauge
	framesDelivered      *prometheus.CounterVec
	framesDropped        *prometheus.CounterVec
	notificationsSaved   prometheus.Counter
	notificationsFailed  prometheus.Counter
	notificationsPushed  prometheus.Counter
	documentEditsRelayed prometheus.Counter
	signalsRejected      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamsync_realtime_connections",
			Help: "Open realtime connections on this process.",
		}),
		framesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_realtime_frames_delivered_total",
			Help: "Frames enqueued for delivery, by event.",
		}, []string{"event"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_realtime_frames_dropped_total",
			Help: "Frames dropped because the connection was gone or its queue was full, by event.",
		}, []string{"event"}),
		notificationsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamsync_notifications_persisted_total",
			Help: "Notification records persisted.",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamsync_notifications_persist_failures_total",
			Help: "Notification records that failed to persist.",
		}),
		notificationsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamsync_notifications_pushed_total",
			Help: "Notifications pushed to a live connection.",
		}),
		documentEditsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamsync_document_edits_relayed_total",
			Help: "Document deltas persisted and relayed.",
		}),
		signalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_realtime_signals_rejected_total",
			Help: "Inbound connection signals rejected, by signal and reason.",
		}, []string{"signal", "reason"}),
	}

	reg.MustRegister(
		c.connections,
		c.framesDelivered,
		c.framesDropped,
		c.notificationsSaved,
		c.notificationsFailed,
		c.notificationsPushed,
		c.documentEditsRelayed,
		c.signalsRejected,
	)
	return c
}

func (c *Collector) ConnectionOpened() { c.connections.Inc() }

func (c *Collector) ConnectionClosed() { c.connections.Dec() }

func (c *Collector) FrameDelivered(event string) { c.framesDelivered.WithLabelValues(event).Inc() }

func (c *Collector) FrameDropped(event string) { c.framesDropped.WithLabelValues(event).Inc() }

func (c *Collector) NotificationPersisted() { c.notificationsSaved.Inc() }

func (c *Collector) NotificationPersistFailed() { c.notificationsFailed.Inc() }

func (c *Collector) NotificationPushed() { c.notificationsPushed.Inc() }

func (c *Collector) DocumentEditRelayed() { c.documentEditsRelayed.Inc() }

func (c *Collector) SignalRejected(signal, reason string) {
	c.signalsRejected.WithLabelValues(signal, reason).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ConnectionOpened()             {}
func (Nop) ConnectionClosed()             {}
func (Nop) FrameDelivered(string)         {}
func (Nop) FrameDropped(string)           {}
func (Nop) NotificationPersisted()        {}
func (Nop) NotificationPersistFailed()    {}
func (Nop) NotificationPushed()           {}
func (Nop) DocumentEditRelayed()          {}
func (Nop) SignalRejected(string, string) {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
