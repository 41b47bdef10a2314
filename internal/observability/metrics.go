// Package observability provides the Prometheus metrics collected by the
// routing hub.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the hub's metric set.
//
// The collectors track:
//   - Message flow by platform and direction
//   - HTTP request latency on the /api surface
//   - Connected stream clients and pushed frames
//   - External-trigger and outbound-delivery outcomes
type Metrics struct {
	// MessageCounter counts persisted timeline entries.
	// Labels: platform (telegram|discord|web), direction (in|out)
	MessageCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency in seconds.
	// Labels: method, path, status
	HTTPRequestDuration *prometheus.HistogramVec

	// StreamClients gauges currently connected stream clients.
	StreamClients prometheus.Gauge

	// StreamFramesSent counts push frames handed to client send queues.
	StreamFramesSent prometheus.Counter

	// TriggerCounter counts external-trigger invocations.
	// Labels: status (success|failure)
	TriggerCounter *prometheus.CounterVec

	// DeliveryCounter counts outbound chunk deliveries.
	// Labels: platform, status (success|failure)
	DeliveryCounter *prometheus.CounterVec
}

// NewMetrics registers the hub collectors with reg. Passing nil uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_messages_total",
			Help: "Timeline entries persisted, by platform and direction.",
		}, []string{"platform", "direction"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chathub_http_request_duration_seconds",
			Help:    "HTTP API request latency.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"method", "path", "status"}),

		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chathub_stream_clients",
			Help: "Currently connected stream clients.",
		}),

		StreamFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "chathub_stream_frames_sent_total",
			Help: "Push frames queued for stream clients.",
		}),

		TriggerCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_trigger_total",
			Help: "External trigger invocations by outcome.",
		}, []string{"status"}),

		DeliveryCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_delivery_chunks_total",
			Help: "Outbound delivery chunks by platform and outcome.",
		}, []string{"platform", "status"}),
	}
}

// RecordMessage counts one persisted entry.
func (m *Metrics) RecordMessage(platform, direction string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(platform, direction).Inc()
}

// RecordTrigger counts one trigger invocation outcome.
func (m *Metrics) RecordTrigger(ok bool) {
	if m == nil {
		return
	}
	m.TriggerCounter.WithLabelValues(statusLabel(ok)).Inc()
}

// RecordDelivery counts one delivered (or failed) chunk.
func (m *Metrics) RecordDelivery(platform string, ok bool) {
	if m == nil {
		return
	}
	m.DeliveryCounter.WithLabelValues(platform, statusLabel(ok)).Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
