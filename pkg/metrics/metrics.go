// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks local API request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total local API requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StegoCallDuration tracks encode/decode service call duration.
	StegoCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stego_call_duration_seconds",
			Help:    "Stego service call duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "algorithm", "outcome"},
	)

	// DeliveriesTotal tracks committed messages by kind and outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total message commits",
		},
		[]string{"kind", "outcome"},
	)

	// TimelineEventsTotal tracks live timeline events by merge outcome.
	TimelineEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_events_total",
			Help: "Live timeline events by merge outcome",
		},
		[]string{"outcome"},
	)

	// FeedSubscriptionsActive tracks open change feed subscriptions.
	FeedSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_subscriptions_active",
			Help: "Number of open change feed subscriptions",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// WizardTransitionsTotal tracks wizard step transitions.
	WizardTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_transitions_total",
			Help: "Encoding wizard transitions",
		},
		[]string{"action", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStegoCall records metrics for an encode or decode call.
func RecordStegoCall(operation, algorithm, outcome string, duration float64) {
	StegoCallDuration.WithLabelValues(operation, algorithm, outcome).Observe(duration)
}

// RecordDelivery records a message commit.
func RecordDelivery(kind, outcome string) {
	DeliveriesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordTimelineEvent records how a live event was merged.
func RecordTimelineEvent(outcome string) {
	TimelineEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordWizardTransition records a wizard action.
func RecordWizardTransition(action, outcome string) {
	WizardTransitionsTotal.WithLabelValues(action, outcome).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
