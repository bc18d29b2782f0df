// Package metrics provides internal metrics collection for the protocol
// core. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the prometheus instruments for routing and task
// tracking. A nil *Collector is valid and records nothing, so callers never
// need nil checks around instrumentation.
type Collector struct {
	messagesRouted   *prometheus.CounterVec
	routeFailures    *prometheus.CounterVec
	deliveryAttempts *prometheus.CounterVec
	deliveryRetries  prometheus.Counter
	routeDuration    prometheus.Histogram
	taskTransitions  *prometheus.CounterVec

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates a collector with its own registry under the given
// namespace. Separate namespaces keep parallel test registrations from
// colliding.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),

		messagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Messages accepted for routing, by type and priority.",
		}, []string{"message_type", "priority"}),

		routeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_failures_total",
			Help:      "Routing failures, by error code.",
		}, []string{"code"}),

		deliveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Per-recipient delivery attempts, by outcome.",
		}, []string{"outcome"}),

		deliveryRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retries_total",
			Help:      "Redelivery attempts after an initial failure.",
		}),

		routeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "End-to-end route call duration.",
			Buckets:   prometheus.DefBuckets,
		}),

		taskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task state transitions, by target state.",
		}, []string{"state"}),
	}
}

// Registry exposes the collector's registry for scraping.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRouted counts a message accepted for routing.
func (c *Collector) RecordRouted(messageType, priority string) {
	if c == nil {
		return
	}
	c.messagesRouted.WithLabelValues(messageType, priority).Inc()
}

// RecordRouteFailure counts a routing failure by error code.
func (c *Collector) RecordRouteFailure(code string) {
	if c == nil {
		return
	}
	c.routeFailures.WithLabelValues(code).Inc()
}

// RecordDelivery counts one per-recipient delivery attempt.
func (c *Collector) RecordDelivery(outcome string) {
	if c == nil {
		return
	}
	c.deliveryAttempts.WithLabelValues(outcome).Inc()
}

// RecordRetry counts one redelivery attempt.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.deliveryRetries.Inc()
}

// ObserveRouteDuration records the duration of one Route call in seconds.
func (c *Collector) ObserveRouteDuration(seconds float64) {
	if c == nil {
		return
	}
	c.routeDuration.Observe(seconds)
}

// RecordTaskTransition counts a task state transition.
func (c *Collector) RecordTaskTransition(state string) {
	if c == nil {
		return
	}
	c.taskTransitions.WithLabelValues(state).Inc()
}
