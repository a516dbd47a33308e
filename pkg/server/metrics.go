package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus instrumentation. All Record* methods
// are safe for concurrent use; a nil *Metrics is tolerated by every caller so
// tests can run without a registry.
type Metrics struct {
	activeSessions  prometheus.Gauge
	registeredUsers prometheus.Gauge
	groups          prometheus.Gauge
	topics          prometheus.Gauge

	connectionsTotal      *prometheus.CounterVec
	messagesRoutedTotal   *prometheus.CounterVec
	deliveriesTotal       prometheus.Counter
	deliveryFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all server metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Number of currently connected sessions (registered or not).",
		}),
		registeredUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_registered_users",
			Help: "Number of sessions holding a registered username.",
		}),
		groups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_groups",
			Help: "Number of existing groups.",
		}),
		topics: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_topics",
			Help: "Number of existing topics.",
		}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total accepted connections by transport.",
		}, []string{"transport"}),
		messagesRoutedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_routed_total",
			Help: "Total user messages routed, by delivery scope.",
		}, []string{"scope"}),
		deliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total lines queued to recipient sessions.",
		}),
		deliveryFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Total deliveries dropped because the recipient sink was closed or full.",
		}),
	}
}

// RecordActiveSessions sets the active session gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordRegisteredUsers sets the registered user gauge.
func (m *Metrics) RecordRegisteredUsers(count int) {
	m.registeredUsers.Set(float64(count))
}

// RecordGroups sets the group count gauge.
func (m *Metrics) RecordGroups(count int) {
	m.groups.Set(float64(count))
}

// RecordTopics sets the topic count gauge.
func (m *Metrics) RecordTopics(count int) {
	m.topics.Set(float64(count))
}

// RecordConnection counts an accepted connection for a transport.
func (m *Metrics) RecordConnection(transport string) {
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

// RecordMessageRouted counts one routed user message for a delivery scope
// ("global", "group", "topic", or "direct").
func (m *Metrics) RecordMessageRouted(scope string) {
	m.messagesRoutedTotal.WithLabelValues(scope).Inc()
}

// RecordDelivery counts a successfully queued delivery.
func (m *Metrics) RecordDelivery() {
	m.deliveriesTotal.Inc()
}

// RecordDeliveryFailure counts a dropped delivery.
func (m *Metrics) RecordDeliveryFailure() {
	m.deliveryFailuresTotal.Inc()
}
