package auth

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "campus_auth"

// Metrics counts lifecycle operations and notification deliveries
type Metrics struct {
	operations    *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics registers the counters with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lifecycle_operations_total",
			Help:      "Credential lifecycle operations by outcome.",
		}, []string{"operation", "outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}

// ObserveOperation counts one call of operation. A nil err is counted as
// success, typed errors by their text code.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcomeLabel(err)).Inc()
}

// ObserveNotification counts one delivery attempt
func (m *Metrics) ObserveNotification(kind NotificationKind, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(kind), outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code := TextCode(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
