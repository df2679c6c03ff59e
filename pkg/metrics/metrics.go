// Package metrics holds the Prometheus instruments exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification outcomes recorded on relay_notifications_total.
const (
	ResultSent    = "sent"
	ResultQueued  = "queued"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
	ResultSkipped = "skipped"
)

// Metrics groups every instrument so it can be registered against a
// caller-provided registry.
type Metrics struct {
	Notifications     *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	SessionState      prometheus.Gauge
	ReconnectAttempts prometheus.Gauge
	SessionFailed     prometheus.Gauge
	Resubscribes      prometheus.Counter
}

// New creates and registers the relay metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Payment notifications handled, by outcome",
		}, []string{"result"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_total",
			Help: "Inbound commands dispatched, by command",
		}, []string{"command"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Notifications waiting for the transport to become ready",
		}),
		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_session_state",
			Help: "Current transport session state (0=disconnected .. 5=failed)",
		}),
		ReconnectAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_reconnect_attempts",
			Help: "Consecutive reconnect attempts since the session was last ready",
		}),
		SessionFailed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_session_failed",
			Help: "1 when the session exhausted its reconnect attempts",
		}),
		Resubscribes: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_store_resubscribes_total",
			Help: "Change stream subscriptions re-established after an error",
		}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
