// Package metrics defines the Prometheus instrumentation for the realtime
// client. All collectors are registered on the registry passed to New so
// tests can use isolated registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors. A nil *Metrics is valid everywhere it is
// accepted; components skip instrumentation in that case.
type Metrics struct {
	ConnectionStatus prometheus.Gauge
	Reconnects       prometheus.Counter
	ConnectFailures  prometheus.Counter

	EventsDispatched *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	HandlerPanics    prometheus.Counter

	ReconcileRuns     *prometheus.CounterVec
	ReconcileFailures *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connection_status",
			Help: "Current connection status (0=idle 1=connecting 2=connected 3=disconnected 4=reconnecting 5=failed).",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Successful reconnections after an unexpected drop.",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_connect_failures_total",
			Help: "Failed connection attempts.",
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_dispatched_total",
			Help: "Domain events fanned out to subscribers.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Inbound messages dropped before fan-out.",
		}, []string{"reason"}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_handler_panics_total",
			Help: "Subscriber handlers that panicked during fan-out.",
		}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_reconcile_runs_total",
			Help: "Reconciliation refetches attempted.",
		}, []string{"domain"}),
		ReconcileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_reconcile_failures_total",
			Help: "Reconciliation refetches that failed.",
		}, []string{"domain"}),
	}

	reg.MustRegister(
		m.ConnectionStatus,
		m.Reconnects,
		m.ConnectFailures,
		m.EventsDispatched,
		m.EventsDropped,
		m.HandlerPanics,
		m.ReconcileRuns,
		m.ReconcileFailures,
	)

	return m
}
