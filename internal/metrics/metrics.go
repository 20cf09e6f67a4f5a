// Package metrics registers the Prometheus collectors for rov-remote.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rov",
		Name:      "commands_sent_total",
		Help:      "Commands written to the serial link by kind",
	}, []string{"kind"})

	CommandsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rov",
		Name:      "commands_coalesced_total",
		Help:      "Thrust updates dropped by the rate limiter",
	}, []string{"kind"})

	SerialErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rov",
		Name:      "serial_errors_total",
		Help:      "Serial link failures by operation",
	}, []string{"op"})

	SerialConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rov",
		Name:      "serial_connected",
		Help:      "1 while the serial link is open",
	})

	RunningState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rov",
		Name:      "running_state",
		Help:      "1 for the vehicle's current running state",
	}, []string{"state"})

	Temperature = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rov",
		Name:      "temperature_celsius",
		Help:      "Last temperature reported by the vehicle",
	})

	Clients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rov",
		Name:      "panel_clients",
		Help:      "Connected control panel WebSocket clients",
	})
)

// IncCommand records a command written to the link.
func IncCommand(kind string) {
	CommandsSent.WithLabelValues(kind).Inc()
}

// IncCoalesced records a rate-limited update.
func IncCoalesced(kind string) {
	CommandsCoalesced.WithLabelValues(kind).Inc()
}

// IncSerialError records a failed serial operation.
func IncSerialError(op string) {
	if op == "" {
		op = "unknown"
	}
	SerialErrors.WithLabelValues(op).Inc()
}

// SetConnected flips the serial link gauge.
func SetConnected(connected bool) {
	if connected {
		SerialConnected.Set(1)
		return
	}
	SerialConnected.Set(0)
}

// SetRunningState marks current as the only active state.
func SetRunningState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		RunningState.WithLabelValues(s).Set(v)
	}
}
