package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection registry metrics
var (
	// ConnectedClients tracks the number of registered websocket connections
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "machine_connected_clients",
			Help: "Number of websocket connections currently registered for broadcasts",
		},
	)

	// RegistrationsTotal tracks register attempts by result
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machine_registrations_total",
			Help: "Connection registrations by result (ok/failed)",
		},
		[]string{"result"},
	)

	// EvictionsTotal tracks connections removed after a failed send
	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "machine_evictions_total",
			Help: "Connections removed from the registry after a send failure",
		},
	)
)

// Broadcast metrics
var (
	// BroadcastsTotal tracks broadcasts by trigger
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machine_broadcasts_total",
			Help: "State broadcasts by trigger (client_update/temperature/manual)",
		},
		[]string{"trigger"},
	)

	// BroadcastDuration tracks how long a full fan-out takes
	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "machine_broadcast_duration_seconds",
			Help:    "Time spent delivering one snapshot to every registered connection",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// SendFailuresTotal tracks failed sends by message kind
	SendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machine_send_failures_total",
			Help: "Failed websocket sends by message kind (state/error)",
		},
		[]string{"kind"},
	)
)

// Update metrics
var (
	// UpdatesAppliedTotal tracks client updates that changed state
	UpdatesAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "machine_updates_applied_total",
			Help: "Client update requests applied to the machine state",
		},
	)

	// UpdatesRejectedTotal tracks rejected client frames by reason
	UpdatesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machine_updates_rejected_total",
			Help: "Client frames rejected by reason (decode kind, bad_state, rate_limited)",
		},
		[]string{"reason"},
	)
)

// Temperature feed metrics
var (
	// TemperatureMergesTotal tracks temperature merges into the state
	TemperatureMergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "machine_temperature_merges_total",
			Help: "Temperature readings merged into the machine state",
		},
	)

	// TemperatureFetchFailuresTotal tracks failed sensor fetches by source
	TemperatureFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machine_temperature_fetch_failures_total",
			Help: "Temperature fetch failures by source (a fallback estimate is used instead)",
		},
		[]string{"source"},
	)

	// TemperatureCelsius is the last merged temperature
	TemperatureCelsius = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "machine_temperature_celsius",
			Help: "Last temperature merged into the machine state",
		},
	)
)
