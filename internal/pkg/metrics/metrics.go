// Package metrics exposes the Secondary agent's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LifecycleState reports the Secondary's current install lifecycle
	// state as a 1/0 gauge per state label, so exactly one series reads 1
	// at any time.
	LifecycleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "secondary_lifecycle_state",
			Help: "1 for the Secondary's current install lifecycle state, 0 otherwise.",
		},
		[]string{"state"},
	)

	// VerificationTotal counts Uptane metadata verification outcomes.
	VerificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondary_verification_total",
			Help: "Total number of metadata verification attempts by repository and outcome.",
		},
		[]string{"repository", "outcome"}, // repository: director/image, outcome: accepted/rejected
	)

	// InstallTotal counts install attempts by result code.
	InstallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondary_install_total",
			Help: "Total number of install attempts by result.",
		},
		[]string{"result"},
	)

	// InstallLatency records how long install() took to return.
	InstallLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "secondary_install_latency_seconds",
			Help:    "Latency of the install() operation.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ConnectionsTotal counts accepted Primary connections.
	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "secondary_connections_total",
			Help: "Total number of TCP connections accepted from the Primary.",
		},
	)

	// LastHeartbeatUnixSeconds records the last time the agent's health
	// mark loop ran, so an external scrape can alert on a wedged process
	// even when no Primary connection has arrived recently.
	LastHeartbeatUnixSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "secondary_last_heartbeat_unix_seconds",
			Help: "Unix timestamp of the agent's last health mark tick.",
		},
	)
)

func init() {
	prometheus.MustRegister(LifecycleState)
	prometheus.MustRegister(VerificationTotal)
	prometheus.MustRegister(InstallTotal)
	prometheus.MustRegister(InstallLatency)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(LastHeartbeatUnixSeconds)
}

// SetLifecycleState marks state as active and zeroes every other known
// state so only one series reads 1.
func SetLifecycleState(state string, known []string) {
	for _, s := range known {
		if s == state {
			LifecycleState.WithLabelValues(s).Set(1)
		} else {
			LifecycleState.WithLabelValues(s).Set(0)
		}
	}
}
