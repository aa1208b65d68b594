package irc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

var (
	// Registry is the Prometheus registry used by this package
	Registry = prometheus.NewRegistry()

	linesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "irc_lines_sent_total",
			Help: "Lines written to the server",
		},
		[]string{"connection"},
	)

	linesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "irc_lines_received_total",
			Help: "Lines read from the server",
		},
		[]string{"connection"},
	)

	linesTruncated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "irc_lines_truncated_total",
			Help: "Outbound lines cut to the maximum length",
		},
		[]string{"connection"},
	)

	commandsDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "irc_commands_dropped_total",
			Help: "Outbound commands discarded before reaching the server",
		},
		[]string{"connection", "reason"},
	)

	floodDelay = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irc_flood_delay_seconds",
			Help:    "Time the outbound loop slept to respect flood control",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"connection"},
	)

	queueLength = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "irc_queue_length",
			Help: "Commands waiting in the outbound queue",
		},
		[]string{"connection"},
	)

	connectionStatus = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "irc_connection_status",
			Help: "Connection status (0 disconnected, 1 waiting, 2 connecting, 3 checking, 4 connected)",
		},
		[]string{"connection"},
	)
)

// Reasons a command is dropped
const (
	dropExpired      = "expired"
	dropInvalid      = "invalid"
	dropStopped      = "stopped"
	dropDisconnected = "disconnected"
)

func observeStatus(connection string, status network.Status) {
	connectionStatus.WithLabelValues(connection).Set(float64(status))
}
