// Package metrics provides Prometheus instrumentation for whitelist-bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CommandsTotal counts dispatched commands by verb and outcome.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whitelist_bot",
			Name:      "commands_total",
			Help:      "Total dispatched commands by verb and result.",
		},
		[]string{"verb", "result"},
	)

	// CommandDuration observes handler latency by verb.
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "whitelist_bot",
			Name:      "command_duration_seconds",
			Help:      "Command handler duration in seconds.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
		},
		[]string{"verb"},
	)

	// NoticesTotal counts user-facing notices by kind.
	NoticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whitelist_bot",
			Name:      "notices_total",
			Help:      "Total notices sent to users by kind.",
		},
		[]string{"kind"},
	)

	// DroppedMessagesTotal counts inbound messages dropped because the queue was full.
	DroppedMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "whitelist_bot",
		Name:      "dropped_messages_total",
		Help:      "Inbound command messages dropped because the dispatch queue was full.",
	})

	// AutosaveRowsTotal counts cache rows written by the autosave scheduler.
	AutosaveRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whitelist_bot",
			Subsystem: "autosave",
			Name:      "rows_total",
			Help:      "Cache state rows flushed by result.",
		},
		[]string{"result"},
	)

	// RegisteredGuilds tracks the number of guilds in the registry.
	RegisteredGuilds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "whitelist_bot",
		Name:      "registered_guilds",
		Help:      "Number of currently registered guilds.",
	})

	// ExternalConnections tracks open per-guild external store connections.
	ExternalConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "whitelist_bot",
		Name:      "external_connections",
		Help:      "Number of open external whitelist store connections.",
	})

	// ConnectionFailuresTotal counts failed external store connection attempts.
	ConnectionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "whitelist_bot",
		Name:      "connection_failures_total",
		Help:      "Total failed external store connection attempts.",
	})
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		NoticesTotal,
		DroppedMessagesTotal,
		AutosaveRowsTotal,
		RegisteredGuilds,
		ExternalConnections,
		ConnectionFailuresTotal,
	)
}
