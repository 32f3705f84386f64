package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection manager
	SocketStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modchat",
			Subsystem: "socket",
			Name:      "open",
			Help:      "1 while the keyed connection is open",
		},
		[]string{"url"},
	)

	ReconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "socket",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts",
		},
		[]string{"url"},
	)

	ReconnectExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "socket",
			Name:      "reconnect_exhausted_total",
			Help:      "Connections that gave up reconnecting",
		},
		[]string{"url"},
	)

	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "push",
			Name:      "events_total",
			Help:      "Decoded push events by kind",
		},
		[]string{"kind"},
	)

	DroppedPayloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "push",
			Name:      "dropped_payloads_total",
			Help:      "Push frames dropped because they could not be decoded",
		},
	)

	// History cache
	HistoryCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "history_cache",
			Name:      "lookups_total",
			Help:      "Page cache lookups by result (hit, miss, expired)",
		},
		[]string{"result"},
	)

	PrefetchErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "history_cache",
			Name:      "prefetch_errors_total",
			Help:      "Background page prefetches that failed",
		},
	)

	StaleResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "sync",
			Name:      "stale_responses_total",
			Help:      "Responses discarded because a newer request superseded them",
		},
		[]string{"source"},
	)

	// Delivery
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "delivery",
			Name:      "messages_sent_total",
			Help:      "Outbound messages by channel (socket, request) and status",
		},
		[]string{"channel", "status"},
	)

	FallbackRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "delivery",
			Name:      "fallback_retries_total",
			Help:      "Request-based send retries",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modchat",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Chat backend request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"operation", "status"},
	)

	// Roster
	RosterRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "roster",
			Name:      "refreshes_total",
			Help:      "Authoritative roster refreshes by outcome",
		},
		[]string{"status"},
	)

	RosterSnapshotsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modchat",
			Subsystem: "roster",
			Name:      "snapshots_suppressed_total",
			Help:      "Pushed roster snapshots ignored inside the refresh cooldown",
		},
	)

	RosterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modchat",
			Subsystem: "roster",
			Name:      "entries",
			Help:      "Current number of roster entries",
		},
	)

	// Presentation hub
	HubClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modchat",
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Attached UI clients",
		},
	)
)
