// Package metrics registers the engine's Prometheus collectors. They are
// served by the API server at /metrics in the standard text exposition
// format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksIngested counts retained price ticks per symbol.
	TicksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_ticks_ingested_total",
			Help: "Retained price ticks ingested",
		},
		[]string{"symbol"},
	)

	// WSReconnects counts WebSocket reconnections per feed.
	WSReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_ws_reconnects_total",
			Help: "WebSocket reconnections",
		},
		[]string{"feed"}, // "ticker" or "broker"
	)

	// StrikeScans counts completed strike-table builds.
	StrikeScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strike_table_scans_total",
			Help: "Strike-table scans completed",
		},
	)

	// TicketsEmitted counts minted trade tickets by entry method.
	TicketsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_tickets_emitted_total",
			Help: "Trade tickets emitted",
		},
		[]string{"entry_method"},
	)

	// SyncWrites counts effective account-sync writes per endpoint.
	SyncWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_sync_writes_total",
			Help: "Account-sync passes that changed mirrored state",
		},
		[]string{"endpoint"},
	)

	// SyncSkipped counts account-sync passes short-circuited by the
	// change-detection hash.
	SyncSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_sync_skipped_total",
			Help: "Account-sync passes skipped by unchanged hash",
		},
		[]string{"endpoint"},
	)

	// OpenTrades gauges the number of trades currently under monitoring.
	OpenTrades = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strike_open_trades",
			Help: "Trades currently in the open state",
		},
	)

	// TTCSeconds gauges the time to close of the active hourly event.
	TTCSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strike_ttc_seconds",
			Help: "Seconds until the active hourly event expires",
		},
	)
)
