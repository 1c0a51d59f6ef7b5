// Strikebot — an automated execution engine for hourly binary-option strike
// markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine + API server, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires feeds → strike table → auto-entry → trade pipeline
//	feed/                — public price ticker, rolling tick history, per-second derivation worker
//	market/              — hourly event snapshots and the near-the-money orderbook mirror
//	strike/              — the per-second strike table and entry watchlist
//	prob/                — empirical win-probability lookup (TTC × buffer × momentum)
//	autoentry/           — scans the watchlist and emits auto-entry tickets
//	trade/               — initiator (tickets), manager (state machine), executor (broker orders)
//	monitor/             — per-second monitoring of open trades, auto-stop exits
//	account/             — mirrors broker balance/positions/fills/orders/settlements into the store
//	sched/               — hourly expiry pass at the top of each hour
//	api/                 — inter-component HTTP endpoints, health, Prometheus metrics
//
// How it trades:
//
//	Every second the engine derives the underlying price and its momentum,
//	lines that up against the active hour's strike ladder, and looks up the
//	empirical win probability for each contract. Contracts whose probability
//	and price differential clear the configured thresholds inside the entry
//	time window become tickets; each ticket maps to one market order at the
//	broker. Open trades are monitored per second and closed by auto-stop,
//	operator request, or the hourly expiry pass.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"strikebot/internal/api"
	"strikebot/internal/config"
	"strikebot/internal/engine"
)

func main() {
	// .env carries the STRIKE_* secrets in development; absence is fine.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("STRIKE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(cfg.API, eng.Initiator(), eng.Manager(), eng.Store(), eng.Bus(), logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()
	logger.Info("api started", "url", fmt.Sprintf("http://localhost:%d", cfg.API.Port))

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("strikebot started",
		"symbol", cfg.Symbol,
		"series", cfg.Broker.SeriesPrefix,
		"mode", cfg.Mode,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
