// Package api exposes the inter-component HTTP surface: trade creation and
// queries, the notification endpoints that carry cross-process events onto
// the in-process bus, health, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strikebot/internal/bus"
	"strikebot/internal/config"
)

// Server runs the HTTP API.
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg config.APIConfig, opener TradeOpener, mgr TradeManager, trades TradeReader, events *bus.Bus, logger *slog.Logger) *Server {
	handlers := NewHandlers(opener, mgr, trades, events, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/trades", handlers.HandleTrades)
	mux.HandleFunc("/api/update_trade_status", handlers.HandleUpdateTradeStatus)
	mux.HandleFunc("/api/positions_updated", handlers.HandlePositionsUpdated)
	mux.HandleFunc("/api/trade_manager_notification", handlers.HandleTradeManagerNotification)
	mux.HandleFunc("/api/notify_db_change", handlers.HandleNotifyDbChange)
	mux.HandleFunc("/api/notify_automated_trade", handlers.HandleNotifyAutomatedTrade)
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
