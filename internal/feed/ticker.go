package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"strikebot/internal/metrics"
	"strikebot/pkg/types"
)

const (
	tickerReadTimeout    = 10 * time.Second
	tickerWriteTimeout   = 5 * time.Second
	tickerReconnectDelay = 5 * time.Second
	tickerBufferSize     = 16
)

// RawTick is one price observation from the public feed, before derivation.
type RawTick struct {
	Symbol string
	Price  float64
	TS     time.Time
}

// TickerFeed subscribes to the public plain-JSON ticker stream for one
// symbol and emits at most one tick per wall-clock second. Extra messages
// within the same second are dropped at the source; ticks missed during a
// disconnect are skipped, never replayed.
type TickerFeed struct {
	url    string
	symbol string
	tickCh chan RawTick
	logger *slog.Logger

	lastSecond time.Time
}

// NewTickerFeed creates the public ticker feed for the symbol.
func NewTickerFeed(url, symbol string, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		url:    url,
		symbol: symbol,
		tickCh: make(chan RawTick, tickerBufferSize),
		logger: logger.With("component", "ticker_feed"),
	}
}

// Ticks returns the channel of retained ticks.
func (f *TickerFeed) Ticks() <-chan RawTick { return f.tickCh }

// Run connects and maintains the subscription with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("ticker feed disconnected, reconnecting",
			"error", err,
			"backoff", tickerReconnectDelay,
		)
		metrics.WSReconnects.WithLabelValues("ticker").Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tickerReconnectDelay):
		}
	}
}

func (f *TickerFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := types.TickerSubscribeMsg{
		Type: "subscribe",
		Channels: []types.TickerChannel{
			{Name: "ticker", ProductIDs: []string{f.symbol}},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(tickerWriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("ticker feed connected", "symbol", f.symbol)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(tickerReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.handleMessage(msg)
	}
}

func (f *TickerFeed) handleMessage(data []byte) {
	var msg types.TickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("ignoring non-json ticker message")
		return
	}
	if msg.Type != "ticker" || msg.ProductID != f.symbol {
		return
	}

	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		f.logger.Warn("unparseable ticker price", "price", msg.Price)
		return
	}

	now := time.Now()
	second := now.Truncate(time.Second)
	if second.Equal(f.lastSecond) {
		return // one retained tick per second
	}
	f.lastSecond = second

	select {
	case f.tickCh <- RawTick{Symbol: f.symbol, Price: price, TS: now}:
	default:
		f.logger.Warn("tick channel full, dropping tick")
	}
}
