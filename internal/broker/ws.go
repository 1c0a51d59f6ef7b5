// ws.go implements the authenticated broker WebSocket feed.
//
// One connection serves both channels the engine needs:
//
//   - orderbook_delta: full snapshots plus incremental level deltas for the
//     subscribed near-the-money contracts.
//
//   - market_position: real-time position changes, used as the trigger for
//     account-sync REST passes (the REST mirror stays authoritative).
//
// The feed auto-reconnects with a fixed 5s backoff, re-subscribes to the
// tracked contract list on reconnection, and answers server pings with pongs.
// A 10s read deadline detects silent connection loss; messages missed while
// down are not replayed.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"strikebot/internal/metrics"
	"strikebot/pkg/types"
)

const (
	wsReadTimeout    = 10 * time.Second
	wsWriteTimeout   = 5 * time.Second
	wsReconnectDelay = 5 * time.Second

	snapshotBufferSize = 64
	deltaBufferSize    = 512
	positionBufferSize = 64
)

// WSFeed manages the authenticated broker WebSocket connection. It handles
// connection lifecycle, subscription tracking, message routing, and
// automatic reconnection.
type WSFeed struct {
	url    string
	auth   *Auth
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	cmdID atomic.Int64 // monotonically increasing command IDs

	// Track the orderbook contract list for re-subscribe on reconnect.
	tickersMu sync.RWMutex
	tickers   []string

	snapshotCh   chan types.WSOrderbookSnapshot
	deltaCh      chan types.WSOrderbookDelta
	positionCh   chan types.WSMarketPosition
	disconnectCh chan struct{}

	logger *slog.Logger
}

// NewWSFeed creates the authenticated feed. url is the full WebSocket URL.
func NewWSFeed(url string, auth *Auth, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:          url,
		auth:         auth,
		snapshotCh:   make(chan types.WSOrderbookSnapshot, snapshotBufferSize),
		deltaCh:      make(chan types.WSOrderbookDelta, deltaBufferSize),
		positionCh:   make(chan types.WSMarketPosition, positionBufferSize),
		disconnectCh: make(chan struct{}, 1),
		logger:       logger.With("component", "broker_ws"),
	}
}

// SnapshotEvents returns the channel of full orderbook snapshots.
func (f *WSFeed) SnapshotEvents() <-chan types.WSOrderbookSnapshot { return f.snapshotCh }

// DeltaEvents returns the channel of incremental orderbook deltas.
func (f *WSFeed) DeltaEvents() <-chan types.WSOrderbookDelta { return f.deltaCh }

// PositionEvents returns the channel of market_position triggers.
func (f *WSFeed) PositionEvents() <-chan types.WSMarketPosition { return f.positionCh }

// Disconnects signals each connection loss (used to flush book artifacts).
func (f *WSFeed) Disconnects() <-chan struct{} { return f.disconnectCh }

// SetMarketTickers replaces the orderbook contract list and re-subscribes on
// the live connection. Safe to call while disconnected; the list is applied
// on the next reconnect.
func (f *WSFeed) SetMarketTickers(tickers []string) error {
	f.tickersMu.Lock()
	f.tickers = append([]string(nil), tickers...)
	f.tickersMu.Unlock()

	return f.subscribeOrderbook()
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", wsReconnectDelay,
		)
		metrics.WSReconnects.WithLabelValues("broker").Inc()
		select {
		case f.disconnectCh <- struct{}{}:
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectDelay):
		}
	}
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	headers, err := f.auth.Headers(http.MethodGet, WSPath)
	if err != nil {
		return fmt.Errorf("sign handshake: %w", err)
	}
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, hdr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribePositions(); err != nil {
		return fmt.Errorf("subscribe positions: %w", err)
	}
	if err := f.subscribeOrderbook(); err != nil {
		return fmt.Errorf("subscribe orderbook: %w", err)
	}

	f.logger.Info("websocket connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

// subscribeOrderbook (re)subscribes the orderbook_delta channel to the
// current contract list. No-op while disconnected or with an empty list.
func (f *WSFeed) subscribeOrderbook() error {
	f.tickersMu.RLock()
	tickers := append([]string(nil), f.tickers...)
	f.tickersMu.RUnlock()

	if len(tickers) == 0 {
		return nil
	}

	return f.writeCommand(types.WSCommand{
		ID:  int(f.cmdID.Add(1)),
		Cmd: "subscribe",
		Params: &types.WSCommandParams{
			Channels:      []string{"orderbook_delta"},
			MarketTickers: tickers,
		},
	})
}

func (f *WSFeed) subscribePositions() error {
	return f.writeCommand(types.WSCommand{
		ID:  int(f.cmdID.Add(1)),
		Cmd: "subscribe",
		Params: &types.WSCommandParams{
			Channels: []string{"market_positions"},
		},
	})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope types.WSServerMsg
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Type {
	case "subscribed":
		var sub types.WSSubscribed
		if err := json.Unmarshal(envelope.Msg, &sub); err == nil {
			f.logger.Info("subscribed", "channel", sub.Channel, "sid", sub.SID)
		}

	case "orderbook_snapshot":
		var snap types.WSOrderbookSnapshot
		if err := json.Unmarshal(envelope.Msg, &snap); err != nil {
			f.logger.Error("unmarshal orderbook_snapshot", "error", err)
			return
		}
		select {
		case f.snapshotCh <- snap:
		default:
			f.logger.Warn("snapshot channel full, dropping event", "ticker", snap.MarketTicker)
		}

	case "orderbook_delta":
		var delta types.WSOrderbookDelta
		if err := json.Unmarshal(envelope.Msg, &delta); err != nil {
			f.logger.Error("unmarshal orderbook_delta", "error", err)
			return
		}
		select {
		case f.deltaCh <- delta:
		default:
			f.logger.Warn("delta channel full, dropping event", "ticker", delta.MarketTicker)
		}

	case "market_position":
		var pos types.WSMarketPosition
		if err := json.Unmarshal(envelope.Msg, &pos); err != nil {
			f.logger.Error("unmarshal market_position", "error", err)
			return
		}
		select {
		case f.positionCh <- pos:
		default:
			f.logger.Warn("position channel full, dropping event", "ticker", pos.MarketTicker)
		}

	case "ping":
		if err := f.writeCommand(types.WSCommand{ID: int(f.cmdID.Add(1)), Cmd: "pong"}); err != nil {
			f.logger.Warn("pong failed", "error", err)
		}

	case "error":
		f.logger.Error("server error message", "msg", string(envelope.Msg))

	default:
		f.logger.Debug("unknown ws message type", "type", envelope.Type)
	}
}

func (f *WSFeed) writeCommand(cmd types.WSCommand) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(cmd)
}
