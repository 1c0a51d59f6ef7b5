// Package monitor is the active-trade supervisor: a 1 Hz telemetry loop over
// the mirror table of open trades.
//
// The loop starts when the first trade turns open and stops by itself once
// the mirror empties. Each sweep refreshes per-trade telemetry (cost to
// close from the opposite-side ask, buffer from entry, live win probability,
// unrealized pnl), persists it, republishes the artifact, and fires the
// auto-stop close path when enabled.
package monitor

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strikebot/internal/artifact"
	"strikebot/internal/bus"
	"strikebot/internal/config"
	"strikebot/internal/ledger"
	"strikebot/internal/metrics"
	"strikebot/internal/prob"
	"strikebot/pkg/types"
)

// ActiveStore is the ledger slice holding the monitoring mirror.
type ActiveStore interface {
	ActiveTrades() ([]ledger.ActiveTrade, error)
	UpsertActiveTrade(a *ledger.ActiveTrade) error
}

// PriceSource yields the latest derived tick.
type PriceSource interface {
	Latest() (types.Tick, bool)
}

// SnapshotSource yields the latest hourly-event snapshot.
type SnapshotSource interface {
	Latest() *types.Snapshot
}

// Closer is the initiator's close path, used by auto-stop.
type Closer interface {
	CloseTrade(ctx context.Context, tradeID int64, sellPrice decimal.Decimal, method string) error
}

// Artifact is the on-disk shape of the active-trades file.
type Artifact struct {
	Timestamp time.Time            `json:"timestamp"`
	Trades    []ledger.ActiveTrade `json:"trades"`
}

// Supervisor owns the monitoring loop.
type Supervisor struct {
	store     ActiveStore
	prices    PriceSource
	markets   SnapshotSource
	probs     prob.Table
	closer    Closer
	autoStop  config.AutoStopConfig
	artifacts *artifact.Writer
	events    *bus.Bus
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopped map[int64]bool // auto-stop already fired for this trade
}

// NewSupervisor wires the loop. closer may be nil when auto-stop is off.
func NewSupervisor(store ActiveStore, prices PriceSource, markets SnapshotSource, probs prob.Table, closer Closer, autoStop config.AutoStopConfig, artifacts *artifact.Writer, events *bus.Bus, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		store:     store,
		prices:    prices,
		markets:   markets,
		probs:     probs,
		closer:    closer,
		autoStop:  autoStop,
		artifacts: artifacts,
		events:    events,
		logger:    logger.With("component", "active_monitor"),
		stopped:   map[int64]bool{},
	}
}

// Run listens for trade transitions and keeps the monitoring loop alive
// while any trade is open.
func (s *Supervisor) Run(ctx context.Context) {
	ch, cancel := s.events.Subscribe(64, bus.EventTradeChanged)
	defer cancel()

	// Trades may already be open at startup (crash recovery).
	s.ensureLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if c, isChange := evt.Payload.(bus.TradeChanged); isChange && c.Status == string(types.StatusOpen) {
				s.ensureLoop(ctx)
			}
		}
	}
}

// ensureLoop starts the 1 Hz worker if it is not already running and there
// is something to monitor.
func (s *Supervisor) ensureLoop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	rows, err := s.store.ActiveTrades()
	if err != nil || len(rows) == 0 {
		return
	}
	s.running = true
	go s.loop(ctx)
}

func (s *Supervisor) loop(ctx context.Context) {
	s.logger.Info("monitoring started")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setStopped()
			return
		case <-ticker.C:
			if !s.Sweep(ctx, time.Now()) {
				s.setStopped()
				s.logger.Info("monitoring stopped, no active trades")
				return
			}
		}
	}
}

func (s *Supervisor) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Sweep refreshes telemetry for every active trade and reports whether any
// remain.
func (s *Supervisor) Sweep(ctx context.Context, now time.Time) bool {
	rows, err := s.store.ActiveTrades()
	if err != nil {
		s.logger.Error("list active trades", "error", err)
		return true
	}
	metrics.OpenTrades.Set(float64(len(rows)))
	if len(rows) == 0 {
		return false
	}

	tick, haveTick := s.prices.Latest()
	snap := s.markets.Latest()

	for i := range rows {
		row := &rows[i]
		if haveTick {
			row.CurrentSymbolPrice = tick.Price
		}
		row.TimeSinceEntry = int(now.Sub(row.OpenedAt).Seconds())
		row.LastUpdated = now

		// Buffer from entry in symbol units; positive = safe.
		if row.Side == string(types.Yes) {
			row.BufferFromEntry = row.CurrentSymbolPrice - row.Strike
		} else {
			row.BufferFromEntry = row.Strike - row.CurrentSymbolPrice
		}

		if snap != nil {
			s.refreshMarketFields(row, snap, tick, now)
		}

		if err := s.store.UpsertActiveTrade(row); err != nil {
			s.logger.Error("persist telemetry", "trade", row.TradeID, "error", err)
			continue
		}

		s.maybeAutoStop(ctx, row)
	}

	if err := s.artifacts.WriteJSON("active_trades/active_trades.json", Artifact{
		Timestamp: now,
		Trades:    rows,
	}); err != nil {
		s.logger.Error("write active-trades artifact", "error", err)
	}
	s.events.Publish(bus.EventDbChanged, bus.DbChanged{DB: "active_trades"})
	return true
}

// refreshMarketFields fills the quote- and model-derived telemetry: the cost
// to close from the opposite-side ask and the live win probability.
func (s *Supervisor) refreshMarketFields(row *ledger.ActiveTrade, snap *types.Snapshot, tick types.Tick, now time.Time) {
	m, ok := snap.MarketByTicker(row.Ticker)
	if !ok {
		return
	}

	// Closing a YES position buys NO and vice versa.
	ask := m.NoAsk
	if row.Side == string(types.No) {
		ask = m.YesAsk
	}
	closePrice := decimal.NewFromInt(int64(ask)).Div(decimal.NewFromInt(100))
	row.CurrentClosePrice = closePrice

	// current_pnl = 1 − close − buy, two decimals.
	pnl := decimal.NewFromInt(1).Sub(closePrice).Sub(row.BuyPrice).Round(2)
	row.CurrentPnL = pnl.StringFixed(2)

	ttc := snap.TTC(now)
	buffer := math.Abs(tick.Price - row.Strike)
	if p, found := s.probs.Lookup(ttc, buffer, tick.Momentum); found {
		row.CurrentProbability = winProbability(p, types.Side(row.Side), row.Strike, tick.Price)
	}
}

// winProbability maps the within-buffer cell onto the trade's side: a YES
// below the money line wins when price does not fall through the strike, a
// NO above wins when it does not rise through it; the mirror cases invert.
func winProbability(p prob.Probs, side types.Side, strike, price float64) float64 {
	var within float64
	if strike < price {
		within = p.Negative
	} else {
		within = p.Positive
	}
	favored := (side == types.Yes && strike < price) || (side == types.No && strike >= price)
	if favored {
		return within
	}
	return 100 - within
}

// maybeAutoStop fires the close path when the unrealized pnl breaches the
// stop threshold.
func (s *Supervisor) maybeAutoStop(ctx context.Context, row *ledger.ActiveTrade) {
	if !s.autoStop.Enabled || s.closer == nil || row.CurrentPnL == "" {
		return
	}
	pnl, err := decimal.NewFromString(row.CurrentPnL)
	if err != nil {
		return
	}
	if pnl.InexactFloat64() > s.autoStop.StopThreshold {
		return
	}

	s.mu.Lock()
	fired := s.stopped[row.TradeID]
	s.stopped[row.TradeID] = true
	s.mu.Unlock()
	if fired {
		return
	}

	s.logger.Warn("auto-stop triggered",
		"trade", row.TradeID, "pnl", row.CurrentPnL, "threshold", s.autoStop.StopThreshold)
	if err := s.closer.CloseTrade(ctx, row.TradeID, row.CurrentClosePrice, "auto_stop"); err != nil {
		s.logger.Error("auto-stop close failed", "trade", row.TradeID, "error", err)
	}
}
