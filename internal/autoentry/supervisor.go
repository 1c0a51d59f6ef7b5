// Package autoentry scans the watchlist once per second and emits open
// tickets when a row clears the configured thresholds.
//
// The supervisor is a small state machine: DISABLED when the feature is off
// or any required setting is missing, INACTIVE when the time-to-close is
// outside the configured window, PAUSED while a momentum spike is being
// waited out, and ACTIVE while scanning. PAUSED blocks all emission until
// momentum has stayed below the cooldown threshold for the configured number
// of minutes; any excursion back above it resets the recovery clock.
package autoentry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strikebot/internal/bus"
	"strikebot/internal/config"
	"strikebot/internal/ledger"
	"strikebot/internal/trade"
	"strikebot/pkg/types"
)

// State is the supervisor's operational state.
type State string

const (
	StateDisabled State = "DISABLED"
	StateInactive State = "INACTIVE"
	StateActive   State = "ACTIVE"
	StatePaused   State = "PAUSED"
)

// entryCooldown is the per-strike-key minimum spacing between emissions.
const entryCooldown = 10 * time.Second

// WatchlistSource yields the latest filtered watchlist.
type WatchlistSource interface {
	Watchlist() *types.StrikeTable
}

// PriceSource yields the latest derived tick (price and momentum).
type PriceSource interface {
	Latest() (types.Tick, bool)
}

// DupeGuard answers whether a live trade already occupies a strike/side.
type DupeGuard interface {
	LiveTradeOn(strike float64, side types.Side) (bool, error)
}

// TicketOpener is the initiator surface the supervisor emits through.
type TicketOpener interface {
	Open(ctx context.Context, req trade.OpenRequest) (*ledger.Trade, error)
}

// Supervisor runs the auto-entry scan.
type Supervisor struct {
	cfg      config.AutoEntryConfig
	prefs    config.TradePrefs
	watch    WatchlistSource
	prices   PriceSource
	guard    DupeGuard
	opener   TicketOpener
	events   *bus.Bus
	notifier *bus.Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	paused    bool      // spike-alert machine output
	calmSince time.Time // zero = momentum not currently below the cooldown threshold
	cooldown  map[string]time.Time
}

// NewSupervisor wires the scan. Missing required settings are tolerated here
// and reported as DISABLED on every scan.
func NewSupervisor(cfg config.AutoEntryConfig, prefs config.TradePrefs, watch WatchlistSource, prices PriceSource, guard DupeGuard, opener TicketOpener, events *bus.Bus, notifier *bus.Notifier, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		prefs:    prefs,
		watch:    watch,
		prices:   prices,
		guard:    guard,
		opener:   opener,
		events:   events,
		notifier: notifier,
		logger:   logger.With("component", "auto_entry"),
		state:    StateDisabled,
		cooldown: map[string]time.Time{},
	}
}

// State returns the current operational state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run scans once per second until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx, time.Now())
		}
	}
}

// Scan performs one pass: recompute the operational state, broadcast on
// change, and when ACTIVE walk the watchlist in sort order emitting at most
// one ticket per strike key.
func (s *Supervisor) Scan(ctx context.Context, now time.Time) {
	watch := s.watch.Watchlist()

	state := s.recomputeState(watch, now)
	if state != StateActive {
		return
	}

	seen := map[string]bool{}
	for _, row := range watch.Strikes {
		key := strikeKey(row.Strike, row.ActiveSide)
		if seen[key] {
			continue
		}
		seen[key] = true
		s.evaluate(ctx, row, key, now)
	}
}

// recomputeState updates the spike machine and derives the operational
// state, broadcasting it when it changes.
func (s *Supervisor) recomputeState(watch *types.StrikeTable, now time.Time) State {
	s.mu.Lock()

	state := StateActive
	switch {
	case len(s.cfg.Missing()) > 0 || !*s.cfg.Enabled:
		state = StateDisabled
	default:
		s.updateSpike(now)
		switch {
		case s.paused:
			state = StatePaused
		case watch == nil || watch.TTC < *s.cfg.MinTime || watch.TTC > *s.cfg.MaxTime:
			state = StateInactive
		}
	}

	changed := state != s.state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.logger.Info("state changed", "state", state)
		s.events.Publish(bus.EventSystemHealth, bus.SystemHealth{
			Component: "auto_entry",
			Healthy:   state != StateDisabled,
			Detail:    string(state),
		})
	}
	return state
}

// updateSpike advances the spike-alert machine. Caller holds s.mu.
func (s *Supervisor) updateSpike(now time.Time) {
	if !*s.cfg.SpikeAlertEnabled {
		s.paused = false
		return
	}

	tick, ok := s.prices.Latest()
	if !ok {
		return
	}
	m := math.Abs(float64(tick.Momentum))

	if m >= *s.cfg.SpikeAlertMomentumThreshold {
		if !s.paused {
			s.logger.Warn("momentum spike, pausing entries", "momentum", tick.Momentum)
		}
		s.paused = true
		s.calmSince = time.Time{}
		return
	}
	if !s.paused {
		return
	}

	// Recovery: momentum must stay below the cooldown threshold for the
	// full window; touching it restarts the clock.
	if m >= *s.cfg.SpikeAlertCooldownThreshold {
		s.calmSince = time.Time{}
		return
	}
	if s.calmSince.IsZero() {
		s.calmSince = now
		return
	}
	window := time.Duration(*s.cfg.SpikeAlertCooldownMinutes * float64(time.Minute))
	if now.Sub(s.calmSince) >= window {
		s.paused = false
		s.calmSince = time.Time{}
		s.logger.Info("momentum recovered, resuming entries")
	}
}

// evaluate applies cooldown, duplicate guard, and thresholds to one row, and
// emits through the initiator when everything clears.
func (s *Supervisor) evaluate(ctx context.Context, row types.StrikeRow, key string, now time.Time) {
	// Compare-and-set cooldown: claim the key before any slow work so
	// overlapping scans cannot double-fire, and remember the previous stamp
	// for rollback.
	s.mu.Lock()
	prev, had := s.cooldown[key]
	if had && now.Sub(prev) < entryCooldown {
		s.mu.Unlock()
		return
	}
	s.cooldown[key] = now
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		if had {
			s.cooldown[key] = prev
		} else {
			delete(s.cooldown, key)
		}
		s.mu.Unlock()
	}

	live, err := s.guard.LiveTradeOn(row.Strike, row.ActiveSide)
	if err != nil {
		s.logger.Error("duplicate guard", "strike", row.Strike, "error", err)
		return
	}
	if live {
		return
	}

	if row.Probability < *s.cfg.MinProbability {
		return
	}
	// Half-point leniency on the differential is part of the contract.
	if row.ActiveDiff() < *s.cfg.MinDifferential-0.5 {
		return
	}

	position := s.prefs.PositionSize * s.prefs.Multiplier
	req := trade.OpenRequest{
		Strike:      row.Strike,
		Side:        row.ActiveSide,
		Ticker:      row.Ticker,
		BuyPrice:    decimal.NewFromInt(int64(row.ActiveAsk())).Div(decimal.NewFromInt(100)),
		Prob:        row.Probability,
		Position:    position,
		EntryMethod: types.EntryAuto,
	}

	tr, err := s.opener.Open(ctx, req)
	if err != nil {
		s.logger.Error("auto entry rejected", "strike", row.Strike, "side", row.ActiveSide, "error", err)
		rollback()
		return
	}

	s.logger.Info("auto entry emitted",
		"trade", tr.ID, "strike", row.Strike, "side", row.ActiveSide,
		"prob", row.Probability, "diff", row.ActiveDiff(), "position", position)
	s.notifier.NotifyAutomatedTrade(ctx, bus.AutomatedTradeNotification{
		TicketID: tr.TicketID,
		Strike:   row.Strike,
		Side:     string(row.ActiveSide),
		Prob:     row.Probability,
	})
}

func strikeKey(strike float64, side types.Side) string {
	return fmt.Sprintf("%.0f:%s", strike, side)
}
