package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strikebot/internal/bus"
	"strikebot/internal/ledger"
	"strikebot/pkg/types"
)

const (
	// pendingDeadline is how long a trade may sit pending before the gap is
	// surfaced in the log. The trade itself stays pending: the broker may
	// still fill, and reconciliation picks it up whenever the position lands.
	pendingDeadline = 30 * time.Second

	// Settlement polling after expiry: cadence and hard deadline. Trades
	// unresolved at the deadline stay expired for manual handling.
	settlementPollEvery = 10 * time.Second
	settlementDeadline  = 30 * time.Minute
)

// ErrNotOpen is returned when a close is requested for a trade that is not
// currently open.
var ErrNotOpen = errors.New("trade is not open")

// TradeStore is the ledger slice the manager owns and reads.
type TradeStore interface {
	InsertTrade(t *ledger.Trade) error
	GetTrade(id int64) (*ledger.Trade, error)
	SaveTrade(t *ledger.Trade) error
	TradesByStatus(status types.TradeStatus) ([]ledger.Trade, error)
	DeleteErrorTrades() (int64, error)

	GetPosition(ticker string) (*ledger.Position, error)
	LatestFill(ticker, side string) (*ledger.Fill, error)
	SettlementFor(ticker string) (*ledger.Settlement, error)

	UpsertActiveTrade(a *ledger.ActiveTrade) error
	DeleteActiveTrade(tradeID int64) error
}

// OrderSubmitter abstracts the executor for tests.
type OrderSubmitter interface {
	Execute(ctx context.Context, t types.Ticket) (string, error)
}

// PriceSource yields the latest derived tick.
type PriceSource interface {
	Latest() (types.Tick, bool)
}

// Manager owns the trade state machine. Transitions are one-way
// (pending → open → closing → closed, with expired and error as off-ramps)
// and every multi-step update for a given trade runs under that trade's
// mutex, so near-simultaneous position and fill updates cannot interleave.
type Manager struct {
	store    TradeStore
	exec     OrderSubmitter
	prices   PriceSource
	events   *bus.Bus
	notifier *bus.Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager wires the manager.
func NewManager(store TradeStore, exec OrderSubmitter, prices PriceSource, events *bus.Bus, notifier *bus.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		exec:     exec,
		prices:   prices,
		events:   events,
		notifier: notifier,
		logger:   logger.With("component", "trade_manager"),
		locks:    map[int64]*sync.Mutex{},
	}
}

// lockFor returns the per-trade mutex, creating it on first use.
func (m *Manager) lockFor(id int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Trade fetches a ledger trade by ID.
func (m *Manager) Trade(id int64) (*ledger.Trade, error) {
	return m.store.GetTrade(id)
}

// Open persists a new pending trade from an open ticket and forwards it to
// the executor. The trade turns open only when account sync mirrors a
// non-zero broker position for its ticker.
func (m *Manager) Open(ctx context.Context, t types.Ticket) (*ledger.Trade, error) {
	row := &ledger.Trade{
		TicketID:      t.TicketID,
		Date:          t.Date,
		Time:          t.Time,
		Symbol:        t.Symbol,
		Market:        t.Market,
		TradeStrategy: t.TradeStrategy,
		Contract:      t.Contract,
		Strike:        t.Strike,
		Side:          string(t.Side),
		Ticker:        t.Ticker,
		Prob:          t.Prob,
		Position:      t.Position,
		BuyPrice:      t.BuyPrice,
		EntryMethod:   string(t.EntryMethod),
		Momentum:      t.Momentum,
		Status:        string(types.StatusPending),
		SymbolOpen:    t.SymbolOpen,
	}
	if err := m.store.InsertTrade(row); err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}
	m.emit(ctx, row, types.StatusPending)

	m.logger.Info("SENT TO EXECUTOR",
		"trade", row.ID, "ticket", t.TicketID, "ticker", t.Ticker,
		"side", t.Side, "count", t.Position)

	if _, err := m.exec.Execute(ctx, t); err != nil {
		m.markError(ctx, row.ID, err)
		return row, err
	}

	time.AfterFunc(pendingDeadline, func() {
		tr, err := m.store.GetTrade(row.ID)
		if err == nil && tr.Status == string(types.StatusPending) {
			m.logger.Warn("trade still pending past deadline", "trade", row.ID)
		}
	})
	return row, nil
}

// Close forwards a close ticket to the executor and moves the trade to
// closing. The ticket side is the opposite of the held side; the position is
// flattened by buying it out.
func (m *Manager) Close(ctx context.Context, t types.Ticket) error {
	l := m.lockFor(t.TradeID)
	l.Lock()
	defer l.Unlock()

	tr, err := m.store.GetTrade(t.TradeID)
	if err != nil {
		return err
	}
	if tr.Status != string(types.StatusOpen) {
		return fmt.Errorf("trade %d is %s: %w", tr.ID, tr.Status, ErrNotOpen)
	}

	if _, err := m.exec.Execute(ctx, t); err != nil {
		m.logger.Error("close order rejected", "trade", tr.ID, "error", err)
		return err
	}

	tr.Status = string(types.StatusClosing)
	tr.SymbolClose = nil
	tr.SellPrice = t.SellPrice
	tr.CloseMethod = t.CloseMethod
	if err := m.store.SaveTrade(tr); err != nil {
		return fmt.Errorf("persist closing: %w", err)
	}
	m.emit(ctx, tr, types.StatusClosing)
	return nil
}

// Run reconciles pending and closing trades whenever account sync reports a
// positions or fills change, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ch, cancel := m.events.Subscribe(64, bus.EventDbChanged, bus.EventPositionUpdate)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if d, isDb := evt.Payload.(bus.DbChanged); isDb {
				if d.DB != "positions" && d.DB != "fills" {
					continue
				}
			}
			m.Reconcile(ctx)
		}
	}
}

// Reconcile runs one pass over pending and closing trades against the
// mirrored account state.
func (m *Manager) Reconcile(ctx context.Context) {
	m.reconcilePending(ctx)
	m.reconcileClosing(ctx)
}

// reconcilePending turns pending trades open once their broker position is
// mirrored non-zero. The fill price is derived from exposure, not from the
// ticket: buy_price = exposure / position / 100 to two decimals.
func (m *Manager) reconcilePending(ctx context.Context) {
	rows, err := m.store.TradesByStatus(types.StatusPending)
	if err != nil {
		m.logger.Error("list pending trades", "error", err)
		return
	}

	for i := range rows {
		id := rows[i].ID
		l := m.lockFor(id)
		l.Lock()

		tr, err := m.store.GetTrade(id)
		if err != nil || tr.Status != string(types.StatusPending) {
			l.Unlock()
			continue
		}

		pos, err := m.store.GetPosition(tr.Ticker)
		if err != nil || pos.Position == 0 {
			l.Unlock()
			continue
		}

		count := pos.Position
		if count < 0 {
			count = -count
		}
		buy := pos.MarketExposure.
			Div(decimal.NewFromInt(int64(count))).
			Div(decimal.NewFromInt(100)).
			Round(2)
		buyF, _ := buy.Float64()

		tr.Position = count
		tr.BuyPrice = buy
		tr.Fees = pos.FeesPaid
		tr.Diff = int(math.Round(tr.Prob - buyF*100))
		tr.Status = string(types.StatusOpen)
		if tick, ok := m.prices.Latest(); ok {
			tr.SymbolOpen = tick.Price
		}

		if err := m.store.SaveTrade(tr); err != nil {
			m.logger.Error("persist open", "trade", id, "error", err)
			l.Unlock()
			continue
		}
		if err := m.store.UpsertActiveTrade(activeRowFor(tr)); err != nil {
			m.logger.Error("insert active-trade row", "trade", id, "error", err)
		}
		m.emit(ctx, tr, types.StatusOpen)
		l.Unlock()
	}
}

// reconcileClosing finalizes closing trades once their broker position is
// mirrored zero. sell_price comes from the most recent fill on the opposite
// side as 1 − fill_price; pnl = position·sell − position·buy − fees.
func (m *Manager) reconcileClosing(ctx context.Context) {
	rows, err := m.store.TradesByStatus(types.StatusClosing)
	if err != nil {
		m.logger.Error("list closing trades", "error", err)
		return
	}

	for i := range rows {
		id := rows[i].ID
		l := m.lockFor(id)
		l.Lock()

		tr, err := m.store.GetTrade(id)
		if err != nil || tr.Status != string(types.StatusClosing) {
			l.Unlock()
			continue
		}

		pos, err := m.store.GetPosition(tr.Ticker)
		if err != nil || pos.Position != 0 {
			l.Unlock()
			continue
		}

		opposite := types.Side(tr.Side).Opposite()
		fill, err := m.store.LatestFill(tr.Ticker, opposite.Channel())
		if err != nil {
			l.Unlock()
			continue
		}
		fillPrice := fill.YesPrice
		if opposite == types.No {
			fillPrice = fill.NoPrice
		}

		tr.SellPrice = decimal.NewFromInt(1).Sub(fillPrice).Round(2)
		tr.Fees = pos.FeesPaid
		m.finalize(ctx, tr, types.StatusClosed)
		l.Unlock()
	}
}

// finalize computes pnl and outcome for a trade whose sell price and fees
// are set, stamps the close, and persists. status is closed.
func (m *Manager) finalize(ctx context.Context, tr *ledger.Trade, status types.TradeStatus) {
	position := decimal.NewFromInt(int64(tr.Position))
	pnl := position.Mul(tr.SellPrice).
		Sub(position.Mul(tr.BuyPrice)).
		Sub(tr.Fees).
		Round(2)

	now := time.Now()
	if tr.SymbolClose == nil {
		if tick, ok := m.prices.Latest(); ok {
			price := tick.Price
			tr.SymbolClose = &price
		}
	}
	tr.PnL = pnl
	tr.WinLoss = string(types.WinLossFromPnL(pnl))
	tr.ClosedAt = &now
	tr.Status = string(status)

	if err := m.store.SaveTrade(tr); err != nil {
		m.logger.Error("persist close", "trade", tr.ID, "error", err)
		return
	}
	if err := m.store.DeleteActiveTrade(tr.ID); err != nil {
		m.logger.Error("delete active-trade row", "trade", tr.ID, "error", err)
	}
	m.emit(ctx, tr, status)
}

// ExpireOpen marks every open trade expired at the hourly boundary and
// removes its monitoring row. Settlement resolution follows separately.
func (m *Manager) ExpireOpen(ctx context.Context) int {
	rows, err := m.store.TradesByStatus(types.StatusOpen)
	if err != nil {
		m.logger.Error("list open trades", "error", err)
		return 0
	}

	expired := 0
	for i := range rows {
		id := rows[i].ID
		l := m.lockFor(id)
		l.Lock()

		tr, err := m.store.GetTrade(id)
		if err != nil || tr.Status != string(types.StatusOpen) {
			l.Unlock()
			continue
		}

		now := time.Now()
		if tick, ok := m.prices.Latest(); ok {
			price := tick.Price
			tr.SymbolClose = &price
		}
		tr.ClosedAt = &now
		tr.CloseMethod = "expired"
		tr.Status = string(types.StatusExpired)

		if err := m.store.SaveTrade(tr); err != nil {
			m.logger.Error("persist expiry", "trade", id, "error", err)
			l.Unlock()
			continue
		}
		if err := m.store.DeleteActiveTrade(id); err != nil {
			m.logger.Error("delete active-trade row", "trade", id, "error", err)
		}
		m.emit(ctx, tr, types.StatusExpired)
		expired++
		l.Unlock()
	}
	return expired
}

// ResolveExpired polls mirrored settlements for expired trades until all are
// resolved or the deadline passes. A settlement with positive revenue means
// the held side won: sell_price = 1; otherwise 0.
func (m *Manager) ResolveExpired(ctx context.Context) {
	deadline := time.Now().Add(settlementDeadline)
	ticker := time.NewTicker(settlementPollEvery)
	defer ticker.Stop()

	for {
		if m.resolveExpiredOnce(ctx) == 0 {
			return
		}
		if time.Now().After(deadline) {
			m.logger.Warn("settlement polling deadline reached, trades left expired")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolveExpiredOnce settles what it can and returns the number of trades
// still expired.
func (m *Manager) resolveExpiredOnce(ctx context.Context) int {
	rows, err := m.store.TradesByStatus(types.StatusExpired)
	if err != nil {
		m.logger.Error("list expired trades", "error", err)
		return 0
	}

	remaining := 0
	for i := range rows {
		id := rows[i].ID
		l := m.lockFor(id)
		l.Lock()

		tr, err := m.store.GetTrade(id)
		if err != nil || tr.Status != string(types.StatusExpired) {
			l.Unlock()
			continue
		}

		st, err := m.store.SettlementFor(tr.Ticker)
		if err != nil {
			remaining++
			l.Unlock()
			continue
		}

		if st.Revenue.Sign() > 0 {
			tr.SellPrice = decimal.NewFromInt(1)
		} else {
			tr.SellPrice = decimal.Zero
		}
		m.finalize(ctx, tr, types.StatusClosed)
		l.Unlock()
	}
	return remaining
}

// DeleteErrors removes error-status trades; run at the hourly boundary
// before expiry processing.
func (m *Manager) DeleteErrors() {
	n, err := m.store.DeleteErrorTrades()
	if err != nil {
		m.logger.Error("delete error trades", "error", err)
		return
	}
	if n > 0 {
		m.logger.Info("deleted error trades", "count", n)
	}
}

// SetError moves a trade to error on an externally reported failure (the
// executor callback path).
func (m *Manager) SetError(ctx context.Context, id int64, reason string) {
	m.markError(ctx, id, errors.New(reason))
}

func (m *Manager) markError(ctx context.Context, id int64, cause error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	tr, err := m.store.GetTrade(id)
	if err != nil {
		return
	}
	tr.Status = string(types.StatusError)
	if err := m.store.SaveTrade(tr); err != nil {
		m.logger.Error("persist error status", "trade", id, "error", err)
		return
	}
	m.logger.Error("trade errored", "trade", id, "cause", cause)
	m.emit(ctx, tr, types.StatusError)
}

// emit publishes the status transition on the bus and notifies the
// active-trade supervisor peer.
func (m *Manager) emit(ctx context.Context, tr *ledger.Trade, status types.TradeStatus) {
	m.events.Publish(bus.EventTradeChanged, bus.TradeChanged{
		TradeID:  tr.ID,
		TicketID: tr.TicketID,
		Status:   string(status),
	})
	m.notifier.NotifyTradeManager(ctx, tr.ID, tr.TicketID, string(status))
}

func activeRowFor(tr *ledger.Trade) *ledger.ActiveTrade {
	return &ledger.ActiveTrade{
		TradeID:  tr.ID,
		TicketID: tr.TicketID,
		Symbol:   tr.Symbol,
		Ticker:   tr.Ticker,
		Strike:   tr.Strike,
		Side:     tr.Side,
		Position: tr.Position,
		BuyPrice: tr.BuyPrice,
		Prob:     tr.Prob,
		OpenedAt: time.Now(),
	}
}
