package trade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"strikebot/internal/bus"
	"strikebot/internal/config"
	"strikebot/internal/ledger"
	"strikebot/pkg/types"
)

// memStore is an in-memory TradeStore for exercising the state machine.
type memStore struct {
	mu          sync.Mutex
	seq         int64
	trades      map[int64]*ledger.Trade
	positions   map[string]*ledger.Position
	fills       []ledger.Fill
	settlements map[string]*ledger.Settlement
	active      map[int64]*ledger.ActiveTrade
}

func newMemStore() *memStore {
	return &memStore{
		trades:      map[int64]*ledger.Trade{},
		positions:   map[string]*ledger.Position{},
		settlements: map[string]*ledger.Settlement{},
		active:      map[int64]*ledger.ActiveTrade{},
	}
}

func (s *memStore) InsertTrade(t *ledger.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t.ID = s.seq
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *memStore) GetTrade(id int64) (*ledger.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) SaveTrade(t *ledger.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *memStore) TradesByStatus(status types.TradeStatus) ([]ledger.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Trade
	for id := int64(1); id <= s.seq; id++ {
		if t, ok := s.trades[id]; ok && t.Status == string(status) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) DeleteErrorTrades() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.trades {
		if t.Status == string(types.StatusError) {
			delete(s.trades, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetPosition(ticker string) (*ledger.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticker]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) LatestFill(ticker, side string) (*ledger.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.fills) - 1; i >= 0; i-- {
		if s.fills[i].Ticker == ticker && s.fills[i].Side == side {
			cp := s.fills[i]
			return &cp, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (s *memStore) SettlementFor(ticker string) (*ledger.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[ticker]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *memStore) UpsertActiveTrade(a *ledger.ActiveTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.active[a.TradeID] = &cp
	return nil
}

func (s *memStore) DeleteActiveTrade(tradeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, tradeID)
	return nil
}

func (s *memStore) hasActive(tradeID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[tradeID]
	return ok
}

// fakeExec records executed tickets.
type fakeExec struct {
	mu      sync.Mutex
	tickets []types.Ticket
	err     error
}

func (f *fakeExec) Execute(_ context.Context, t types.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, t)
	if f.err != nil {
		return "", f.err
	}
	return "ord-" + t.TicketID, nil
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickets)
}

type fakeTicks struct {
	tick types.Tick
	ok   bool
}

func (f fakeTicks) Latest() (types.Tick, bool) { return f.tick, f.ok }

func newTestManager(store TradeStore, exec OrderSubmitter) (*Manager, *bus.Bus) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := bus.New(logger)
	notifier := bus.NewNotifier(config.NotifyConfig{}, logger)
	prices := fakeTicks{tick: types.Tick{Symbol: "BTC", Price: 119050, Momentum: 5}, ok: true}
	return NewManager(store, exec, prices, events, notifier, logger), events
}

func openTicket() types.Ticket {
	return types.Ticket{
		TicketID:    "tk-1",
		Intent:      types.IntentOpen,
		Symbol:      "BTC",
		Strike:      119000,
		Side:        types.Yes,
		Ticker:      "KXBTCD-25AUG2415-T119000",
		Prob:        95,
		Position:    3,
		BuyPrice:    decimal.NewFromFloat(0.93),
		SymbolOpen:  119050,
		EntryMethod: types.EntryAuto,
	}
}

func TestOpenPersistsPendingAndExecutes(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	m, _ := newTestManager(store, exec)

	row, err := m.Open(context.Background(), openTicket())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if exec.count() != 1 {
		t.Errorf("executor called %d times, want 1", exec.count())
	}

	tr, err := store.GetTrade(row.ID)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if tr.Status != string(types.StatusPending) {
		t.Errorf("status = %s, want pending", tr.Status)
	}
	if tr.TicketID != "tk-1" || tr.Side != "Y" || tr.Prob != 95 {
		t.Errorf("persisted row %+v lost ticket fields", tr)
	}
}

func TestOpenExecutorFailureMarksError(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{err: errors.New("broker down")}
	m, _ := newTestManager(store, exec)

	row, err := m.Open(context.Background(), openTicket())
	if err == nil {
		t.Fatal("Open should surface the executor error")
	}

	tr, _ := store.GetTrade(row.ID)
	if tr.Status != string(types.StatusError) {
		t.Errorf("status = %s, want error", tr.Status)
	}
}

func TestPendingTurnsOpenOnPositionMirror(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	m, events := newTestManager(store, exec)

	row, err := m.Open(context.Background(), openTicket())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	changes, cancel := events.Subscribe(16, bus.EventTradeChanged)
	defer cancel()

	// Mirror arrives: 3 contracts, $2.79 exposure (279 cents), $0.20 fees.
	store.positions[row.Ticker] = &ledger.Position{
		Ticker:         row.Ticker,
		Position:       3,
		MarketExposure: decimal.NewFromInt(279),
		FeesPaid:       decimal.NewFromFloat(0.20),
	}

	m.Reconcile(context.Background())

	tr, _ := store.GetTrade(row.ID)
	if tr.Status != string(types.StatusOpen) {
		t.Fatalf("status = %s, want open", tr.Status)
	}
	if !tr.BuyPrice.Equal(decimal.NewFromFloat(0.93)) {
		t.Errorf("buy_price = %s, want 0.93 (exposure/position/100)", tr.BuyPrice)
	}
	if !tr.Fees.Equal(decimal.NewFromFloat(0.20)) {
		t.Errorf("fees = %s, want 0.20", tr.Fees)
	}
	if tr.Diff != 2 {
		t.Errorf("diff = %d, want prob − buy·100 = 2", tr.Diff)
	}
	if !store.hasActive(row.ID) {
		t.Error("active-trade mirror row not inserted")
	}

	// Exactly one open transition on the bus.
	opens := 0
	for len(changes) > 0 {
		evt := <-changes
		if c, ok := evt.Payload.(bus.TradeChanged); ok && c.Status == string(types.StatusOpen) {
			opens++
		}
	}
	if opens != 1 {
		t.Errorf("open transitions published = %d, want 1", opens)
	}

	// A second pass with the same mirror must not re-fire.
	m.Reconcile(context.Background())
	tr, _ = store.GetTrade(row.ID)
	if tr.Status != string(types.StatusOpen) {
		t.Errorf("second reconcile moved status to %s", tr.Status)
	}
}

func TestCloseConfirmation(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	m, _ := newTestManager(store, exec)

	tr := &ledger.Trade{
		TicketID: "tk-2",
		Ticker:   "KXBTCD-25AUG2415-T119000",
		Strike:   119000,
		Side:     "Y",
		Position: 3,
		BuyPrice: decimal.NewFromFloat(0.93),
		Prob:     95,
		Status:   string(types.StatusOpen),
	}
	if err := store.InsertTrade(tr); err != nil {
		t.Fatal(err)
	}
	store.active[tr.ID] = &ledger.ActiveTrade{TradeID: tr.ID}

	closeTicket := types.Ticket{
		TicketID:  "tk-2-close",
		Intent:    types.IntentClose,
		TradeID:   tr.ID,
		Ticker:    tr.Ticker,
		Side:      types.No,
		Position:  3,
		SellPrice: decimal.NewFromFloat(0.06),
	}
	if err := m.Close(context.Background(), closeTicket); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, _ := store.GetTrade(tr.ID)
	if got.Status != string(types.StatusClosing) {
		t.Fatalf("status = %s, want closing", got.Status)
	}

	// Mirror flattens the position and the opposite-side fill lands.
	store.positions[tr.Ticker] = &ledger.Position{
		Ticker:   tr.Ticker,
		Position: 0,
		FeesPaid: decimal.NewFromFloat(0.30),
	}
	store.fills = append(store.fills, ledger.Fill{
		TradeID: "f-1",
		Ticker:  tr.Ticker,
		Side:    "no",
		Action:  "buy",
		NoPrice: decimal.NewFromFloat(0.94),
	})

	m.Reconcile(context.Background())

	got, _ = store.GetTrade(tr.ID)
	if got.Status != string(types.StatusClosed) {
		t.Fatalf("status = %s, want closed", got.Status)
	}
	if !got.SellPrice.Equal(decimal.NewFromFloat(0.06)) {
		t.Errorf("sell_price = %s, want 1 − 0.94 = 0.06", got.SellPrice)
	}
	if !got.PnL.Equal(decimal.NewFromFloat(-2.91)) {
		t.Errorf("pnl = %s, want 3·0.06 − 3·0.93 − 0.30 = −2.91", got.PnL)
	}
	if got.WinLoss != string(types.Loss) {
		t.Errorf("win_loss = %s, want L", got.WinLoss)
	}
	if got.SymbolClose == nil {
		t.Error("symbol_close not frozen at close")
	}
	if got.ClosedAt == nil {
		t.Error("closed_at not stamped")
	}
	if store.hasActive(tr.ID) {
		t.Error("active-trade row not deleted on close")
	}
}

func TestCloseRejectsNonOpenTrade(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	m, _ := newTestManager(store, &fakeExec{})

	tr := &ledger.Trade{TicketID: "tk-3", Status: string(types.StatusPending)}
	if err := store.InsertTrade(tr); err != nil {
		t.Fatal(err)
	}

	err := m.Close(context.Background(), types.Ticket{TradeID: tr.ID, Intent: types.IntentClose})
	if !errors.Is(err, ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestExpiryAndSettlement(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	m, _ := newTestManager(store, &fakeExec{})

	tr := &ledger.Trade{
		TicketID: "tk-4",
		Ticker:   "KXBTCD-25AUG2415-T119000",
		Side:     "Y",
		Position: 3,
		BuyPrice: decimal.NewFromFloat(0.93),
		Fees:     decimal.NewFromFloat(0.20),
		Status:   string(types.StatusOpen),
	}
	if err := store.InsertTrade(tr); err != nil {
		t.Fatal(err)
	}
	store.active[tr.ID] = &ledger.ActiveTrade{TradeID: tr.ID}

	if n := m.ExpireOpen(context.Background()); n != 1 {
		t.Fatalf("ExpireOpen = %d, want 1", n)
	}
	got, _ := store.GetTrade(tr.ID)
	if got.Status != string(types.StatusExpired) {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if got.CloseMethod != "expired" {
		t.Errorf("close_method = %s, want expired", got.CloseMethod)
	}
	if store.hasActive(tr.ID) {
		t.Error("active-trade row should be deleted on expiry")
	}

	// No settlement yet: stays expired.
	if left := m.resolveExpiredOnce(context.Background()); left != 1 {
		t.Fatalf("unresolved = %d, want 1", left)
	}

	// Settlement lands with positive revenue: held side won.
	store.settlements[tr.Ticker] = &ledger.Settlement{
		Ticker:  tr.Ticker,
		Revenue: decimal.NewFromInt(100),
	}
	if left := m.resolveExpiredOnce(context.Background()); left != 0 {
		t.Fatalf("unresolved = %d, want 0", left)
	}

	got, _ = store.GetTrade(tr.ID)
	if got.Status != string(types.StatusClosed) {
		t.Fatalf("status = %s, want closed", got.Status)
	}
	if !got.SellPrice.Equal(decimal.NewFromInt(1)) {
		t.Errorf("sell_price = %s, want 1", got.SellPrice)
	}
	// pnl = 3·1 − 3·0.93 − 0.20 = 0.01
	if !got.PnL.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("pnl = %s, want 0.01", got.PnL)
	}
	if got.WinLoss != string(types.Win) {
		t.Errorf("win_loss = %s, want W", got.WinLoss)
	}
}

func TestDeleteErrors(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	m, _ := newTestManager(store, &fakeExec{})

	if err := store.InsertTrade(&ledger.Trade{TicketID: "e1", Status: string(types.StatusError)}); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertTrade(&ledger.Trade{TicketID: "o1", Status: string(types.StatusOpen)}); err != nil {
		t.Fatal(err)
	}

	m.DeleteErrors()

	if rows, _ := store.TradesByStatus(types.StatusError); len(rows) != 0 {
		t.Errorf("error trades remaining = %d, want 0", len(rows))
	}
	if rows, _ := store.TradesByStatus(types.StatusOpen); len(rows) != 1 {
		t.Errorf("open trades remaining = %d, want 1", len(rows))
	}
}
