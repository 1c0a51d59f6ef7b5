package account

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"strikebot/internal/bus"
	"strikebot/internal/config"
	"strikebot/internal/ledger"
	"strikebot/pkg/types"
)

// fakeBroker serves canned REST responses.
type fakeBroker struct {
	balance     int64
	positions   []types.BrokerPosition
	fills       []types.BrokerFill
	orders      []types.BrokerOrder
	settlements []types.BrokerSettlement
}

func (f *fakeBroker) GetBalance(context.Context) (*types.BalanceResponse, error) {
	return &types.BalanceResponse{Balance: f.balance}, nil
}
func (f *fakeBroker) GetPositions(context.Context) ([]types.BrokerPosition, error) {
	return f.positions, nil
}
func (f *fakeBroker) GetFills(context.Context) ([]types.BrokerFill, error) { return f.fills, nil }
func (f *fakeBroker) GetOrders(context.Context) ([]types.BrokerOrder, error) {
	return f.orders, nil
}
func (f *fakeBroker) GetSettlements(context.Context) ([]types.BrokerSettlement, error) {
	return f.settlements, nil
}

// mirrorStore records writes and counts position upserts.
type mirrorStore struct {
	mu          sync.Mutex
	positions   map[string]ledger.Position
	fills       map[string]ledger.Fill
	orders      map[string]ledger.Order
	settlements map[string]ledger.Settlement
	settings    map[string]string
	posUpserts  int
}

func newMirrorStore() *mirrorStore {
	return &mirrorStore{
		positions:   map[string]ledger.Position{},
		fills:       map[string]ledger.Fill{},
		orders:      map[string]ledger.Order{},
		settlements: map[string]ledger.Settlement{},
		settings:    map[string]string{},
	}
}

func (s *mirrorStore) UpsertPosition(p *ledger.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Ticker] = *p
	s.posUpserts++
	return nil
}

func (s *mirrorStore) InsertFills(fills []ledger.Fill) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, f := range fills {
		if _, ok := s.fills[f.TradeID]; !ok {
			s.fills[f.TradeID] = f
			n++
		}
	}
	return n, nil
}

func (s *mirrorStore) InsertOrders(orders []ledger.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range orders {
		if _, ok := s.orders[o.OrderID]; !ok {
			s.orders[o.OrderID] = o
			n++
		}
	}
	return n, nil
}

func (s *mirrorStore) InsertSettlements(settlements []ledger.Settlement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, st := range settlements {
		key := st.Ticker + st.SettledTime.String()
		if _, ok := s.settlements[key]; !ok {
			s.settlements[key] = st
			n++
		}
	}
	return n, nil
}

func (s *mirrorStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func newTestSync(broker BrokerAPI, store MirrorStore) (*Sync, *bus.Bus) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := bus.New(logger)
	notifier := bus.NewNotifier(config.NotifyConfig{}, logger)
	return NewSync(broker, store, nil, events, notifier, logger), events
}

func TestPositionsConvertCentiCents(t *testing.T) {
	t.Parallel()
	broker := &fakeBroker{
		positions: []types.BrokerPosition{{
			Ticker:         "T",
			Position:       3,
			MarketExposure: 27900,
			FeesPaid:       20,
			TotalTraded:    27900,
		}},
	}
	store := newMirrorStore()
	s, _ := newTestSync(broker, store)

	s.SyncAll(context.Background())

	p, ok := store.positions["T"]
	if !ok {
		t.Fatal("position not mirrored")
	}
	if p.MarketExposure.String() != "279" {
		t.Errorf("exposure = %s, want 279", p.MarketExposure)
	}
	if p.FeesPaid.String() != "0.2" {
		t.Errorf("fees = %s, want 0.2", p.FeesPaid)
	}
	if p.Raw == "" {
		t.Error("raw broker payload not retained")
	}
}

func TestFillPricesLandInProbabilityUnits(t *testing.T) {
	t.Parallel()
	broker := &fakeBroker{
		fills: []types.BrokerFill{{
			TradeID:     "f-1",
			Ticker:      "T",
			Side:        "no",
			Action:      "buy",
			Count:       3,
			YesPrice:    600,
			NoPrice:     9400,
			CreatedTime: "2026-08-25T14:30:00Z",
		}},
	}
	store := newMirrorStore()
	s, _ := newTestSync(broker, store)

	s.SyncAll(context.Background())

	f, ok := store.fills["f-1"]
	if !ok {
		t.Fatal("fill not mirrored")
	}
	if f.NoPrice.String() != "0.94" {
		t.Errorf("no_price = %s, want 0.94", f.NoPrice)
	}
	if f.YesPrice.String() != "0.06" {
		t.Errorf("yes_price = %s, want 0.06", f.YesPrice)
	}
}

func TestUnchangedSnapshotSkipsWriteAndFanOut(t *testing.T) {
	t.Parallel()
	broker := &fakeBroker{
		positions: []types.BrokerPosition{{Ticker: "T", Position: 3, MarketExposure: 27900}},
	}
	store := newMirrorStore()
	s, events := newTestSync(broker, store)

	changes, cancel := events.Subscribe(16, bus.EventDbChanged)
	defer cancel()

	s.SyncAll(context.Background())
	s.SyncAll(context.Background())

	if store.posUpserts != 1 {
		t.Errorf("position upserts = %d, want 1 (second pass hash-gated)", store.posUpserts)
	}

	notifications := 0
	for {
		select {
		case evt := <-changes:
			if d, ok := evt.Payload.(bus.DbChanged); ok && d.DB == "positions" {
				notifications++
			}
			continue
		default:
		}
		break
	}
	if notifications != 1 {
		t.Errorf("positions change notifications = %d, want 1", notifications)
	}
}

func TestChangedSnapshotWritesAgain(t *testing.T) {
	t.Parallel()
	broker := &fakeBroker{
		positions: []types.BrokerPosition{{Ticker: "T", Position: 3, MarketExposure: 27900}},
	}
	store := newMirrorStore()
	s, _ := newTestSync(broker, store)

	s.SyncAll(context.Background())
	broker.positions[0].Position = 0
	s.SyncAll(context.Background())

	if store.posUpserts != 2 {
		t.Errorf("position upserts = %d, want 2", store.posUpserts)
	}
	if p := store.positions["T"]; p.Position != 0 {
		t.Errorf("mirrored position = %d, want 0", p.Position)
	}
}

func TestBadTimestampsAreSkippedNotFatal(t *testing.T) {
	t.Parallel()
	broker := &fakeBroker{
		fills: []types.BrokerFill{
			{TradeID: "bad", Ticker: "T", CreatedTime: "not-a-time"},
			{TradeID: "good", Ticker: "T", CreatedTime: "2026-08-25T14:30:00Z"},
		},
	}
	store := newMirrorStore()
	s, _ := newTestSync(broker, store)

	s.SyncAll(context.Background())

	if _, ok := store.fills["bad"]; ok {
		t.Error("fill with unparseable timestamp should be skipped")
	}
	if _, ok := store.fills["good"]; !ok {
		t.Error("valid fill should still be mirrored")
	}
}

func TestBalancePersistedAsSetting(t *testing.T) {
	t.Parallel()
	broker := &fakeBroker{balance: 123456}
	store := newMirrorStore()
	s, _ := newTestSync(broker, store)

	s.SyncAll(context.Background())

	if got := store.settings["account_balance"]; got != "1234.56" {
		t.Errorf("account_balance = %q, want 1234.56", got)
	}
}
