package trade

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strikebot/internal/ledger"
	"strikebot/pkg/types"
)

type fakeSink struct {
	opened []types.Ticket
	closed []types.Ticket
	trade  *ledger.Trade
}

func (f *fakeSink) Open(_ context.Context, t types.Ticket) (*ledger.Trade, error) {
	f.opened = append(f.opened, t)
	return &ledger.Trade{ID: 1, TicketID: t.TicketID}, nil
}

func (f *fakeSink) Close(_ context.Context, t types.Ticket) error {
	f.closed = append(f.closed, t)
	return nil
}

func (f *fakeSink) Trade(int64) (*ledger.Trade, error) { return f.trade, nil }

func newTestInitiator(sink *fakeSink) *Initiator {
	prices := fakeTicks{tick: types.Tick{Symbol: "BTC", Price: 119050, Momentum: 7}, ok: true}
	return NewInitiator("BTC", "KXBTCD", "hourly-strike", time.UTC, prices, sink)
}

func TestOpenMintsTicket(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	init := newTestInitiator(sink)

	_, err := init.Open(context.Background(), OpenRequest{
		Strike:      119000,
		Side:        types.Yes,
		Ticker:      "T119000",
		BuyPrice:    decimal.NewFromFloat(0.93),
		Prob:        95,
		Position:    3,
		EntryMethod: types.EntryAuto,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(sink.opened) != 1 {
		t.Fatalf("tickets forwarded = %d, want 1", len(sink.opened))
	}

	tk := sink.opened[0]
	if tk.TicketID == "" {
		t.Error("ticket_id not minted")
	}
	if tk.Intent != types.IntentOpen {
		t.Errorf("intent = %s, want open", tk.Intent)
	}
	if tk.SymbolOpen != 119050 {
		t.Errorf("symbol_open = %v, want current price 119050", tk.SymbolOpen)
	}
	if tk.Momentum != 7 {
		t.Errorf("momentum = %d, want 7", tk.Momentum)
	}
	if tk.Date == "" || tk.Time == "" {
		t.Error("date/time stamps missing")
	}
}

func TestOpenValidatesRequiredFields(t *testing.T) {
	t.Parallel()
	init := newTestInitiator(&fakeSink{})

	reqs := []OpenRequest{
		{Side: types.Yes, Ticker: "T", BuyPrice: decimal.NewFromFloat(0.9), Prob: 95, Position: 1},  // no strike
		{Strike: 119000, Ticker: "T", BuyPrice: decimal.NewFromFloat(0.9), Prob: 95, Position: 1},   // no side
		{Strike: 119000, Side: types.No, BuyPrice: decimal.NewFromFloat(0.9), Prob: 95, Position: 1}, // no ticker
		{Strike: 119000, Side: types.No, Ticker: "T", Prob: 95, Position: 1},                         // no buy price
		{Strike: 119000, Side: types.No, Ticker: "T", BuyPrice: decimal.NewFromFloat(0.9), Position: 1}, // no prob
	}
	for i, req := range reqs {
		if _, err := init.Open(context.Background(), req); err == nil {
			t.Errorf("request %d should fail validation", i)
		}
	}
}

func TestCloseTradeInvertsSide(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{trade: &ledger.Trade{
		ID: 42, Ticker: "T119000", Strike: 119000, Side: "Y", Position: 3,
		Status: string(types.StatusOpen),
	}}
	init := newTestInitiator(sink)

	if err := init.CloseTrade(context.Background(), 42, decimal.NewFromFloat(0.06), "manual"); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if len(sink.closed) != 1 {
		t.Fatalf("close tickets forwarded = %d, want 1", len(sink.closed))
	}

	tk := sink.closed[0]
	if tk.Side != types.No {
		t.Errorf("side = %s, want N (inverted from held Y)", tk.Side)
	}
	if tk.TradeID != 42 {
		t.Errorf("trade_id = %d, want 42", tk.TradeID)
	}
	if tk.Position != 3 {
		t.Errorf("position = %d, want 3", tk.Position)
	}
	if tk.SymbolClose != 119050 {
		t.Errorf("symbol_close = %v, want snapshot 119050", tk.SymbolClose)
	}
	if tk.TicketID == "" {
		t.Error("fresh ticket_id not minted")
	}
}
