package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if got := Yes.Opposite(); got != No {
		t.Errorf("Yes.Opposite() = %q, want %q", got, No)
	}
	if got := No.Opposite(); got != Yes {
		t.Errorf("No.Opposite() = %q, want %q", got, Yes)
	}
}

func TestSideChannel(t *testing.T) {
	t.Parallel()

	if got := Yes.Channel(); got != "yes" {
		t.Errorf("Yes.Channel() = %q", got)
	}
	if got := No.Channel(); got != "no" {
		t.Errorf("No.Channel() = %q", got)
	}
}

func TestTradeStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   TradeStatus
		terminal bool
		live     bool
	}{
		{StatusPending, false, true},
		{StatusOpen, false, true},
		{StatusClosing, false, true},
		{StatusClosed, true, false},
		{StatusError, true, false},
		{StatusExpired, false, false}, // awaiting settlement, not terminal
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.Live(); got != tt.live {
			t.Errorf("%s.Live() = %v, want %v", tt.status, got, tt.live)
		}
	}
}

func TestWinLossFromPnL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pnl  string
		want WinLoss
	}{
		{"0.45", Win},
		{"-0.30", Loss},
		{"0", Draw},
		{"0.00", Draw},
	}

	for _, tt := range tests {
		pnl := decimal.RequireFromString(tt.pnl)
		if got := WinLossFromPnL(pnl); got != tt.want {
			t.Errorf("WinLossFromPnL(%s) = %q, want %q", tt.pnl, got, tt.want)
		}
	}
}

func TestMarketStrikeRounding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		floor float64
		want  float64
	}{
		{118999.99, 119000},
		{119249.99, 119250},
		{120000, 120000},
	}

	for _, tt := range tests {
		m := Market{FloorStrike: tt.floor}
		if got := m.Strike(); got != tt.want {
			t.Errorf("Strike(%v) = %v, want %v", tt.floor, got, tt.want)
		}
	}
}

func TestSnapshotLookups(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{Markets: []Market{
		{Ticker: "KXBTCD-26AUG2515-T119000", FloorStrike: 118999.99},
		{Ticker: "KXBTCD-26AUG2515-T119250", FloorStrike: 119249.99},
	}}

	m, ok := snap.MarketByStrike(119250)
	if !ok || m.Ticker != "KXBTCD-26AUG2515-T119250" {
		t.Errorf("MarketByStrike(119250) = %q, %v", m.Ticker, ok)
	}
	if _, ok := snap.MarketByStrike(118500); ok {
		t.Error("MarketByStrike found a strike that is not in the snapshot")
	}

	m, ok = snap.MarketByTicker("KXBTCD-26AUG2515-T119000")
	if !ok || m.Strike() != 119000 {
		t.Errorf("MarketByTicker = strike %v, %v", m.Strike(), ok)
	}
	if _, ok := snap.MarketByTicker("KXBTCD-26AUG2515-T999999"); ok {
		t.Error("MarketByTicker found an unknown ticker")
	}
}

func TestSnapshotTTCFloorsAtZero(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	snap := &Snapshot{StrikeDate: expiry}

	if got := snap.TTC(expiry.Add(-20 * time.Minute)); got != 1200 {
		t.Errorf("TTC 20m out = %d, want 1200", got)
	}
	if got := snap.TTC(expiry.Add(5 * time.Second)); got != 0 {
		t.Errorf("TTC past expiry = %d, want 0", got)
	}
}

func TestStrikeRowActiveSide(t *testing.T) {
	t.Parallel()

	row := StrikeRow{
		YesAsk:     95,
		NoAsk:      8,
		YesDiff:    1.5,
		NoDiff:     -3.0,
		ActiveSide: Yes,
	}
	if got := row.ActiveAsk(); got != 95 {
		t.Errorf("ActiveAsk (yes) = %d, want 95", got)
	}
	if got := row.ActiveDiff(); got != 1.5 {
		t.Errorf("ActiveDiff (yes) = %v, want 1.5", got)
	}

	row.ActiveSide = No
	if got := row.ActiveAsk(); got != 8 {
		t.Errorf("ActiveAsk (no) = %d, want 8", got)
	}
	if got := row.ActiveDiff(); got != -3.0 {
		t.Errorf("ActiveDiff (no) = %v, want -3.0", got)
	}
}

func TestWSCommandOmitsEmptyParams(t *testing.T) {
	t.Parallel()

	pong := WSCommand{ID: 1, Cmd: "pong"}
	data, err := json.Marshal(pong)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":1,"cmd":"pong"}` {
		t.Errorf("pong envelope = %s", data)
	}

	sub := WSCommand{ID: 2, Cmd: "subscribe", Params: &WSCommandParams{
		Channels:      []string{"orderbook_delta"},
		MarketTickers: []string{"KXBTCD-26AUG2515-T119000"},
	}}
	data, err = json.Marshal(sub)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":2,"cmd":"subscribe","params":{"channels":["orderbook_delta"],"market_tickers":["KXBTCD-26AUG2515-T119000"]}}`
	if string(data) != want {
		t.Errorf("subscribe envelope = %s, want %s", data, want)
	}
}

func TestWSServerMsgRoundTrip(t *testing.T) {
	t.Parallel()

	raw := `{"type":"orderbook_delta","sid":3,"seq":42,"msg":{"market_ticker":"KXBTCD-26AUG2515-T119000","price":95,"delta":-2,"side":"yes"}}`

	var env WSServerMsg
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "orderbook_delta" || env.SID != 3 || env.Seq != 42 {
		t.Errorf("envelope = %+v", env)
	}

	var delta WSOrderbookDelta
	if err := json.Unmarshal(env.Msg, &delta); err != nil {
		t.Fatal(err)
	}
	if delta.MarketTicker != "KXBTCD-26AUG2515-T119000" || delta.Price != 95 || delta.Delta != -2 || delta.Side != "yes" {
		t.Errorf("delta = %+v", delta)
	}
}
