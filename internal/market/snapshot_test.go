package market

import (
	"testing"
	"time"

	"strikebot/pkg/types"
)

func mk(ticker string, floor float64) types.Market {
	return types.Market{Ticker: ticker, FloorStrike: floor}
}

func TestEventTickerFor(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	at := time.Date(2025, time.August, 24, 15, 0, 0, 0, loc)

	got := EventTickerFor("KXBTCD", at)
	if got != "KXBTCD-25AUG2415" {
		t.Errorf("EventTickerFor = %q, want KXBTCD-25AUG2415", got)
	}
}

func TestInferStrikeTier(t *testing.T) {
	t.Parallel()

	markets := []types.Market{
		mk("a", 118749.99),
		mk("b", 118999.99),
		mk("c", 119249.99),
		mk("d", 119499.99),
	}
	tier, misaligned := InferStrikeTier(markets)
	if tier != 250 {
		t.Errorf("tier = %d, want 250", tier)
	}
	if misaligned {
		t.Error("equally spaced strikes reported misaligned")
	}
}

func TestInferStrikeTierMisaligned(t *testing.T) {
	t.Parallel()

	// Middle strike missing: first diff still wins, misalignment is flagged.
	markets := []types.Market{
		mk("a", 118749.99),
		mk("b", 118999.99),
		mk("c", 119499.99),
	}
	tier, misaligned := InferStrikeTier(markets)
	if tier != 250 {
		t.Errorf("tier = %d, want first diff 250", tier)
	}
	if !misaligned {
		t.Error("gap in strikes not reported as misaligned")
	}
}

func TestInferStrikeTierTooFew(t *testing.T) {
	t.Parallel()

	tier, misaligned := InferStrikeTier([]types.Market{mk("a", 119000)})
	if tier != 0 || misaligned {
		t.Errorf("single strike: tier=%d misaligned=%v, want 0,false", tier, misaligned)
	}
}

func TestMarketStrikeRounding(t *testing.T) {
	t.Parallel()

	m := mk("a", 118999.99)
	if m.Strike() != 119000 {
		t.Errorf("Strike = %v, want 119000 (floor strike is one cent below)", m.Strike())
	}
}

func TestNearTheMoney(t *testing.T) {
	t.Parallel()

	snap := &types.Snapshot{Markets: []types.Market{
		mk("far-low", 118249.99),
		mk("low", 118749.99),
		mk("atm", 118999.99),
		mk("high", 119249.99),
		mk("far-high", 119749.99),
	}}

	got := NearTheMoney(snap, 119050, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != "atm" {
		t.Errorf("nearest = %q, want atm", got[0])
	}
	want := map[string]bool{"atm": true, "high": true, "low": true}
	for _, ticker := range got {
		if !want[ticker] {
			t.Errorf("unexpected ticker %q in near-the-money set", ticker)
		}
	}
}
