package market

import (
	"testing"

	"strikebot/pkg/types"
)

const testTicker = "KXBTCD-25AUG2415-T119000"

func TestApplySnapshotDerivesTop(t *testing.T) {
	t.Parallel()
	b := NewBook()

	b.ApplySnapshot(types.WSOrderbookSnapshot{
		MarketTicker: testTicker,
		Yes:          [][2]int{{93, 100}, {90, 50}},
		No:           [][2]int{{5, 200}, {3, 80}},
	})

	top, ok := b.Top(testTicker)
	if !ok {
		t.Fatal("Top returned ok=false after snapshot")
	}
	if top.YesBid != 93 {
		t.Errorf("YesBid = %d, want 93", top.YesBid)
	}
	if top.NoBid != 5 {
		t.Errorf("NoBid = %d, want 5", top.NoBid)
	}
	if top.YesAsk != 95 {
		t.Errorf("YesAsk = %d, want 95 (100 − best no bid)", top.YesAsk)
	}
	if top.NoAsk != 7 {
		t.Errorf("NoAsk = %d, want 7 (100 − best yes bid)", top.NoAsk)
	}
	if top.Volume != 430 {
		t.Errorf("Volume = %d, want 430", top.Volume)
	}
}

func TestApplyDeltaAddsAndRemovesLevels(t *testing.T) {
	t.Parallel()
	b := NewBook()

	b.ApplySnapshot(types.WSOrderbookSnapshot{
		MarketTicker: testTicker,
		Yes:          [][2]int{{93, 100}},
	})

	// Raise the level
	b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: testTicker, Side: "yes", Price: 93, Delta: 25})
	top, _ := b.Top(testTicker)
	if top.Volume != 125 {
		t.Errorf("Volume = %d, want 125 after +25", top.Volume)
	}

	// Drain it to zero — level must disappear
	b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: testTicker, Side: "yes", Price: 93, Delta: -125})
	top, _ = b.Top(testTicker)
	if top.YesBid != 0 {
		t.Errorf("YesBid = %d, want 0 after level removed", top.YesBid)
	}

	// A new better level on a fresh price
	b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: testTicker, Side: "yes", Price: 91, Delta: 40})
	top, _ = b.Top(testTicker)
	if top.YesBid != 91 {
		t.Errorf("YesBid = %d, want 91", top.YesBid)
	}
}

func TestApplyDeltaBelowZeroRemovesLevel(t *testing.T) {
	t.Parallel()
	b := NewBook()

	b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: testTicker, Side: "no", Price: 4, Delta: 10})
	b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: testTicker, Side: "no", Price: 4, Delta: -15})

	top, ok := b.Top(testTicker)
	if !ok {
		t.Fatal("contract should exist after deltas")
	}
	if top.NoBid != 0 {
		t.Errorf("NoBid = %d, want 0 after over-drain", top.NoBid)
	}
}

func TestDueForFlush(t *testing.T) {
	t.Parallel()
	b := NewBook()

	for i := 0; i < flushEvery; i++ {
		b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: testTicker, Side: "yes", Price: 50, Delta: 1})
	}

	due := b.DueForFlush(false)
	if len(due) != 1 || due[0] != testTicker {
		t.Fatalf("DueForFlush = %v, want [%s]", due, testTicker)
	}

	// Counter reset: immediately due again only under force
	if due := b.DueForFlush(false); len(due) != 0 {
		t.Errorf("DueForFlush after reset = %v, want empty", due)
	}
	if due := b.DueForFlush(true); len(due) != 1 {
		t.Errorf("DueForFlush(force) = %v, want 1 entry", due)
	}
}

func TestDropRemovesUnsubscribed(t *testing.T) {
	t.Parallel()
	b := NewBook()

	b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: "A", Side: "yes", Price: 50, Delta: 1})
	b.ApplyDelta(types.WSOrderbookDelta{MarketTicker: "B", Side: "yes", Price: 50, Delta: 1})

	b.Drop(map[string]bool{"A": true})

	if _, ok := b.Top("A"); !ok {
		t.Error("kept contract A should remain")
	}
	if _, ok := b.Top("B"); ok {
		t.Error("dropped contract B should be gone")
	}
}
