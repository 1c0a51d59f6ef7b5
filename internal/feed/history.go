// Package feed ingests the public price ticker: one long-lived WebSocket
// subscription per symbol, rate-limited to one retained tick per wall-clock
// second. Each retained tick gets a 1-minute moving average and a weighted
// multi-horizon momentum score before being persisted and published.
package feed

import (
	"sync"
	"time"

	"strikebot/pkg/types"
)

// Horizon weights for the momentum score. The score is the weight-normalized
// mean of the non-nil deltas, scaled ×100 and stored as an integer — it is
// the single feature that selects a fingerprint bucket in the probability
// lookup, so it must be O(1) per tick from recent history.
var momentumWeights = []struct {
	horizon time.Duration
	weight  float64
}{
	{1 * time.Minute, 0.30},
	{2 * time.Minute, 0.25},
	{3 * time.Minute, 0.20},
	{4 * time.Minute, 0.15},
	{15 * time.Minute, 0.05},
	{30 * time.Minute, 0.05},
}

// historyWindow bounds the in-memory tick buffer: the longest momentum
// horizon plus slack for gap lookups.
const historyWindow = 31 * time.Minute

// History keeps the recent tick window for one symbol and derives the
// per-tick features. Concurrency-safe; the feed worker appends, the strike
// generator and auto-entry read the latest values.
type History struct {
	mu     sync.RWMutex
	symbol string
	ticks  []types.Tick // ascending by timestamp, ≤1 per second
	latest types.Tick
}

// NewHistory creates an empty tick history for the symbol.
func NewHistory(symbol string) *History {
	return &History{symbol: symbol}
}

// Append ingests one retained tick and returns the fully derived row.
// ts is truncated to the second; appending the same second twice replaces
// the previous entry (idempotent upsert semantics).
func (h *History) Append(price float64, ts time.Time) types.Tick {
	ts = ts.Truncate(time.Second)

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.ticks); n > 0 && h.ticks[n-1].Timestamp.Equal(ts) {
		h.ticks = h.ticks[:n-1]
	}

	tick := types.Tick{
		Symbol:    h.symbol,
		Timestamp: ts,
		Price:     price,
	}
	h.ticks = append(h.ticks, tick)
	h.trim(ts)

	tick.OneMinuteAvg = h.oneMinuteAvg(ts)
	deltas := make([]*float64, len(momentumWeights))
	for i, w := range momentumWeights {
		deltas[i] = h.deltaAt(price, ts.Add(-w.horizon))
	}
	tick.Delta1m, tick.Delta2m, tick.Delta3m = deltas[0], deltas[1], deltas[2]
	tick.Delta4m, tick.Delta15m, tick.Delta30m = deltas[3], deltas[4], deltas[5]
	tick.Momentum = weightedMomentum(deltas)

	h.ticks[len(h.ticks)-1] = tick
	h.latest = tick
	return tick
}

// Latest returns the most recently appended tick.
func (h *History) Latest() (types.Tick, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, !h.latest.Timestamp.IsZero()
}

// Momentum returns the current momentum score (0 before any tick).
func (h *History) Momentum() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest.Momentum
}

// Price returns the latest price (0 before any tick).
func (h *History) Price() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest.Price
}

// oneMinuteAvg is the mean of prices with ts ≥ now − 60s.
func (h *History) oneMinuteAvg(now time.Time) float64 {
	cutoff := now.Add(-60 * time.Second)
	sum, n := 0.0, 0
	for i := len(h.ticks) - 1; i >= 0; i-- {
		if h.ticks[i].Timestamp.Before(cutoff) {
			break
		}
		sum += h.ticks[i].Price
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// deltaAt computes the percentage move from the nearest tick at or before
// target. Returns nil when no tick reaches that far back.
func (h *History) deltaAt(price float64, target time.Time) *float64 {
	var past *types.Tick
	for i := len(h.ticks) - 1; i >= 0; i-- {
		if !h.ticks[i].Timestamp.After(target) {
			past = &h.ticks[i]
			break
		}
	}
	if past == nil || past.Price == 0 {
		return nil
	}
	d := (price - past.Price) / past.Price * 100
	return &d
}

// trim drops in-memory ticks outside the history window.
func (h *History) trim(now time.Time) {
	cutoff := now.Add(-historyWindow)
	i := 0
	for i < len(h.ticks) && h.ticks[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.ticks = append(h.ticks[:0], h.ticks[i:]...)
	}
}

// weightedMomentum is Σ w·delta / Σ w over the non-nil deltas, ×100,
// truncated to an integer. Zero when no delta is available.
func weightedMomentum(deltas []*float64) int {
	var num, den float64
	for i, w := range momentumWeights {
		if deltas[i] == nil {
			continue
		}
		num += w.weight * *deltas[i]
		den += w.weight
	}
	if den == 0 {
		return 0
	}
	return int(num / den * 100)
}
