package feed

import (
	"context"
	"log/slog"
	"time"

	"strikebot/internal/bus"
	"strikebot/internal/ledger"
	"strikebot/internal/metrics"
)

// tickRetention is the rolling persistence window for the tick log.
const tickRetention = 30 * 24 * time.Hour

// evictInterval bounds how often the retention sweep runs. The 30-day
// property still holds after every write because the sweep always cuts at
// now − retention.
const evictInterval = time.Minute

// Worker drives the price feed: it consumes retained ticks, derives the
// per-tick features through History, persists the row, and publishes
// PriceUpdate and IndicatorUpdate events.
type Worker struct {
	feed    *TickerFeed
	history *History
	store   *ledger.Store
	events  *bus.Bus
	logger  *slog.Logger

	lastEvict time.Time
}

// NewWorker wires the feed pipeline for one symbol.
func NewWorker(feed *TickerFeed, history *History, store *ledger.Store, events *bus.Bus, logger *slog.Logger) *Worker {
	return &Worker{
		feed:    feed,
		history: history,
		store:   store,
		events:  events,
		logger:  logger.With("component", "price_worker"),
	}
}

// Run consumes ticks until ctx is cancelled. The WebSocket itself is run by
// the caller; this loop only owns derivation and persistence.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-w.feed.Ticks():
			w.ingest(ctx, raw)
		}
	}
}

func (w *Worker) ingest(ctx context.Context, raw RawTick) {
	tick := w.history.Append(raw.Price, raw.TS)
	metrics.TicksIngested.WithLabelValues(tick.Symbol).Inc()

	if err := w.store.UpsertTick(tick); err != nil {
		w.logger.Error("persist tick", "error", err)
	}

	w.events.Publish(bus.EventPriceUpdate, bus.PriceUpdate{
		Symbol: tick.Symbol,
		Price:  tick.Price,
		TS:     tick.Timestamp,
	})
	w.events.Publish(bus.EventIndicatorUpdate, bus.IndicatorUpdate{
		Symbol:   tick.Symbol,
		Momentum: tick.Momentum,
	})

	if time.Since(w.lastEvict) >= evictInterval {
		w.lastEvict = time.Now()
		cutoff := time.Now().Add(-tickRetention)
		if n, err := w.store.EvictTicks(tick.Symbol, cutoff); err != nil {
			w.logger.Error("evict ticks", "error", err)
		} else if n > 0 {
			w.logger.Debug("evicted tick rows", "count", n)
		}
	}
}
