// Package market provides the hourly event snapshot worker and the local
// orderbook mirror.
//
// The snapshot worker resolves which hourly event is currently active,
// fetches the event and its strike markets once per second, infers the
// strike tier, and publishes the latest snapshot. The book mirrors
// top-of-book state per contract from the authenticated delta stream.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"strikebot/internal/bus"
	"strikebot/pkg/types"
)

// EventSource is the slice of the broker client the snapshot worker needs.
type EventSource interface {
	GetEvent(ctx context.Context, eventTicker string) (*types.EventResponse, error)
}

// maxHourAdvance bounds how many hours forward ticker resolution probes
// when the computed current-hour event has no markets yet.
const maxHourAdvance = 3

// EventTickerFor builds the hourly event ticker for the contract expiring in
// the hour containing t, using the exchange's expiry naming convention
// (KXBTCD-25AUG2415 for an event expiring 15:00 exchange time).
func EventTickerFor(prefix string, t time.Time) string {
	return prefix + "-" + strings.ToUpper(t.Format("06Jan0215"))
}

// InferStrikeTier returns the common spacing between consecutive strikes.
// The first consecutive difference is taken as the tier; if later diffs
// disagree the spacing assumption is violated and misaligned is true — an
// external-data error that is reported, never guessed around.
func InferStrikeTier(markets []types.Market) (tier int, misaligned bool) {
	if len(markets) < 2 {
		return 0, false
	}
	strikes := make([]float64, len(markets))
	for i, m := range markets {
		strikes[i] = m.Strike()
	}
	sort.Float64s(strikes)

	tier = int(math.Round(strikes[1] - strikes[0]))
	for i := 2; i < len(strikes); i++ {
		if int(math.Round(strikes[i]-strikes[i-1])) != tier {
			misaligned = true
		}
	}
	return tier, misaligned
}

// NearTheMoney returns the tickers of the n contracts closest to price,
// ordered by |strike − price|. Used to pick the orderbook subscription set.
func NearTheMoney(snap *types.Snapshot, price float64, n int) []string {
	if snap == nil || len(snap.Markets) == 0 {
		return nil
	}
	markets := append([]types.Market(nil), snap.Markets...)
	sort.Slice(markets, func(i, j int) bool {
		return math.Abs(markets[i].Strike()-price) < math.Abs(markets[j].Strike()-price)
	})
	if n > len(markets) {
		n = len(markets)
	}
	tickers := make([]string, n)
	for i := 0; i < n; i++ {
		tickers[i] = markets[i].Ticker
	}
	return tickers
}

// SnapshotWorker polls the broker for the active hourly event and keeps the
// latest snapshot available to the rest of the pipeline.
type SnapshotWorker struct {
	source EventSource
	prefix string
	loc    *time.Location
	every  time.Duration
	events *bus.Bus
	logger *slog.Logger

	mu         sync.RWMutex
	latest     *types.Snapshot
	lastFailed string // last event ticker that came back empty, so we don't hammer it
	failures   int
}

// NewSnapshotWorker creates the worker. loc is the exchange timezone used
// for ticker construction.
func NewSnapshotWorker(source EventSource, prefix string, loc *time.Location, every time.Duration, events *bus.Bus, logger *slog.Logger) *SnapshotWorker {
	if every <= 0 {
		every = time.Second
	}
	return &SnapshotWorker{
		source: source,
		prefix: prefix,
		loc:    loc,
		every:  every,
		events: events,
		logger: logger.With("component", "snapshot_worker"),
	}
}

// Latest returns the most recent snapshot, or nil before the first fetch.
func (w *SnapshotWorker) Latest() *types.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest
}

// Run polls until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) {
	w.poll(ctx)

	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *SnapshotWorker) poll(ctx context.Context) {
	snap, err := w.resolve(ctx, time.Now().In(w.loc))
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		w.logger.Error("snapshot fetch failed", "error", err)
		return
	}

	w.mu.Lock()
	w.latest = snap
	w.failures = 0
	w.mu.Unlock()

	w.events.Publish(bus.EventMarketUpdate, snap)
}

// resolve walks forward from the current-hour event ticker until a response
// with markets appears. A ticker that came back empty is cached and skipped
// on subsequent polls within the same hour.
func (w *SnapshotWorker) resolve(ctx context.Context, now time.Time) (*types.Snapshot, error) {
	for advance := 0; advance <= maxHourAdvance; advance++ {
		eventTicker := EventTickerFor(w.prefix, now.Add(time.Duration(1+advance)*time.Hour))

		w.mu.RLock()
		skip := eventTicker == w.lastFailed
		w.mu.RUnlock()
		if skip {
			continue
		}

		resp, err := w.source.GetEvent(ctx, eventTicker)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", eventTicker, err)
		}
		if len(resp.Markets) == 0 {
			w.mu.Lock()
			w.lastFailed = eventTicker
			w.mu.Unlock()
			continue
		}

		return w.buildSnapshot(eventTicker, resp)
	}
	return nil, fmt.Errorf("no active event within %d hours", maxHourAdvance+1)
}

func (w *SnapshotWorker) buildSnapshot(eventTicker string, resp *types.EventResponse) (*types.Snapshot, error) {
	markets := make([]types.Market, 0, len(resp.Markets))
	status := ""
	for _, bm := range resp.Markets {
		markets = append(markets, types.Market{
			Ticker:       bm.Ticker,
			FloorStrike:  bm.FloorStrike,
			YesBid:       bm.YesBid,
			YesAsk:       bm.YesAsk,
			NoBid:        bm.NoBid,
			NoAsk:        bm.NoAsk,
			LastPrice:    bm.LastPrice,
			Volume:       bm.Volume,
			Volume24h:    bm.Volume24h,
			OpenInterest: bm.OpenInterest,
		})
		if status == "" {
			status = bm.Status
		}
	}

	strikeDate, err := time.Parse(time.RFC3339, resp.Event.StrikeDate)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad strike_date %q: %w", eventTicker, resp.Event.StrikeDate, err)
	}

	tier, misaligned := InferStrikeTier(markets)
	if misaligned {
		w.logger.Error("snapshot strikes are not equally spaced",
			"event", eventTicker, "tier", tier)
	}

	return &types.Snapshot{
		EventTicker:  eventTicker,
		EventTitle:   resp.Event.Title,
		StrikeDate:   strikeDate.UTC(),
		MarketStatus: status,
		StrikeTier:   tier,
		Markets:      markets,
		FetchedAt:    time.Now(),
	}, nil
}
