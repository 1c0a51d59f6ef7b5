// Package strike computes the per-second strike table and watchlist.
//
// Once per second the generator joins the latest price tick, the latest
// hourly-event snapshot, and the probability lookup into a ranked table of
// candidate strikes. Every scan writes the table, the filtered watchlist, and
// the live-probabilities artifact atomically, and mirrors the table into the
// relational store. Consumers read the latest scan in memory; the files exist
// for the UI.
package strike

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"strikebot/internal/artifact"
	"strikebot/internal/metrics"
	"strikebot/internal/prob"
	"strikebot/pkg/types"
)

// strikeSpan bounds the candidate grid around the money line: base ± N tiers.
const strikeSpan = 10

// Watchlist thresholds. A row qualifies when it has real liquidity, the model
// is confidently one-sided, the ask leaves room to profit, and the active
// side's edge is not materially negative.
const (
	watchMinVolume = 1000
	watchMinProb   = 90.0
	watchMaxAsk    = 98
	watchMinDiff   = -2.0
)

// PriceSource yields the latest derived tick.
type PriceSource interface {
	Latest() (types.Tick, bool)
}

// SnapshotSource yields the latest hourly-event snapshot.
type SnapshotSource interface {
	Latest() *types.Snapshot
}

// TableStore is the ledger slice that mirrors artifacts into the database.
type TableStore interface {
	UpsertStrikeArtifact(symbol, kind, payload string) error
}

// Generator runs the 1 Hz strike-table scan.
type Generator struct {
	symbol    string
	broker    string
	prices    PriceSource
	markets   SnapshotSource
	probs     prob.Table
	artifacts *artifact.Writer
	store     TableStore
	logger    *slog.Logger

	mu        sync.RWMutex
	table     *types.StrikeTable
	watchlist *types.StrikeTable
}

// NewGenerator wires the scan inputs. store may be nil (artifacts then live
// on disk only).
func NewGenerator(symbol, broker string, prices PriceSource, markets SnapshotSource, probs prob.Table, artifacts *artifact.Writer, store TableStore, logger *slog.Logger) *Generator {
	return &Generator{
		symbol:    symbol,
		broker:    broker,
		prices:    prices,
		markets:   markets,
		probs:     probs,
		artifacts: artifacts,
		store:     store,
		logger:    logger.With("component", "strike_generator"),
	}
}

// Table returns the latest full strike table, or nil before the first scan.
func (g *Generator) Table() *types.StrikeTable {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.table
}

// Watchlist returns the latest filtered watchlist, or nil before the first
// scan.
func (g *Generator) Watchlist() *types.StrikeTable {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.watchlist
}

// Run scans once per second until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Scan(time.Now())
		}
	}
}

// Scan performs one table build and publishes the artifacts. It is a no-op
// until both a tick and a snapshot with an inferred tier are available, so
// every published table reflects one consistent (price, snapshot, momentum)
// triple.
func (g *Generator) Scan(now time.Time) {
	tick, ok := g.prices.Latest()
	snap := g.markets.Latest()
	if !ok || snap == nil || snap.StrikeTier <= 0 {
		return
	}

	ttc := snap.TTC(now)
	table, live := buildTable(g.symbol, g.broker, tick, snap, g.probs, ttc, now)
	watch := filterWatchlist(table)

	g.mu.Lock()
	g.table = table
	g.watchlist = watch
	g.mu.Unlock()

	metrics.StrikeScans.Inc()
	metrics.TTCSeconds.Set(float64(ttc))

	g.persist(table, watch, live)
}

func (g *Generator) persist(table, watch *types.StrikeTable, live *types.LiveProbabilities) {
	if err := g.artifacts.WriteJSON("strike_tables/"+g.symbol+"_strike_table.json", table); err != nil {
		g.logger.Error("write strike table", "error", err)
	}
	if err := g.artifacts.WriteJSON("strike_tables/"+g.symbol+"_watchlist.json", watch); err != nil {
		g.logger.Error("write watchlist", "error", err)
	}
	if err := g.artifacts.WriteJSON("live_probabilities/"+g.symbol+"_live_probabilities.json", live); err != nil {
		g.logger.Error("write live probabilities", "error", err)
	}

	if g.store == nil {
		return
	}
	for kind, v := range map[string]*types.StrikeTable{"table": table, "watchlist": watch} {
		payload, err := json.Marshal(v)
		if err != nil {
			g.logger.Error("marshal strike artifact", "kind", kind, "error", err)
			continue
		}
		if err := g.store.UpsertStrikeArtifact(g.symbol, kind, string(payload)); err != nil {
			g.logger.Error("mirror strike artifact", "kind", kind, "error", err)
		}
	}
}

// buildTable computes the candidate rows: strikes base ± k·tier intersected
// with the snapshot, each with buffer features, the side-correct probability,
// and the money-line differentials.
func buildTable(symbol, broker string, tick types.Tick, snap *types.Snapshot, probs prob.Table, ttc int, now time.Time) (*types.StrikeTable, *types.LiveProbabilities) {
	tier := float64(snap.StrikeTier)
	base := math.Round(tick.Price/tier) * tier

	rows := make([]types.StrikeRow, 0, 2*strikeSpan+1)
	live := make([]types.LiveProbability, 0, 2*strikeSpan+1)

	for k := -strikeSpan; k <= strikeSpan; k++ {
		strikeVal := base + float64(k)*tier
		m, ok := snap.MarketByStrike(strikeVal)
		if !ok {
			continue
		}

		buffer := math.Abs(tick.Price - strikeVal)
		p, ok := probs.Lookup(ttc, buffer, tick.Momentum)
		if !ok {
			continue
		}

		// A strike below the price wins as long as price does not fall
		// through it, so the down-side probability applies; above, the
		// up-side one.
		var probability float64
		var direction string
		if strikeVal < tick.Price {
			probability = p.Negative
			direction = "below"
		} else {
			probability = p.Positive
			direction = "above"
		}

		var yesDiff, noDiff float64
		if strikeVal < tick.Price {
			yesDiff = probability - float64(m.YesAsk)
			noDiff = (100 - probability) - float64(m.NoAsk)
		} else {
			yesDiff = (100 - probability) - float64(m.YesAsk)
			noDiff = probability - float64(m.NoAsk)
		}

		// The model-favored entry: YES holds below the money line, NO above.
		side := types.Yes
		if strikeVal >= tick.Price {
			side = types.No
		}

		rows = append(rows, types.StrikeRow{
			Strike:      strikeVal,
			Ticker:      m.Ticker,
			Buffer:      buffer,
			BufferPct:   buffer / tier,
			MovePct:     buffer / tick.Price * 100,
			Probability: probability,
			YesAsk:      m.YesAsk,
			NoAsk:       m.NoAsk,
			YesDiff:     yesDiff,
			NoDiff:      noDiff,
			Volume:      m.Volume,
			ActiveSide:  side,
		})
		live = append(live, types.LiveProbability{
			Strike:     strikeVal,
			ProbWithin: probability,
			Direction:  direction,
		})
	}

	table := &types.StrikeTable{
		Symbol:       symbol,
		CurrentPrice: tick.Price,
		TTC:          ttc,
		Broker:       broker,
		EventTicker:  snap.EventTicker,
		MarketTitle:  snap.EventTitle,
		StrikeTier:   snap.StrikeTier,
		MarketStatus: snap.MarketStatus,
		LastUpdated:  now,
		Strikes:      rows,
	}
	probsArtifact := &types.LiveProbabilities{
		Timestamp:     now,
		CurrentPrice:  tick.Price,
		TTCSeconds:    ttc,
		Probabilities: live,
	}
	return table, probsArtifact
}

// filterWatchlist applies the watchlist criteria and sorts by probability
// descending.
func filterWatchlist(table *types.StrikeTable) *types.StrikeTable {
	rows := make([]types.StrikeRow, 0, len(table.Strikes))
	for _, r := range table.Strikes {
		maxAsk := r.YesAsk
		if r.NoAsk > maxAsk {
			maxAsk = r.NoAsk
		}
		if r.Volume >= watchMinVolume && r.Probability > watchMinProb &&
			maxAsk <= watchMaxAsk && r.ActiveDiff() >= watchMinDiff {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Probability > rows[j].Probability
	})

	watch := *table
	watch.Strikes = rows
	return &watch
}
