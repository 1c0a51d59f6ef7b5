package market

import (
	"sync"
	"time"

	"strikebot/pkg/types"
)

// flushEvery is how many applied updates accumulate per contract before the
// book reports it due for an artifact flush.
const flushEvery = 100

// TopOfBook is the derived best-price view for one contract. Prices are in
// cents; an absent side reports zero. Volume aggregates resting quantity
// across both sides.
type TopOfBook struct {
	Ticker      string    `json:"ticker"`
	YesBid      int       `json:"yes_bid"`
	YesAsk      int       `json:"yes_ask"`
	NoBid       int       `json:"no_bid"`
	NoAsk       int       `json:"no_ask"`
	Volume      int64     `json:"volume"`
	LastUpdated time.Time `json:"last_updated"`
}

// contractBook is the level state for one contract: side → price¢ → quantity.
type contractBook struct {
	yes     map[int]int
	no      map[int]int
	updated time.Time
	updates int // since last flush
}

// Book maintains the in-memory top-of-book mirror for every subscribed
// contract, fed by orderbook_delta snapshots and deltas. Concurrency-safe.
type Book struct {
	mu        sync.RWMutex
	contracts map[string]*contractBook
}

// NewBook creates an empty orderbook mirror.
func NewBook() *Book {
	return &Book{contracts: make(map[string]*contractBook)}
}

// ApplySnapshot replaces the full level state for one contract.
func (b *Book) ApplySnapshot(snap types.WSOrderbookSnapshot) {
	cb := &contractBook{
		yes:     make(map[int]int, len(snap.Yes)),
		no:      make(map[int]int, len(snap.No)),
		updated: time.Now(),
	}
	for _, lvl := range snap.Yes {
		if lvl[1] > 0 {
			cb.yes[lvl[0]] = lvl[1]
		}
	}
	for _, lvl := range snap.No {
		if lvl[1] > 0 {
			cb.no[lvl[0]] = lvl[1]
		}
	}

	b.mu.Lock()
	b.contracts[snap.MarketTicker] = cb
	b.mu.Unlock()
}

// ApplyDelta applies one incremental level change: qty += delta, removing
// the level when the result is ≤ 0. Deltas for contracts without a prior
// snapshot create the contract entry.
func (b *Book) ApplyDelta(delta types.WSOrderbookDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.contracts[delta.MarketTicker]
	if !ok {
		cb = &contractBook{yes: make(map[int]int), no: make(map[int]int)}
		b.contracts[delta.MarketTicker] = cb
	}

	side := cb.yes
	if delta.Side == "no" {
		side = cb.no
	}

	qty := side[delta.Price] + delta.Delta
	if qty <= 0 {
		delete(side, delta.Price)
	} else {
		side[delta.Price] = qty
	}
	cb.updated = time.Now()
	cb.updates++
}

// Top returns the derived top-of-book for one contract.
func (b *Book) Top(ticker string) (TopOfBook, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cb, ok := b.contracts[ticker]
	if !ok {
		return TopOfBook{}, false
	}
	return derive(ticker, cb), true
}

// All returns the derived top-of-book for every tracked contract.
func (b *Book) All() []TopOfBook {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]TopOfBook, 0, len(b.contracts))
	for ticker, cb := range b.contracts {
		out = append(out, derive(ticker, cb))
	}
	return out
}

// DueForFlush returns the tickers that accumulated flushEvery updates since
// their last flush and resets their counters. Passing force resets and
// returns every tracked contract (used on disconnect).
func (b *Book) DueForFlush(force bool) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var due []string
	for ticker, cb := range b.contracts {
		if force || cb.updates >= flushEvery {
			due = append(due, ticker)
			cb.updates = 0
		}
	}
	return due
}

// Drop removes contracts no longer in the subscription set.
func (b *Book) Drop(keep map[string]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ticker := range b.contracts {
		if !keep[ticker] {
			delete(b.contracts, ticker)
		}
	}
}

// derive computes best bids/asks from the level maps. In a binary market a
// resting YES buy at p implies a NO ask at 100−p, so each side's ask is the
// complement of the other side's best bid.
func derive(ticker string, cb *contractBook) TopOfBook {
	top := TopOfBook{Ticker: ticker, LastUpdated: cb.updated}

	var volume int64
	for p, q := range cb.yes {
		if p > top.YesBid {
			top.YesBid = p
		}
		volume += int64(q)
	}
	for p, q := range cb.no {
		if p > top.NoBid {
			top.NoBid = p
		}
		volume += int64(q)
	}
	if top.NoBid > 0 {
		top.YesAsk = 100 - top.NoBid
	}
	if top.YesBid > 0 {
		top.NoAsk = 100 - top.YesBid
	}
	top.Volume = volume
	return top
}
