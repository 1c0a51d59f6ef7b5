// Package engine is the central orchestrator of the strike-market trader.
//
// It wires together all subsystems:
//
//  1. The public ticker feed and price worker derive the per-second tick
//     with momentum features.
//  2. The snapshot worker resolves the active hourly event; the
//     authenticated feed mirrors near-the-money orderbooks and carries the
//     account-sync trigger.
//  3. The strike generator joins price, snapshot, and the probability
//     lookup into the per-second strike table and watchlist.
//  4. The auto-entry supervisor emits tickets through the initiator; the
//     manager owns the trade state machine; the executor places orders.
//  5. Account sync mirrors broker state, the active-trade supervisor
//     monitors open positions, and the expiry scheduler closes out each
//     hour.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"strikebot/internal/account"
	"strikebot/internal/artifact"
	"strikebot/internal/autoentry"
	"strikebot/internal/broker"
	"strikebot/internal/bus"
	"strikebot/internal/config"
	"strikebot/internal/feed"
	"strikebot/internal/ledger"
	"strikebot/internal/market"
	"strikebot/internal/monitor"
	"strikebot/internal/prob"
	"strikebot/internal/sched"
	"strikebot/internal/strike"
	"strikebot/internal/trade"
)

// exchangeTZ is the exchange timezone. Event tickers, trade date/time
// stamps, and expiry boundaries are all computed in it.
const exchangeTZ = "America/New_York"

// brokerName is the display name stamped into strike-table artifacts.
const brokerName = "kalshi"

// bookArtifactPath is the on-disk top-of-book mirror, refreshed as contracts
// accumulate applied updates and force-flushed on disconnect.
const bookArtifactPath = "orderbook_snapshot.json"

// Engine orchestrates all components. It owns the lifecycle of every
// background goroutine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	loc    *time.Location

	events   *bus.Bus
	notifier *bus.Notifier

	client *broker.Client
	wsFeed *broker.WSFeed

	tickerFeed  *feed.TickerFeed
	history     *feed.History
	priceWorker *feed.Worker

	snapWorker *market.SnapshotWorker
	book       *market.Book

	store     *ledger.Store
	artifacts *artifact.Writer

	generator *strike.Generator
	manager   *trade.Manager
	initiator *trade.Initiator
	autoEntry *autoentry.Supervisor
	monitor   *monitor.Supervisor
	acctSync  *account.Sync
	scheduler *sched.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. It fails fast on a bad
// signing key, an unreachable store, or an empty probability table.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		return nil, fmt.Errorf("load exchange timezone: %w", err)
	}

	events := bus.New(logger)
	notifier := bus.NewNotifier(cfg.Notify, logger)

	auth, err := broker.NewAuth(cfg.Broker.KeyID, cfg.Broker.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	client := broker.NewClient(cfg, auth, logger)
	wsFeed := broker.NewWSFeed(cfg.Broker.WSEndpoint(cfg.Mode), auth, logger)

	store, err := ledger.Open(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	probs, err := prob.OpenDB(store.DB())
	if err != nil {
		return nil, err
	}
	artifacts, err := artifact.NewWriter(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}

	history := feed.NewHistory(cfg.Symbol)
	tickerFeed := feed.NewTickerFeed(cfg.Feed.TickerURL, cfg.Symbol, logger)
	priceWorker := feed.NewWorker(tickerFeed, history, store, events, logger)

	snapWorker := market.NewSnapshotWorker(client, cfg.Broker.SeriesPrefix, loc, cfg.Feed.SnapshotEvery, events, logger)
	book := market.NewBook()

	generator := strike.NewGenerator(cfg.Symbol, brokerName, history, snapWorker, probs, artifacts, store, logger)

	executor := trade.NewExecutor(client, logger)
	manager := trade.NewManager(store, executor, history, events, notifier, logger)
	initiator := trade.NewInitiator(cfg.Symbol, cfg.Broker.SeriesPrefix, cfg.Prefs.Strategy, loc, history, manager)

	autoEntry := autoentry.NewSupervisor(cfg.AutoEntry, cfg.Prefs, generator, history, store, initiator, events, notifier, logger)
	activeMon := monitor.NewSupervisor(store, history, snapWorker, probs, initiator, cfg.AutoStop, artifacts, events, logger)
	acctSync := account.NewSync(client, store, wsFeed.PositionEvents(), events, notifier, logger)
	scheduler := sched.New(manager, loc, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		loc:         loc,
		events:      events,
		notifier:    notifier,
		client:      client,
		wsFeed:      wsFeed,
		tickerFeed:  tickerFeed,
		history:     history,
		priceWorker: priceWorker,
		snapWorker:  snapWorker,
		book:        book,
		store:       store,
		artifacts:   artifacts,
		generator:   generator,
		manager:     manager,
		initiator:   initiator,
		autoEntry:   autoEntry,
		monitor:     activeMon,
		acctSync:    acctSync,
		scheduler:   scheduler,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Bus returns the process event bus, shared with the API server.
func (e *Engine) Bus() *bus.Bus { return e.events }

// Store returns the ledger store, shared with the API server.
func (e *Engine) Store() *ledger.Store { return e.store }

// Initiator returns the ticket initiator, shared with the API server.
func (e *Engine) Initiator() *trade.Initiator { return e.initiator }

// Manager returns the trade manager, shared with the API server.
func (e *Engine) Manager() *trade.Manager { return e.manager }

// Start launches all background goroutines.
func (e *Engine) Start() error {
	e.spawn(func() {
		if err := e.tickerFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("ticker feed error", "error", err)
		}
	})
	e.spawn(func() { e.priceWorker.Run(e.ctx) })

	e.spawn(func() {
		if err := e.wsFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("broker feed error", "error", err)
		}
	})
	e.spawn(func() { e.snapWorker.Run(e.ctx) })
	e.spawn(func() { e.dispatchBookEvents() })
	e.spawn(func() { e.resubscribeLoop() })

	e.spawn(func() { e.generator.Run(e.ctx) })
	e.spawn(func() { e.autoEntry.Run(e.ctx) })
	e.spawn(func() { e.manager.Run(e.ctx) })
	e.spawn(func() { e.monitor.Run(e.ctx) })
	e.spawn(func() { e.acctSync.Run(e.ctx) })
	e.spawn(func() { e.scheduler.Run(e.ctx) })

	return nil
}

// Stop cancels every goroutine, waits for them, and closes the feeds.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	if err := e.wsFeed.Close(); err != nil {
		e.logger.Error("close broker feed", "error", err)
	}

	e.logger.Info("shutdown complete")
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// dispatchBookEvents applies the authenticated feed's orderbook messages to
// the local mirror and flushes the top-of-book artifact as contracts
// accumulate updates.
func (e *Engine) dispatchBookEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case snap := <-e.wsFeed.SnapshotEvents():
			e.book.ApplySnapshot(snap)
		case delta := <-e.wsFeed.DeltaEvents():
			e.book.ApplyDelta(delta)
			if due := e.book.DueForFlush(false); len(due) > 0 {
				e.flushBook()
			}
		}
	}
}

// resubscribeLoop keeps the orderbook subscription pointed at the
// near-the-money contract set: recomputed on every reconnect (which also
// force-flushes the book artifact, since the broker replays full snapshots
// after resubscribe) and on a fixed interval as the price drifts.
func (e *Engine) resubscribeLoop() {
	ticker := time.NewTicker(e.cfg.Feed.ResubEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wsFeed.Disconnects():
			e.book.DueForFlush(true)
			e.flushBook()
			e.resubscribe()
		case <-ticker.C:
			e.resubscribe()
		}
	}
}

// resubscribe recomputes the closest contracts to the current price and
// replaces the orderbook subscription. Contracts that fell out of the set
// are dropped from the mirror.
func (e *Engine) resubscribe() {
	tick, ok := e.history.Latest()
	snap := e.snapWorker.Latest()
	if !ok || snap == nil {
		return
	}

	tickers := market.NearTheMoney(snap, tick.Price, e.cfg.Feed.BookContracts)
	if len(tickers) == 0 {
		return
	}

	keep := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		keep[t] = true
	}
	e.book.Drop(keep)

	if err := e.wsFeed.SetMarketTickers(tickers); err != nil {
		e.logger.Error("orderbook re-subscribe failed", "error", err)
		return
	}
	e.logger.Debug("orderbook subscription updated", "contracts", len(tickers))
}

func (e *Engine) flushBook() {
	if err := e.artifacts.WriteJSON(bookArtifactPath, e.book.All()); err != nil {
		e.logger.Error("write orderbook artifact", "error", err)
	}
}
