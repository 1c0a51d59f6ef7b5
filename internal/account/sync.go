// Package account mirrors broker state into the relational store.
//
// The design is hybrid: the authenticated WebSocket's market_position
// channel provides a real-time trigger, and every trigger (plus the initial
// startup pass) runs a REST sweep over balance, positions, fills, orders,
// and settlements. Settlements and balance are additionally re-polled on a
// coarse timer as a safety net, so a missed trigger only delays
// reconciliation, it never loses it.
//
// Each endpoint's response is hashed in canonical JSON form; a sweep whose
// hash matches the last-seen value writes nothing and fans nothing out.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strikebot/internal/bus"
	"strikebot/internal/ledger"
	"strikebot/internal/metrics"
	"strikebot/pkg/types"
)

// safetyPollInterval is the coarse re-poll cadence for settlements and
// balance, covering triggers lost to dropped notifications.
const safetyPollInterval = 60 * time.Second

// centiCents converts the broker's centi-cent integers to cents.
var centiCents = decimal.NewFromInt(100)

// priceUnits converts centi-cent contract prices to decimal probability
// units (0–1), the unit the ledger stores for fills and orders.
var priceUnits = decimal.NewFromInt(10000)

// BrokerAPI is the slice of the REST client the synchronizer consumes.
type BrokerAPI interface {
	GetBalance(ctx context.Context) (*types.BalanceResponse, error)
	GetPositions(ctx context.Context) ([]types.BrokerPosition, error)
	GetFills(ctx context.Context) ([]types.BrokerFill, error)
	GetOrders(ctx context.Context) ([]types.BrokerOrder, error)
	GetSettlements(ctx context.Context) ([]types.BrokerSettlement, error)
}

// MirrorStore is the ledger slice the synchronizer writes.
type MirrorStore interface {
	UpsertPosition(p *ledger.Position) error
	InsertFills(fills []ledger.Fill) (int64, error)
	InsertOrders(orders []ledger.Order) (int64, error)
	InsertSettlements(settlements []ledger.Settlement) (int64, error)
	SetSetting(key, value string) error
}

// Sync drives the account mirror.
type Sync struct {
	broker   BrokerAPI
	store    MirrorStore
	triggers <-chan types.WSMarketPosition
	events   *bus.Bus
	notifier *bus.Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	hashes map[string]string // endpoint → last canonical hash
}

// NewSync wires the synchronizer. triggers is the market_position channel of
// the authenticated feed; it may be nil, leaving only the timed polling.
func NewSync(broker BrokerAPI, store MirrorStore, triggers <-chan types.WSMarketPosition, events *bus.Bus, notifier *bus.Notifier, logger *slog.Logger) *Sync {
	return &Sync{
		broker:   broker,
		store:    store,
		triggers: triggers,
		events:   events,
		notifier: notifier,
		logger:   logger.With("component", "account_sync"),
		hashes:   map[string]string{},
	}
}

// Run performs the initial full sweep, then reacts to position triggers and
// the safety timer until ctx is cancelled.
func (s *Sync) Run(ctx context.Context) {
	s.SyncAll(ctx)

	safety := time.NewTicker(safetyPollInterval)
	defer safety.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-s.triggers:
			if !ok {
				return
			}
			s.drainTriggers()
			s.logger.Debug("position trigger", "ticker", pos.MarketTicker)
			s.SyncAll(ctx)
		case <-safety.C:
			s.syncSettlements(ctx)
			s.syncBalance(ctx)
		}
	}
}

// drainTriggers coalesces a burst of position events into one sweep.
func (s *Sync) drainTriggers() {
	for {
		select {
		case <-s.triggers:
		default:
			return
		}
	}
}

// SyncAll runs one REST pass over every mirrored endpoint.
func (s *Sync) SyncAll(ctx context.Context) {
	s.syncBalance(ctx)
	s.syncPositions(ctx)
	s.syncFills(ctx)
	s.syncOrders(ctx)
	s.syncSettlements(ctx)
}

// changed hashes the canonical JSON of payload and reports whether it
// differs from the endpoint's last-seen value, recording the new hash.
func (s *Sync) changed(endpoint string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		// Marshalling our own wire structs cannot fail in practice; treat
		// it as changed so nothing is silently dropped.
		return true
	}
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[endpoint] == h {
		metrics.SyncSkipped.WithLabelValues(endpoint).Inc()
		return false
	}
	s.hashes[endpoint] = h
	return true
}

func (s *Sync) syncBalance(ctx context.Context) {
	resp, err := s.broker.GetBalance(ctx)
	if err != nil {
		s.logger.Error("fetch balance", "error", err)
		return
	}
	if !s.changed("balance", resp) {
		return
	}

	balance := decimal.NewFromInt(resp.Balance).Div(centiCents)
	if err := s.store.SetSetting("account_balance", balance.StringFixed(2)); err != nil {
		s.logger.Error("persist balance", "error", err)
		return
	}
	metrics.SyncWrites.WithLabelValues("balance").Inc()
	s.fanOut(ctx, "balance", fmt.Sprintf("balance=%s", balance.StringFixed(2)))
}

func (s *Sync) syncPositions(ctx context.Context) {
	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		s.logger.Error("fetch positions", "error", err)
		return
	}
	if !s.changed("positions", positions) {
		return
	}

	for _, bp := range positions {
		raw, _ := json.Marshal(bp)
		row := &ledger.Position{
			Ticker:         bp.Ticker,
			TotalTraded:    decimal.NewFromInt(bp.TotalTraded).Div(centiCents),
			Position:       bp.Position,
			MarketExposure: decimal.NewFromInt(bp.MarketExposure).Div(centiCents),
			RealizedPnL:    decimal.NewFromInt(bp.RealizedPnL).Div(centiCents),
			FeesPaid:       decimal.NewFromInt(bp.FeesPaid).Div(centiCents),
			LastUpdatedTS:  bp.LastUpdatedTS,
			Raw:            string(raw),
		}
		if err := s.store.UpsertPosition(row); err != nil {
			s.logger.Error("persist position", "ticker", bp.Ticker, "error", err)
		}
	}
	metrics.SyncWrites.WithLabelValues("positions").Inc()
	s.fanOut(ctx, "positions", fmt.Sprintf("count=%d", len(positions)))
	s.events.Publish(bus.EventPositionUpdate, positions)
	s.notifier.NotifyPositionsUpdated(ctx, "positions")
}

func (s *Sync) syncFills(ctx context.Context) {
	fills, err := s.broker.GetFills(ctx)
	if err != nil {
		s.logger.Error("fetch fills", "error", err)
		return
	}
	if !s.changed("fills", fills) {
		return
	}

	rows := make([]ledger.Fill, 0, len(fills))
	for _, bf := range fills {
		created, err := time.Parse(time.RFC3339, bf.CreatedTime)
		if err != nil {
			s.logger.Error("fill with bad created_time, skipping",
				"trade_id", bf.TradeID, "created_time", bf.CreatedTime)
			continue
		}
		rows = append(rows, ledger.Fill{
			TradeID:     bf.TradeID,
			Ticker:      bf.Ticker,
			OrderID:     bf.OrderID,
			Side:        bf.Side,
			Action:      bf.Action,
			Count:       bf.Count,
			YesPrice:    decimal.NewFromInt(bf.YesPrice).Div(priceUnits),
			NoPrice:     decimal.NewFromInt(bf.NoPrice).Div(priceUnits),
			IsTaker:     bf.IsTaker,
			CreatedTime: created,
		})
	}

	n, err := s.store.InsertFills(rows)
	if err != nil {
		s.logger.Error("persist fills", "error", err)
		return
	}
	if n == 0 {
		return
	}
	metrics.SyncWrites.WithLabelValues("fills").Inc()
	s.fanOut(ctx, "fills", fmt.Sprintf("new=%d", n))
	s.notifier.NotifyPositionsUpdated(ctx, "fills")
}

func (s *Sync) syncOrders(ctx context.Context) {
	orders, err := s.broker.GetOrders(ctx)
	if err != nil {
		s.logger.Error("fetch orders", "error", err)
		return
	}
	if !s.changed("orders", orders) {
		return
	}

	rows := make([]ledger.Order, 0, len(orders))
	for _, bo := range orders {
		created, err := time.Parse(time.RFC3339, bo.CreatedTime)
		if err != nil {
			s.logger.Error("order with bad created_time, skipping",
				"order_id", bo.OrderID, "created_time", bo.CreatedTime)
			continue
		}
		rows = append(rows, ledger.Order{
			OrderID:     bo.OrderID,
			Ticker:      bo.Ticker,
			Side:        bo.Side,
			Action:      bo.Action,
			Type:        bo.Type,
			Status:      bo.Status,
			YesPrice:    decimal.NewFromInt(bo.YesPrice).Div(priceUnits),
			NoPrice:     decimal.NewFromInt(bo.NoPrice).Div(priceUnits),
			Count:       bo.Count,
			CreatedTime: created,
		})
	}

	n, err := s.store.InsertOrders(rows)
	if err != nil {
		s.logger.Error("persist orders", "error", err)
		return
	}
	if n == 0 {
		return
	}
	metrics.SyncWrites.WithLabelValues("orders").Inc()
	s.fanOut(ctx, "orders", fmt.Sprintf("new=%d", n))
}

func (s *Sync) syncSettlements(ctx context.Context) {
	settlements, err := s.broker.GetSettlements(ctx)
	if err != nil {
		s.logger.Error("fetch settlements", "error", err)
		return
	}
	if !s.changed("settlements", settlements) {
		return
	}

	rows := make([]ledger.Settlement, 0, len(settlements))
	for _, bs := range settlements {
		settled, err := time.Parse(time.RFC3339, bs.SettledTime)
		if err != nil {
			s.logger.Error("settlement with bad settled_time, skipping",
				"ticker", bs.Ticker, "settled_time", bs.SettledTime)
			continue
		}
		rows = append(rows, ledger.Settlement{
			Ticker:       bs.Ticker,
			SettledTime:  settled,
			MarketResult: bs.MarketResult,
			YesCount:     bs.YesCount,
			NoCount:      bs.NoCount,
			Revenue:      decimal.NewFromInt(bs.Revenue).Div(centiCents),
		})
	}

	n, err := s.store.InsertSettlements(rows)
	if err != nil {
		s.logger.Error("persist settlements", "error", err)
		return
	}
	if n == 0 {
		return
	}
	metrics.SyncWrites.WithLabelValues("settlements").Inc()
	s.fanOut(ctx, "settlements", fmt.Sprintf("new=%d", n))
}

// fanOut publishes the change on the bus and posts the db-change
// notification to the configured peers.
func (s *Sync) fanOut(ctx context.Context, db, summary string) {
	s.events.Publish(bus.EventDbChanged, bus.DbChanged{DB: db, Summary: summary})
	s.notifier.NotifyDbChange(ctx, db, summary)
}
