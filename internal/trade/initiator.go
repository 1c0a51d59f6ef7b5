package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"strikebot/internal/ledger"
	"strikebot/internal/metrics"
	"strikebot/pkg/types"
)

// TicketSink is the manager surface the initiator forwards to.
type TicketSink interface {
	Open(ctx context.Context, t types.Ticket) (*ledger.Trade, error)
	Close(ctx context.Context, t types.Ticket) error
	Trade(id int64) (*ledger.Trade, error)
}

// OpenRequest is a raw trade request before ticket minting, as received from
// the API or the auto-entry supervisor.
type OpenRequest struct {
	Strike      float64
	Side        types.Side
	Ticker      string
	BuyPrice    decimal.Decimal
	Prob        float64
	Position    int
	EntryMethod types.EntryMethod
}

// Validate checks the required fields.
func (r OpenRequest) Validate() error {
	switch {
	case r.Strike <= 0:
		return fmt.Errorf("open request: missing strike")
	case r.Side != types.Yes && r.Side != types.No:
		return fmt.Errorf("open request: side must be Y or N, got %q", r.Side)
	case r.Ticker == "":
		return fmt.Errorf("open request: missing ticker")
	case r.BuyPrice.Sign() <= 0:
		return fmt.Errorf("open request: missing buy price")
	case r.Prob <= 0:
		return fmt.Errorf("open request: missing probability")
	case r.Position <= 0:
		return fmt.Errorf("open request: missing position size")
	}
	return nil
}

// Initiator mints trade tickets. It is stateless: validation, a fresh
// ticket_id, exchange-timezone timestamps, and the current price/momentum
// snapshot, then straight to the manager.
type Initiator struct {
	symbol   string
	market   string
	strategy string
	loc      *time.Location
	prices   PriceSource
	sink     TicketSink
}

// NewInitiator wires the initiator. loc is the exchange timezone used for
// the date/time stamps.
func NewInitiator(symbol, market, strategy string, loc *time.Location, prices PriceSource, sink TicketSink) *Initiator {
	return &Initiator{
		symbol:   symbol,
		market:   market,
		strategy: strategy,
		loc:      loc,
		prices:   prices,
		sink:     sink,
	}
}

// Open validates the request, mints an open ticket, and forwards it.
func (i *Initiator) Open(ctx context.Context, req OpenRequest) (*ledger.Trade, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().In(i.loc)
	tick, _ := i.prices.Latest()

	ticket := types.Ticket{
		TicketID:      uuid.NewString(),
		Intent:        types.IntentOpen,
		Date:          now.Format("2006-01-02"),
		Time:          now.Format("15:04:05"),
		Symbol:        i.symbol,
		Market:        i.market,
		TradeStrategy: i.strategy,
		Contract:      fmt.Sprintf("%s %s", req.Ticker, req.Side),
		Strike:        req.Strike,
		Side:          req.Side,
		Ticker:        req.Ticker,
		Prob:          req.Prob,
		Position:      req.Position,
		BuyPrice:      req.BuyPrice,
		SymbolOpen:    tick.Price,
		Momentum:      tick.Momentum,
		EntryMethod:   req.EntryMethod,
	}
	metrics.TicketsEmitted.WithLabelValues(string(req.EntryMethod)).Inc()
	return i.sink.Open(ctx, ticket)
}

// CloseTrade mints a close ticket for an existing trade: the side inverts
// (closing a YES position buys NO), symbol_close is snapshotted, and a fresh
// ticket_id is issued.
func (i *Initiator) CloseTrade(ctx context.Context, tradeID int64, sellPrice decimal.Decimal, method string) error {
	tr, err := i.sink.Trade(tradeID)
	if err != nil {
		return err
	}

	now := time.Now().In(i.loc)
	tick, _ := i.prices.Latest()

	ticket := types.Ticket{
		TicketID:    uuid.NewString(),
		Intent:      types.IntentClose,
		TradeID:     tr.ID,
		Date:        now.Format("2006-01-02"),
		Time:        now.Format("15:04:05"),
		Symbol:      i.symbol,
		Market:      i.market,
		Strike:      tr.Strike,
		Side:        types.Side(tr.Side).Opposite(),
		Ticker:      tr.Ticker,
		Position:    tr.Position,
		SellPrice:   sellPrice,
		SymbolClose: tick.Price,
		CloseMethod: method,
	}
	return i.sink.Close(ctx, ticket)
}
