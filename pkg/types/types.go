// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — trade enums, market
// snapshots, strike-table rows, trade tickets, and the broker wire payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the contract side of a binary strike market.
type Side string

const (
	Yes Side = "Y"
	No  Side = "N"
)

// Opposite returns the other side (Y↔N). Used when closing a position:
// closing a YES position means buying NO.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// Channel returns the broker wire name for the side ("yes"/"no").
func (s Side) Channel() string {
	if s == Yes {
		return "yes"
	}
	return "no"
}

// TradeStatus is the ledger lifecycle state of a trade.
// Transitions are one-way: pending → open → closing → closed, with expired
// and error as the off-ramps. closed and error are terminal; expired resolves
// to closed once a matching settlement is observed.
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusOpen    TradeStatus = "open"
	StatusClosing TradeStatus = "closing"
	StatusClosed  TradeStatus = "closed"
	StatusExpired TradeStatus = "expired"
	StatusError   TradeStatus = "error"
)

// Terminal reports whether no further transition is possible from s.
func (s TradeStatus) Terminal() bool {
	return s == StatusClosed || s == StatusError
}

// Live reports whether the trade still occupies a broker position slot.
func (s TradeStatus) Live() bool {
	return s == StatusPending || s == StatusOpen || s == StatusClosing
}

// EntryMethod records how a trade was initiated.
type EntryMethod string

const (
	EntryManual EntryMethod = "manual"
	EntryAuto   EntryMethod = "auto"
)

// WinLoss is the final outcome of a closed trade, assigned by PnL sign.
type WinLoss string

const (
	Win  WinLoss = "W"
	Loss WinLoss = "L"
	Draw WinLoss = "D"
)

// WinLossFromPnL maps a realized PnL to its W/L/D outcome.
func WinLossFromPnL(pnl decimal.Decimal) WinLoss {
	switch pnl.Sign() {
	case 1:
		return Win
	case -1:
		return Loss
	default:
		return Draw
	}
}

// ————————————————————————————————————————————————————————————————————————
// Price feed
// ————————————————————————————————————————————————————————————————————————

// Tick is one retained price observation, at most one per wall-clock second
// per symbol. Deltas are percentage moves against the nearest tick at or
// before the horizon; nil means no history reaches that far back yet.
type Tick struct {
	Symbol       string
	Timestamp    time.Time // truncated to the second; unique per symbol
	Price        float64
	OneMinuteAvg float64
	Momentum     int // weighted multi-horizon score, ×100, integer

	Delta1m  *float64
	Delta2m  *float64
	Delta3m  *float64
	Delta4m  *float64
	Delta15m *float64
	Delta30m *float64
}

// ————————————————————————————————————————————————————————————————————————
// Market snapshots
// ————————————————————————————————————————————————————————————————————————

// Market is one strike contract inside an hourly event. Quotes are in cents
// (0–100) as the broker reports them.
type Market struct {
	Ticker       string  `json:"ticker"`
	FloorStrike  float64 `json:"floor_strike"` // quoted one cent below the round strike
	YesBid       int     `json:"yes_bid"`
	YesAsk       int     `json:"yes_ask"`
	NoBid        int     `json:"no_bid"`
	NoAsk        int     `json:"no_ask"`
	LastPrice    int     `json:"last_price"`
	Volume       int64   `json:"volume"`
	Volume24h    int64   `json:"volume_24h"`
	OpenInterest int64   `json:"open_interest"`
}

// Strike returns the round strike value the floor strike represents
// (118999.99 → 119000).
func (m Market) Strike() float64 {
	return float64(int64(m.FloorStrike + 0.5))
}

// Snapshot is the latest view of the active hourly event: header fields plus
// the per-strike markets. StrikeTier is the observed common spacing between
// consecutive strikes.
type Snapshot struct {
	EventTicker  string    `json:"event_ticker"`
	EventTitle   string    `json:"event_title"`
	StrikeDate   time.Time `json:"strike_date"` // UTC expiry of the hourly contract
	MarketStatus string    `json:"market_status"`
	StrikeTier   int       `json:"strike_tier"`
	Markets      []Market  `json:"markets"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// MarketByStrike finds the market whose round strike equals strike.
func (s *Snapshot) MarketByStrike(strike float64) (Market, bool) {
	for _, m := range s.Markets {
		if m.Strike() == strike {
			return m, true
		}
	}
	return Market{}, false
}

// MarketByTicker finds the market with the given contract ticker.
func (s *Snapshot) MarketByTicker(ticker string) (Market, bool) {
	for _, m := range s.Markets {
		if m.Ticker == ticker {
			return m, true
		}
	}
	return Market{}, false
}

// TTC returns the seconds until the event expires, floored at zero.
func (s *Snapshot) TTC(now time.Time) int {
	ttc := int(s.StrikeDate.Sub(now).Seconds())
	if ttc < 0 {
		return 0
	}
	return ttc
}

// ————————————————————————————————————————————————————————————————————————
// Strike table & watchlist
// ————————————————————————————————————————————————————————————————————————

// StrikeRow is one candidate strike in the per-second decision table.
// Probability and the asks are in percent/cents (0–100); YesDiff and NoDiff
// are the signed gaps between model probability and the quoted ask on each
// side (positive = favorable).
type StrikeRow struct {
	Strike      float64 `json:"strike"`
	Ticker      string  `json:"ticker"`
	Buffer      float64 `json:"buffer"`     // |price − strike|
	BufferPct   float64 `json:"buffer_pct"` // buffer / strike_tier
	MovePct     float64 `json:"move_pct"`   // buffer / price · 100
	Probability float64 `json:"probability"`
	YesAsk      int     `json:"yes_ask"`
	NoAsk       int     `json:"no_ask"`
	YesDiff     float64 `json:"yes_diff"`
	NoDiff      float64 `json:"no_diff"`
	Volume      int64   `json:"volume"`
	ActiveSide  Side    `json:"active_side"` // the model-favored entry side
}

// ActiveAsk returns the quoted ask (cents) on the row's active side.
func (r StrikeRow) ActiveAsk() int {
	if r.ActiveSide == Yes {
		return r.YesAsk
	}
	return r.NoAsk
}

// ActiveDiff returns the differential on the row's active side.
func (r StrikeRow) ActiveDiff() float64 {
	if r.ActiveSide == Yes {
		return r.YesDiff
	}
	return r.NoDiff
}

// StrikeTable is the on-disk artifact shape consumed by the UI, for both the
// full table and the filtered watchlist.
type StrikeTable struct {
	Symbol       string      `json:"symbol"`
	CurrentPrice float64     `json:"current_price"`
	TTC          int         `json:"ttc"`
	Broker       string      `json:"broker"`
	EventTicker  string      `json:"event_ticker"`
	MarketTitle  string      `json:"market_title"`
	StrikeTier   int         `json:"strike_tier"`
	MarketStatus string      `json:"market_status"`
	LastUpdated  time.Time   `json:"last_updated"`
	Strikes      []StrikeRow `json:"strikes"`
}

// LiveProbability is one entry of the live-probabilities artifact.
type LiveProbability struct {
	Strike     float64 `json:"strike"`
	ProbWithin float64 `json:"prob_within"`
	Direction  string  `json:"direction"` // "above" or "below" the money line
}

// LiveProbabilities is the artifact written alongside the strike table.
type LiveProbabilities struct {
	Timestamp    time.Time         `json:"timestamp"`
	CurrentPrice float64           `json:"current_price"`
	TTCSeconds   int               `json:"ttc_seconds"`
	Probabilities []LiveProbability `json:"probabilities"`
}

// ————————————————————————————————————————————————————————————————————————
// Trade tickets
// ————————————————————————————————————————————————————————————————————————

// TicketIntent distinguishes open tickets from close tickets.
type TicketIntent string

const (
	IntentOpen  TicketIntent = "open"
	IntentClose TicketIntent = "close"
)

// Ticket is the canonical trade intent minted by the initiator and consumed
// by the manager. TicketID is globally unique; prices are decimal probability
// units (0–1).
type Ticket struct {
	TicketID string       `json:"ticket_id"`
	Intent   TicketIntent `json:"intent"`

	// Close tickets reference the ledger trade being closed.
	TradeID int64 `json:"trade_id,omitempty"`

	Date          string          `json:"date"` // exchange timezone
	Time          string          `json:"time"`
	Symbol        string          `json:"symbol"`
	Market        string          `json:"market"`
	TradeStrategy string          `json:"trade_strategy"`
	Contract      string          `json:"contract"`
	Strike        float64         `json:"strike"`
	Side          Side            `json:"side"`
	Ticker        string          `json:"ticker"`
	Prob          float64         `json:"prob"`
	Position      int             `json:"position"`
	BuyPrice      decimal.Decimal `json:"buy_price"`
	SellPrice     decimal.Decimal `json:"sell_price,omitempty"`
	SymbolOpen    float64         `json:"symbol_open"`
	SymbolClose   float64         `json:"symbol_close,omitempty"`
	Momentum      int             `json:"momentum"`
	EntryMethod   EntryMethod     `json:"entry_method"`
	CloseMethod   string          `json:"close_method,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Broker REST payloads
// ————————————————————————————————————————————————————————————————————————
// Monetary fields arrive in centi-cents; the account-sync layer divides by
// 100 before anything is stored.

// EventResponse is the broker's /events/{ticker} payload.
type EventResponse struct {
	Event struct {
		EventTicker string `json:"event_ticker"`
		Title       string `json:"title"`
		StrikeDate  string `json:"strike_date"` // RFC3339, UTC
	} `json:"event"`
	Markets []BrokerMarket `json:"markets"`
}

// BrokerMarket is the wire shape of one strike contract.
type BrokerMarket struct {
	Ticker       string  `json:"ticker"`
	FloorStrike  float64 `json:"floor_strike"`
	Status       string  `json:"status"`
	YesBid       int     `json:"yes_bid"`
	YesAsk       int     `json:"yes_ask"`
	NoBid        int     `json:"no_bid"`
	NoAsk        int     `json:"no_ask"`
	LastPrice    int     `json:"last_price"`
	Volume       int64   `json:"volume"`
	Volume24h    int64   `json:"volume_24h"`
	OpenInterest int64   `json:"open_interest"`
}

// BalanceResponse is /portfolio/balance. Balance is centi-cents.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// BrokerPosition is one entry of /portfolio/positions.
type BrokerPosition struct {
	Ticker         string `json:"ticker"`
	TotalTraded    int64  `json:"total_traded"`
	Position       int    `json:"position"` // signed contract count
	MarketExposure int64  `json:"market_exposure"`
	RealizedPnL    int64  `json:"realized_pnl"`
	FeesPaid       int64  `json:"fees_paid"`
	LastUpdatedTS  int64  `json:"last_updated_ts"`
}

// PositionsResponse is the paginated /portfolio/positions payload.
type PositionsResponse struct {
	MarketPositions []BrokerPosition `json:"market_positions"`
	Cursor          string           `json:"cursor"`
}

// BrokerFill is one immutable execution record from /portfolio/fills.
type BrokerFill struct {
	TradeID     string `json:"trade_id"`
	Ticker      string `json:"ticker"`
	OrderID     string `json:"order_id"`
	Side        string `json:"side"`   // "yes" or "no"
	Action      string `json:"action"` // "buy" or "sell"
	Count       int    `json:"count"`
	YesPrice    int64  `json:"yes_price"` // centi-cents
	NoPrice     int64  `json:"no_price"`
	IsTaker     bool   `json:"is_taker"`
	CreatedTime string `json:"created_time"` // RFC3339
}

// FillsResponse is the paginated /portfolio/fills payload.
type FillsResponse struct {
	Fills  []BrokerFill `json:"fills"`
	Cursor string       `json:"cursor"`
}

// BrokerOrder is one entry of /portfolio/orders.
type BrokerOrder struct {
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Action      string `json:"action"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	YesPrice    int64  `json:"yes_price"`
	NoPrice     int64  `json:"no_price"`
	Count       int    `json:"count"`
	CreatedTime string `json:"created_time"`
}

// OrdersResponse is the paginated /portfolio/orders payload.
type OrdersResponse struct {
	Orders []BrokerOrder `json:"orders"`
	Cursor string        `json:"cursor"`
}

// BrokerSettlement is the broker's final resolution of a market.
type BrokerSettlement struct {
	Ticker       string `json:"ticker"`
	MarketResult string `json:"market_result"` // "yes" or "no"
	YesCount     int    `json:"yes_count"`
	NoCount      int    `json:"no_count"`
	Revenue      int64  `json:"revenue"` // centi-cents; >0 means the held side won
	SettledTime  string `json:"settled_time"`
}

// SettlementsResponse is the paginated /portfolio/settlements payload.
type SettlementsResponse struct {
	Settlements []BrokerSettlement `json:"settlements"`
	Cursor      string             `json:"cursor"`
}

// OrderRequest is the body of POST /portfolio/orders.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`   // "yes" or "no"
	Action        string `json:"action"` // "buy" or "sell"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int    `json:"count"`
	YesPrice      int    `json:"yes_price,omitempty"` // cents, limit orders only
	NoPrice       int    `json:"no_price,omitempty"`
}

// OrderAck is the broker's acknowledgement of an order submission.
type OrderAck struct {
	Order struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"order"`
}

// ————————————————————————————————————————————————————————————————————————
// Broker WebSocket messages
// ————————————————————————————————————————————————————————————————————————
// Subscription envelope: {id, cmd:"subscribe", params:{channels, market_tickers?}}.
// The server responds {type:"subscribed", msg:{sid}} then streams typed
// messages. "ping" must be answered with "pong".

// WSCommand is the client → server command envelope.
type WSCommand struct {
	ID     int             `json:"id"`
	Cmd    string          `json:"cmd"` // "subscribe", "unsubscribe", "pong"
	Params *WSCommandParams `json:"params,omitempty"`
}

// WSCommandParams carries the channels and optional ticker filter.
type WSCommandParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
	SIDs          []int    `json:"sids,omitempty"`
}

// WSServerMsg is the server → client envelope; Msg is decoded per Type.
type WSServerMsg struct {
	Type string          `json:"type"` // "subscribed", "orderbook_delta", "orderbook_snapshot", "market_position", "ping", "error"
	SID  int             `json:"sid,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// WSSubscribed confirms a subscription and carries the server-assigned sid.
type WSSubscribed struct {
	Channel string `json:"channel"`
	SID     int    `json:"sid"`
}

// WSOrderbookSnapshot replaces the full book for one contract.
// Levels are [price_cents, quantity] pairs.
type WSOrderbookSnapshot struct {
	MarketTicker string   `json:"market_ticker"`
	Yes          [][2]int `json:"yes"`
	No           [][2]int `json:"no"`
}

// WSOrderbookDelta is one incremental level change.
type WSOrderbookDelta struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"` // cents
	Delta        int    `json:"delta"` // signed quantity change
	Side         string `json:"side"`  // "yes" or "no"
}

// WSMarketPosition is a real-time position change on the authenticated feed.
// It is used only as a sync trigger; authoritative state comes from REST.
type WSMarketPosition struct {
	MarketTicker   string `json:"market_ticker"`
	Position       int    `json:"position"`
	MarketExposure int64  `json:"market_exposure"`
	FeesPaid       int64  `json:"fees_paid"`
}

// ————————————————————————————————————————————————————————————————————————
// Public ticker feed
// ————————————————————————————————————————————————————————————————————————

// TickerChannel names one channel/product subscription on the public feed.
type TickerChannel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// TickerSubscribeMsg is the public feed subscription envelope.
type TickerSubscribeMsg struct {
	Type     string          `json:"type"` // "subscribe"
	Channels []TickerChannel `json:"channels"`
}

// TickerMessage is a price update on the public feed; only type=="ticker"
// messages are consumed.
type TickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
}
