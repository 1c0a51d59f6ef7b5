// Package ledger is the relational store shared by the trade manager,
// account sync, active-trade supervisor, and expiry scheduler. Two logical
// schemas are kept: live_data (ticks, trades, mirrored broker state) and
// users (operator settings). On engines without schema support the split is
// carried in the table-name prefixes.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickRow is one retained price observation, at most one per second per
// symbol. Delta columns are nullable: nil means no history reached that far
// back at write time.
type TickRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Symbol       string    `gorm:"index:idx_tick_sym_ts,unique"`
	TS           time.Time `gorm:"index:idx_tick_sym_ts,unique"`
	Price        float64
	OneMinuteAvg float64
	Momentum     int

	Delta1m  *float64
	Delta2m  *float64
	Delta3m  *float64
	Delta4m  *float64
	Delta15m *float64
	Delta30m *float64
}

func (TickRow) TableName() string { return "live_data_ticks" }

// Trade is the ledger row the trade manager owns. Prices are decimal
// probability units (0–1); PnL is position·sell − position·buy − fees to
// two decimals.
type Trade struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	TicketID string `gorm:"uniqueIndex"`

	Date          string
	Time          string
	Symbol        string
	Market        string
	TradeStrategy string
	Contract      string
	Strike        float64
	Side          string `gorm:"index"`
	Ticker        string `gorm:"index"`
	Prob          float64
	Position      int
	BuyPrice      decimal.Decimal `gorm:"type:decimal(10,4)"`
	EntryMethod   string
	Momentum      int

	Status      string `gorm:"index"`
	SymbolOpen  float64
	SymbolClose *float64
	SellPrice   decimal.Decimal `gorm:"type:decimal(10,4)"`
	ClosedAt    *time.Time
	Fees        decimal.Decimal `gorm:"type:decimal(12,2)"`
	PnL         decimal.Decimal `gorm:"type:decimal(12,2)"`
	WinLoss     string
	Diff        int
	CloseMethod string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Trade) TableName() string { return "live_data_trades" }

// Position mirrors one broker position, keyed by ticker. Monetary fields are
// already converted from centi-cents. Raw keeps the broker payload verbatim
// for forensics.
type Position struct {
	Ticker         string `gorm:"primaryKey"`
	TotalTraded    decimal.Decimal `gorm:"type:decimal(20,2)"`
	Position       int
	MarketExposure decimal.Decimal `gorm:"type:decimal(20,2)"`
	RealizedPnL    decimal.Decimal `gorm:"type:decimal(20,2)"`
	FeesPaid       decimal.Decimal `gorm:"type:decimal(12,2)"`
	LastUpdatedTS  int64
	Raw            string
	UpdatedAt      time.Time
}

func (Position) TableName() string { return "live_data_positions" }

// Fill mirrors one immutable broker execution, keyed by the broker trade ID.
type Fill struct {
	TradeID     string `gorm:"primaryKey"`
	Ticker      string `gorm:"index"`
	OrderID     string
	Side        string
	Action      string
	Count       int
	YesPrice    decimal.Decimal `gorm:"type:decimal(10,4)"`
	NoPrice     decimal.Decimal `gorm:"type:decimal(10,4)"`
	IsTaker     bool
	CreatedTime time.Time `gorm:"index"`
}

func (Fill) TableName() string { return "live_data_fills" }

// Order mirrors one broker order.
type Order struct {
	OrderID     string `gorm:"primaryKey"`
	Ticker      string `gorm:"index"`
	Side        string
	Action      string
	Type        string
	Status      string
	YesPrice    decimal.Decimal `gorm:"type:decimal(10,4)"`
	NoPrice     decimal.Decimal `gorm:"type:decimal(10,4)"`
	Count       int
	CreatedTime time.Time
}

func (Order) TableName() string { return "live_data_orders" }

// Settlement mirrors one broker market resolution. The natural key is the
// (ticker, settled_time) composite.
type Settlement struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Ticker       string `gorm:"index:idx_settle_nat,unique"`
	SettledTime  time.Time `gorm:"index:idx_settle_nat,unique"`
	MarketResult string
	YesCount     int
	NoCount      int
	Revenue      decimal.Decimal `gorm:"type:decimal(20,2)"`
}

func (Settlement) TableName() string { return "live_data_settlements" }

// ActiveTrade is the monitoring mirror of an open ledger trade. A row exists
// iff the corresponding trade is in status open.
type ActiveTrade struct {
	TradeID  int64  `gorm:"primaryKey"`
	TicketID string `gorm:"uniqueIndex"`

	Symbol   string
	Ticker   string
	Strike   float64
	Side     string
	Position int
	BuyPrice decimal.Decimal `gorm:"type:decimal(10,4)"`
	Prob     float64
	OpenedAt time.Time

	CurrentSymbolPrice float64
	CurrentProbability float64
	BufferFromEntry    float64
	TimeSinceEntry     int
	CurrentClosePrice  decimal.Decimal `gorm:"type:decimal(10,4)"`
	CurrentPnL         string
	LastUpdated        time.Time
}

func (ActiveTrade) TableName() string { return "live_data_active_trades" }

// StrikeArtifact is the DB copy of one strike-table artifact, keyed by
// (symbol, kind) where kind is "table" or "watchlist". Payload is the same
// JSON document written to disk.
type StrikeArtifact struct {
	Symbol    string `gorm:"primaryKey"`
	Kind      string `gorm:"primaryKey"`
	Payload   string
	UpdatedAt time.Time
}

func (StrikeArtifact) TableName() string { return "live_data_strike_tables" }

// Setting is one persisted operator setting (users schema).
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (Setting) TableName() string { return "users_settings" }
