package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"strikebot/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Store wraps the gorm handle. The DSN selects the engine: postgres:// URLs
// open a Postgres connection, anything else is treated as a sqlite file path.
type Store struct {
	db *gorm.DB
}

// Open connects and migrates the schema.
func Open(dsn string) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&TickRow{}, &Trade{}, &Position{}, &Fill{}, &Order{},
		&Settlement{}, &ActiveTrade{}, &StrikeArtifact{}, &Setting{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for read-only collaborators (the
// probability table shares the store).
func (s *Store) DB() *gorm.DB { return s.db }

// ————————————————————————————————————————————————————————————————————————
// Ticks
// ————————————————————————————————————————————————————————————————————————

// UpsertTick writes one tick row, overwriting on the (symbol, ts-second)
// conflict so duplicate seconds stay idempotent.
func (s *Store) UpsertTick(t types.Tick) error {
	row := TickRow{
		Symbol:       t.Symbol,
		TS:           t.Timestamp.Truncate(time.Second),
		Price:        t.Price,
		OneMinuteAvg: t.OneMinuteAvg,
		Momentum:     t.Momentum,
		Delta1m:      t.Delta1m,
		Delta2m:      t.Delta2m,
		Delta3m:      t.Delta3m,
		Delta4m:      t.Delta4m,
		Delta15m:     t.Delta15m,
		Delta30m:     t.Delta30m,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "ts"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// EvictTicks deletes tick rows older than cutoff for the symbol.
func (s *Store) EvictTicks(symbol string, cutoff time.Time) (int64, error) {
	res := s.db.Where("symbol = ? AND ts < ?", symbol, cutoff).Delete(&TickRow{})
	return res.RowsAffected, res.Error
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// InsertTrade persists a new ledger trade and backfills its ID.
func (s *Store) InsertTrade(t *Trade) error {
	return s.db.Create(t).Error
}

// GetTrade fetches a trade by ledger ID.
func (s *Store) GetTrade(id int64) (*Trade, error) {
	var t Trade
	if err := s.db.First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetTradeByTicket fetches a trade by its client-generated ticket ID.
func (s *Store) GetTradeByTicket(ticketID string) (*Trade, error) {
	var t Trade
	if err := s.db.Where("ticket_id = ?", ticketID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// SaveTrade writes back every field of the trade row.
func (s *Store) SaveTrade(t *Trade) error {
	return s.db.Save(t).Error
}

// TradesByStatus lists trades in the given status, oldest first.
func (s *Store) TradesByStatus(status types.TradeStatus) ([]Trade, error) {
	var out []Trade
	err := s.db.Where("status = ?", string(status)).Order("id asc").Find(&out).Error
	return out, err
}

// RecentTrades lists the newest trades regardless of status, newest first.
func (s *Store) RecentTrades(limit int) ([]Trade, error) {
	var out []Trade
	err := s.db.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// LiveTradeOn reports whether a non-terminal trade exists on (strike, side).
// Used by the duplicate-trade guard.
func (s *Store) LiveTradeOn(strike float64, side types.Side) (bool, error) {
	var n int64
	err := s.db.Model(&Trade{}).
		Where("strike = ? AND side = ? AND status IN ?", strike, string(side),
			[]string{string(types.StatusPending), string(types.StatusOpen), string(types.StatusClosing)}).
		Count(&n).Error
	return n > 0, err
}

// DeleteErrorTrades removes error-status trades; run at the hourly boundary
// before expiry processing so they don't occupy monitoring.
func (s *Store) DeleteErrorTrades() (int64, error) {
	res := s.db.Where("status = ?", string(types.StatusError)).Delete(&Trade{})
	return res.RowsAffected, res.Error
}

// ————————————————————————————————————————————————————————————————————————
// Mirrored broker state
// ————————————————————————————————————————————————————————————————————————

// UpsertPosition writes one mirrored position keyed by ticker.
func (s *Store) UpsertPosition(p *Position) error {
	p.UpdatedAt = time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		UpdateAll: true,
	}).Create(p).Error
}

// GetPosition fetches the mirrored position for a ticker.
func (s *Store) GetPosition(ticker string) (*Position, error) {
	var p Position
	if err := s.db.Where("ticker = ?", ticker).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// InsertFills stores fills not yet mirrored; existing broker trade IDs are
// left untouched. Returns the number actually inserted.
func (s *Store) InsertFills(fills []Fill) (int64, error) {
	if len(fills) == 0 {
		return 0, nil
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fills)
	return res.RowsAffected, res.Error
}

// LatestFill returns the most recent mirrored fill for the ticker on the
// given contract side ("yes"/"no"), or ErrNotFound.
func (s *Store) LatestFill(ticker, side string) (*Fill, error) {
	var f Fill
	err := s.db.Where("ticker = ? AND side = ?", ticker, side).
		Order("created_time desc").First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// InsertOrders stores orders not yet mirrored.
func (s *Store) InsertOrders(orders []Order) (int64, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&orders)
	return res.RowsAffected, res.Error
}

// InsertSettlements stores settlements not yet mirrored, keyed by the
// (ticker, settled_time) composite.
func (s *Store) InsertSettlements(settlements []Settlement) (int64, error) {
	if len(settlements) == 0 {
		return 0, nil
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&settlements)
	return res.RowsAffected, res.Error
}

// SettlementFor returns the mirrored settlement for a ticker, or ErrNotFound.
func (s *Store) SettlementFor(ticker string) (*Settlement, error) {
	var st Settlement
	err := s.db.Where("ticker = ?", ticker).Order("settled_time desc").First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// ————————————————————————————————————————————————————————————————————————
// Active trades
// ————————————————————————————————————————————————————————————————————————

// UpsertActiveTrade writes the monitoring mirror row for an open trade.
func (s *Store) UpsertActiveTrade(a *ActiveTrade) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		UpdateAll: true,
	}).Create(a).Error
}

// DeleteActiveTrade removes the mirror row when the trade leaves open.
func (s *Store) DeleteActiveTrade(tradeID int64) error {
	return s.db.Where("trade_id = ?", tradeID).Delete(&ActiveTrade{}).Error
}

// ActiveTrades lists all monitoring rows.
func (s *Store) ActiveTrades() ([]ActiveTrade, error) {
	var out []ActiveTrade
	err := s.db.Order("trade_id asc").Find(&out).Error
	return out, err
}

// ActiveTradeOn reports whether a monitoring row exists on (strike, side).
func (s *Store) ActiveTradeOn(strike float64, side types.Side) (bool, error) {
	var n int64
	err := s.db.Model(&ActiveTrade{}).
		Where("strike = ? AND side = ?", strike, string(side)).Count(&n).Error
	return n > 0, err
}

// UpsertStrikeArtifact stores the DB copy of one strike-table artifact.
func (s *Store) UpsertStrikeArtifact(symbol, kind, payload string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "kind"}},
		UpdateAll: true,
	}).Create(&StrikeArtifact{
		Symbol: symbol, Kind: kind, Payload: payload, UpdatedAt: time.Now(),
	}).Error
}

// ————————————————————————————————————————————————————————————————————————
// Settings
// ————————————————————————————————————————————————————————————————————————

// GetSetting reads one operator setting; empty string if absent.
func (s *Store) GetSetting(key string) (string, error) {
	var row Setting
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

// SetSetting writes one operator setting.
func (s *Store) SetSetting(key, value string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&Setting{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}
