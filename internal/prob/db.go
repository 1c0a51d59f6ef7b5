package prob

import (
	"fmt"

	"gorm.io/gorm"
)

// Row is the persisted lookup row. The table is written by the offline
// generator; this process only ever reads it.
type Row struct {
	TTCSeconds         int `gorm:"primaryKey;autoIncrement:false;column:ttc_seconds"`
	BufferPoints       int `gorm:"primaryKey;autoIncrement:false;column:buffer_points"`
	MomentumBucket     int `gorm:"primaryKey;autoIncrement:false;column:momentum_bucket"`
	ProbWithinPositive float64
	ProbWithinNegative float64
}

func (Row) TableName() string { return "live_data_prob_lookup" }

// DBTable serves lookups from the relational store. The domain bounds are
// read once at open; individual cells are point queries.
type DBTable struct {
	db     *gorm.DB
	domain Domain
}

// OpenDB binds the lookup to an existing gorm handle and derives the domain.
func OpenDB(db *gorm.DB) (*DBTable, error) {
	var count int64
	if err := db.Model(&Row{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("probe lookup table: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("probability lookup table is empty")
	}

	var d Domain
	row := db.Model(&Row{}).Select(
		"MIN(ttc_seconds) AS ttc_min, MAX(ttc_seconds) AS ttc_max, " +
			"MAX(buffer_points) AS buffer_max, " +
			"MIN(momentum_bucket) AS momentum_min, MAX(momentum_bucket) AS momentum_max").Row()
	if err := row.Scan(&d.TTCMin, &d.TTCMax, &d.BufferMax, &d.MomentumMin, &d.MomentumMax); err != nil {
		return nil, fmt.Errorf("derive lookup domain: %w", err)
	}

	return &DBTable{db: db, domain: d}, nil
}

// Domain returns the table's clamping bounds.
func (t *DBTable) Domain() Domain { return t.domain }

// Lookup implements Table.
func (t *DBTable) Lookup(ttcSeconds int, bufferPoints float64, momentum int) (Probs, bool) {
	return resolve(t.domain, t.fetch, ttcSeconds, bufferPoints, momentum)
}

func (t *DBTable) fetch(k Key) (Probs, bool) {
	var row Row
	err := t.db.Where("ttc_seconds = ? AND buffer_points = ? AND momentum_bucket = ?",
		k.TTCSeconds, k.BufferPoints, k.MomentumBucket).First(&row).Error
	if err != nil {
		return Probs{}, false
	}
	return Probs{Positive: row.ProbWithinPositive, Negative: row.ProbWithinNegative}, true
}
