package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quantix/internal/schema"
)

const (
	barsTable       = "bars"
	upsertBatchSize = 500
)

// BarRecord is the row layout of the bars table. The time column leads the
// primary key so the table can be a hypertable partitioned on it.
type BarRecord struct {
	Timestamp time.Time           `gorm:"primaryKey;not null"`
	Venue     string              `gorm:"primaryKey;size:32;not null"`
	Symbol    string              `gorm:"primaryKey;size:32;not null"`
	TimeFrame string              `gorm:"column:timeframe;primaryKey;size:16;not null"`
	Open      decimal.Decimal     `gorm:"type:numeric;not null"`
	High      decimal.Decimal     `gorm:"type:numeric;not null"`
	Low       decimal.Decimal     `gorm:"type:numeric;not null"`
	Close     decimal.Decimal     `gorm:"type:numeric;not null"`
	Volume    decimal.Decimal     `gorm:"type:numeric;not null"`
	VWAP      decimal.NullDecimal `gorm:"column:vwap;type:numeric"`
}

func (BarRecord) TableName() string {
	return barsTable
}

// NewBarRecord converts a bar to its row.
func NewBarRecord(b schema.Bar) BarRecord {
	return BarRecord{
		Timestamp: b.Timestamp.UTC(),
		Venue:     b.Venue,
		Symbol:    b.Symbol,
		TimeFrame: b.TimeFrame.Value(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		VWAP:      b.VWAP,
	}
}

// Bar converts the row back.
func (r BarRecord) Bar() (schema.Bar, error) {
	tf, err := schema.ParseTimeFrame(r.TimeFrame)
	if err != nil {
		return schema.Bar{}, err
	}
	return schema.Bar{
		Timestamp: r.Timestamp.UTC(),
		Venue:     r.Venue,
		Symbol:    r.Symbol,
		TimeFrame: tf,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		VWAP:      r.VWAP,
	}, nil
}

// BarQuery filters a load. Zero fields match everything; To is exclusive.
type BarQuery struct {
	Venue     string
	Symbols   []string
	TimeFrame schema.TimeFrame
	From      time.Time
	To        time.Time
}

// BarRepository reads and writes bars through gorm.
type BarRepository struct {
	db *gorm.DB
}

func NewBarRepository(db *gorm.DB) *BarRepository {
	return &BarRepository{db: db}
}

// Migrate creates the bars table. With hypertable set, the table is turned
// into a TimescaleDB hypertable; the extension must already be installed.
func (r *BarRepository) Migrate(ctx context.Context, hypertable bool) error {
	db := r.db.WithContext(ctx)
	if err := db.AutoMigrate(&BarRecord{}); err != nil {
		return errors.Wrap(err, "migrate bars")
	}
	if !hypertable {
		return nil
	}
	if err := db.Exec("SELECT create_hypertable(?, 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)", barsTable).Error; err != nil {
		return errors.Wrap(err, "create bars hypertable")
	}
	return nil
}

// Upsert validates and writes bars. A bar with an existing key replaces the
// stored values.
func (r *BarRepository) Upsert(ctx context.Context, bars []schema.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]BarRecord, 0, len(bars))
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return errors.Wrapf(err, "bar %d", i)
		}
		rows = append(rows, NewBarRecord(b))
	}
	return r.upsert(r.db.WithContext(ctx), rows).Error
}

func (r *BarRepository) upsert(db *gorm.DB, rows []BarRecord) *gorm.DB {
	return db.Clauses(onConflictReplace()).CreateInBatches(rows, upsertBatchSize)
}

func onConflictReplace() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "timestamp"}, {Name: "venue"}, {Name: "symbol"}, {Name: "timeframe"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "vwap"}),
	}
}

// Load returns the matching bars ordered by timestamp then symbol.
func (r *BarRepository) Load(ctx context.Context, q BarQuery) ([]schema.Bar, error) {
	var rows []BarRecord
	if err := r.query(r.db.WithContext(ctx), q).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load bars")
	}
	out := make([]schema.Bar, 0, len(rows))
	for _, row := range rows {
		b, err := row.Bar()
		if err != nil {
			return nil, errors.Wrapf(err, "bar %s %s at %s", row.Venue, row.Symbol, row.Timestamp)
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *BarRepository) query(db *gorm.DB, q BarQuery) *gorm.DB {
	db = db.Model(&BarRecord{})
	if q.Venue != "" {
		db = db.Where("venue = ?", q.Venue)
	}
	if len(q.Symbols) != 0 {
		db = db.Where("symbol IN ?", q.Symbols)
	}
	if q.TimeFrame.Amount != 0 {
		db = db.Where("timeframe = ?", q.TimeFrame.Value())
	}
	if !q.From.IsZero() {
		db = db.Where(`"timestamp" >= ?`, q.From.UTC())
	}
	if !q.To.IsZero() {
		db = db.Where(`"timestamp" < ?`, q.To.UTC())
	}
	return db.Order(`"timestamp" ASC`).Order("symbol ASC").Order("venue ASC")
}
