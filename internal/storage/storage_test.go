package storage

import (
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quantix/internal/schema"
	"quantix/pkg/exception"
)

var (
	t0 = time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC)
	d  = decimal.RequireFromString
)

func minute(t *testing.T) schema.TimeFrame {
	t.Helper()
	tf, err := schema.NewTimeFrame(1, schema.UnitMinute)
	require.NoError(t, err)
	return tf
}

func bar(t *testing.T, sym string, min int, px string) schema.Bar {
	return schema.Bar{
		Timestamp: t0.Add(time.Duration(min) * time.Minute),
		Venue:     schema.VenueAlpaca,
		Symbol:    sym,
		TimeFrame: minute(t),
		Open:      d(px),
		High:      d(px),
		Low:       d(px),
		Close:     d(px),
		Volume:    d("100"),
	}
}

func TestBarRecordRoundTrip(t *testing.T) {
	b := bar(t, "AAPL", 0, "170.5")
	b.VWAP = decimal.NewNullDecimal(d("170.4"))
	row := NewBarRecord(b)
	assert.Equal(t, "1Min", row.TimeFrame)
	assert.Equal(t, "bars", row.TableName())

	back, err := row.Bar()
	require.NoError(t, err)
	assert.Equal(t, b.TimeFrame, back.TimeFrame)
	assert.True(t, back.Close.Equal(b.Close))
	assert.True(t, back.VWAP.Valid)

	row.TimeFrame = "9x"
	_, err = row.Bar()
	assert.ErrorIs(t, err, exception.ErrInvalidTimeFrame)
}

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 port=1 user=quantix dbname=quantix sslmode=disable"}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.NoError(t, err)
	return db
}

func TestBarQuerySQL(t *testing.T) {
	db := dryRunDB(t)
	repo := NewBarRepository(db)
	q := BarQuery{
		Venue:     schema.VenueAlpaca,
		Symbols:   []string{"AAPL", "MSFT"},
		TimeFrame: minute(t),
		From:      t0,
		To:        t0.Add(time.Hour),
	}
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []BarRecord
		return repo.query(tx, q).Find(&rows)
	})
	assert.Contains(t, sql, `FROM "bars"`)
	assert.Contains(t, sql, "venue = 'ALPACA'")
	assert.Contains(t, sql, "'MSFT'")
	assert.Contains(t, sql, "timeframe = '1Min'")
	assert.Contains(t, sql, `"timestamp" >= `)
	assert.Contains(t, sql, `"timestamp" < `)
	assert.Contains(t, sql, `ORDER BY "timestamp" ASC`)

	open := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []BarRecord
		return repo.query(tx, BarQuery{}).Find(&rows)
	})
	assert.NotContains(t, open, "WHERE")
}

func TestUpsertConflictTarget(t *testing.T) {
	c := onConflictReplace()
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"timestamp", "venue", "symbol", "timeframe"}, names)
	assert.Len(t, c.DoUpdates, 6)
}

func TestUpsertRejectsInvalidBar(t *testing.T) {
	repo := NewBarRepository(dryRunDB(t))
	bad := bar(t, "AAPL", 0, "10")
	bad.High = d("9")
	assert.ErrorIs(t, repo.Upsert(t.Context(), []schema.Bar{bad}), exception.ErrInvalidBar)
	assert.NoError(t, repo.Upsert(t.Context(), nil))
}

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheOrdersByCloseTime(t *testing.T) {
	c := openCache(t)
	require.NoError(t, c.Put(bar(t, "MSFT", 2, "402"), bar(t, "AAPL", 1, "171"), bar(t, "MSFT", 1, "401")))
	require.NoError(t, c.Put(bar(t, "AAPL", 0, "170")))

	bars, err := c.Bars(CacheQuery{})
	require.NoError(t, err)
	require.Len(t, bars, 4)
	got := make([]string, 0, len(bars))
	for _, b := range bars {
		got = append(got, b.Symbol+"@"+b.Close.String())
	}
	assert.Equal(t, []string{"AAPL@170", "AAPL@171", "MSFT@401", "MSFT@402"}, got)
}

func TestCacheOverwritesSameKey(t *testing.T) {
	c := openCache(t)
	require.NoError(t, c.Put(bar(t, "AAPL", 0, "170")))
	require.NoError(t, c.Put(bar(t, "AAPL", 0, "175")))
	bars, err := c.Bars(CacheQuery{})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "175", bars[0].Close.String())
}

func TestCacheSourceFilters(t *testing.T) {
	c := openCache(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(bar(t, "AAPL", i, "170"), bar(t, "MSFT", i, "400")))
	}

	// closes at 13:32, 13:33 and 13:34; To is exclusive
	src, err := c.Source(CacheQuery{
		Symbols: []string{"MSFT"},
		From:    t0.Add(2 * time.Minute),
		To:      t0.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	defer src.Close()

	var stamps []string
	for {
		ev, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "MSFT", ev.Symbol)
		stamps = append(stamps, ev.Timestamp.Format("15:04"))
	}
	assert.Equal(t, []string{"13:32", "13:33", "13:34"}, stamps)

	hourly, err := schema.NewTimeFrame(1, schema.UnitHour)
	require.NoError(t, err)
	none, err := c.Bars(CacheQuery{TimeFrame: hourly})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCacheRejectsInvalidBar(t *testing.T) {
	c := openCache(t)
	bad := bar(t, "AAPL", 0, "10")
	bad.Symbol = ""
	assert.ErrorIs(t, c.Put(bad), exception.ErrInvalidBar)
	bars, err := c.Bars(CacheQuery{})
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("bar0"), keyUpperBound([]byte("bar/")))
	assert.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}
