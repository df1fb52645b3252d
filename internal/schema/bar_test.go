package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/pkg/exception"
)

func TestTimeFrameValidate(t *testing.T) {
	cases := []struct {
		amount int
		unit   TimeFrameUnit
		ok     bool
	}{
		{1, UnitMinute, true},
		{59, UnitMinute, true},
		{60, UnitMinute, false},
		{0, UnitMinute, false},
		{23, UnitHour, true},
		{24, UnitHour, false},
		{1, UnitDay, true},
		{2, UnitDay, false},
		{1, UnitWeek, true},
		{2, UnitWeek, false},
		{6, UnitMonth, true},
		{4, UnitMonth, false},
		{1, TimeFrameUnit("Year"), false},
	}
	for _, tc := range cases {
		_, err := NewTimeFrame(tc.amount, tc.unit)
		if tc.ok {
			assert.NoErrorf(t, err, "%d%s", tc.amount, tc.unit)
		} else {
			assert.ErrorIsf(t, err, exception.ErrInvalidTimeFrame, "%d%s", tc.amount, tc.unit)
		}
	}
}

func TestParseTimeFrame(t *testing.T) {
	cases := map[string]string{
		"15m":   "15Min",
		"15Min": "15Min",
		"4h":    "4Hour",
		"1d":    "1Day",
		"1w":    "1Week",
		"3M":    "3Month",
	}
	for in, want := range cases {
		tf, err := ParseTimeFrame(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, tf.Value())
	}

	for _, bad := range []string{"", "m", "15", "15x", "90m", "2d"} {
		_, err := ParseTimeFrame(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimeFrameName(t *testing.T) {
	tf, err := NewTimeFrame(1, UnitMonth)
	require.NoError(t, err)
	assert.Equal(t, "1M", tf.Name())

	tf, err = NewTimeFrame(5, UnitMinute)
	require.NoError(t, err)
	assert.Equal(t, "5m", tf.Name())
}

func TestBarEventStampedAtClose(t *testing.T) {
	open := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	d := decimal.RequireFromString

	daily := Bar{
		Timestamp: open, Symbol: "AAPL", TimeFrame: TimeFrame{1, UnitDay},
		Open: d("10"), High: d("12"), Low: d("9"), Close: d("11"), Volume: d("1000"),
	}
	require.NoError(t, daily.Validate())
	ev := daily.Event()
	assert.Equal(t, open.AddDate(0, 0, 1), ev.Timestamp)
	assert.True(t, ev.Price.Equal(d("11")))
	require.True(t, ev.Volume.Valid)
	assert.True(t, ev.Volume.Decimal.Equal(d("1000")))

	monthly := daily
	monthly.TimeFrame = TimeFrame{1, UnitMonth}
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), monthly.Event().Timestamp)
}

func TestBarValidate(t *testing.T) {
	d := decimal.RequireFromString
	bar := Bar{
		Timestamp: time.Now(), Symbol: "AAPL", TimeFrame: TimeFrame{1, UnitMinute},
		Open: d("10"), High: d("9"), Low: d("11"), Close: d("10"),
	}
	assert.ErrorIs(t, bar.Validate(), exception.ErrInvalidBar)

	bar.High, bar.Low = d("11"), d("9")
	bar.Close = d("12")
	assert.ErrorIs(t, bar.Validate(), exception.ErrInvalidBar)

	bar.Close = d("10")
	assert.NoError(t, bar.Validate())
}
