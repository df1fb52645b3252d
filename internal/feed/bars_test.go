package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/pkg/exception"
)

const barFile = `[
  {"timestamp":"2024-05-01T13:31:00Z","venue":"ALPACA","symbol":"MSFT","timeframe":"1m","open":"400","high":"401","low":"399.5","close":"400.5","volume":"1200"},
  {"timestamp":"2024-05-01T13:30:00Z","venue":"ALPACA","symbol":"MSFT","timeframe":"1m","open":"399","high":"400.2","low":"398.7","close":"400","volume":"900"},
  {"timestamp":"2024-05-01T13:30:00Z","venue":"ALPACA","symbol":"AAPL","timeframe":"1Min","open":"170","high":"171","low":"169.5","close":"170.25","volume":"3000","vwap":"170.3"}
]`

func TestLoadBarsSortsByClose(t *testing.T) {
	bars, err := LoadBars(strings.NewReader(barFile))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, "MSFT", bars[1].Symbol)
	assert.Equal(t, "13:31:00", bars[2].Timestamp.Format("15:04:05"))
	assert.True(t, bars[0].VWAP.Valid)
	assert.False(t, bars[1].VWAP.Valid)

	h, err := NewHistorical(NewBarSource(bars))
	require.NoError(t, err)
	first, ok := h.Next()
	require.True(t, ok)
	assert.Equal(t, "13:31:00", first.Timestamp.Format("15:04:05"), "bar events are stamped at close")
	assert.Equal(t, "170.25", first.Price.String())
}

func TestLoadBarsRejects(t *testing.T) {
	_, err := LoadBars(strings.NewReader(`[{"timestamp":"2024-05-01T13:30:00Z","symbol":"X","timeframe":"1m","open":"10","high":"9","low":"8","close":"8","volume":"1"}]`))
	assert.ErrorIs(t, err, exception.ErrInvalidBar)

	_, err = LoadBars(strings.NewReader(`[{"timestamp":"2024-05-01T13:30:00Z","symbol":"X","timeframe":"7d","open":"1","high":"1","low":"1","close":"1","volume":"1"}]`))
	assert.ErrorIs(t, err, exception.ErrInvalidTimeFrame)

	dup := `[
  {"timestamp":"2024-05-01T13:30:00Z","symbol":"X","timeframe":"1m","open":"1","high":"1","low":"1","close":"1","volume":"1"},
  {"timestamp":"2024-05-01T13:30:00Z","symbol":"X","timeframe":"1m","open":"2","high":"2","low":"2","close":"2","volume":"1"}
]`
	_, err = LoadBars(strings.NewReader(dup))
	assert.ErrorIs(t, err, exception.ErrDuplicateBar)

	_, err = LoadBars(strings.NewReader(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestOpenBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.json")
	require.NoError(t, os.WriteFile(path, []byte(barFile), 0o644))
	bars, err := OpenBars(path)
	require.NoError(t, err)
	assert.Len(t, bars, 3)

	_, err = OpenBars(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
