package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/internal/broker"
	"quantix/internal/schema"
)

const jsonConfig = `{
  "run": {"name": "sma-aapl", "mode": "backtest", "risk": {"allowMargin": false, "allowShort": true}},
  "venues": [{"name": "SIM"}, {"name": "ALPACA"}],
  "instruments": [
    {"symbol": "AAPL", "venue": "ALPACA", "tickSize": "0.01", "lotSize": "1"},
    {"symbol": "BTCUSD", "venue": "SIM", "class": "crypto", "tickSize": "0.5", "lotSize": "0.0001"}
  ],
  "portfolio": {"initialCash": "25000"},
  "simulator": {"feeBps": "1.5", "minFee": "0.35", "participationRate": "0.1"},
  "live": {"callTimeout": "2s", "maxRetries": 4, "backoffMin": "100ms", "backoffMax": "3s", "ordersPerSecond": 5, "burst": 2},
  "data": {"source": "json", "path": "bars.json", "timeframe": "5m"},
  "strategy": {"kind": "sma_cross", "symbol": "AAPL", "short": 5, "long": 20, "quantity": "10", "allowShort": true},
  "api": {"addr": ":9090"}
}`

const yamlConfig = `
run:
  mode: paper
venues:
  - name: ALPACA
instruments:
  - symbol: MSFT
    venue: ALPACA
    tickSize: 0.01
    lotSize: 1
live:
  baseUrl: https://paper-api.alpaca.markets
  dataUrl: https://data.alpaca.markets
  dataFeed: sip
  clockInterval: 250ms
strategy:
  kind: buy_and_hold
  symbol: MSFT
  quantity: 3
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeFile(t, "run.json", jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, "sma-aapl", cfg.Name)
	assert.Equal(t, ModeBacktest, cfg.Mode)
	assert.Equal(t, 2, cfg.Registry.InstrumentCount())
	btc, ok := cfg.Registry.Instrument("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, schema.AssetCrypto, btc.Class)
	assert.True(t, btc.LotSize.Equal(decimal.RequireFromString("0.0001")))
	aapl, _ := cfg.Registry.Instrument("AAPL")
	assert.Equal(t, schema.AssetEquity, aapl.Class)

	assert.True(t, cfg.InitialCash.Equal(decimal.NewFromInt(25000)))
	assert.True(t, cfg.Simulator.InitialCash.Equal(cfg.InitialCash))
	assert.True(t, cfg.Simulator.FeeBps.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, cfg.Simulator.Risk.AllowShort)

	assert.Equal(t, 2*time.Second, cfg.Broker.CallTimeout)
	assert.Equal(t, 4, cfg.Broker.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Broker.Backoff.Min)
	assert.Equal(t, 3*time.Second, cfg.Broker.Backoff.Max)
	assert.Equal(t, 5.0, cfg.Broker.OrdersPerSecond)
	assert.Equal(t, time.Second, cfg.ClockInterval)

	assert.Equal(t, "5m", cfg.TimeFrame.Name())
	assert.Equal(t, "sma_cross", cfg.Strategy.Kind)
	assert.Equal(t, 20, cfg.Strategy.Long)
	assert.Equal(t, ":9090", cfg.API.Addr)
}

func TestLoadYAMLDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "run.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, defaultName, cfg.Name)
	assert.Equal(t, ModePaper, cfg.Mode)
	assert.True(t, cfg.InitialCash.Equal(decimal.NewFromInt(defaultInitialCash)))
	assert.Equal(t, 250*time.Millisecond, cfg.ClockInterval)
	assert.Equal(t, broker.DefaultMaxRetries, cfg.Broker.MaxRetries)
	assert.Equal(t, broker.DefaultBackoff(), cfg.Broker.Backoff)
	assert.Equal(t, defaultAPIAddr, cfg.API.Addr)
	assert.True(t, cfg.Strategy.Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "https://paper-api.alpaca.markets", cfg.Venue.BaseURL)
	assert.Equal(t, "https://data.alpaca.markets", cfg.Venue.DataURL)
	assert.Equal(t, "sip", cfg.Venue.DataFeed)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no instruments", `{"venues":[{"name":"SIM"}]}`},
		{"bad mode", `{"run":{"mode":"yolo"},"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}]}`},
		{"unknown venue", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"NOPE"}]}`},
		{"bad url", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"live":{"baseUrl":"not a url"}}`},
		{"bad timeframe", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"data":{"timeframe":"7d"}}`},
		{"participation", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"simulator":{"participationRate":"1.5"}}`},
		{"strategy symbol", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"strategy":{"kind":"buy_and_hold","symbol":"B","quantity":"1"}}`},
		{"strategy kind", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"strategy":{"kind":"martingale","symbol":"A"}}`},
		{"short mismatch", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"strategy":{"kind":"sma_cross","symbol":"A","short":2,"long":4,"quantity":"1","allowShort":true}}`},
		{"bad feed", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"live":{"dataFeed":"otc"}}`},
		{"bad duration", `{"venues":[{"name":"SIM"}],"instruments":[{"symbol":"A","venue":"SIM"}],"live":{"callTimeout":"soon"}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.json", c.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeFile(t, "run.json", jsonConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "BTCUSD"}, reg.Symbols())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "")
	t.Setenv(EnvPGPassword, "from-shell")
	path := writeFile(t, ".env", "QUANTIX_API_KEY=key-1\nQUANTIX_API_SECRET=secret-1\nQUANTIX_PG_PASSWORD=from-file\n")

	require.NoError(t, os.Unsetenv(EnvAPIKey))
	require.NoError(t, os.Unsetenv(EnvAPISecret))
	require.NoError(t, LoadEnv(path, filepath.Join(t.TempDir(), "absent.env")))

	creds := CredentialsFromEnv()
	assert.Equal(t, "key-1", creds.APIKey)
	assert.Equal(t, "secret-1", creds.APISecret)
	assert.Equal(t, "from-shell", creds.PGPassword, "existing variables are not overridden")
	assert.NoError(t, creds.RequireVenue())
	assert.Error(t, Credentials{APIKey: "k"}.RequireVenue())
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}

func TestPostgresOption(t *testing.T) {
	opt := PostgresConfig{Host: "db", Port: 5433, User: "quant", Database: "bars", MaxConns: 4}.Option("pw")
	assert.Equal(t, "db", opt.Host)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 4, opt.MaxOpenConns)
	assert.Equal(t, "postgres://quant:xxxxx@db:5433/bars?application_name=quantix&sslmode=disable", opt.Redacted())
}

func TestStartProfilerDisabled(t *testing.T) {
	stop, err := StartProfiler("quantix", "", nil)
	require.NoError(t, err)
	stop()
}
