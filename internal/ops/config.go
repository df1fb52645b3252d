package ops

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"quantix/internal/broker"
	"quantix/internal/risk"
	"quantix/internal/schema"
	"quantix/internal/strategy"
	"quantix/pkg/conn"
)

// Mode selects the broker behind the engine.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
)

// FileConfig mirrors the config file layout. Credentials never live here; see
// LoadEnv.
type FileConfig struct {
	Run         RunConfig          `json:"run" yaml:"run"`
	Venues      []VenueConfig      `json:"venues" yaml:"venues" validate:"required,min=1,dive"`
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments" validate:"required,min=1,dive"`
	Portfolio   PortfolioConfig    `json:"portfolio" yaml:"portfolio"`
	Simulator   SimulatorConfig    `json:"simulator" yaml:"simulator"`
	Live        LiveConfig         `json:"live" yaml:"live"`
	Data        DataConfig         `json:"data" yaml:"data"`
	Strategy    strategy.Config    `json:"strategy" yaml:"strategy" validate:"-"`
	Audit       AuditConfig        `json:"audit" yaml:"audit"`
	API         APIConfig          `json:"api" yaml:"api"`
}

// RunConfig names the run and picks its mode.
type RunConfig struct {
	Name string      `json:"name" yaml:"name"`
	Mode Mode        `json:"mode" yaml:"mode" validate:"omitempty,oneof=backtest paper live"`
	Risk risk.Config `json:"risk" yaml:"risk"`
	// CancelOnStop cancels open orders when a live run is stopped.
	CancelOnStop bool `json:"cancelOnStop" yaml:"cancelOnStop"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
}

// InstrumentConfig describes a tradable instrument.
type InstrumentConfig struct {
	Symbol   string            `json:"symbol" yaml:"symbol" validate:"required"`
	Venue    string            `json:"venue" yaml:"venue" validate:"required"`
	Class    schema.AssetClass `json:"class" yaml:"class" validate:"omitempty,oneof=equity crypto forex option future"`
	TickSize decimal.Decimal   `json:"tickSize" yaml:"tickSize"`
	LotSize  decimal.Decimal   `json:"lotSize" yaml:"lotSize"`
}

type PortfolioConfig struct {
	InitialCash decimal.Decimal `json:"initialCash" yaml:"initialCash"`
}

// SimulatorConfig tunes the simulated broker.
type SimulatorConfig struct {
	FeeBps            decimal.Decimal `json:"feeBps" yaml:"feeBps"`
	MinFee            decimal.Decimal `json:"minFee" yaml:"minFee"`
	ParticipationRate decimal.Decimal `json:"participationRate" yaml:"participationRate"`
}

// LiveConfig points at the venue's REST and streaming endpoints.
type LiveConfig struct {
	BaseURL         string   `json:"baseUrl" yaml:"baseUrl" validate:"omitempty,url"`
	StreamURL       string   `json:"streamUrl" yaml:"streamUrl" validate:"omitempty,url"`
	TradeUpdatesURL string   `json:"tradeUpdatesUrl" yaml:"tradeUpdatesUrl" validate:"omitempty,url"`
	// DataURL and DataFeed select the historical bars host and feed.
	DataURL  string `json:"dataUrl" yaml:"dataUrl" validate:"omitempty,url"`
	DataFeed string `json:"dataFeed" yaml:"dataFeed" validate:"omitempty,oneof=iex sip"`
	CallTimeout     Duration `json:"callTimeout" yaml:"callTimeout"`
	MaxRetries      int      `json:"maxRetries" yaml:"maxRetries" validate:"gte=0"`
	BackoffMin      Duration `json:"backoffMin" yaml:"backoffMin"`
	BackoffMax      Duration `json:"backoffMax" yaml:"backoffMax"`
	OrdersPerSecond float64  `json:"ordersPerSecond" yaml:"ordersPerSecond" validate:"gte=0"`
	Burst           int      `json:"burst" yaml:"burst" validate:"gte=0"`
	QueueSize       int      `json:"queueSize" yaml:"queueSize" validate:"gte=0"`
	ClockInterval   Duration `json:"clockInterval" yaml:"clockInterval"`
	CaptureDir      string   `json:"captureDir" yaml:"captureDir"`
}

// DataConfig locates historical data for backtests.
type DataConfig struct {
	Source    string         `json:"source" yaml:"source" validate:"omitempty,oneof=json wal timescale pebble"`
	Path      string         `json:"path" yaml:"path"`
	WALDir    string         `json:"walDir" yaml:"walDir"`
	PebbleDir string         `json:"pebbleDir" yaml:"pebbleDir"`
	Venue     string         `json:"venue" yaml:"venue"`
	Symbols   []string       `json:"symbols" yaml:"symbols"`
	TimeFrame string         `json:"timeframe" yaml:"timeframe"`
	From      time.Time      `json:"from" yaml:"from"`
	To        time.Time      `json:"to" yaml:"to"`
	Postgres  PostgresConfig `json:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the TimescaleDB connection minus the password.
type PostgresConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User     string `json:"user" yaml:"user"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"sslMode" yaml:"sslMode"`
	MaxConns int    `json:"maxConns" yaml:"maxConns" validate:"gte=0"`
}

// Option builds the connection option; the password comes from the environment.
func (c PostgresConfig) Option(password string) conn.Option {
	return conn.Option{
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     password,
		Database:     c.Database,
		SSLMode:      c.SSLMode,
		Params:       map[string]string{"application_name": defaultName},
		MaxOpenConns: c.MaxConns,
	}
}

type AuditConfig struct {
	Dir            string `json:"dir" yaml:"dir"`
	FilePrefix     string `json:"filePrefix" yaml:"filePrefix"`
	CheckpointPath string `json:"checkpointPath" yaml:"checkpointPath"`
}

type APIConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Name          string
	Mode          Mode
	Registry      *schema.Registry
	Risk          risk.Config
	CancelOnStop  bool
	InitialCash   decimal.Decimal
	Simulator     broker.SimConfig
	Broker        broker.LiveConfig
	Venue         LiveConfig
	ClockInterval time.Duration
	Data          DataConfig
	TimeFrame     schema.TimeFrame
	Strategy      strategy.Config
	Audit         AuditConfig
	API           APIConfig
}

const (
	defaultName          = "quantix"
	defaultInitialCash   = 100000
	defaultClockInterval = time.Second
	defaultAPIAddr       = ":8080"
)

var validate = validator.New()

// Load reads a JSON config file, or YAML when the extension is .yaml or .yml,
// validates it and resolves it.
func Load(path string) (Loaded, error) {
	cfg, err := Read(path)
	if err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Read parses and validates a config file without resolving it.
func Read(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrapf(err, "read config %s", path)
	}
	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = sonic.ConfigFastest.Unmarshal(data, &cfg)
	}
	if err != nil {
		return FileConfig{}, errors.Wrapf(err, "parse config %s", path)
	}
	if err := validate.Struct(cfg); err != nil {
		return FileConfig{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// LoadRegistry reads a config file and only builds the registry.
func LoadRegistry(path string) (*schema.Registry, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	return buildRegistry(cfg.Venues, cfg.Instruments)
}

// Resolve applies defaults and builds typed configs.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Venues, cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}

	out := Loaded{
		Name:         cfg.Run.Name,
		Mode:         cfg.Run.Mode,
		Registry:     registry,
		Risk:         cfg.Run.Risk,
		CancelOnStop: cfg.Run.CancelOnStop,
		InitialCash:  cfg.Portfolio.InitialCash,
		Venue:        cfg.Live,
		Data:         cfg.Data,
		Strategy:     cfg.Strategy,
		Audit:        cfg.Audit,
		API:          cfg.API,
	}
	if out.Name == "" {
		out.Name = defaultName
	}
	if out.Mode == "" {
		out.Mode = ModeBacktest
	}
	if out.InitialCash.IsZero() {
		out.InitialCash = decimal.NewFromInt(defaultInitialCash)
	}
	if out.InitialCash.IsNegative() {
		return Loaded{}, errors.Errorf("portfolio initialCash must be >= 0, got %s", out.InitialCash)
	}
	if out.API.Addr == "" {
		out.API.Addr = defaultAPIAddr
	}

	if err := resolveSimulator(cfg.Simulator); err != nil {
		return Loaded{}, err
	}
	out.Simulator = broker.SimConfig{
		InitialCash:       out.InitialCash,
		FeeBps:            cfg.Simulator.FeeBps,
		MinFee:            cfg.Simulator.MinFee,
		ParticipationRate: cfg.Simulator.ParticipationRate,
		Risk:              out.Risk,
	}
	out.Broker = resolveBroker(cfg.Live, out)
	out.ClockInterval = cfg.Live.ClockInterval.Std()
	if out.ClockInterval <= 0 {
		out.ClockInterval = defaultClockInterval
	}

	if cfg.Data.TimeFrame != "" {
		tf, err := schema.ParseTimeFrame(cfg.Data.TimeFrame)
		if err != nil {
			return Loaded{}, errors.Wrap(err, "data timeframe")
		}
		out.TimeFrame = tf
	}
	if !cfg.Data.From.IsZero() && !cfg.Data.To.IsZero() && cfg.Data.To.Before(cfg.Data.From) {
		return Loaded{}, errors.Errorf("data range: to %s is before from %s", cfg.Data.To, cfg.Data.From)
	}

	if cfg.Strategy.Kind != "" {
		if err := validate.Struct(cfg.Strategy); err != nil {
			return Loaded{}, errors.Wrap(err, "strategy")
		}
		if _, ok := registry.Instrument(cfg.Strategy.Symbol); !ok {
			return Loaded{}, errors.Errorf("strategy symbol not found: %s", cfg.Strategy.Symbol)
		}
		if out.Strategy.AllowShort && !out.Risk.AllowShort {
			return Loaded{}, errors.Errorf("strategy %s allows shorting but run risk does not", cfg.Strategy.Kind)
		}
	}
	return out, nil
}

func buildRegistry(venues []VenueConfig, instruments []InstrumentConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, inst := range instruments {
		venueID, ok := reg.VenueIDByName(inst.Venue)
		if !ok {
			return nil, errors.Errorf("venue not found: %s", inst.Venue)
		}
		if _, err := reg.AddInstrument(schema.Instrument{
			Symbol:   inst.Symbol,
			Venue:    venueID,
			Class:    inst.Class,
			TickSize: inst.TickSize,
			LotSize:  inst.LotSize,
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveSimulator(cfg SimulatorConfig) error {
	if cfg.FeeBps.IsNegative() || cfg.MinFee.IsNegative() {
		return errors.Errorf("simulator fees must be >= 0")
	}
	if cfg.ParticipationRate.IsNegative() || cfg.ParticipationRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Errorf("simulator participationRate must be within [0, 1], got %s", cfg.ParticipationRate)
	}
	return nil
}

func resolveBroker(cfg LiveConfig, out Loaded) broker.LiveConfig {
	backoff := broker.DefaultBackoff()
	if cfg.BackoffMin > 0 {
		backoff.Min = cfg.BackoffMin.Std()
	}
	if cfg.BackoffMax > 0 {
		backoff.Max = cfg.BackoffMax.Std()
	}
	if backoff.Max < backoff.Min {
		backoff.Max = backoff.Min
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = broker.DefaultMaxRetries
	}
	return broker.LiveConfig{
		InitialCash:     out.InitialCash,
		CallTimeout:     cfg.CallTimeout.Std(),
		MaxRetries:      maxRetries,
		Backoff:         backoff,
		OrdersPerSecond: cfg.OrdersPerSecond,
		Burst:           cfg.Burst,
		QueueSize:       cfg.QueueSize,
		Risk:            out.Risk,
	}
}
