package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/yanun0323/pkg/sys"

	"quantix/internal/api"
	"quantix/internal/audit"
	"quantix/internal/broker"
	"quantix/internal/chaos"
	"quantix/internal/clock"
	"quantix/internal/engine"
	"quantix/internal/feed"
	"quantix/internal/live"
	"quantix/internal/obs"
	"quantix/internal/ops"
	"quantix/internal/portfolio"
	"quantix/internal/recorder"
	"quantix/internal/schema"
	"quantix/internal/strategy"
)

const (
	auditPrefix   = "audit"
	capturePrefix = "capture"
	feedCapacity  = 4096
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config")
	envFile := flag.String("env", ".env", "Env file with credentials")
	auditDir := flag.String("audit-dir", "", "Audit WAL directory (default: audit.dir)")
	captureDir := flag.String("capture-dir", "", "Record market data to this WAL directory (default: live.captureDir, empty=off)")
	subscribe := flag.String("subscribe", "trades", "Market data channels, comma separated: trades,quotes,bars")
	recoverEnabled := flag.Bool("recover", false, "Rebuild the portfolio from checkpoint + audit WAL before starting")
	recoverVerify := flag.Bool("recover-verify", false, "Compare each replayed fill with its recorded snapshot")
	noAPI := flag.Bool("no-api", false, "Disable the status API")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	chaosSeed := flag.Int64("chaos-seed", 0, "Chaos seed (0=random)")
	chaosTimeout := flag.Float64("chaos-timeout-rate", 0, "Paper drills: probability a gateway call times out")
	chaosLostAck := flag.Float64("chaos-lost-ack-rate", 0, "Paper drills: probability a placed order reports a timeout")
	chaosDuplicate := flag.Float64("chaos-duplicate-rate", 0, "Paper drills: probability a venue notification is redelivered")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("-config is required")
	}
	if err := ops.LoadEnv(*envFile); err != nil {
		log.Fatalf("env load failed: %v", err)
	}
	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.Mode == ops.ModeBacktest {
		log.Fatalf("config mode is backtest; use cmd/backtest or set run.mode to paper or live")
	}
	if *auditDir != "" {
		cfg.Audit.Dir = *auditDir
	}
	if cfg.Audit.Dir == "" {
		log.Fatalf("an audit directory is required for live runs (-audit-dir or audit.dir)")
	}
	if *captureDir != "" {
		cfg.Venue.CaptureDir = *captureDir
	}
	if cfg.Strategy.IDPrefix == "" {
		cfg.Strategy.IDPrefix = uuid.NewString()[:8]
	}
	creds := ops.CredentialsFromEnv()
	if err := creds.RequireVenue(); err != nil {
		log.Fatalf("credentials: %v", err)
	}

	stop, err := ops.StartProfiler(cfg.Name+".trader", *pyroscopeAddr, map[string]string{"mode": string(cfg.Mode)})
	if err != nil {
		log.Fatalf("profiler start failed: %v", err)
	}
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := runOptions{
		channels: parseChannels(*subscribe),
		recover:  *recoverEnabled,
		verify:   *recoverVerify,
		api:      !*noAPI,
	}
	chaosCfg := chaos.Config{
		Seed:          *chaosSeed,
		TimeoutRate:   *chaosTimeout,
		LostAckRate:   *chaosLostAck,
		DuplicateRate: *chaosDuplicate,
	}
	if chaosCfg.Enabled() {
		if cfg.Mode != ops.ModePaper {
			log.Fatalf("chaos flags are only allowed in paper mode")
		}
		opts.chaos, err = chaos.NewEngine(chaosCfg)
		if err != nil {
			log.Fatalf("chaos config: %v", err)
		}
		log.Printf("chaos enabled: seed=%d timeout=%.2f lost_ack=%.2f duplicate=%.2f",
			opts.chaos.Seed(), chaosCfg.TimeoutRate, chaosCfg.LostAckRate, chaosCfg.DuplicateRate)
	}
	if err := run(ctx, cfg, creds, opts); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

type runOptions struct {
	channels map[string]bool
	recover  bool
	verify   bool
	api      bool
	chaos    *chaos.Engine
}

func parseChannels(s string) map[string]bool {
	out := make(map[string]bool)
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(strings.ToLower(c)); c != "" {
			out[c] = true
		}
	}
	return out
}

func endpoints(cfg ops.Loaded) (base, updates string) {
	base, updates = cfg.Venue.BaseURL, cfg.Venue.TradeUpdatesURL
	if base == "" {
		base = live.PaperBaseURL
		if cfg.Mode == ops.ModeLive {
			base = live.LiveBaseURL
		}
	}
	if updates == "" {
		updates = live.PaperTradeUpdatesURL
		if cfg.Mode == ops.ModeLive {
			updates = live.LiveTradeUpdatesURL
		}
	}
	return base, updates
}

func run(ctx context.Context, cfg ops.Loaded, creds ops.Credentials, opts runOptions) error {
	metrics := obs.NewMetrics()

	var (
		restored *portfolio.Portfolio
		lastSeq  uint64
	)
	checkpointPath := cfg.Audit.CheckpointPath
	if checkpointPath == "" {
		checkpointPath = filepath.Join(cfg.Audit.Dir, "portfolio.json")
	}
	auditFilePrefix := cfg.Audit.FilePrefix
	if auditFilePrefix == "" {
		auditFilePrefix = auditPrefix
	}
	if opts.recover {
		recoverFrom := checkpointPath
		if _, err := os.Stat(recoverFrom); os.IsNotExist(err) {
			recoverFrom = ""
		}
		res, err := audit.Recover(ctx, audit.RecoverConfig{
			WALDir:         cfg.Audit.Dir,
			FilePrefix:     auditFilePrefix,
			CheckpointPath: recoverFrom,
			InitialCash:    cfg.InitialCash,
			Verify:         opts.verify,
		})
		if err != nil {
			return err
		}
		restored, lastSeq = res.Portfolio, res.LastSeq
		snap := restored.Snapshot()
		log.Printf("recovered: last_seq=%d fills_replayed=%d cash=%s positions=%d",
			res.LastSeq, res.Fills, snap.Cash, len(snap.Positions))
		// the venue must start from the recovered book
		cfg.Broker.InitialCash = snap.Cash
		cfg.Broker.Positions = snap.Positions
	}

	baseURL, updatesURL := endpoints(cfg)
	gateway, err := live.NewRESTGateway(&http.Client{Timeout: cfg.Broker.CallTimeout}, live.RESTConfig{
		BaseURL: baseURL,
		Key:     creds.APIKey,
		Secret:  creds.APISecret,
	})
	if err != nil {
		return err
	}
	lb, err := broker.NewLive(cfg.Broker, opts.chaos.Gateway(gateway), cfg.Registry, metrics)
	if err != nil {
		return err
	}
	defer lb.Close()

	updates := live.NewTradeUpdates(ctx, updatesURL, creds.APIKey, creds.APISecret)
	defer updates.Close()
	if err := updates.Start(ctx); err != nil {
		return err
	}
	defer updates.Observe(ctx, opts.chaos.Redeliver(lb.OnNotification))()

	events := feed.NewLive(feedCapacity, metrics)
	defer events.Close()

	var rec live.Recorder
	if cfg.Venue.CaptureDir != "" {
		wcfg := recorder.DefaultConfig(cfg.Venue.CaptureDir)
		wcfg.FilePrefix = capturePrefix
		writer, err := recorder.NewWriter(wcfg)
		if err != nil {
			return err
		}
		if err := writer.Start(ctx); err != nil {
			return err
		}
		defer writer.Close()
		capture, err := feed.NewCapture(writer, cfg.Registry)
		if err != nil {
			return err
		}
		rec = capture
	}

	symbols := cfg.Registry.Symbols()
	streamCfg := live.MarketStreamConfig{URL: cfg.Venue.StreamURL, Key: creds.APIKey, Secret: creds.APISecret}
	if opts.channels["trades"] {
		streamCfg.Trades = symbols
	}
	if opts.channels["quotes"] {
		streamCfg.Quotes = symbols
	}
	if opts.channels["bars"] {
		streamCfg.Bars = symbols
	}
	market := live.NewMarketStream(ctx, streamCfg)
	defer market.Close()
	if err := market.Start(ctx); err != nil {
		return err
	}
	defer market.Observe(ctx, events, rec)()

	strat, err := strategy.Build(cfg.Strategy)
	if err != nil {
		return err
	}
	wal, err := openAuditWAL(ctx, cfg.Audit.Dir, auditFilePrefix)
	if err != nil {
		return err
	}
	auditLog := audit.NewLog(schema.SourceLive, wal).ResumeAt(lastSeq)

	clk := clock.NewLive(cfg.ClockInterval)
	defer clk.Stop()

	eng, err := engine.New(engine.Config{
		Name:         cfg.Name,
		InitialCash:  cfg.InitialCash,
		Risk:         cfg.Risk,
		CancelOnStop: cfg.CancelOnStop,
	}, engine.Deps{
		Clock:     clk,
		Feed:      events,
		Broker:    lb,
		Strategy:  strat,
		Registry:  cfg.Registry,
		Audit:     auditLog,
		Metrics:   metrics,
		Portfolio: restored,
	})
	if err != nil {
		return err
	}

	if opts.api {
		server := api.NewServer(eng, api.Config{Addr: cfg.API.Addr, AllowedOrigins: cfg.API.AllowedOrigins})
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Printf("api server stopped: %v", err)
			}
		}()
	}

	log.Printf("trader %s started: mode=%s symbols=%v base=%s", cfg.Name, cfg.Mode, symbols, baseURL)
	result, runErr := eng.Run(ctx)
	if err := auditLog.Close(); err != nil && runErr == nil {
		runErr = err
	}

	cp := audit.Checkpoint{LastSeq: auditLog.Len(), Timestamp: eng.Status().Now, Portfolio: result.Portfolio}
	if err := audit.WriteCheckpoint(checkpointPath, cp); err != nil {
		log.Printf("checkpoint write failed: %v", err)
	} else {
		log.Printf("checkpoint written: %s", checkpointPath)
	}

	log.Printf("trader %s stopped: state=%s steps=%d fills=%d rejected=%d duplicates=%d clamped=%d equity=%s",
		cfg.Name, result.State, result.Steps, result.Fills, result.Rejected, lb.Duplicates(), events.Clamped(), result.Equity())
	if opts.chaos != nil {
		st := opts.chaos.Stats()
		log.Printf("chaos injected: timeouts=%d lost_acks=%d duplicates=%d", st.Timeouts, st.LostAcks, st.Duplicates)
	}
	return runErr
}

func openAuditWAL(ctx context.Context, dir, prefix string) (*audit.WAL, error) {
	wcfg := recorder.DefaultConfig(dir)
	wcfg.FilePrefix = prefix
	return audit.OpenWAL(ctx, wcfg)
}
