package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"slices"

	"github.com/yanun0323/pkg/sys"

	"quantix/internal/audit"
	"quantix/internal/broker"
	"quantix/internal/clock"
	"quantix/internal/engine"
	"quantix/internal/feed"
	"quantix/internal/obs"
	"quantix/internal/ops"
	"quantix/internal/recorder"
	"quantix/internal/schema"
	"quantix/internal/storage"
	"quantix/internal/strategy"
	"quantix/pkg/conn"
)

const (
	auditPrefix   = "audit"
	capturePrefix = "capture"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config")
	envFile := flag.String("env", ".env", "Env file with credentials")
	source := flag.String("source", "", "Market data source: json|wal|timescale|pebble (default: data.source, then json)")
	barsPath := flag.String("bars", "", "JSON bar file for -source=json (default: data.path)")
	walDir := flag.String("wal-dir", "", "Capture WAL directory for -source=wal (default: data.walDir)")
	pebbleDir := flag.String("pebble-dir", "", "Pebble bar cache for -source=pebble (default: data.pebbleDir)")
	auditDir := flag.String("audit-dir", "", "Audit WAL output directory (default: audit.dir, empty=memory only)")
	snapshotOut := flag.String("snapshot-out", "", "Final portfolio checkpoint (default: <audit-dir>/portfolio.json)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
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
	applyFlags(&cfg, *source, *barsPath, *walDir, *pebbleDir, *auditDir)

	stop, err := ops.StartProfiler(cfg.Name+".backtest", *pyroscopeAddr, map[string]string{"mode": "backtest"})
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

	if err := run(ctx, cfg, resolveSnapshotPath(cfg.Audit.Dir, *snapshotOut)); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
}

func applyFlags(cfg *ops.Loaded, source, barsPath, walDir, pebbleDir, auditDir string) {
	if source != "" {
		cfg.Data.Source = source
	}
	if cfg.Data.Source == "" {
		cfg.Data.Source = "json"
	}
	if barsPath != "" {
		cfg.Data.Path = barsPath
	}
	if walDir != "" {
		cfg.Data.WALDir = walDir
	}
	if pebbleDir != "" {
		cfg.Data.PebbleDir = pebbleDir
	}
	if auditDir != "" {
		cfg.Audit.Dir = auditDir
	}
}

func run(ctx context.Context, cfg ops.Loaded, snapshotPath string) error {
	src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	events, err := feed.NewHistorical(src)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	sim, err := broker.NewSimulated(cfg.Simulator, cfg.Registry)
	if err != nil {
		return err
	}
	strat, err := strategy.Build(cfg.Strategy)
	if err != nil {
		return err
	}

	memory := audit.NewMemory()
	sinks := []audit.Sink{memory}
	if cfg.Audit.Dir != "" {
		wcfg := recorder.DefaultConfig(cfg.Audit.Dir)
		wcfg.FilePrefix = prefixOr(cfg.Audit.FilePrefix, auditPrefix)
		wal, err := audit.OpenWAL(ctx, wcfg)
		if err != nil {
			return fmt.Errorf("open audit wal: %w", err)
		}
		sinks = append(sinks, wal)
	}
	auditLog := audit.NewLog(schema.SourceBacktest, sinks...)

	metrics := obs.NewMetrics()
	eng, err := engine.New(engine.Config{
		Name:        cfg.Name,
		InitialCash: cfg.InitialCash,
		Risk:        cfg.Risk,
	}, engine.Deps{
		Clock:    clock.NewHistorical(events),
		Feed:     events,
		Broker:   sim,
		Strategy: strat,
		Registry: cfg.Registry,
		Audit:    auditLog,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	result, runErr := eng.Run(ctx)
	if err := auditLog.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close audit log: %w", err)
	}

	snap := result.Portfolio
	log.Printf("backtest %s: state=%s steps=%d events=%d fills=%d rejected=%d audit_records=%d",
		cfg.Name, result.State, result.Steps, result.Events, result.Fills, result.Rejected, auditLog.Len())
	log.Printf("portfolio: cash=%s realized=%s fees=%s equity=%s positions=%d",
		snap.Cash, snap.Realized, snap.Fees, result.Equity(), len(snap.Positions))
	for _, pos := range snap.Positions {
		log.Printf("  %s qty=%s avg=%s mark=%s", pos.Symbol, pos.Quantity, pos.AvgPrice, result.Marks[pos.Symbol])
	}
	m := metrics.Snapshot()
	log.Printf("metrics: submitted=%d rejects=%v step_latency=%+v", m.Submitted, m.Rejects, m.StepLatency)

	if snapshotPath != "" {
		cp := audit.Checkpoint{LastSeq: auditLog.Len(), Timestamp: eng.Status().Now, Portfolio: snap}
		if err := audit.WriteCheckpoint(snapshotPath, cp); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		log.Printf("snapshot written: %s", snapshotPath)
	}
	return runErr
}

func openSource(ctx context.Context, cfg ops.Loaded) (feed.Source, func(), error) {
	nop := func() {}
	data := cfg.Data
	switch data.Source {
	case "json":
		if data.Path == "" {
			return nil, nop, fmt.Errorf("json source needs a bar file (-bars or data.path)")
		}
		bars, err := feed.OpenBars(data.Path)
		if err != nil {
			return nil, nop, err
		}
		return feed.NewBarSource(filterBars(bars, data.Symbols, cfg.TimeFrame)), nop, nil
	case "wal":
		src, err := feed.NewWALSource(data.WALDir, capturePrefix, cfg.Registry)
		if err != nil {
			return nil, nop, err
		}
		return src, func() { _ = src.Close() }, nil
	case "timescale":
		creds := ops.CredentialsFromEnv()
		client, err := conn.New(ctx, data.Postgres.Option(creds.PGPassword))
		if err != nil {
			return nil, nop, err
		}
		defer client.Close()
		bars, err := storage.NewBarRepository(client.DB()).Load(ctx, storage.BarQuery{
			Venue:     data.Venue,
			Symbols:   data.Symbols,
			TimeFrame: cfg.TimeFrame,
			From:      data.From,
			To:        data.To,
		})
		if err != nil {
			return nil, nop, err
		}
		if err := feed.SortBars(bars); err != nil {
			return nil, nop, err
		}
		return feed.NewBarSource(bars), nop, nil
	case "pebble":
		cache, err := storage.OpenCache(data.PebbleDir)
		if err != nil {
			return nil, nop, err
		}
		src, err := cache.Source(storage.CacheQuery{
			Symbols:   data.Symbols,
			TimeFrame: cfg.TimeFrame,
			From:      data.From,
			To:        data.To,
		})
		if err != nil {
			_ = cache.Close()
			return nil, nop, err
		}
		return src, func() {
			_ = src.Close()
			_ = cache.Close()
		}, nil
	default:
		return nil, nop, fmt.Errorf("unknown source %q", data.Source)
	}
}

func filterBars(bars []schema.Bar, symbols []string, tf schema.TimeFrame) []schema.Bar {
	if len(symbols) == 0 && tf.Amount == 0 {
		return bars
	}
	out := bars[:0]
	for _, b := range bars {
		if len(symbols) != 0 && !slices.Contains(symbols, b.Symbol) {
			continue
		}
		if tf.Amount != 0 && b.TimeFrame != tf {
			continue
		}
		out = append(out, b)
	}
	return out
}

func prefixOr(prefix, fallback string) string {
	if prefix != "" {
		return prefix
	}
	return fallback
}

func resolveSnapshotPath(dir string, path string) string {
	if path != "" {
		return path
	}
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "portfolio.json")
}
