package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"quantix/internal/errors"
	"quantix/internal/feed"
	"quantix/internal/live"
	"quantix/internal/ops"
	"quantix/internal/schema"
	"quantix/internal/storage"
	"quantix/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config (data.postgres, data.symbols, data.from/to)")
	envFile := flag.String("env", ".env", "Env file with the database password")
	migrate := flag.Bool("migrate", false, "Create the bars table before copying")
	hypertable := flag.Bool("hypertable", false, "Turn the bars table into a TimescaleDB hypertable (with -migrate)")
	importPath := flag.String("import", "", "Upsert bars from this JSON file into TimescaleDB")
	fetch := flag.Bool("fetch", false, "Download data.symbols bars for data.from/to from Alpaca into TimescaleDB")
	checkAssets := flag.Bool("check-assets", false, "With -fetch, skip symbols Alpaca does not list as active and tradable")
	pebbleDir := flag.String("pebble-dir", "", "Copy the selected bars into this Pebble cache (default: data.pebbleDir)")
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
	if *pebbleDir != "" {
		cfg.Data.PebbleDir = *pebbleDir
	}

	ctx := context.Background()
	opt := cfg.Data.Postgres.Option(ops.CredentialsFromEnv().PGPassword)
	client, err := conn.New(ctx, opt)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer client.Close()
	log.Printf("connected: %s", opt.Redacted())

	repo := storage.NewBarRepository(client.DB())
	if *migrate {
		if err := repo.Migrate(ctx, *hypertable); err != nil {
			log.Fatalf("migrate failed: %v", err)
		}
		log.Printf("bars table migrated (hypertable=%t)", *hypertable)
	}

	if *importPath != "" {
		bars, err := feed.OpenBars(*importPath)
		if err != nil {
			log.Fatalf("import read failed: %v", err)
		}
		if err := repo.Upsert(ctx, bars); err != nil {
			log.Fatalf("import failed: %v", err)
		}
		log.Printf("imported %d bars from %s", len(bars), *importPath)
	}

	if *fetch {
		n, err := fetchBars(ctx, cfg, repo, *checkAssets)
		if err != nil {
			log.Fatalf("fetch failed: %v", err)
		}
		log.Printf("fetched %d bars for %d symbols", n, len(cfg.Data.Symbols))
	}

	if cfg.Data.PebbleDir == "" {
		return
	}
	bars, err := repo.Load(ctx, storage.BarQuery{
		Venue:     cfg.Data.Venue,
		Symbols:   cfg.Data.Symbols,
		TimeFrame: cfg.TimeFrame,
		From:      cfg.Data.From,
		To:        cfg.Data.To,
	})
	if err != nil {
		log.Fatalf("load failed: %v", err)
	}
	cache, err := storage.OpenCache(cfg.Data.PebbleDir)
	if err != nil {
		log.Fatalf("open cache failed: %v", err)
	}
	defer cache.Close()
	if err := cache.Put(bars...); err != nil {
		log.Fatalf("cache write failed: %v", err)
	}
	log.Printf("cached %d bars in %s", len(bars), cfg.Data.PebbleDir)
}

func fetchBars(ctx context.Context, cfg ops.Loaded, repo *storage.BarRepository, checkAssets bool) (int, error) {
	if len(cfg.Data.Symbols) == 0 {
		return 0, errors.New("data.symbols is empty")
	}
	creds := ops.CredentialsFromEnv()
	if err := creds.RequireVenue(); err != nil {
		return 0, err
	}
	if cfg.Data.Venue != "" && cfg.Data.Venue != schema.VenueAlpaca {
		log.Printf("fetched bars are stored under venue %s, data.venue is %s", schema.VenueAlpaca, cfg.Data.Venue)
	}
	client, err := live.NewDataClient(&http.Client{Timeout: 30 * time.Second}, live.DataConfig{
		BaseURL:    cfg.Venue.DataURL,
		TradingURL: cfg.Venue.BaseURL,
		Key:        creds.APIKey,
		Secret:     creds.APISecret,
		Feed:       cfg.Venue.DataFeed,
	})
	if err != nil {
		return 0, err
	}

	symbols := cfg.Data.Symbols
	if checkAssets {
		assets, err := client.Assets(ctx)
		if err != nil {
			return 0, err
		}
		listed := make(map[string]live.Asset, len(assets))
		for _, a := range assets {
			listed[a.Symbol] = a
		}
		symbols = symbols[:0:0]
		for _, sym := range cfg.Data.Symbols {
			if a, ok := listed[sym]; !ok || !a.Active || !a.Tradable {
				log.Printf("skip %s: not an active tradable asset", sym)
				continue
			}
			symbols = append(symbols, sym)
		}
	}

	total := 0
	for _, sym := range symbols {
		bars, err := client.Bars(ctx, sym, cfg.TimeFrame, cfg.Data.From, cfg.Data.To)
		if err != nil {
			return total, err
		}
		if err := repo.Upsert(ctx, bars); err != nil {
			return total, err
		}
		log.Printf("fetched %d %s bars of %s", len(bars), cfg.TimeFrame.Value(), sym)
		total += len(bars)
	}
	return total, nil
}
