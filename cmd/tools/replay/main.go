package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/shopspring/decimal"

	"quantix/internal/audit"
	"quantix/internal/codec"
	"quantix/internal/ops"
	"quantix/internal/portfolio"
	"quantix/internal/recorder"
	"quantix/internal/schema"
)

func main() {
	dir := flag.String("dir", "testdata/audit", "WAL directory")
	prefix := flag.String("prefix", "audit", "WAL file prefix (audit or capture)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	useRecv := flag.Bool("use-recv-time", false, "Use receive timestamp for pacing")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	decode := flag.Bool("decode", false, "Decode audit records and market data payloads")
	configPath := flag.String("config", "", "Config whose instruments resolve market data payloads")
	verify := flag.Bool("verify-snapshot", false, "Rebuild the portfolio from the WAL and compare it with -snapshot")
	snapshotPath := flag.String("snapshot", "", "Checkpoint to verify against (default: <dir>/portfolio.json)")
	flag.Parse()

	ctx := context.Background()
	if *verify {
		if err := verifySnapshot(ctx, *dir, *prefix, resolveSnapshotPath(*dir, *snapshotPath), !*noChecksum); err != nil {
			log.Fatalf("verify failed: %v", err)
		}
		return
	}

	var reg *schema.Registry
	if *configPath != "" {
		r, err := ops.LoadRegistry(*configPath)
		if err != nil {
			log.Fatalf("registry load failed: %v", err)
		}
		reg = r
	}

	cfg := recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		UseRecvTime:     *useRecv,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	}
	pb, err := recorder.NewPlayback(cfg)
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	var index int
	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		index++
		fmt.Printf("%06d seq=%d type=%s source=%d ts_event=%d ts_recv=%d len=%d\n",
			index, header.Seq, header.Type, header.Source, header.TsEvent, header.TsRecv, len(payload))
		if *decode {
			printDecoded(header.Type, payload, reg)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}
}

func printDecoded(t schema.EventType, payload []byte, reg *schema.Registry) {
	if t == schema.EventMarketData {
		if reg == nil {
			fmt.Println("  market data: pass -config to decode")
			return
		}
		ev, err := codec.DecodeMarketEvent(payload, reg)
		if err != nil {
			fmt.Printf("  decode market data failed: %v\n", err)
			return
		}
		fmt.Printf("  md symbol=%s ts=%s price=%s bid=%s ask=%s volume=%s\n",
			ev.Symbol, ev.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), ev.Price,
			nullString(ev.Bid), nullString(ev.Ask), nullString(ev.Volume))
		return
	}

	rec, err := audit.Decode(payload)
	if err != nil {
		fmt.Printf("  decode %s failed: %v\n", t, err)
		return
	}
	o := rec.Order
	fmt.Printf("  order id=%s symbol=%s side=%s status=%s filled=%s remaining=%s",
		o.ID(), o.Intent.Symbol, o.Intent.Side, o.Status, o.Filled, o.Remaining)
	if o.Reason != "" {
		fmt.Printf(" reason=%q", o.Reason)
	}
	fmt.Println()
	if f := rec.Fill; f != nil {
		fmt.Printf("  fill seq=%d qty=%s price=%s fee=%s cash_after=%s realized=%s\n",
			f.Seq, f.Quantity, f.Price, f.Fee, rec.Portfolio.Cash, rec.Portfolio.Realized)
	}
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func verifySnapshot(ctx context.Context, dir, prefix, path string, verifyRecords bool) error {
	cp, err := audit.ReadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	// replay from nothing so the checkpoint is tested against the full log
	res, err := audit.Recover(ctx, audit.RecoverConfig{
		WALDir:      dir,
		FilePrefix:  prefix,
		InitialCash: cp.Portfolio.InitialCash,
		Verify:      verifyRecords,
	})
	if err != nil {
		return err
	}
	if res.LastSeq != cp.LastSeq {
		return fmt.Errorf("checkpoint covers seq %d, log ends at %d", cp.LastSeq, res.LastSeq)
	}
	if err := portfolio.Compare(cp.Portfolio, res.Portfolio.Snapshot()); err != nil {
		return err
	}
	log.Printf("snapshot verified: %s (last_seq=%d fills=%d)", path, res.LastSeq, res.Fills)
	return nil
}

func resolveSnapshotPath(dir, path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(dir, "portfolio.json")
}
