package audit

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"quantix/internal/errors"
	"quantix/internal/portfolio"
	"quantix/internal/recorder"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// RecoverConfig controls checkpoint + audit WAL recovery.
type RecoverConfig struct {
	WALDir         string
	FilePrefix     string
	CheckpointPath string
	// InitialCash seeds the portfolio when there is no checkpoint.
	InitialCash decimal.Decimal
	// Verify compares the rebuilt portfolio with the snapshot stored in each
	// fill record.
	Verify bool
}

// RecoverResult contains the rebuilt portfolio and the position in the log.
type RecoverResult struct {
	Portfolio *portfolio.Portfolio
	LastSeq   uint64
	Fills     int
}

// Recover loads the checkpoint, if any, and replays the fills recorded after it.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.WALDir == "" {
		return RecoverResult{}, fmt.Errorf("wal dir is empty")
	}
	pf := portfolio.New(cfg.InitialCash)
	var lastSeq uint64
	if cfg.CheckpointPath != "" {
		cp, err := ReadCheckpoint(cfg.CheckpointPath)
		if err != nil {
			return RecoverResult{}, err
		}
		pf = portfolio.Restore(cp.Portfolio)
		lastSeq = cp.LastSeq
	}

	cur, err := recorder.OpenCursor(cfg.WALDir, cfg.FilePrefix, recorder.ReaderOptions{AllowTruncatedTail: true})
	if err != nil {
		return RecoverResult{}, err
	}
	defer cur.Close()

	res := RecoverResult{Portfolio: pf, LastSeq: lastSeq}
	for {
		if err := ctx.Err(); err != nil {
			return RecoverResult{}, err
		}
		header, payload, err := cur.Next()
		if err != nil {
			if err == io.EOF {
				return res, nil
			}
			return RecoverResult{}, err
		}
		if header.Seq <= res.LastSeq {
			continue
		}
		res.LastSeq = header.Seq
		if header.Type != schema.EventFill {
			continue
		}

		rec, err := Decode(payload)
		if err != nil {
			return RecoverResult{}, errors.Wrapf(err, "decode audit record %d", header.Seq)
		}
		if rec.Fill == nil {
			return RecoverResult{}, errors.Wrapf(exception.ErrInvalidFill, "audit record %d has no fill", header.Seq)
		}
		if err := pf.Apply(*rec.Fill); err != nil {
			return RecoverResult{}, errors.Wrapf(err, "replay audit record %d", header.Seq)
		}
		res.Fills++
		if cfg.Verify {
			if err := portfolio.Compare(rec.Portfolio, pf.Snapshot()); err != nil {
				return RecoverResult{}, errors.Wrapf(err, "verify audit record %d", header.Seq)
			}
		}
	}
}
