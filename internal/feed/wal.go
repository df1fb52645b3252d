package feed

import (
	"io"
	"sync/atomic"
	"time"

	"quantix/internal/codec"
	"quantix/internal/errors"
	"quantix/internal/recorder"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// Capture writes live market events to a WAL so a session can be replayed as a
// backtest. Record is safe for concurrent use.
type Capture struct {
	w   *recorder.Writer
	reg *schema.Registry
	seq uint64
}

// NewCapture wraps a started recorder writer.
func NewCapture(w *recorder.Writer, reg *schema.Registry) (*Capture, error) {
	if w == nil || reg == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "capture writer and registry")
	}
	return &Capture{w: w, reg: reg}, nil
}

// Record appends ev without blocking. A full writer queue returns
// recorder.ErrQueueFull and the event is not captured.
func (c *Capture) Record(ev schema.MarketEvent, recv time.Time) error {
	inst, ok := c.reg.Instrument(ev.Symbol)
	if !ok {
		return errors.Wrapf(exception.ErrUnknownInstrument, "capture %s", ev.Symbol)
	}
	payload, err := codec.EncodeMarketEvent(nil, inst.ID, ev)
	if err != nil {
		return err
	}
	seq := atomic.AddUint64(&c.seq, 1)
	header := schema.NewHeader(schema.EventMarketData, schema.SourceCapture, seq, ev.Timestamp.UnixNano(), recv.UnixNano())
	return c.w.TryAppend(header, payload)
}

// WALSource replays captured market events in recorded order. Records of other
// types are skipped.
type WALSource struct {
	cur *recorder.Cursor
	reg *schema.Registry
}

// NewWALSource opens the capture segments in dir.
func NewWALSource(dir, prefix string, reg *schema.Registry) (*WALSource, error) {
	if reg == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "wal source registry")
	}
	cur, err := recorder.OpenCursor(dir, prefix, recorder.ReaderOptions{AllowTruncatedTail: true})
	if err != nil {
		return nil, err
	}
	return &WALSource{cur: cur, reg: reg}, nil
}

func (s *WALSource) Next() (schema.MarketEvent, error) {
	for {
		header, payload, err := s.cur.Next()
		if err != nil {
			return schema.MarketEvent{}, err
		}
		if header.Type != schema.EventMarketData {
			continue
		}
		ev, err := codec.DecodeMarketEvent(payload, s.reg)
		if err != nil {
			return schema.MarketEvent{}, errors.Wrapf(err, "decode record %d", header.Seq)
		}
		return ev, nil
	}
}

// Close releases the open segment.
func (s *WALSource) Close() error {
	return s.cur.Close()
}

var _ io.Closer = (*WALSource)(nil)
