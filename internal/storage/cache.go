package storage

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/pebble"

	"quantix/internal/errors"
	"quantix/internal/schema"
)

// keys: bar/<8-byte close unix nano>/<symbol>/<venue>/<timeframe>
var barPrefix = []byte("bar/")

func barKey(b schema.Bar) []byte {
	key := make([]byte, 0, len(barPrefix)+8+len(b.Symbol)+len(b.Venue)+16)
	key = append(key, barPrefix...)
	key = binary.BigEndian.AppendUint64(key, closeNanos(b))
	key = append(key, '/')
	key = append(key, b.Symbol...)
	key = append(key, '/')
	key = append(key, b.Venue...)
	key = append(key, '/')
	key = append(key, b.TimeFrame.Value()...)
	return key
}

func closeNanos(b schema.Bar) uint64 {
	return timeKey(b.TimeFrame.End(b.Timestamp))
}

func timeKey(t time.Time) uint64 {
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

func boundKey(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), barPrefix...), timeKey(t))
}

func keyUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Cache is a Pebble store of bars keyed by close time, so iteration order is
// the order a backtest consumes them in.
type Cache struct {
	db *pebble.DB
}

// OpenCache opens or creates a cache in dir.
func OpenCache(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open bar cache %s", dir)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Put validates and stores bars in one synced batch. Existing keys are
// overwritten.
func (c *Cache) Put(bars ...schema.Bar) error {
	batch := c.db.NewBatch()
	defer batch.Close()
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return errors.Wrapf(err, "bar %d", i)
		}
		b.Timestamp = b.Timestamp.UTC()
		val, err := sonic.ConfigStd.Marshal(b)
		if err != nil {
			return errors.Wrapf(err, "encode bar %d", i)
		}
		if err := batch.Set(barKey(b), val, nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit bars")
	}
	return nil
}

// CacheQuery filters a cache scan by bar close time. To is exclusive; zero
// bounds are open.
type CacheQuery struct {
	Symbols   []string
	TimeFrame schema.TimeFrame
	From      time.Time
	To        time.Time
}

// Source opens an iterator over the matching bars. The returned source must be
// closed.
func (c *Cache) Source(q CacheQuery) (*CacheSource, error) {
	opts := &pebble.IterOptions{LowerBound: barPrefix, UpperBound: keyUpperBound(barPrefix)}
	if !q.From.IsZero() {
		opts.LowerBound = boundKey(q.From)
	}
	if !q.To.IsZero() {
		opts.UpperBound = boundKey(q.To)
	}
	iter, err := c.db.NewIter(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open bar iterator")
	}
	src := &CacheSource{iter: iter, tf: q.TimeFrame}
	if len(q.Symbols) != 0 {
		src.symbols = make(map[string]struct{}, len(q.Symbols))
		for _, s := range q.Symbols {
			src.symbols[s] = struct{}{}
		}
	}
	src.valid = iter.First()
	return src, nil
}

// Bars reads every matching bar into memory.
func (c *Cache) Bars(q CacheQuery) ([]schema.Bar, error) {
	src, err := c.Source(q)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	var out []schema.Bar
	for {
		b, err := src.NextBar()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

// CacheSource streams cached bars as close-stamped market events.
type CacheSource struct {
	iter    *pebble.Iterator
	valid   bool
	symbols map[string]struct{}
	tf      schema.TimeFrame
}

// NextBar returns the next matching bar, or io.EOF.
func (s *CacheSource) NextBar() (schema.Bar, error) {
	for s.valid {
		var b schema.Bar
		err := sonic.ConfigStd.Unmarshal(s.iter.Value(), &b)
		s.valid = s.iter.Next()
		if err != nil {
			return schema.Bar{}, errors.Wrap(err, "decode cached bar")
		}
		if s.symbols != nil {
			if _, ok := s.symbols[b.Symbol]; !ok {
				continue
			}
		}
		if s.tf.Amount != 0 && b.TimeFrame != s.tf {
			continue
		}
		return b, nil
	}
	if err := s.iter.Error(); err != nil {
		return schema.Bar{}, errors.Wrap(err, "iterate bar cache")
	}
	return schema.Bar{}, io.EOF
}

func (s *CacheSource) Next() (schema.MarketEvent, error) {
	b, err := s.NextBar()
	if err != nil {
		return schema.MarketEvent{}, err
	}
	return b.Event(), nil
}

func (s *CacheSource) Close() error {
	return s.iter.Close()
}
