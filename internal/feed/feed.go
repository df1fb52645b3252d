package feed

import (
	"io"

	"quantix/internal/errors"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// Feed yields market events in non-decreasing timestamp order.
type Feed interface {
	Peek() (schema.MarketEvent, bool)
	Next() (schema.MarketEvent, bool)
}

// Source is a pull-based collaborator over pre-sorted, deduplicated records.
// It returns io.EOF once exhausted.
type Source interface {
	Next() (schema.MarketEvent, error)
}

// Historical reads a Source lazily with a one-event lookahead.
type Historical struct {
	src     Source
	head    schema.MarketEvent
	hasHead bool
	seq     uint64
	err     error
}

// NewHistorical primes the lookahead. An empty source is ErrEmptyDataset.
func NewHistorical(src Source) (*Historical, error) {
	if src == nil {
		return nil, exception.ErrNilInstance
	}
	h := &Historical{src: src}
	h.load()
	if h.err != nil {
		return nil, h.err
	}
	if !h.hasHead {
		return nil, exception.ErrEmptyDataset
	}
	return h, nil
}

func (h *Historical) Peek() (schema.MarketEvent, bool) {
	return h.head, h.hasHead
}

func (h *Historical) Next() (schema.MarketEvent, bool) {
	if !h.hasHead {
		return schema.MarketEvent{}, false
	}
	ev := h.head
	h.load()
	return ev, true
}

// Err returns the source error that stopped the feed, if any.
func (h *Historical) Err() error {
	return h.err
}

func (h *Historical) load() {
	prev, hadPrev := h.head, h.hasHead
	h.hasHead = false
	if h.err != nil {
		return
	}

	ev, err := h.src.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			h.err = errors.Wrap(err, "read source")
		}
		return
	}
	if hadPrev && ev.Timestamp.Before(prev.Timestamp) {
		h.err = errors.Wrapf(exception.ErrOutOfOrderEvent, "%s at %s after %s", ev.Symbol, ev.Timestamp, prev.Timestamp)
		return
	}
	h.seq++
	ev.Seq = h.seq
	h.head, h.hasHead = ev, true
}

// SliceSource serves events from memory.
type SliceSource struct {
	events []schema.MarketEvent
	pos    int
}

// NewSliceSource wraps events. The slice is not copied or sorted.
func NewSliceSource(events []schema.MarketEvent) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next() (schema.MarketEvent, error) {
	if s.pos >= len(s.events) {
		return schema.MarketEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// BarSource turns bars into close-stamped market events.
type BarSource struct {
	bars []schema.Bar
	pos  int
}

// NewBarSource wraps bars ordered by (timestamp, symbol).
func NewBarSource(bars []schema.Bar) *BarSource {
	return &BarSource{bars: bars}
}

func (s *BarSource) Next() (schema.MarketEvent, error) {
	if s.pos >= len(s.bars) {
		return schema.MarketEvent{}, io.EOF
	}
	bar := s.bars[s.pos]
	s.pos++
	return bar.Event(), nil
}
