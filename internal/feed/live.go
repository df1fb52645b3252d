package feed

import (
	"time"

	"quantix/internal/bus"
	"quantix/internal/obs"
	"quantix/internal/schema"
)

// DefaultLiveQueueSize bounds the events buffered between producers and the engine.
const DefaultLiveQueueSize = 8192

// Live accepts events pushed from any goroutine and hands them to the single
// engine goroutine in arrival order. Timestamps that go backwards are clamped to
// the latest timestamp seen so the sequence stays non-decreasing.
type Live struct {
	queue   *bus.Queue[schema.MarketEvent]
	metrics *obs.Metrics

	// consumer-side state
	pending []schema.MarketEvent
	last    time.Time
	seq     uint64
	clamped uint64
}

// NewLive creates a live feed buffering up to capacity events.
func NewLive(capacity int, metrics *obs.Metrics) *Live {
	if capacity <= 0 {
		capacity = DefaultLiveQueueSize
	}
	return &Live{queue: bus.NewQueue[schema.MarketEvent](capacity), metrics: metrics}
}

// Publish is safe for concurrent use. A full queue drops the event and returns
// bus.ErrQueueFull.
func (l *Live) Publish(ev schema.MarketEvent) error {
	err := l.queue.TryPublish(ev)
	switch err {
	case nil:
	case bus.ErrQueueFull:
		l.metrics.IncQueueDrop()
	case bus.ErrQueueClosed:
		l.metrics.IncQueueClosed()
	}
	return err
}

// Close stops accepting events.
func (l *Live) Close() {
	l.queue.Close()
}

func (l *Live) Peek() (schema.MarketEvent, bool) {
	l.pull()
	if len(l.pending) == 0 {
		return schema.MarketEvent{}, false
	}
	return l.pending[0], true
}

func (l *Live) Next() (schema.MarketEvent, bool) {
	l.pull()
	if len(l.pending) == 0 {
		return schema.MarketEvent{}, false
	}
	ev := l.pending[0]
	l.pending[0] = schema.MarketEvent{}
	l.pending = l.pending[1:]
	return ev, true
}

// Clamped returns how many events had their timestamp raised.
func (l *Live) Clamped() uint64 {
	return l.clamped
}

func (l *Live) pull() {
	l.queue.Drain(func(ev schema.MarketEvent) {
		if ev.Timestamp.Before(l.last) {
			ev.Timestamp = l.last
			l.clamped++
		} else {
			l.last = ev.Timestamp
		}
		l.seq++
		ev.Seq = l.seq
		l.pending = append(l.pending, ev)
	})
}
