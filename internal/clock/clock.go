package clock

import (
	"context"
	"time"

	"quantix/internal/schema"
)

// Clock decides how far the engine may read the feed. Now never moves backwards.
type Clock interface {
	Now() time.Time
	// Advance moves to the next instant and reports whether there is more time.
	Advance(ctx context.Context) (bool, error)
}

// Peeker exposes the next event of a feed without consuming it.
type Peeker interface {
	Peek() (schema.MarketEvent, bool)
}

// Historical steps through the distinct timestamps of a feed. It only peeks, so
// it can never hand the engine an event that lies in the future.
type Historical struct {
	feed Peeker
	now  time.Time
}

// NewHistorical creates a clock driven by feed.
func NewHistorical(feed Peeker) *Historical {
	return &Historical{feed: feed}
}

func (c *Historical) Now() time.Time {
	return c.now
}

func (c *Historical) Advance(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ev, ok := c.feed.Peek()
	if !ok {
		return false, nil
	}
	if ev.Timestamp.After(c.now) {
		c.now = ev.Timestamp
	}
	return true, nil
}

// Live ticks on the wall clock. Gaps between ticks may be irregular; a wall
// clock that jumps backwards is clamped to the previous reading.
type Live struct {
	interval time.Duration
	wall     func() time.Time
	ticker   *time.Ticker
	now      time.Time
}

// NewLive creates a wall-clock driven clock ticking every interval.
func NewLive(interval time.Duration) *Live {
	if interval <= 0 {
		interval = time.Second
	}
	return &Live{interval: interval, wall: func() time.Time { return time.Now().UTC() }}
}

// WithWall swaps the wall clock source.
func (c *Live) WithWall(wall func() time.Time) *Live {
	if wall != nil {
		c.wall = wall
	}
	return c
}

func (c *Live) Now() time.Time {
	return c.now
}

func (c *Live) Advance(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.ticker == nil {
		c.ticker = time.NewTicker(c.interval)
		c.observe()
		return true, nil
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.ticker.C:
		c.observe()
		return true, nil
	}
}

func (c *Live) observe() {
	if t := c.wall(); t.After(c.now) {
		c.now = t
	}
}

// Stop releases the ticker.
func (c *Live) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
}
