// Package chaos injects venue faults in front of the live broker: gateway calls
// that time out, acknowledgements that are lost after the order landed, and
// notifications that are delivered twice. Paper drills use it to show the
// broker retries without double booking.
package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"quantix/internal/broker"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// Config controls chaos injection behavior. Rates are probabilities per call.
type Config struct {
	Seed int64
	// TimeoutRate fails a gateway call before it reaches the venue.
	TimeoutRate float64
	// LostAckRate forwards an order placement and then reports a timeout anyway.
	// Cancels only ever time out, since a venue refuses a second cancel.
	LostAckRate float64
	// DuplicateRate delivers a notification a second time.
	DuplicateRate float64
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	for name, rate := range map[string]float64{
		"timeoutRate":   c.TimeoutRate,
		"lostAckRate":   c.LostAckRate,
		"duplicateRate": c.DuplicateRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.TimeoutRate+c.LostAckRate > 1 {
		return fmt.Errorf("timeoutRate + lostAckRate must be <= 1")
	}
	return nil
}

// Enabled reports whether any fault is configured.
func (c Config) Enabled() bool {
	return c.TimeoutRate > 0 || c.LostAckRate > 0 || c.DuplicateRate > 0
}

// Stats counts injected faults.
type Stats struct {
	Timeouts   uint64
	LostAcks   uint64
	Duplicates uint64
}

// Engine draws faults from one seeded source. It is safe for concurrent use:
// gateway calls come from the engine goroutine and notifications from the
// stream goroutine.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	rng   *rand.Rand
	stats Stats
}

// NewEngine creates a chaos engine with validation. A zero seed picks one from
// the wall clock.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Seed returns the seed in use, for reproducing a drill.
func (e *Engine) Seed() int64 {
	return e.cfg.Seed
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

type fault uint8

const (
	faultNone fault = iota
	faultTimeout
	faultLostAck
)

func (e *Engine) placeFault() fault {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.rng.Float64()
	switch {
	case p < e.cfg.TimeoutRate:
		e.stats.Timeouts++
		return faultTimeout
	case p < e.cfg.TimeoutRate+e.cfg.LostAckRate:
		e.stats.LostAcks++
		return faultLostAck
	default:
		return faultNone
	}
}

func (e *Engine) cancelTimeout() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rng.Float64() < e.cfg.TimeoutRate {
		e.stats.Timeouts++
		return true
	}
	return false
}

func (e *Engine) duplicate() bool {
	if e.cfg.DuplicateRate <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rng.Float64() < e.cfg.DuplicateRate {
		e.stats.Duplicates++
		return true
	}
	return false
}

// Gateway wraps gw so its calls fail as configured. A nil engine returns gw.
func (e *Engine) Gateway(gw broker.Gateway) broker.Gateway {
	if e == nil {
		return gw
	}
	return &gateway{engine: e, next: gw}
}

type gateway struct {
	engine *Engine
	next   broker.Gateway
}

func (g *gateway) PlaceOrder(ctx context.Context, intent schema.OrderIntent) error {
	switch g.engine.placeFault() {
	case faultTimeout:
		return exception.ErrBrokerTimeout
	case faultLostAck:
		if err := g.next.PlaceOrder(ctx, intent); err != nil {
			return err
		}
		return exception.ErrBrokerTimeout
	default:
		return g.next.PlaceOrder(ctx, intent)
	}
}

func (g *gateway) CancelOrder(ctx context.Context, id string) error {
	if g.engine.cancelTimeout() {
		return exception.ErrBrokerTimeout
	}
	return g.next.CancelOrder(ctx, id)
}

// Redeliver wraps sink so some notifications arrive twice. The copy keeps its
// Seq, which is how a venue redelivers. A nil engine returns sink.
func (e *Engine) Redeliver(sink func(broker.Notification) error) func(broker.Notification) error {
	if e == nil {
		return sink
	}
	return func(n broker.Notification) error {
		if err := sink(n); err != nil {
			return err
		}
		if e.duplicate() {
			return sink(n)
		}
		return nil
	}
}
