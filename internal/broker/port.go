package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/schema"
)

// Marker is a position in a broker's fill or update stream. The zero marker
// starts from the beginning.
type Marker uint64

// Port is the boundary between the engine and an execution venue. Strategy code
// never sees it; only the engine calls it, from a single goroutine.
type Port interface {
	// Submit accepts the intent or rejects it immediately. It never waits for a fill.
	Submit(ctx context.Context, intent schema.OrderIntent, now time.Time) (order.View, error)
	// Cancel is best effort. Unknown and terminal orders report false with a nil error.
	Cancel(ctx context.Context, id string) (bool, error)
	// OnMarket hands the broker the event the strategy is about to see.
	OnMarket(ctx context.Context, ev schema.MarketEvent) error
	// FillsSince returns every fill after m exactly once, and the marker to use next.
	FillsSince(m Marker) ([]schema.Fill, Marker)
	// UpdatesSince returns order status changes after m.
	UpdatesSince(m Marker) ([]order.View, Marker)
	Order(id string) (order.View, bool)
	// Positions and Cash are for reconciliation only.
	Positions() []portfolio.Position
	Cash() decimal.Decimal
}

// Faulted is implemented by brokers that can fail outside of a call, for
// example when retries against the venue are exhausted.
type Faulted interface {
	Err() error
}

// journal is an append-only log read through markers.
type journal[T any] struct {
	items []T
}

func (j *journal[T]) append(v T) {
	j.items = append(j.items, v)
}

func (j *journal[T]) since(m Marker) ([]T, Marker) {
	end := Marker(len(j.items))
	if m >= end {
		return nil, end
	}
	out := make([]T, end-m)
	copy(out, j.items[m:])
	return out, end
}

func (j *journal[T]) len() int {
	return len(j.items)
}
