package strategy

import (
	"fmt"

	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/schema"
)

// Strategy turns market events into order intents. The snapshot is a copy; a
// strategy cannot tell a backtest from a live run through it.
type Strategy interface {
	OnEvent(ev schema.MarketEvent, snap portfolio.Snapshot) []schema.OrderIntent
}

// OrderObserver is implemented by strategies that track their own orders.
type OrderObserver interface {
	OnOrderUpdate(v order.View)
}

// Func adapts a plain function to Strategy.
type Func func(ev schema.MarketEvent, snap portfolio.Snapshot) []schema.OrderIntent

func (f Func) OnEvent(ev schema.MarketEvent, snap portfolio.Snapshot) []schema.OrderIntent {
	return f(ev, snap)
}

// IDs hands out client order IDs that are unique within a run.
type IDs struct {
	prefix string
	n      uint64
}

// NewIDs creates a generator for IDs of the form prefix-000001.
func NewIDs(prefix string) *IDs {
	if prefix == "" {
		prefix = "o"
	}
	return &IDs{prefix: prefix}
}

func (g *IDs) Next() string {
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
