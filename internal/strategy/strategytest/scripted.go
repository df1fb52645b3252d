// Package strategytest holds strategies for driving the engine in tests.
package strategytest

import (
	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/schema"
)

// Scripted emits fixed intents at given event ordinals (0-based, counted over
// every event it sees). It records the updates it is told about.
type Scripted struct {
	steps   map[int][]schema.OrderIntent
	seen    int
	Updates []order.View
}

func NewScripted(steps map[int][]schema.OrderIntent) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) OnEvent(_ schema.MarketEvent, _ portfolio.Snapshot) []schema.OrderIntent {
	out := s.steps[s.seen]
	s.seen++
	return out
}

func (s *Scripted) OnOrderUpdate(v order.View) {
	s.Updates = append(s.Updates, v)
}
