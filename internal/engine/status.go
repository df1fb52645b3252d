package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"quantix/internal/obs"
	"quantix/internal/portfolio"
)

// State describes where a run is in its lifecycle.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateFinished
	StateStopped
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	case StateHalted:
		return "halted"
	default:
		return "idle"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Status is published after every step. Readers on other goroutines get a
// copy and never touch the live portfolio.
type Status struct {
	State     State                      `json:"state"`
	Steps     uint64                     `json:"steps"`
	Now       time.Time                  `json:"now"`
	Portfolio portfolio.Snapshot         `json:"portfolio"`
	Marks     map[string]decimal.Decimal `json:"marks"`
	Equity    decimal.Decimal            `json:"equity"`
	Open      int                        `json:"openOrders"`
	Metrics   obs.Snapshot               `json:"metrics"`
	Err       string                     `json:"error,omitempty"`
}

// Result summarises a finished run.
type Result struct {
	State     State
	Steps     uint64
	Events    uint64
	Fills     uint64
	Rejected  uint64
	Portfolio portfolio.Snapshot
	Marks     map[string]decimal.Decimal
}

// Equity values the final portfolio at the last seen prices.
func (r Result) Equity() decimal.Decimal {
	return r.Portfolio.Equity(r.Marks)
}
