package risk

import (
	"github.com/shopspring/decimal"

	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// Config holds the account sufficiency rules.
type Config struct {
	// AllowMargin lets cash go negative.
	AllowMargin bool `json:"allowMargin" yaml:"allowMargin"`
	// AllowShort lets a sell exceed the current holding.
	AllowShort bool `json:"allowShort" yaml:"allowShort"`
}

// DefaultConfig rejects margin and allows short selling.
func DefaultConfig() Config {
	return Config{AllowMargin: false, AllowShort: true}
}

// StateView provides the account figures an intent is checked against.
type StateView struct {
	Cash           decimal.Decimal
	Position       decimal.Decimal
	ReferencePrice decimal.Decimal
	Fee            decimal.Decimal
}

// Decision is the outcome of a check. Err is nil when Allowed.
type Decision struct {
	Allowed bool
	Err     error
}

// Engine evaluates cash and position sufficiency.
type Engine struct {
	cfg Config
}

// NewEngine creates a checker with static rules.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the rules in force.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate checks an intent before submission. Limit and stop intents are priced
// at their own price, market intents at the reference price; an unknown price
// skips the cash check.
func (e *Engine) Evaluate(intent schema.OrderIntent, state StateView) Decision {
	price := state.ReferencePrice
	if intent.Type.NeedsPrice() {
		price = intent.Price
	}
	return e.Check(intent.Side, intent.Quantity, price, state)
}

// Check verifies that trading qty at price on side is affordable.
func (e *Engine) Check(side schema.Side, qty, price decimal.Decimal, state StateView) Decision {
	switch side {
	case schema.SideBuy:
		if err := e.CheckCash(state.Cash, qty.Mul(price).Add(state.Fee)); err != nil {
			return Decision{Err: err}
		}
	case schema.SideSell:
		if err := e.CheckPosition(state.Position, qty); err != nil {
			return Decision{Err: err}
		}
	}
	return Decision{Allowed: true}
}

// CheckCash fails with ErrInsufficientFunds when cost exceeds cash and margin is off.
func (e *Engine) CheckCash(cash, cost decimal.Decimal) error {
	if e.cfg.AllowMargin || !cost.IsPositive() {
		return nil
	}
	if cost.GreaterThan(cash) {
		return exception.ErrInsufficientFunds
	}
	return nil
}

// CheckPosition fails with ErrInsufficientPosition when selling more than held and
// shorting is off.
func (e *Engine) CheckPosition(held, sellQty decimal.Decimal) error {
	if e.cfg.AllowShort {
		return nil
	}
	if sellQty.GreaterThan(decimal.Max(held, decimal.Zero)) {
		return exception.ErrInsufficientPosition
	}
	return nil
}
