package portfolio

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"quantix/internal/errors"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// AvgPricePlaces is the rounding applied to weighted-average entry prices.
const AvgPricePlaces = 12

// Position is a signed holding. Quantity is never zero for a stored position.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// Portfolio is the authoritative account state. Only the engine mutates it, one
// fill at a time.
type Portfolio struct {
	initial   decimal.Decimal
	cash      decimal.Decimal
	realized  decimal.Decimal
	fees      decimal.Decimal
	positions map[string]*Position
	lastFill  time.Time
	fills     uint64
}

// New creates a flat portfolio holding cash.
func New(cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		initial:   cash,
		cash:      cash,
		realized:  decimal.Zero,
		fees:      decimal.Zero,
		positions: make(map[string]*Position),
	}
}

// Apply books a fill using weighted-average cost. A fill older than the last
// applied one fails with ErrCausalityViolation and leaves the portfolio untouched.
func (p *Portfolio) Apply(fill schema.Fill) error {
	if fill.Timestamp.Before(p.lastFill) {
		return errors.Wrapf(exception.ErrCausalityViolation, "fill %s at %s, last fill at %s",
			fill.OrderID, fill.Timestamp.Format(time.RFC3339Nano), p.lastFill.Format(time.RFC3339Nano))
	}
	if !fill.Quantity.IsPositive() || fill.Price.IsNegative() || fill.Fee.IsNegative() {
		return errors.Wrapf(exception.ErrInvalidFill, "fill %s qty=%s price=%s fee=%s", fill.OrderID, fill.Quantity, fill.Price, fill.Fee)
	}
	if fill.Side != schema.SideBuy && fill.Side != schema.SideSell {
		return errors.Wrapf(exception.ErrInvalidSide, "fill %s", fill.OrderID)
	}

	delta := fill.Side.Signed(fill.Quantity)
	p.cash = p.cash.Sub(delta.Mul(fill.Price)).Sub(fill.Fee)
	p.fees = p.fees.Add(fill.Fee)

	pos, ok := p.positions[fill.Symbol]
	if !ok {
		p.positions[fill.Symbol] = &Position{Symbol: fill.Symbol, Quantity: delta, AvgPrice: fill.Price}
	} else {
		p.realized = p.realized.Add(pos.apply(delta, fill.Price))
		if pos.Quantity.IsZero() {
			delete(p.positions, fill.Symbol)
		}
	}

	p.lastFill = fill.Timestamp
	p.fills++
	return nil
}

// apply moves the position by delta at price and returns the realized P&L.
func (pos *Position) apply(delta, price decimal.Decimal) decimal.Decimal {
	q := pos.Quantity
	next := q.Add(delta)

	if q.Sign() == delta.Sign() {
		total := q.Abs().Mul(pos.AvgPrice).Add(delta.Abs().Mul(price))
		pos.AvgPrice = total.DivRound(next.Abs(), AvgPricePlaces)
		pos.Quantity = next
		return decimal.Zero
	}

	closed := decimal.Min(q.Abs(), delta.Abs())
	pnl := closed.Mul(price.Sub(pos.AvgPrice))
	if q.IsNegative() {
		pnl = pnl.Neg()
	}

	switch {
	case next.IsZero():
		pos.AvgPrice = decimal.Zero
	case next.Sign() != q.Sign():
		// flipped through zero: the remainder opens at the fill price
		pos.AvgPrice = price
	}
	pos.Quantity = next
	return pnl
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	return p.cash
}

// InitialCash returns the starting cash balance.
func (p *Portfolio) InitialCash() decimal.Decimal {
	return p.initial
}

// Realized returns cumulative realized P&L before fees.
func (p *Portfolio) Realized() decimal.Decimal {
	return p.realized
}

// Fees returns cumulative fees paid.
func (p *Portfolio) Fees() decimal.Decimal {
	return p.fees
}

// LastFill returns the timestamp of the last applied fill.
func (p *Portfolio) LastFill() time.Time {
	return p.lastFill
}

// Position returns the holding for symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Quantity returns the signed holding for symbol, zero when flat.
func (p *Portfolio) Quantity(symbol string) decimal.Decimal {
	if pos, ok := p.positions[symbol]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

// Positions returns every open position sorted by symbol.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Count returns the number of open positions.
func (p *Portfolio) Count() int {
	return len(p.positions)
}
