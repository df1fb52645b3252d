package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a deep copy of the portfolio. Strategies and reporting only ever
// see snapshots, never the live portfolio.
type Snapshot struct {
	InitialCash decimal.Decimal `json:"initialCash"`
	Cash        decimal.Decimal `json:"cash"`
	Realized    decimal.Decimal `json:"realized"`
	Fees        decimal.Decimal `json:"fees"`
	Fills       uint64          `json:"fills"`
	LastFill    time.Time       `json:"lastFill"`
	Positions   []Position      `json:"positions"`
}

// Snapshot builds a snapshot with positions sorted by symbol.
func (p *Portfolio) Snapshot() Snapshot {
	return Snapshot{
		InitialCash: p.initial,
		Cash:        p.cash,
		Realized:    p.realized,
		Fees:        p.fees,
		Fills:       p.fills,
		LastFill:    p.lastFill,
		Positions:   p.Positions(),
	}
}

// Restore rebuilds a portfolio from a snapshot.
func Restore(s Snapshot) *Portfolio {
	p := New(s.InitialCash)
	p.cash = s.Cash
	p.realized = s.Realized
	p.fees = s.Fees
	p.fills = s.Fills
	p.lastFill = s.LastFill
	for _, pos := range s.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		cp := pos
		p.positions[pos.Symbol] = &cp
	}
	return p
}

// Position looks a symbol up in the snapshot.
func (s Snapshot) Position(symbol string) (Position, bool) {
	i := sort.Search(len(s.Positions), func(i int) bool {
		return s.Positions[i].Symbol >= symbol
	})
	if i < len(s.Positions) && s.Positions[i].Symbol == symbol {
		return s.Positions[i], true
	}
	return Position{}, false
}

// Quantity returns the signed holding for symbol, zero when flat.
func (s Snapshot) Quantity(symbol string) decimal.Decimal {
	if pos, ok := s.Position(symbol); ok {
		return pos.Quantity
	}
	return decimal.Zero
}

// MarketValue returns sum(qty * mark). Positions without a mark are valued at
// their average price.
func (s Snapshot) MarketValue(marks map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range s.Positions {
		total = total.Add(pos.Quantity.Mul(markOf(pos, marks)))
	}
	return total
}

// Unrealized returns sum(qty * (mark - avg)).
func (s Snapshot) Unrealized(marks map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range s.Positions {
		total = total.Add(pos.Quantity.Mul(markOf(pos, marks).Sub(pos.AvgPrice)))
	}
	return total
}

// Equity returns cash plus market value.
func (s Snapshot) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	return s.Cash.Add(s.MarketValue(marks))
}

func markOf(pos Position, marks map[string]decimal.Decimal) decimal.Decimal {
	if m, ok := marks[pos.Symbol]; ok {
		return m
	}
	return pos.AvgPrice
}

// Compare checks that two snapshots hold the same cash and positions.
func Compare(expected, actual Snapshot) error {
	if !expected.Cash.Equal(actual.Cash) {
		return fmt.Errorf("snapshot cash mismatch: expected=%s actual=%s", expected.Cash, actual.Cash)
	}
	if !expected.Realized.Equal(actual.Realized) {
		return fmt.Errorf("snapshot realized mismatch: expected=%s actual=%s", expected.Realized, actual.Realized)
	}
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	for _, want := range expected.Positions {
		got, ok := actual.Position(want.Symbol)
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", want.Symbol)
		}
		if !want.Quantity.Equal(got.Quantity) {
			return fmt.Errorf("snapshot qty mismatch: symbol=%s expected=%s actual=%s", want.Symbol, want.Quantity, got.Quantity)
		}
		if !want.AvgPrice.Equal(got.AvgPrice) {
			return fmt.Errorf("snapshot avg price mismatch: symbol=%s expected=%s actual=%s", want.Symbol, want.AvgPrice, got.AvgPrice)
		}
	}
	return nil
}
