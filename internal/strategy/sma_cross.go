package strategy

import (
	"github.com/shopspring/decimal"

	"quantix/internal/errors"
	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// SMACross holds a long position while the short moving average is above the
// long one. When it drops below, the position is closed, or reversed into a
// short if AllowShort is set. One order is in flight at a time.
type SMACross struct {
	symbol     string
	short      int
	long       int
	qty        decimal.Decimal
	allowShort bool
	ids        *IDs

	prices []decimal.Decimal
	head   int
	count  int
	sum    decimal.Decimal

	inflight string
}

// NewSMACross creates the strategy. short must be below long.
func NewSMACross(symbol string, short, long int, qty decimal.Decimal, allowShort bool, ids *IDs) (*SMACross, error) {
	if symbol == "" || short <= 0 || short >= long || !qty.IsPositive() {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "sma cross symbol=%q short=%d long=%d qty=%s", symbol, short, long, qty)
	}
	if ids == nil {
		ids = NewIDs("sma")
	}
	return &SMACross{
		symbol:     symbol,
		short:      short,
		long:       long,
		qty:        qty,
		allowShort: allowShort,
		ids:        ids,
		prices:     make([]decimal.Decimal, long),
		sum:        decimal.Zero,
	}, nil
}

func (s *SMACross) OnEvent(ev schema.MarketEvent, snap portfolio.Snapshot) []schema.OrderIntent {
	if ev.Symbol != s.symbol {
		return nil
	}
	s.push(ev.Price)
	if s.count < s.long || s.inflight != "" {
		return nil
	}

	// short/long averages compared without dividing: shortSum*long vs longSum*short
	lhs := s.shortSum().Mul(decimal.NewFromInt(int64(s.long)))
	rhs := s.sum.Mul(decimal.NewFromInt(int64(s.short)))

	var target decimal.Decimal
	switch lhs.Cmp(rhs) {
	case 1:
		target = s.qty
	case -1:
		target = decimal.Zero
		if s.allowShort {
			target = s.qty.Neg()
		}
	default:
		return nil
	}

	delta := target.Sub(snap.Quantity(s.symbol))
	if delta.IsZero() {
		return nil
	}
	side := schema.SideBuy
	if delta.IsNegative() {
		side = schema.SideSell
	}
	intent := schema.Market(s.ids.Next(), s.symbol, side, delta.Abs())
	s.inflight = intent.ID
	return []schema.OrderIntent{intent}
}

func (s *SMACross) OnOrderUpdate(v order.View) {
	if v.ID() == s.inflight && v.Status.Terminal() {
		s.inflight = ""
	}
}

func (s *SMACross) push(px decimal.Decimal) {
	if s.count == s.long {
		s.sum = s.sum.Sub(s.prices[s.head])
	}
	s.prices[s.head] = px
	s.sum = s.sum.Add(px)
	s.head = (s.head + 1) % s.long
	if s.count < s.long {
		s.count++
	}
}

// shortSum walks back from the latest price.
func (s *SMACross) shortSum() decimal.Decimal {
	sum := decimal.Zero
	idx := s.head
	for i := 0; i < s.short; i++ {
		idx--
		if idx < 0 {
			idx = s.long - 1
		}
		sum = sum.Add(s.prices[idx])
	}
	return sum
}
