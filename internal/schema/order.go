package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side describes order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// Signed returns qty with the side's sign applied.
func (s Side) Signed(qty decimal.Decimal) decimal.Decimal {
	if s == SideSell {
		return qty.Neg()
	}
	return qty
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy" or "sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "Buy":
		return SideBuy, nil
	case "sell", "SELL", "Sell":
		return SideSell, nil
	default:
		return SideUnknown, fmt.Errorf("unknown side: %q", s)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Side) UnmarshalJSON(data []byte) error {
	v, err := ParseSide(trimQuotes(data))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderType describes how an order matches.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
)

// NeedsPrice reports whether the type requires a limit or stop price.
func (t OrderType) NeedsPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStop
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseOrderType accepts "market", "limit" or "stop".
func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "market", "MARKET":
		return OrderTypeMarket, nil
	case "limit", "LIMIT":
		return OrderTypeLimit, nil
	case "stop", "STOP":
		return OrderTypeStop, nil
	default:
		return OrderTypeUnknown, fmt.Errorf("unknown order type: %q", s)
	}
}

func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *OrderType) UnmarshalJSON(data []byte) error {
	v, err := ParseOrderType(trimQuotes(data))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OrderIntent is what a strategy asks for. Price is the limit price for limit
// orders and the trigger price for stop orders; market orders leave it zero.
type OrderIntent struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Type     OrderType       `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Market builds a market order intent.
func Market(id, symbol string, side Side, qty decimal.Decimal) OrderIntent {
	return OrderIntent{ID: id, Symbol: symbol, Side: side, Type: OrderTypeMarket, Quantity: qty}
}

// Limit builds a limit order intent.
func Limit(id, symbol string, side Side, qty, price decimal.Decimal) OrderIntent {
	return OrderIntent{ID: id, Symbol: symbol, Side: side, Type: OrderTypeLimit, Quantity: qty, Price: price}
}

// Stop builds a stop order intent.
func Stop(id, symbol string, side Side, qty, trigger decimal.Decimal) OrderIntent {
	return OrderIntent{ID: id, Symbol: symbol, Side: side, Type: OrderTypeStop, Quantity: qty, Price: trigger}
}

// Fill records an execution against an order. Seq is the broker-wide fill
// sequence starting at 1.
type Fill struct {
	OrderID   string          `json:"orderId"`
	Seq       uint64          `json:"seq"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notional returns quantity * price.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

func trimQuotes(data []byte) string {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
