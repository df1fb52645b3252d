package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketEvent is a single price observation for one instrument. Seq is the
// ingestion order assigned by the feed and breaks timestamp ties.
type MarketEvent struct {
	Seq       uint64              `json:"seq"`
	Symbol    string              `json:"symbol"`
	Timestamp time.Time           `json:"timestamp"`
	Price     decimal.Decimal     `json:"price"`
	Bid       decimal.NullDecimal `json:"bid"`
	Ask       decimal.NullDecimal `json:"ask"`
	Volume    decimal.NullDecimal `json:"volume"`
}

// Quote returns the event with bid and ask set.
func (e MarketEvent) Quote(bid, ask decimal.Decimal) MarketEvent {
	e.Bid = decimal.NewNullDecimal(bid)
	e.Ask = decimal.NewNullDecimal(ask)
	return e
}

// WithVolume returns the event with volume set.
func (e MarketEvent) WithVolume(v decimal.Decimal) MarketEvent {
	e.Volume = decimal.NewNullDecimal(v)
	return e
}
