package strategy

import (
	"github.com/shopspring/decimal"

	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/schema"
)

// BuyAndHold buys qty on the first event of symbol and retries after a rejection.
type BuyAndHold struct {
	symbol string
	qty    decimal.Decimal
	ids    *IDs

	inflight string
	done     bool
}

func NewBuyAndHold(symbol string, qty decimal.Decimal, ids *IDs) *BuyAndHold {
	if ids == nil {
		ids = NewIDs("bh")
	}
	return &BuyAndHold{symbol: symbol, qty: qty, ids: ids}
}

func (b *BuyAndHold) OnEvent(ev schema.MarketEvent, _ portfolio.Snapshot) []schema.OrderIntent {
	if b.done || b.inflight != "" || ev.Symbol != b.symbol {
		return nil
	}
	intent := schema.Market(b.ids.Next(), b.symbol, schema.SideBuy, b.qty)
	b.inflight = intent.ID
	return []schema.OrderIntent{intent}
}

func (b *BuyAndHold) OnOrderUpdate(v order.View) {
	if v.ID() != b.inflight {
		return
	}
	switch v.Status {
	case order.StatusFilled:
		b.done = true
		b.inflight = ""
	case order.StatusRejected, order.StatusCancelled:
		b.inflight = ""
	}
}
