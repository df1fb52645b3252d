package strategytest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/schema"
	"quantix/internal/strategy"
)

func TestScripted(t *testing.T) {
	ev := schema.MarketEvent{Symbol: "AAPL", Price: decimal.NewFromInt(1), Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	intent := schema.Market("x", "AAPL", schema.SideBuy, decimal.NewFromInt(1))
	s := NewScripted(map[int][]schema.OrderIntent{1: {intent}})
	var _ strategy.OrderObserver = s

	assert.Empty(t, s.OnEvent(ev, portfolio.Snapshot{}))
	assert.Equal(t, []schema.OrderIntent{intent}, s.OnEvent(ev, portfolio.Snapshot{}))
	assert.Empty(t, s.OnEvent(ev, portfolio.Snapshot{}))

	s.OnOrderUpdate(order.View{Intent: intent, Status: order.StatusFilled})
	assert.Len(t, s.Updates, 1)
}
