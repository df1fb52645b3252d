package schema

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/pkg/exception"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	venue, err := reg.AddVenue(VenueSimulated)
	require.NoError(t, err)
	_, err = reg.AddInstrument(Instrument{
		Symbol:   "AAPL",
		Venue:    venue,
		TickSize: decimal.RequireFromString("0.01"),
		LotSize:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	return reg
}

func TestValidateIntent(t *testing.T) {
	reg := testRegistry(t)
	d := decimal.RequireFromString

	cases := []struct {
		name   string
		intent OrderIntent
		cause  error
	}{
		{"market", Market("a", "AAPL", SideBuy, d("10")), nil},
		{"limit", Limit("a", "AAPL", SideSell, d("5"), d("50.25")), nil},
		{"stop", Stop("a", "AAPL", SideSell, d("5"), d("49")), nil},
		{"missing id", Market("", "AAPL", SideBuy, d("1")), exception.ErrMissingID},
		{"zero qty", Market("a", "AAPL", SideBuy, d("0")), exception.ErrInvalidQuantity},
		{"negative qty", Market("a", "AAPL", SideBuy, d("-1")), exception.ErrInvalidQuantity},
		{"unknown side", OrderIntent{ID: "a", Symbol: "AAPL", Type: OrderTypeMarket, Quantity: d("1")}, exception.ErrInvalidSide},
		{"unknown type", OrderIntent{ID: "a", Symbol: "AAPL", Side: SideBuy, Quantity: d("1")}, exception.ErrInvalidType},
		{"limit without price", Limit("a", "AAPL", SideBuy, d("1"), decimal.Zero), exception.ErrMissingPrice},
		{"market with price", OrderIntent{ID: "a", Symbol: "AAPL", Side: SideBuy, Type: OrderTypeMarket, Quantity: d("1"), Price: d("1")}, exception.ErrUnexpectedPrice},
		{"unknown instrument", Market("a", "MSFT", SideBuy, d("1")), exception.ErrUnknownInstrument},
		{"off lot", Market("a", "AAPL", SideBuy, d("1.5")), exception.ErrOffLot},
		{"off tick", Limit("a", "AAPL", SideBuy, d("1"), d("10.005")), exception.ErrOffTick},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateIntent(tc.intent, reg)
			if tc.cause == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrValidation), "expected validation error, got %v", err)
			assert.True(t, errors.Is(err, tc.cause), "expected %v, got %v", tc.cause, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.intent.ID, verr.OrderID)
		})
	}
}

func TestValidateIntentNilRegistry(t *testing.T) {
	err := ValidateIntent(Market("a", "AAPL", SideBuy, decimal.NewFromInt(1)), nil)
	assert.ErrorIs(t, err, exception.ErrUnknownInstrument)
}
