package schema

import (
	"quantix/pkg/exception"
)

// ValidationError explains why an intent was refused before it reached a broker.
// It matches both exception.ErrValidation and its specific cause through errors.Is.
type ValidationError struct {
	OrderID string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.OrderID == "" {
		return exception.ErrValidation.Error() + ": " + e.Cause.Error()
	}
	return exception.ErrValidation.Error() + " (" + e.OrderID + "): " + e.Cause.Error()
}

func (e *ValidationError) Unwrap() []error {
	return []error{exception.ErrValidation, e.Cause}
}

// ValidateIntent checks an intent against the instrument registry. Duplicate IDs
// are checked by the order book, not here.
func ValidateIntent(intent OrderIntent, reg *Registry) error {
	invalid := func(cause error) error {
		return &ValidationError{OrderID: intent.ID, Cause: cause}
	}

	if intent.ID == "" {
		return invalid(exception.ErrMissingID)
	}
	if intent.Side != SideBuy && intent.Side != SideSell {
		return invalid(exception.ErrInvalidSide)
	}
	switch intent.Type {
	case OrderTypeMarket:
		if !intent.Price.IsZero() {
			return invalid(exception.ErrUnexpectedPrice)
		}
	case OrderTypeLimit, OrderTypeStop:
		if !intent.Price.IsPositive() {
			return invalid(exception.ErrMissingPrice)
		}
	default:
		return invalid(exception.ErrInvalidType)
	}
	if !intent.Quantity.IsPositive() {
		return invalid(exception.ErrInvalidQuantity)
	}

	if reg == nil {
		return invalid(exception.ErrUnknownInstrument)
	}
	inst, ok := reg.Instrument(intent.Symbol)
	if !ok {
		return invalid(exception.ErrUnknownInstrument)
	}
	if inst.LotSize.IsPositive() && !intent.Quantity.Mod(inst.LotSize).IsZero() {
		return invalid(exception.ErrOffLot)
	}
	if intent.Type.NeedsPrice() && inst.TickSize.IsPositive() && !intent.Price.Mod(inst.TickSize).IsZero() {
		return invalid(exception.ErrOffTick)
	}
	return nil
}
