package exception

import "errors"

// Intent validation. Every specific cause is reported together with ErrValidation.
var (
	ErrValidation        = errors.New("order: validation failed")
	ErrInvalidQuantity   = errors.New("order: quantity must be positive")
	ErrInvalidSide       = errors.New("order: unknown side")
	ErrInvalidType       = errors.New("order: unknown type")
	ErrMissingPrice      = errors.New("order: price required for order type")
	ErrUnexpectedPrice   = errors.New("order: price not allowed for market order")
	ErrUnknownInstrument = errors.New("order: unknown instrument")
	ErrMissingID         = errors.New("order: empty correlation id")
	ErrDuplicateOrder    = errors.New("order: duplicate correlation id")
	ErrOffTick           = errors.New("order: price is not a multiple of tick size")
	ErrOffLot            = errors.New("order: quantity is not a multiple of lot size")
)

// Business outcomes. They turn into Rejected orders and never halt a run.
var (
	ErrInsufficientFunds    = errors.New("order: insufficient funds")
	ErrInsufficientPosition = errors.New("order: insufficient position")
	ErrVenueRejected        = errors.New("order: rejected by venue")
)

// Order state machine.
var (
	ErrUnknownOrder      = errors.New("order: not found")
	ErrInvalidTransition = errors.New("order: invalid state transition")
	ErrInvalidFill       = errors.New("order: invalid fill quantity")
)
