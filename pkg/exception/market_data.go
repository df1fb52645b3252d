package exception

import "errors"

var (
	ErrEmptyDataset     = errors.New("market data: empty dataset")
	ErrOutOfOrderEvent  = errors.New("market data: event timestamp moved backwards")
	ErrInvalidBar       = errors.New("market data: invalid bar")
	ErrInvalidTimeFrame = errors.New("market data: invalid timeframe")
	ErrDuplicateBar     = errors.New("market data: duplicate bar")
)
