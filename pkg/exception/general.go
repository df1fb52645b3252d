package exception

import "errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrTypeUnsupported = errors.New("type unsupported")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBuffTooSmall    = errors.New("encode buff is too small")
	ErrDecimalOverflow = errors.New("decimal coefficient overflows int64")
)
