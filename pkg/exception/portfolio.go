package exception

import "errors"

// ErrCausalityViolation is fatal: a fill older than the last applied fill means the
// event ordering upstream is broken.
var ErrCausalityViolation = errors.New("portfolio: fill timestamp precedes last applied fill")
