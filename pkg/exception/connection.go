package exception

import "errors"

var (
	ErrInResponseError   = errors.New("there is an error in response error field")
	ErrBrokerTimeout     = errors.New("broker: call timed out")
	ErrBrokerUnavailable = errors.New("broker: unavailable after retries")
)
