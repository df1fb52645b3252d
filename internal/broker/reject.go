package broker

import (
	"quantix/internal/errors"
)

// Rejection is returned by Submit together with a Rejected view when the order
// was refused on the spot. It is a business outcome, not a broker failure.
type Rejection struct {
	OrderID string
	Cause   error
}

func (r *Rejection) Error() string {
	return "order " + r.OrderID + " rejected: " + r.Cause.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Cause
}

func reject(id string, cause error) *Rejection {
	return &Rejection{OrderID: id, Cause: cause}
}

// IsRejection reports whether err only describes a refused order.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}
