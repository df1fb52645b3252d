package order

import (
	"time"

	"github.com/shopspring/decimal"

	"quantix/internal/errors"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// Order holds the broker's view of an order. Orders are never deleted from a Book.
type Order struct {
	Intent      schema.OrderIntent
	Status      Status
	Filled      decimal.Decimal
	Fills       uint64
	Reason      string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// View is a read-only copy of an order handed to everything outside the broker.
type View struct {
	Intent      schema.OrderIntent `json:"intent"`
	Status      Status             `json:"status"`
	Filled      decimal.Decimal    `json:"filled"`
	Remaining   decimal.Decimal    `json:"remaining"`
	Reason      string             `json:"reason,omitempty"`
	SubmittedAt time.Time          `json:"submittedAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// ID returns the client correlation ID.
func (v View) ID() string {
	return v.Intent.ID
}

func (o *Order) view() View {
	return View{
		Intent:      o.Intent,
		Status:      o.Status,
		Filled:      o.Filled,
		Remaining:   o.Intent.Quantity.Sub(o.Filled),
		Reason:      o.Reason,
		SubmittedAt: o.SubmittedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// Rejected builds the view of an intent that was refused before it was booked.
func Rejected(intent schema.OrderIntent, at time.Time, reason string) View {
	o := Order{Intent: intent, Status: StatusRejected, Filled: decimal.Zero, Reason: reason, SubmittedAt: at, UpdatedAt: at}
	return o.view()
}

// Book owns every order submitted during a run and enforces the transition table.
type Book struct {
	orders map[string]*Order
	seq    []string
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{orders: make(map[string]*Order)}
}

// Open books a new Pending order.
func (b *Book) Open(intent schema.OrderIntent, now time.Time) (View, error) {
	if intent.ID == "" {
		return View{}, exception.ErrMissingID
	}
	if _, ok := b.orders[intent.ID]; ok {
		return View{}, exception.ErrDuplicateOrder
	}
	o := &Order{
		Intent:      intent,
		Status:      StatusPending,
		Filled:      decimal.Zero,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	b.orders[intent.ID] = o
	b.seq = append(b.seq, intent.ID)
	return o.view(), nil
}

// Has reports whether an order with id was ever booked.
func (b *Book) Has(id string) bool {
	_, ok := b.orders[id]
	return ok
}

// Get returns a copy of the order.
func (b *Book) Get(id string) (View, bool) {
	o, ok := b.orders[id]
	if !ok {
		return View{}, false
	}
	return o.view(), true
}

// ApplyFill adds qty to the filled quantity and moves the order to
// PartiallyFilled or Filled. Over-fills are refused. A fill on a terminal
// order is an invalid transition whatever its size.
func (b *Book) ApplyFill(id string, qty decimal.Decimal, at time.Time) (View, error) {
	o, ok := b.orders[id]
	if !ok {
		return View{}, exception.ErrUnknownOrder
	}
	if o.Status.Terminal() {
		return o.view(), errors.Wrapf(exception.ErrInvalidTransition, "order %s: fill on %s order", id, o.Status)
	}
	if !qty.IsPositive() {
		return o.view(), exception.ErrInvalidFill
	}
	filled := o.Filled.Add(qty)
	if filled.GreaterThan(o.Intent.Quantity) {
		return o.view(), errors.Wrapf(exception.ErrInvalidFill, "order %s: fill %s exceeds remaining %s", id, qty, o.Intent.Quantity.Sub(o.Filled))
	}
	next := StatusPartiallyFilled
	if filled.Equal(o.Intent.Quantity) {
		next = StatusFilled
	}
	if err := b.move(o, next); err != nil {
		return o.view(), err
	}
	o.Filled = filled
	o.Fills++
	o.UpdatedAt = at
	return o.view(), nil
}

// Cancel moves an open order to Cancelled.
func (b *Book) Cancel(id string, at time.Time) (View, error) {
	return b.finish(id, StatusCancelled, at, "")
}

// Reject moves an open order to Rejected with a reason.
func (b *Book) Reject(id string, at time.Time, reason string) (View, error) {
	return b.finish(id, StatusRejected, at, reason)
}

func (b *Book) finish(id string, to Status, at time.Time, reason string) (View, error) {
	o, ok := b.orders[id]
	if !ok {
		return View{}, exception.ErrUnknownOrder
	}
	if err := b.move(o, to); err != nil {
		return o.view(), err
	}
	o.Reason = reason
	o.UpdatedAt = at
	return o.view(), nil
}

func (b *Book) move(o *Order, to Status) error {
	if !CanTransition(o.Status, to) {
		return errors.Wrapf(exception.ErrInvalidTransition, "order %s: %s -> %s", o.Intent.ID, o.Status, to)
	}
	o.Status = to
	return nil
}

// Views returns every order in submission order.
func (b *Book) Views() []View {
	out := make([]View, 0, len(b.seq))
	for _, id := range b.seq {
		out = append(out, b.orders[id].view())
	}
	return out
}

// Len returns the number of booked orders.
func (b *Book) Len() int {
	return len(b.seq)
}
