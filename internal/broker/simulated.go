package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"quantix/internal/errors"
	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/risk"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// SimConfig tunes the simulated venue.
type SimConfig struct {
	InitialCash decimal.Decimal
	// FeeBps is charged on fill notional, in basis points.
	FeeBps decimal.Decimal
	// MinFee is the floor charged per fill when fees are enabled.
	MinFee decimal.Decimal
	// ParticipationRate caps a fill at volume * rate when the event carries
	// volume. Zero fills the whole remaining quantity.
	ParticipationRate decimal.Decimal
	Risk              risk.Config
}

// Simulated fills orders against the market events it is shown. Orders on the
// same instrument are matched in submission order; an order is never matched
// against the event it was decided on.
type Simulated struct {
	cfg      SimConfig
	registry *schema.Registry
	risk     *risk.Engine
	book     *order.Book
	account  *portfolio.Portfolio

	open      map[string][]string
	triggered map[string]struct{}
	last      map[string]decimal.Decimal
	now       time.Time
	seq       uint64

	fills   journal[schema.Fill]
	updates journal[order.View]
}

// NewSimulated creates a simulated broker for the instruments in reg.
func NewSimulated(cfg SimConfig, reg *schema.Registry) (*Simulated, error) {
	if reg == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "simulated broker registry")
	}
	if cfg.FeeBps.IsNegative() || cfg.MinFee.IsNegative() || cfg.ParticipationRate.IsNegative() {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "simulated broker fees and participation must not be negative")
	}
	return &Simulated{
		cfg:       cfg,
		registry:  reg,
		risk:      risk.NewEngine(cfg.Risk),
		book:      order.NewBook(),
		account:   portfolio.New(cfg.InitialCash),
		open:      make(map[string][]string),
		triggered: make(map[string]struct{}),
		last:      make(map[string]decimal.Decimal),
	}, nil
}

func (s *Simulated) Submit(ctx context.Context, intent schema.OrderIntent, now time.Time) (order.View, error) {
	if err := ctx.Err(); err != nil {
		return order.View{}, err
	}
	if s.book.Has(intent.ID) {
		return order.Rejected(intent, now, exception.ErrDuplicateOrder.Error()), reject(intent.ID, exception.ErrDuplicateOrder)
	}
	if err := schema.ValidateIntent(intent, s.registry); err != nil {
		return s.refuse(intent, now, err)
	}

	ref, known := s.last[intent.Symbol]
	price := ref
	if intent.Type.NeedsPrice() {
		price, known = intent.Price, true
	}
	state := risk.StateView{
		Cash:           s.account.Cash(),
		Position:       s.account.Quantity(intent.Symbol),
		ReferencePrice: ref,
	}
	if known {
		state.Fee = s.fee(intent.Quantity.Mul(price))
	}
	if decision := s.risk.Evaluate(intent, state); !decision.Allowed {
		return s.refuse(intent, now, decision.Err)
	}

	view, err := s.book.Open(intent, now)
	if err != nil {
		return order.View{}, err
	}
	s.open[intent.Symbol] = append(s.open[intent.Symbol], intent.ID)
	return view, nil
}

// refuse books a rejected order so it stays visible through Order.
func (s *Simulated) refuse(intent schema.OrderIntent, now time.Time, cause error) (order.View, error) {
	if intent.ID == "" {
		return order.Rejected(intent, now, cause.Error()), reject(intent.ID, cause)
	}
	if _, err := s.book.Open(intent, now); err != nil {
		return order.View{}, err
	}
	view, err := s.book.Reject(intent.ID, now, cause.Error())
	if err != nil {
		return order.View{}, err
	}
	logs.Infof("simulated broker rejected %s: %+v", intent.ID, cause)
	return view, reject(intent.ID, cause)
}

func (s *Simulated) Cancel(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, ok := s.book.Get(id)
	if !ok || v.Status.Terminal() {
		return false, nil
	}
	view, err := s.book.Cancel(id, s.now)
	if err != nil {
		return false, err
	}
	s.close(view)
	s.updates.append(view)
	return true, nil
}

func (s *Simulated) OnMarket(ctx context.Context, ev schema.MarketEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Timestamp.After(s.now) {
		s.now = ev.Timestamp
	}
	s.last[ev.Symbol] = ev.Price

	ids := s.open[ev.Symbol]
	if len(ids) == 0 {
		return nil
	}

	budget, capped := s.participation(ev)
	for _, id := range append([]string(nil), ids...) {
		if capped && !budget.IsPositive() {
			break
		}
		v, ok := s.book.Get(id)
		if !ok || !v.Status.Open() || !ev.Timestamp.After(v.SubmittedAt) {
			continue
		}
		price, ok := s.match(v.Intent, ev.Price)
		if !ok {
			continue
		}
		qty := v.Remaining
		if capped {
			qty = decimal.Min(qty, budget)
		}
		used, err := s.execute(v, qty, price, ev.Timestamp)
		if err != nil {
			return err
		}
		budget = budget.Sub(used)
	}
	return nil
}

// match reports whether an order trades at the given event price, and at what price.
func (s *Simulated) match(intent schema.OrderIntent, px decimal.Decimal) (decimal.Decimal, bool) {
	switch intent.Type {
	case schema.OrderTypeMarket:
		return px, true
	case schema.OrderTypeLimit:
		if intent.Side == schema.SideBuy && px.LessThanOrEqual(intent.Price) {
			return decimal.Min(intent.Price, px), true
		}
		if intent.Side == schema.SideSell && px.GreaterThanOrEqual(intent.Price) {
			return decimal.Max(intent.Price, px), true
		}
	case schema.OrderTypeStop:
		if _, ok := s.triggered[intent.ID]; ok {
			return px, true
		}
		if (intent.Side == schema.SideBuy && px.GreaterThanOrEqual(intent.Price)) ||
			(intent.Side == schema.SideSell && px.LessThanOrEqual(intent.Price)) {
			s.triggered[intent.ID] = struct{}{}
			return px, true
		}
	}
	return decimal.Zero, false
}

// execute fills qty of v at price, or rejects v when the account cannot carry
// the fill. It returns the quantity filled.
func (s *Simulated) execute(v order.View, qty, price decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, nil
	}
	fee := s.fee(qty.Mul(price))
	decision := s.risk.Check(v.Intent.Side, qty, price, risk.StateView{
		Cash:     s.account.Cash(),
		Position: s.account.Quantity(v.Intent.Symbol),
		Fee:      fee,
	})
	if !decision.Allowed {
		view, err := s.book.Reject(v.ID(), at, decision.Err.Error())
		if err != nil {
			return decimal.Zero, err
		}
		logs.Infof("simulated broker rejected %s at fill time: %+v", v.ID(), decision.Err)
		s.close(view)
		s.updates.append(view)
		return decimal.Zero, nil
	}

	view, err := s.book.ApplyFill(v.ID(), qty, at)
	if err != nil {
		return decimal.Zero, err
	}
	s.seq++
	fill := schema.Fill{
		OrderID:   v.ID(),
		Seq:       s.seq,
		Symbol:    v.Intent.Symbol,
		Side:      v.Intent.Side,
		Quantity:  qty,
		Price:     price,
		Fee:       fee,
		Timestamp: at,
	}
	if err := s.account.Apply(fill); err != nil {
		return decimal.Zero, err
	}
	if view.Status.Terminal() {
		s.close(view)
	}
	s.fills.append(fill)
	s.updates.append(view)
	return qty, nil
}

// participation returns the quantity the event can absorb across all orders.
func (s *Simulated) participation(ev schema.MarketEvent) (decimal.Decimal, bool) {
	if !s.cfg.ParticipationRate.IsPositive() || !ev.Volume.Valid {
		return decimal.Zero, false
	}
	budget := ev.Volume.Decimal.Mul(s.cfg.ParticipationRate)
	if inst, ok := s.registry.Instrument(ev.Symbol); ok && inst.LotSize.IsPositive() {
		budget = budget.Div(inst.LotSize).Floor().Mul(inst.LotSize)
	}
	return budget, true
}

func (s *Simulated) fee(notional decimal.Decimal) decimal.Decimal {
	if !s.cfg.FeeBps.IsPositive() && !s.cfg.MinFee.IsPositive() {
		return decimal.Zero
	}
	return decimal.Max(notional.Abs().Mul(s.cfg.FeeBps).Shift(-4), s.cfg.MinFee)
}

func (s *Simulated) close(v order.View) {
	ids := s.open[v.Intent.Symbol]
	for i, id := range ids {
		if id == v.ID() {
			s.open[v.Intent.Symbol] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.open[v.Intent.Symbol]) == 0 {
		delete(s.open, v.Intent.Symbol)
	}
	delete(s.triggered, v.ID())
}

func (s *Simulated) FillsSince(m Marker) ([]schema.Fill, Marker) {
	return s.fills.since(m)
}

func (s *Simulated) UpdatesSince(m Marker) ([]order.View, Marker) {
	return s.updates.since(m)
}

func (s *Simulated) Order(id string) (order.View, bool) {
	return s.book.Get(id)
}

func (s *Simulated) Orders() []order.View {
	return s.book.Views()
}

func (s *Simulated) Positions() []portfolio.Position {
	return s.account.Positions()
}

func (s *Simulated) Cash() decimal.Decimal {
	return s.account.Cash()
}
