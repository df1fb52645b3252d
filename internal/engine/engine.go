package engine

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"quantix/internal/audit"
	"quantix/internal/broker"
	"quantix/internal/clock"
	"quantix/internal/errors"
	"quantix/internal/feed"
	"quantix/internal/obs"
	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/risk"
	"quantix/internal/schema"
	"quantix/internal/strategy"
	"quantix/pkg/exception"
)

// Config holds the run-wide engine settings.
type Config struct {
	// Name tags log lines.
	Name        string
	InitialCash decimal.Decimal
	// Risk applies position sufficiency before intents reach the broker.
	Risk risk.Config
	// CancelOnStop cancels every open order when the run is stopped.
	CancelOnStop bool
}

// Deps are the collaborators of one run. Portfolio is optional and replaces
// the flat portfolio built from InitialCash, e.g. after recovery.
type Deps struct {
	Clock     clock.Clock
	Feed      feed.Feed
	Broker    broker.Port
	Strategy  strategy.Strategy
	Registry  *schema.Registry
	Audit     *audit.Log
	Metrics   *obs.Metrics
	Portfolio *portfolio.Portfolio
}

// errored is implemented by feeds that can fail while being read.
type errored interface {
	Err() error
}

// Engine runs one strategy against one broker. Run, and everything it calls,
// executes on a single goroutine; Status is safe from any goroutine.
type Engine struct {
	cfg      Config
	clock    clock.Clock
	feed     feed.Feed
	broker   broker.Port
	strategy strategy.Strategy
	observer strategy.OrderObserver
	registry *schema.Registry
	audit    *audit.Log
	metrics  *obs.Metrics
	risk     *risk.Engine

	portfolio *portfolio.Portfolio
	marks     map[string]decimal.Decimal
	seen      map[string]struct{}
	open      map[string]struct{}
	fillMark  broker.Marker
	viewMark  broker.Marker

	result Result
	status atomic.Value
}

// New wires an engine. Clock, Feed, Broker, Strategy and Registry are required.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Clock == nil || deps.Feed == nil || deps.Broker == nil || deps.Strategy == nil || deps.Registry == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "engine dependencies")
	}
	if cfg.Name == "" {
		cfg.Name = "engine"
	}
	pf := deps.Portfolio
	if pf == nil {
		pf = portfolio.New(cfg.InitialCash)
	}
	log := deps.Audit
	if log == nil {
		log = audit.NewLog(schema.SourceUnknown)
	}
	e := &Engine{
		cfg:       cfg,
		clock:     deps.Clock,
		feed:      deps.Feed,
		broker:    deps.Broker,
		strategy:  deps.Strategy,
		registry:  deps.Registry,
		audit:     log,
		metrics:   deps.Metrics,
		risk:      risk.NewEngine(cfg.Risk),
		portfolio: pf,
		marks:     make(map[string]decimal.Decimal),
		seen:      make(map[string]struct{}),
		open:      make(map[string]struct{}),
	}
	if o, ok := deps.Strategy.(strategy.OrderObserver); ok {
		e.observer = o
	}
	e.publish(StateIdle, nil)
	return e, nil
}

// Run steps until the feed is exhausted or ctx is done. Exhaustion and
// cancellation are clean terminations; any other returned error halted the run.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	logs.Infof("%s run started, cash: %s", e.cfg.Name, e.portfolio.Cash())
	// audit writes outlive a cancelled run so the stop itself is recorded
	actx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return e.stop(actx)
		}
		more, err := e.clock.Advance(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return e.stop(actx)
			}
			return e.halt(errors.Wrap(err, "advance clock"))
		}
		if !more {
			break
		}

		// a stop lands between steps: every event up to now reaches the
		// broker and the strategy, and every intent is submitted and audited
		start := time.Now()
		if err := e.step(actx); err != nil {
			return e.halt(err)
		}
		e.result.Steps++
		e.metrics.ObserveStep(time.Since(start))
		e.publish(StateRunning, nil)
	}

	if err := e.settle(actx); err != nil {
		return e.halt(err)
	}
	if err := e.faults(); err != nil {
		return e.halt(err)
	}
	return e.finish(StateFinished), nil
}

// step handles every event up to the clock's now.
func (e *Engine) step(actx context.Context) error {
	now := e.clock.Now()
	for {
		ev, ok := e.feed.Peek()
		if !ok || ev.Timestamp.After(now) {
			break
		}
		ev, _ = e.feed.Next()
		if err := e.handle(actx, ev); err != nil {
			return err
		}
	}
	if err := e.settle(actx); err != nil {
		return err
	}
	return e.faults()
}

func (e *Engine) handle(actx context.Context, ev schema.MarketEvent) error {
	e.result.Events++
	e.metrics.IncEvent()
	e.marks[ev.Symbol] = ev.Price

	if err := e.broker.OnMarket(actx, ev); err != nil {
		return errors.Wrapf(err, "broker market event %s", ev.Symbol)
	}
	// fills triggered by this event are visible to the strategy deciding on it
	if err := e.settle(actx); err != nil {
		return err
	}

	for _, intent := range e.strategy.OnEvent(ev, e.portfolio.Snapshot()) {
		if err := e.submit(actx, intent, ev.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// submit validates an intent and hands it to the broker. Refused intents are
// audited and reported to the strategy; only infrastructure failures return.
func (e *Engine) submit(actx context.Context, intent schema.OrderIntent, now time.Time) error {
	e.metrics.IncIntent()

	err := e.precheck(intent)
	// a refused ID is spent too, so one ID never names two audited orders
	if intent.ID != "" {
		e.seen[intent.ID] = struct{}{}
	}
	if err != nil {
		return e.rejected(actx, order.Rejected(intent, now, err.Error()), err)
	}

	start := time.Now()
	view, err := e.broker.Submit(actx, intent, now)
	e.metrics.ObserveSubmit(time.Since(start))
	if err != nil {
		if broker.IsRejection(err) {
			return e.rejected(actx, view, err)
		}
		return errors.Wrapf(err, "submit %s", intent.ID)
	}

	e.metrics.IncSubmitted()
	if !view.Status.Terminal() {
		e.open[intent.ID] = struct{}{}
	}
	return e.record(actx, schema.EventOrderSubmitted, now, view, nil)
}

func (e *Engine) precheck(intent schema.OrderIntent) error {
	if _, dup := e.seen[intent.ID]; dup && intent.ID != "" {
		return errors.Wrapf(exception.ErrDuplicateOrder, "order %s", intent.ID)
	}
	if err := schema.ValidateIntent(intent, e.registry); err != nil {
		return err
	}
	if intent.Side == schema.SideSell {
		if err := e.risk.CheckPosition(e.portfolio.Quantity(intent.Symbol), intent.Quantity); err != nil {
			return errors.Wrapf(err, "order %s", intent.ID)
		}
	}
	return nil
}

func (e *Engine) rejected(actx context.Context, view order.View, cause error) error {
	e.result.Rejected++
	e.metrics.IncReject(obs.ReasonOf(cause))
	if err := e.record(actx, schema.EventOrderRejected, view.UpdatedAt, view, nil); err != nil {
		return err
	}
	if e.observer != nil {
		e.observer.OnOrderUpdate(view)
	}
	return nil
}

// settle applies new fills to the portfolio, then forwards status changes.
func (e *Engine) settle(actx context.Context) error {
	fills, next := e.broker.FillsSince(e.fillMark)
	e.fillMark = next
	for _, f := range fills {
		if err := e.portfolio.Apply(f); err != nil {
			return errors.Wrapf(err, "apply fill %s#%d", f.OrderID, f.Seq)
		}
		e.result.Fills++
		e.metrics.IncFill()
		view, _ := e.broker.Order(f.OrderID)
		fill := f
		if err := e.record(actx, schema.EventFill, f.Timestamp, view, &fill); err != nil {
			return err
		}
	}

	views, next := e.broker.UpdatesSince(e.viewMark)
	e.viewMark = next
	for _, v := range views {
		if v.Status.Terminal() {
			delete(e.open, v.ID())
		}
		switch v.Status {
		case order.StatusCancelled:
			e.metrics.IncCancel()
		case order.StatusRejected:
			e.result.Rejected++
			e.metrics.IncReject(obs.RejectVenue)
		}
		if v.Status == order.StatusCancelled || v.Status == order.StatusRejected {
			if err := e.record(actx, schema.EventOrderUpdated, v.UpdatedAt, v, nil); err != nil {
				return err
			}
		}
		if e.observer != nil {
			e.observer.OnOrderUpdate(v)
		}
	}
	return nil
}

// faults surfaces errors raised outside of a call by the feed or the broker.
func (e *Engine) faults() error {
	if f, ok := e.feed.(errored); ok {
		if err := f.Err(); err != nil {
			return errors.Wrap(err, "feed")
		}
	}
	if f, ok := e.broker.(broker.Faulted); ok {
		if err := f.Err(); err != nil {
			return errors.Wrap(err, "broker")
		}
	}
	return nil
}

func (e *Engine) record(actx context.Context, kind schema.EventType, at time.Time, view order.View, fill *schema.Fill) error {
	_, err := e.audit.Append(actx, audit.Record{
		Kind:      kind,
		Timestamp: at,
		Order:     view,
		Fill:      fill,
		Portfolio: e.portfolio.Snapshot(),
	})
	return err
}

// stop ends the run at a step boundary, optionally cancelling open orders.
func (e *Engine) stop(actx context.Context) (Result, error) {
	if e.cfg.CancelOnStop && len(e.open) > 0 {
		ids := make([]string, 0, len(e.open))
		for id := range e.open {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := e.broker.Cancel(actx, id); err != nil {
				logs.Errorf("%s cancel %s on stop, err: %+v", e.cfg.Name, id, err)
			}
		}
		if err := e.settle(actx); err != nil {
			return e.halt(err)
		}
	}
	logs.Infof("%s run stopped after %d steps", e.cfg.Name, e.result.Steps)
	return e.finish(StateStopped), nil
}

func (e *Engine) halt(err error) (Result, error) {
	logs.Errorf("%s run halted after %d steps, err: %+v", e.cfg.Name, e.result.Steps, err)
	res := e.snapshot(StateHalted)
	e.publish(StateHalted, err)
	return res, err
}

func (e *Engine) finish(state State) Result {
	res := e.snapshot(state)
	e.publish(state, nil)
	if state == StateFinished {
		logs.Infof("%s run finished, steps: %d, fills: %d, cash: %s, realized: %s",
			e.cfg.Name, res.Steps, res.Fills, res.Portfolio.Cash, res.Portfolio.Realized)
	}
	return res
}

func (e *Engine) snapshot(state State) Result {
	res := e.result
	res.State = state
	res.Portfolio = e.portfolio.Snapshot()
	res.Marks = e.copyMarks()
	return res
}

func (e *Engine) copyMarks() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(e.marks))
	for k, v := range e.marks {
		out[k] = v
	}
	return out
}

func (e *Engine) publish(state State, err error) {
	snap := e.portfolio.Snapshot()
	marks := e.copyMarks()
	st := Status{
		State:     state,
		Steps:     e.result.Steps,
		Now:       e.clock.Now(),
		Portfolio: snap,
		Marks:     marks,
		Equity:    snap.Equity(marks),
		Open:      len(e.open),
		Metrics:   e.metrics.Snapshot(),
	}
	if err != nil {
		st.Err = err.Error()
	}
	e.status.Store(st)
}

// Status returns the last published status.
func (e *Engine) Status() Status {
	st, _ := e.status.Load().(Status)
	return st
}

// Portfolio returns a snapshot of the engine's portfolio.
func (e *Engine) Portfolio() portfolio.Snapshot {
	return e.Status().Portfolio
}
