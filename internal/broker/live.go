package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"quantix/internal/bus"
	"quantix/internal/clock"
	"quantix/internal/errors"
	"quantix/internal/obs"
	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/risk"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// Gateway places and cancels orders at a real venue. Implementations must
// honour ctx and may return exception.ErrBrokerTimeout for retryable failures.
type Gateway interface {
	PlaceOrder(ctx context.Context, intent schema.OrderIntent) error
	CancelOrder(ctx context.Context, id string) error
}

// NotificationKind tags venue order events.
type NotificationKind uint8

const (
	NotificationUnknown NotificationKind = iota
	NotificationAccepted
	NotificationFill
	NotificationRejected
	NotificationCancelled
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationAccepted:
		return "accepted"
	case NotificationFill:
		return "fill"
	case NotificationRejected:
		return "rejected"
	case NotificationCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Notification is an order event pushed by the venue. Delivery is at least once;
// Seq starts at 1 and increases per order, so a repeated Seq is a duplicate.
type Notification struct {
	Kind      NotificationKind
	OrderID   string
	Seq       uint64
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
	Reason    string
}

// LiveConfig tunes venue calls.
type LiveConfig struct {
	InitialCash decimal.Decimal
	// Positions seeds the account mirror, e.g. with the book a recovery
	// rebuilt. Zero quantities are skipped.
	Positions []portfolio.Position
	CallTimeout time.Duration
	MaxRetries  int
	Backoff     Backoff
	// OrdersPerSecond paces gateway calls. Zero disables pacing.
	OrdersPerSecond float64
	Burst           int
	QueueSize       int
	Risk            risk.Config
}

const (
	DefaultCallTimeout = 5 * time.Second
	DefaultMaxRetries  = 3
	DefaultQueueSize   = 4096
)

// Live routes orders to a Gateway and turns asynchronous venue notifications
// into fills. Notifications may arrive on any goroutine; all book keeping runs on
// the engine goroutine when FillsSince or UpdatesSince drains the queue.
type Live struct {
	cfg      LiveConfig
	gateway  Gateway
	registry *schema.Registry
	risk     *risk.Engine
	limiter  *rate.Limiter
	sleeper  clock.Sleeper
	metrics  *obs.Metrics
	queue    *bus.Queue[Notification]

	book     *order.Book
	account  *portfolio.Portfolio
	lastSeq  map[string]uint64
	lastFill time.Time
	last     map[string]decimal.Decimal
	seq      uint64
	dropped  uint64
	err      error

	fills   journal[schema.Fill]
	updates journal[order.View]
}

// NewLive creates a live broker in front of gw.
func NewLive(cfg LiveConfig, gw Gateway, reg *schema.Registry, metrics *obs.Metrics) (*Live, error) {
	if gw == nil || reg == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "live broker gateway and registry")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	limit := rate.Inf
	if cfg.OrdersPerSecond > 0 {
		limit = rate.Limit(cfg.OrdersPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Live{
		cfg:      cfg,
		gateway:  gw,
		registry: reg,
		risk:     risk.NewEngine(cfg.Risk),
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		sleeper:  clock.RealSleeper{},
		metrics:  metrics,
		queue:    bus.NewQueue[Notification](cfg.QueueSize),
		book:     order.NewBook(),
		account: portfolio.Restore(portfolio.Snapshot{
			InitialCash: cfg.InitialCash,
			Cash:        cfg.InitialCash,
			Positions:   cfg.Positions,
		}),
		lastSeq:  make(map[string]uint64),
		last:     make(map[string]decimal.Decimal),
	}, nil
}

// WithSleeper replaces the sleeper used between retries.
func (l *Live) WithSleeper(s clock.Sleeper) *Live {
	if s != nil {
		l.sleeper = s
	}
	return l
}

// OnNotification is safe for concurrent use. A full queue refuses the
// notification with bus.ErrQueueFull; the producer must redeliver it.
func (l *Live) OnNotification(n Notification) error {
	err := l.queue.TryPublish(n)
	switch err {
	case nil:
	case bus.ErrQueueFull:
		l.metrics.IncQueueDrop()
	case bus.ErrQueueClosed:
		l.metrics.IncQueueClosed()
	}
	return err
}

// Close stops accepting notifications. Queued ones are still drained.
func (l *Live) Close() {
	l.queue.Close()
}

func (l *Live) Submit(ctx context.Context, intent schema.OrderIntent, now time.Time) (order.View, error) {
	if err := ctx.Err(); err != nil {
		return order.View{}, err
	}
	if l.err != nil {
		return order.View{}, l.err
	}
	if l.book.Has(intent.ID) {
		return order.Rejected(intent, now, exception.ErrDuplicateOrder.Error()), reject(intent.ID, exception.ErrDuplicateOrder)
	}
	if err := schema.ValidateIntent(intent, l.registry); err != nil {
		return l.refuse(intent, now, err)
	}
	decision := l.risk.Evaluate(intent, risk.StateView{
		Cash:           l.account.Cash(),
		Position:       l.account.Quantity(intent.Symbol),
		ReferencePrice: l.last[intent.Symbol],
	})
	if !decision.Allowed {
		return l.refuse(intent, now, decision.Err)
	}

	view, err := l.book.Open(intent, now)
	if err != nil {
		return order.View{}, err
	}

	err = l.call(ctx, "place "+intent.ID, func(ctx context.Context) error {
		return l.gateway.PlaceOrder(ctx, intent)
	})
	switch {
	case err == nil:
		return view, nil
	case errors.Is(err, exception.ErrBrokerUnavailable):
		l.err = err
		return view, err
	case ctx.Err() != nil:
		return view, ctx.Err()
	}

	cause := errors.Wrap(exception.ErrVenueRejected, err.Error())
	view, rerr := l.book.Reject(intent.ID, now, cause.Error())
	if rerr != nil {
		return order.View{}, rerr
	}
	logs.Errorf("live broker place %s, err: %+v", intent.ID, err)
	return view, reject(intent.ID, cause)
}

func (l *Live) refuse(intent schema.OrderIntent, now time.Time, cause error) (order.View, error) {
	if intent.ID == "" {
		return order.Rejected(intent, now, cause.Error()), reject(intent.ID, cause)
	}
	if _, err := l.book.Open(intent, now); err != nil {
		return order.View{}, err
	}
	view, err := l.book.Reject(intent.ID, now, cause.Error())
	if err != nil {
		return order.View{}, err
	}
	return view, reject(intent.ID, cause)
}

// Cancel asks the venue to cancel. The Cancelled status arrives later as a
// notification.
func (l *Live) Cancel(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, ok := l.book.Get(id)
	if !ok || v.Status.Terminal() {
		return false, nil
	}
	err := l.call(ctx, "cancel "+id, func(ctx context.Context) error {
		return l.gateway.CancelOrder(ctx, id)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, exception.ErrBrokerUnavailable):
		l.err = err
		return false, err
	case ctx.Err() != nil:
		return false, ctx.Err()
	}
	logs.Errorf("live broker cancel %s, err: %+v", id, err)
	return false, nil
}

// call runs fn under the call timeout, retrying timeouts with backoff.
func (l *Live) call(ctx context.Context, what string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
		err := fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, exception.ErrBrokerTimeout) {
			return err
		}
		if attempt >= l.cfg.MaxRetries {
			return errors.Wrapf(exception.ErrBrokerUnavailable, "%s after %d attempts, last: %s", what, attempt+1, err)
		}
		l.metrics.IncRetry()
		wait := l.cfg.Backoff.Next(attempt + 1)
		logs.Infof("live broker %s timed out, retry in %s", what, wait)
		if err := l.sleeper.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Live) OnMarket(ctx context.Context, ev schema.MarketEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.last[ev.Symbol] = ev.Price
	return nil
}

func (l *Live) FillsSince(m Marker) ([]schema.Fill, Marker) {
	l.drain()
	return l.fills.since(m)
}

func (l *Live) UpdatesSince(m Marker) ([]order.View, Marker) {
	l.drain()
	return l.updates.since(m)
}

// Err reports the failure that stopped the broker, if any.
func (l *Live) Err() error {
	return l.err
}

// Duplicates returns how many notifications were discarded as repeats.
func (l *Live) Duplicates() uint64 {
	return l.dropped
}

func (l *Live) drain() {
	l.queue.Drain(func(n Notification) {
		if l.err != nil {
			return
		}
		if err := l.apply(n); err != nil {
			l.err = err
			logs.Errorf("live broker apply %s %s, err: %+v", n.Kind, n.OrderID, err)
		}
	})
}

func (l *Live) apply(n Notification) error {
	if n.Seq <= l.lastSeq[n.OrderID] {
		l.dropped++
		return nil
	}
	v, ok := l.book.Get(n.OrderID)
	if !ok {
		logs.Infof("live broker ignored %s for unknown order %s", n.Kind, n.OrderID)
		return nil
	}
	l.lastSeq[n.OrderID] = n.Seq

	at := n.Timestamp
	if at.Before(l.lastFill) {
		at = l.lastFill
	}

	switch n.Kind {
	case NotificationAccepted:
		return nil
	case NotificationFill:
		view, err := l.book.ApplyFill(n.OrderID, n.Quantity, at)
		if err != nil {
			return err
		}
		l.seq++
		fill := schema.Fill{
			OrderID:   n.OrderID,
			Seq:       l.seq,
			Symbol:    v.Intent.Symbol,
			Side:      v.Intent.Side,
			Quantity:  n.Quantity,
			Price:     n.Price,
			Fee:       n.Fee,
			Timestamp: at,
		}
		if err := l.account.Apply(fill); err != nil {
			return err
		}
		l.lastFill = at
		l.fills.append(fill)
		l.updates.append(view)
	case NotificationRejected:
		reason := n.Reason
		if reason == "" {
			reason = exception.ErrVenueRejected.Error()
		}
		view, err := l.book.Reject(n.OrderID, at, reason)
		if err != nil {
			return err
		}
		l.updates.append(view)
	case NotificationCancelled:
		view, err := l.book.Cancel(n.OrderID, at)
		if err != nil {
			return err
		}
		l.updates.append(view)
	default:
		return errors.Wrapf(exception.ErrTypeUnsupported, "notification kind %d", n.Kind)
	}
	return nil
}

func (l *Live) Order(id string) (order.View, bool) {
	return l.book.Get(id)
}

func (l *Live) Orders() []order.View {
	return l.book.Views()
}

func (l *Live) Positions() []portfolio.Position {
	return l.account.Positions()
}

func (l *Live) Cash() decimal.Decimal {
	return l.account.Cash()
}
