package live

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"quantix/internal/broker"
	"quantix/internal/bus"
	"quantix/internal/clock"
	"quantix/pkg/exception"
)

// Sink receives decoded order notifications. broker.Live.OnNotification is the
// usual sink; bus.ErrQueueFull makes the stream redeliver.
type Sink func(broker.Notification) error

// Sequencer turns venue trade updates into notifications with a per-order Seq.
// A repeated update (same execution id, or same status event) gets the Seq it
// was first given, so the broker discards it as a duplicate.
type Sequencer struct {
	mu   sync.Mutex
	next map[string]uint64
	seen map[string]uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[string]uint64), seen: make(map[string]uint64)}
}

// Notification converts u. ok is false for events the broker does not track,
// such as pending_new or replaced.
func (s *Sequencer) Notification(u TradeUpdate) (n broker.Notification, ok bool, err error) {
	id := u.Order.ClientOrderID
	if id == "" {
		return broker.Notification{}, false, errors.Wrapf(exception.ErrWebSocketProtocol, "trade update %s without client order id", u.Event)
	}

	n = broker.Notification{OrderID: id, Timestamp: u.Timestamp.UTC(), Reason: u.Event}
	key := id + "/" + u.Event
	switch u.Event {
	case "new":
		n.Kind = broker.NotificationAccepted
	case "fill", "partial_fill":
		if !u.Qty.Valid || !u.Price.Valid {
			return broker.Notification{}, false, errors.Wrapf(exception.ErrWebSocketProtocol, "%s on %s without qty or price", u.Event, id)
		}
		n.Kind = broker.NotificationFill
		n.Quantity = u.Qty.Decimal
		n.Price = u.Price.Decimal
		n.Fee = decimal.Zero
		n.Reason = ""
		key = id + "/x/" + u.ExecutionID
		if u.ExecutionID == "" {
			key = id + "/x/" + u.Timestamp.UTC().Format(time.RFC3339Nano) + "/" + u.Qty.Decimal.String()
		}
	case "canceled", "expired", "done_for_day":
		n.Kind = broker.NotificationCancelled
		key = id + "/cancelled"
	case "rejected":
		n.Kind = broker.NotificationRejected
	default:
		return broker.Notification{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, dup := s.seen[key]; dup {
		n.Seq = seq
		return n, true, nil
	}
	s.next[id]++
	n.Seq = s.next[id]
	s.seen[key] = n.Seq
	return n, true, nil
}

// Forget drops the state kept for a finished order.
func (s *Sequencer) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, id)
	prefix := id + "/"
	for k := range s.seen {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(s.seen, k)
		}
	}
}

// TradeUpdates listens to the trade_updates stream and forwards notifications.
type TradeUpdates struct {
	wss     *ws.WebSocket
	key     string
	secret  string
	seq     *Sequencer
	sleeper clock.Sleeper
}

func NewTradeUpdates(ctx context.Context, url, key, secret string) *TradeUpdates {
	if url == "" {
		url = PaperTradeUpdatesURL
	}
	return &TradeUpdates{
		wss:     ws.New(ctx, url),
		key:     key,
		secret:  secret,
		seq:     NewSequencer(),
		sleeper: clock.RealSleeper{},
	}
}

func (t *TradeUpdates) Close() {
	t.wss.Close()
}

// Start connects, authenticates and listens. Both requests are registered so
// they are replayed on reconnect.
func (t *TradeUpdates) Start(ctx context.Context) error {
	if err := t.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start trade updates wss")
	}

	appendIntoRegister := true
	if err := t.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, conn *ws.WebSocket) error {
			payload := authRequest{Action: "auth", Key: t.key, Secret: t.secret}
			if err := conn.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write auth payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var msg streamMessage[authorization]
			if err := m.Unmarshal(&msg); err != nil || msg.Stream != "authorization" {
				return false, nil
			}
			if msg.Data.Status != "authorized" {
				return false, errors.Errorf("trade updates auth: %s", msg.Data.Status)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "authenticate trade updates")
	}

	if err := t.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, conn *ws.WebSocket) error {
			payload := listenRequest{Action: "listen", Data: listenData{Streams: []string{streamTradeUpdates}}}
			if err := conn.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write listen payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var msg streamMessage[listenData]
			if err := m.Unmarshal(&msg); err != nil || msg.Stream != "listening" {
				return false, nil
			}
			for _, s := range msg.Data.Streams {
				if s == streamTradeUpdates {
					return true, nil
				}
			}
			return false, errors.Errorf("trade updates listen: got %v", msg.Data.Streams)
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "listen trade updates")
	}
	return nil
}

// Observe forwards every trade update to sink until ctx ends or the process
// shuts down.
func (t *TradeUpdates) Observe(ctx context.Context, sink Sink) (unsubscribe func()) {
	ch, cancel := t.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg streamMessage[TradeUpdate]
				if err := m.Unmarshal(&msg); err != nil || msg.Stream != streamTradeUpdates {
					continue
				}
				n, ok, err := t.seq.Notification(msg.Data)
				if err != nil {
					logs.Errorf("decode trade update, err: %+v", err)
					continue
				}
				if !ok {
					continue
				}
				if err := deliver(ctx, t.sleeper, sink, n); err != nil {
					logs.Errorf("deliver %s %s, err: %+v", n.Kind, n.OrderID, err)
					return
				}
			}
		}
	}()

	return cancel
}

const redeliverWait = 5 * time.Millisecond

// deliver retries while the sink's queue is full. A closed queue ends delivery.
func deliver(ctx context.Context, sleeper clock.Sleeper, sink Sink, n broker.Notification) error {
	for {
		err := sink(n)
		if err != bus.ErrQueueFull {
			return err
		}
		if err := sleeper.Sleep(ctx, redeliverWait); err != nil {
			return err
		}
	}
}
