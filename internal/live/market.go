package live

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// Publisher accepts market events from any goroutine. *feed.Live is one.
type Publisher interface {
	Publish(schema.MarketEvent) error
}

// Recorder captures events for later replay. *feed.Capture is one.
type Recorder interface {
	Record(ev schema.MarketEvent, recv time.Time) error
}

var (
	half     = decimal.New(5, -1)
	barFrame = schema.TimeFrame{Amount: 1, Unit: schema.UnitMinute}
)

// DecodeMarketMessages turns one market data frame into events. Trades carry
// the trade price and size, quotes the mid price with bid and ask, and minute
// bars become close-stamped events. Control messages are skipped; an error
// message fails the frame.
func DecodeMarketMessages(msgs []MarketMessage) ([]schema.MarketEvent, error) {
	out := make([]schema.MarketEvent, 0, len(msgs))
	for _, m := range msgs {
		switch m.T {
		case "t":
			if !m.Price.Valid {
				continue
			}
			ev := schema.MarketEvent{Symbol: m.Symbol, Timestamp: m.Timestamp.UTC(), Price: m.Price.Decimal}
			if m.Size.Valid {
				ev = ev.WithVolume(m.Size.Decimal)
			}
			out = append(out, ev)
		case "q":
			if !m.BidPrice.Valid || !m.AskPrice.Valid || !m.BidPrice.Decimal.IsPositive() || !m.AskPrice.Decimal.IsPositive() {
				continue
			}
			mid := m.BidPrice.Decimal.Add(m.AskPrice.Decimal).Mul(half)
			out = append(out, schema.MarketEvent{Symbol: m.Symbol, Timestamp: m.Timestamp.UTC(), Price: mid}.
				Quote(m.BidPrice.Decimal, m.AskPrice.Decimal))
		case "b":
			bar := schema.Bar{
				Timestamp: m.Timestamp.UTC(),
				Symbol:    m.Symbol,
				TimeFrame: barFrame,
				Open:      m.Open.Decimal,
				High:      m.High.Decimal,
				Low:       m.Low.Decimal,
				Close:     m.Close.Decimal,
				Volume:    m.Volume.Decimal,
			}
			if err := bar.Validate(); err != nil {
				return nil, errors.Wrapf(err, "bar %s at %s", m.Symbol, m.Timestamp)
			}
			out = append(out, bar.Event())
		case "error":
			return nil, errors.Wrapf(exception.ErrWebSocketProtocol, "market stream error %d: %s", m.Code, m.Msg)
		}
	}
	return out, nil
}

// MarketStreamConfig lists the stream endpoint and subscriptions.
type MarketStreamConfig struct {
	URL    string
	Key    string
	Secret string
	Trades []string
	Quotes []string
	Bars   []string
}

// MarketStream feeds Alpaca market data into a Publisher.
type MarketStream struct {
	wss *ws.WebSocket
	cfg MarketStreamConfig
	now func() time.Time
}

func NewMarketStream(ctx context.Context, cfg MarketStreamConfig) *MarketStream {
	if cfg.URL == "" {
		cfg.URL = MarketStreamURL
	}
	return &MarketStream{
		wss: ws.New(ctx, cfg.URL),
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MarketStream) Len() int {
	return s.wss.Len()
}

func (s *MarketStream) Close() {
	s.wss.Close()
}

func controlReply(m ws.Message) ([]MarketMessage, bool) {
	var msgs []MarketMessage
	err := m.Unmarshal(&msgs)
	return msgs, err == nil
}

// Start connects, authenticates and subscribes.
func (s *MarketStream) Start(ctx context.Context) error {
	if err := s.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start market wss")
	}

	appendIntoRegister := true
	if err := s.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, conn *ws.WebSocket) error {
			if err := conn.WriteJSON(authRequest{Action: "auth", Key: s.cfg.Key, Secret: s.cfg.Secret}); err != nil {
				return errors.Wrap(err, "write auth payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			msgs, ok := controlReply(m)
			if !ok {
				return false, nil
			}
			for _, msg := range msgs {
				switch {
				case msg.T == "success" && msg.Msg == "authenticated":
					return true, nil
				case msg.T == "error":
					return false, errors.Errorf("market stream auth %d: %s", msg.Code, msg.Msg)
				}
			}
			return false, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "authenticate market stream")
	}

	if err := s.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, conn *ws.WebSocket) error {
			payload := subscribeRequest{Action: "subscribe", Trades: s.cfg.Trades, Quotes: s.cfg.Quotes, Bars: s.cfg.Bars}
			if err := conn.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			msgs, ok := controlReply(m)
			if !ok {
				return false, nil
			}
			for _, msg := range msgs {
				switch msg.T {
				case "subscription":
					return true, nil
				case "error":
					return false, errors.Errorf("market stream subscribe %d: %s", msg.Code, msg.Msg)
				}
			}
			return false, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "subscribe market stream")
	}

	logs.Infof("market stream subscribed, trades %v, quotes %v, bars %v", s.cfg.Trades, s.cfg.Quotes, s.cfg.Bars)
	return nil
}

// Observe publishes decoded events until ctx ends or the process shuts down.
// rec may be nil. A full publisher drops the event; the feed counts the drop.
func (s *MarketStream) Observe(ctx context.Context, pub Publisher, rec Recorder) (unsubscribe func()) {
	ch, cancel := s.wss.Subscribe()

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
				var msgs []MarketMessage
				if err := m.Unmarshal(&msgs); err != nil {
					continue
				}
				events, err := DecodeMarketMessages(msgs)
				if err != nil {
					logs.Errorf("decode market frame, err: %+v", err)
					continue
				}
				recv := s.now()
				for _, ev := range events {
					if rec != nil {
						if err := rec.Record(ev, recv); err != nil {
							logs.Errorf("capture %s, err: %+v", ev.Symbol, err)
						}
					}
					_ = pub.Publish(ev)
				}
			}
		}
	}()

	return cancel
}
