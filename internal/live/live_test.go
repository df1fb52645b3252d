package live

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/internal/broker"
	"quantix/internal/bus"
	"quantix/internal/clock"
	"quantix/internal/obs"
	"quantix/internal/risk"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

var (
	t0 = time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC)
	d  = decimal.RequireFromString
)

type call struct {
	Method string
	Path   string
	Query  string
	Key    string
	Body   orderRequest
}

type venue struct {
	mu     sync.Mutex
	calls  []call
	handle func(w http.ResponseWriter, r *http.Request, n int)
}

func (v *venue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Key: r.Header.Get(headerKeyID)}
	if raw, _ := io.ReadAll(r.Body); len(raw) != 0 {
		_ = sonic.Unmarshal(raw, &c.Body)
	}
	v.mu.Lock()
	v.calls = append(v.calls, c)
	n := len(v.calls)
	v.mu.Unlock()
	v.handle(w, r, n)
}

func (v *venue) recorded() []call {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]call(nil), v.calls...)
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newGateway(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, n int)) (*RESTGateway, *venue) {
	t.Helper()
	v := &venue{handle: handle}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)
	gw, err := NewRESTGateway(srv.Client(), RESTConfig{BaseURL: srv.URL + "/", Key: "key-1", Secret: "secret-1"})
	require.NoError(t, err)
	return gw, v
}

func TestRESTPlaceOrder(t *testing.T) {
	gw, v := newGateway(t, func(w http.ResponseWriter, r *http.Request, n int) {
		reply(w, http.StatusOK, `{"id":"v-100","client_order_id":"c-1","status":"accepted"}`)
	})

	require.NoError(t, gw.PlaceOrder(context.Background(), schema.Limit("c-1", "AAPL", schema.SideSell, d("5"), d("50.25"))))

	calls := v.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/v2/orders", calls[0].Path)
	assert.Equal(t, "key-1", calls[0].Key)
	assert.Equal(t, orderRequest{
		Symbol: "AAPL", Qty: "5", Side: "sell", Type: "limit", TimeInForce: "day",
		LimitPrice: "50.25", ClientOrderID: "c-1",
	}, calls[0].Body)

	id, ok := gw.VenueID("c-1")
	assert.True(t, ok)
	assert.Equal(t, "v-100", id)
}

func TestRESTErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, exception.ErrBrokerTimeout},
		{http.StatusServiceUnavailable, exception.ErrBrokerTimeout},
		{http.StatusTooManyRequests, exception.ErrBrokerTimeout},
		{http.StatusForbidden, exception.ErrVenueRejected},
		{http.StatusUnprocessableEntity, exception.ErrVenueRejected},
		{http.StatusNotFound, exception.ErrUnknownOrder},
	}
	for _, c := range cases {
		t.Run(http.StatusText(c.status), func(t *testing.T) {
			gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request, n int) {
				reply(w, c.status, `{"code":40010001,"message":"insufficient buying power"}`)
			})
			err := gw.PlaceOrder(context.Background(), schema.Market("c-1", "AAPL", schema.SideBuy, d("1")))
			assert.ErrorIs(t, err, c.want)
			assert.Contains(t, err.Error(), "insufficient buying power")
		})
	}
}

func TestRESTTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request, n int) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := gw.PlaceOrder(ctx, schema.Market("c-1", "AAPL", schema.SideBuy, d("1")))
	assert.ErrorIs(t, err, exception.ErrBrokerTimeout)
}

func TestRESTRetryAfterLandedAttempt(t *testing.T) {
	gw, v := newGateway(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			reply(w, http.StatusBadGateway, `{"message":"upstream"}`)
			return
		}
		reply(w, http.StatusUnprocessableEntity, `{"code":40010001,"message":"client_order_id must be unique"}`)
	})
	intent := schema.Market("c-1", "AAPL", schema.SideBuy, d("1"))

	assert.ErrorIs(t, gw.PlaceOrder(context.Background(), intent), exception.ErrBrokerTimeout)
	assert.NoError(t, gw.PlaceOrder(context.Background(), intent))
	assert.Len(t, v.recorded(), 2)

	// a first attempt refused as a duplicate is still a rejection
	other := schema.Market("c-2", "AAPL", schema.SideBuy, d("1"))
	assert.ErrorIs(t, gw.PlaceOrder(context.Background(), other), exception.ErrVenueRejected)
}

func TestRESTCancel(t *testing.T) {
	gw, v := newGateway(t, func(w http.ResponseWriter, r *http.Request, n int) {
		switch r.Method {
		case http.MethodPost:
			reply(w, http.StatusOK, `{"id":"v-1","client_order_id":"c-1"}`)
		case http.MethodGet:
			reply(w, http.StatusOK, `{"id":"v-2","client_order_id":"c-2"}`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()
	require.NoError(t, gw.PlaceOrder(ctx, schema.Market("c-1", "AAPL", schema.SideBuy, d("1"))))
	require.NoError(t, gw.CancelOrder(ctx, "c-1"))
	require.NoError(t, gw.CancelOrder(ctx, "c-2"))

	calls := v.recorded()
	require.Len(t, calls, 4)
	assert.Equal(t, "/v2/orders/v-1", calls[1].Path)
	assert.Equal(t, "/v2/orders:by_client_order_id", calls[2].Path)
	assert.Equal(t, "client_order_id=c-2", calls[2].Query)
	assert.Equal(t, "/v2/orders/v-2", calls[3].Path)
}

func TestNewRESTGatewayRequiresCredentials(t *testing.T) {
	_, err := NewRESTGateway(nil, RESTConfig{Key: "k"})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func tradeUpdate(t *testing.T, frame string) TradeUpdate {
	t.Helper()
	var msg streamMessage[TradeUpdate]
	require.NoError(t, sonic.Unmarshal([]byte(frame), &msg))
	require.Equal(t, streamTradeUpdates, msg.Stream)
	return msg.Data
}

const (
	newFrame  = `{"stream":"trade_updates","data":{"event":"new","timestamp":"2024-05-01T13:30:01Z","order":{"id":"v-1","client_order_id":"c-1","symbol":"AAPL"}}}`
	fillFrame = `{"stream":"trade_updates","data":{"event":"partial_fill","execution_id":"e-1","price":"101","qty":"4","timestamp":"2024-05-01T13:30:02Z","order":{"id":"v-1","client_order_id":"c-1","symbol":"AAPL"}}}`
	lastFrame = `{"stream":"trade_updates","data":{"event":"fill","execution_id":"e-2","price":"101.5","qty":"6","timestamp":"2024-05-01T13:30:03Z","order":{"id":"v-1","client_order_id":"c-1","symbol":"AAPL"}}}`
)

func TestSequencerAssignsPerOrderSeq(t *testing.T) {
	s := NewSequencer()

	n, ok, err := s.Notification(tradeUpdate(t, newFrame))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, broker.NotificationAccepted, n.Kind)
	assert.Equal(t, uint64(1), n.Seq)

	n, _, err = s.Notification(tradeUpdate(t, fillFrame))
	require.NoError(t, err)
	assert.Equal(t, broker.NotificationFill, n.Kind)
	assert.Equal(t, uint64(2), n.Seq)
	assert.True(t, n.Quantity.Equal(d("4")))
	assert.True(t, n.Price.Equal(d("101")))

	again, _, err := s.Notification(tradeUpdate(t, fillFrame))
	require.NoError(t, err)
	assert.Equal(t, n.Seq, again.Seq, "a redelivered execution keeps its seq")

	n, _, _ = s.Notification(tradeUpdate(t, lastFrame))
	assert.Equal(t, uint64(3), n.Seq)

	_, ok, err = s.Notification(TradeUpdate{Event: "pending_new", Order: orderResponse{ClientOrderID: "c-1"}})
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Notification(TradeUpdate{Event: "fill", Order: orderResponse{ClientOrderID: "c-1"}})
	assert.Error(t, err)
	_, _, err = s.Notification(TradeUpdate{Event: "new"})
	assert.Error(t, err)

	s.Forget("c-1")
	n, _, _ = s.Notification(tradeUpdate(t, newFrame))
	assert.Equal(t, uint64(1), n.Seq)
}

func registry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue(schema.VenueAlpaca)
	require.NoError(t, err)
	_, err = reg.AddInstrument(schema.Instrument{Symbol: "AAPL", Venue: venueID, TickSize: d("0.01"), LotSize: d("1")})
	require.NoError(t, err)
	return reg
}

func TestTradeUpdatesDriveLiveBroker(t *testing.T) {
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request, n int) {
		reply(w, http.StatusOK, `{"id":"v-1","client_order_id":"c-1"}`)
	})
	b, err := broker.NewLive(broker.LiveConfig{InitialCash: d("10000"), Risk: risk.DefaultConfig()}, gw, registry(t), obs.NewMetrics())
	require.NoError(t, err)

	_, err = b.Submit(context.Background(), schema.Market("c-1", "AAPL", schema.SideBuy, d("10")), t0)
	require.NoError(t, err)

	s := NewSequencer()
	sleeper := &clock.NopSleeper{}
	for _, frame := range []string{newFrame, fillFrame, fillFrame, lastFrame} {
		n, ok, err := s.Notification(tradeUpdate(t, frame))
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, deliver(context.Background(), sleeper, b.OnNotification, n))
	}

	fills, _ := b.FillsSince(0)
	require.Len(t, fills, 2)
	assert.True(t, fills[0].Quantity.Add(fills[1].Quantity).Equal(d("10")))
	assert.Equal(t, uint64(1), b.Duplicates())
	v, ok := b.Order("c-1")
	require.True(t, ok)
	assert.True(t, v.Status.Terminal())
	assert.True(t, b.Cash().Equal(d("10000").Sub(d("404")).Sub(d("609"))))
}

func TestDeliverRedeliversWhenFull(t *testing.T) {
	attempts := 0
	sink := func(broker.Notification) error {
		attempts++
		if attempts < 3 {
			return bus.ErrQueueFull
		}
		return nil
	}
	sleeper := &clock.NopSleeper{}
	require.NoError(t, deliver(context.Background(), sleeper, sink, broker.Notification{}))
	assert.Equal(t, 3, attempts)
	assert.Len(t, sleeper.Slept, 2)

	closed := func(broker.Notification) error { return bus.ErrQueueClosed }
	assert.ErrorIs(t, deliver(context.Background(), sleeper, closed, broker.Notification{}), bus.ErrQueueClosed)
}

func TestDecodeMarketMessages(t *testing.T) {
	frame := `[
  {"T":"success","msg":"authenticated"},
  {"T":"t","S":"AAPL","p":170.25,"s":100,"t":"2024-05-01T13:30:00.5Z"},
  {"T":"q","S":"AAPL","bp":170.2,"ap":170.3,"bs":2,"as":3,"t":"2024-05-01T13:30:00.6Z"},
  {"T":"q","S":"AAPL","bp":0,"ap":170.3,"t":"2024-05-01T13:30:00.7Z"},
  {"T":"b","S":"MSFT","o":400,"h":401,"l":399,"c":400.5,"v":1200,"t":"2024-05-01T13:30:00Z"}
]`
	var msgs []MarketMessage
	require.NoError(t, sonic.Unmarshal([]byte(frame), &msgs))
	events, err := DecodeMarketMessages(msgs)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "170.25", events[0].Price.String())
	assert.True(t, events[0].Volume.Valid)
	assert.Equal(t, "170.25", events[1].Price.String(), "quotes trade at the mid")
	assert.True(t, events[1].Bid.Valid && events[1].Ask.Valid)
	assert.Equal(t, "MSFT", events[2].Symbol)
	assert.Equal(t, t0.Add(time.Minute), events[2].Timestamp, "bars are stamped at close")

	_, err = DecodeMarketMessages([]MarketMessage{{T: "error", Code: 402, Msg: "auth failed"}})
	assert.Error(t, err)
	_, err = DecodeMarketMessages([]MarketMessage{{T: "b", Symbol: "X", High: decimal.NewNullDecimal(d("1")), Low: decimal.NewNullDecimal(d("2"))}})
	assert.ErrorIs(t, err, exception.ErrInvalidBar)
}
