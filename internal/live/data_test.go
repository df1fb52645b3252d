package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/internal/schema"
	"quantix/pkg/exception"
)

func newDataClient(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, n int)) (*DataClient, *venue) {
	t.Helper()
	v := &venue{handle: handle}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)
	c, err := NewDataClient(srv.Client(), DataConfig{BaseURL: srv.URL, TradingURL: srv.URL + "/", Key: "key-1", Secret: "secret-1", PageLimit: 2})
	require.NoError(t, err)
	return c, v
}

func TestDataBarsFollowsPages(t *testing.T) {
	c, v := newDataClient(t, func(w http.ResponseWriter, r *http.Request, n int) {
		switch r.URL.Query().Get("page_token") {
		case "":
			reply(w, http.StatusOK, `{"symbol":"AAPL","next_page_token":"p2","bars":[
				{"t":"2024-05-01T13:30:00Z","o":100,"h":101,"l":99.5,"c":100.5,"v":1200,"vw":100.2},
				{"t":"2024-05-01T13:31:00Z","o":100.5,"h":102,"l":100,"c":101.75,"v":900,"vw":101.1}]}`)
		case "p2":
			reply(w, http.StatusOK, `{"symbol":"AAPL","next_page_token":null,"bars":[
				{"t":"2024-05-01T13:32:00Z","o":101.75,"h":102,"l":101,"c":101.5,"v":300},
				{"t":"2024-05-01T13:33:00Z","o":101.5,"h":101.5,"l":101,"c":101,"v":100}]}`)
		default:
			reply(w, http.StatusBadRequest, `{"message":"bad token"}`)
		}
	})

	tf := schema.TimeFrame{Amount: 1, Unit: schema.UnitMinute}
	bars, err := c.Bars(context.Background(), "AAPL", tf, t0, t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 3, "the bar opening at the end bound is dropped")

	assert.Equal(t, schema.Bar{
		Timestamp: t0,
		Venue:     schema.VenueAlpaca,
		Symbol:    "AAPL",
		TimeFrame: tf,
		Open:      d("100"),
		High:      d("101"),
		Low:       d("99.5"),
		Close:     d("100.5"),
		Volume:    d("1200"),
		VWAP:      bars[0].VWAP,
	}, bars[0])
	assert.True(t, bars[0].VWAP.Valid)
	assert.True(t, bars[0].VWAP.Decimal.Equal(d("100.2")))
	assert.False(t, bars[2].VWAP.Valid)
	assert.Equal(t, t0.Add(2*time.Minute), bars[2].Timestamp)

	calls := v.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "/v2/stocks/AAPL/bars", calls[0].Path)
	assert.Equal(t, "key-1", calls[0].Key)
	q, err := url.ParseQuery(calls[0].Query)
	require.NoError(t, err)
	assert.Equal(t, "1Min", q.Get("timeframe"))
	assert.Equal(t, "2", q.Get("limit"))
	assert.Equal(t, "iex", q.Get("feed"))
	assert.Equal(t, "2024-05-01T13:30:00Z", q.Get("start"))
	assert.Equal(t, "2024-05-01T13:33:00Z", q.Get("end"))
	q, err = url.ParseQuery(calls[1].Query)
	require.NoError(t, err)
	assert.Equal(t, "p2", q.Get("page_token"))
}

func TestDataBarsErrors(t *testing.T) {
	c, _ := newDataClient(t, func(w http.ResponseWriter, r *http.Request, n int) {
		reply(w, http.StatusOK, `{"symbol":"AAPL","next_page_token":"same","bars":[]}`)
	})
	tf := schema.TimeFrame{Amount: 1, Unit: schema.UnitDay}
	_, err := c.Bars(context.Background(), "AAPL", tf, t0, time.Time{})
	assert.ErrorIs(t, err, exception.ErrInResponseError, "a repeated page token ends the fetch")

	_, err = c.Bars(context.Background(), "", tf, t0, time.Time{})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)

	_, err = c.Bars(context.Background(), "AAPL", schema.TimeFrame{Amount: 2, Unit: schema.UnitDay}, t0, time.Time{})
	assert.ErrorIs(t, err, exception.ErrInvalidTimeFrame)

	bad, _ := newDataClient(t, func(w http.ResponseWriter, r *http.Request, n int) {
		reply(w, http.StatusOK, `{"symbol":"AAPL","bars":[{"t":"2024-05-01T13:30:00Z","o":100,"h":99,"l":98,"c":100,"v":1}]}`)
	})
	_, err = bad.Bars(context.Background(), "AAPL", tf, t0, time.Time{})
	assert.ErrorIs(t, err, exception.ErrInvalidBar)

	_, err = NewDataClient(nil, DataConfig{Key: "k"})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestDataAssets(t *testing.T) {
	c, v := newDataClient(t, func(w http.ResponseWriter, r *http.Request, n int) {
		reply(w, http.StatusOK, `[
			{"symbol":"AAPL","name":"Apple Inc.","class":"us_equity","status":"active","tradable":true},
			{"symbol":"XYZ","name":"","class":"us_equity","status":"inactive","tradable":false},
			{"symbol":"ODD","name":"Odd","class":"unknown","status":"active","tradable":true}]`)
	})

	assets, err := c.Assets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Asset{
		{Symbol: "AAPL", Name: "Apple Inc.-AAPL", Class: schema.AssetEquity, Active: true, Tradable: true},
		{Symbol: "XYZ", Name: "XYZ", Class: schema.AssetEquity},
	}, assets)

	calls := v.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/v2/assets", calls[0].Path)
	q, err := url.ParseQuery(calls[0].Query)
	require.NoError(t, err)
	assert.Equal(t, "active", q.Get("status"))
	assert.Equal(t, "us_equity", q.Get("asset_class"))
}
