package live

import (
	"time"

	"github.com/shopspring/decimal"
)

// Alpaca endpoints.
const (
	PaperBaseURL         = "https://paper-api.alpaca.markets"
	LiveBaseURL          = "https://api.alpaca.markets"
	MarketStreamURL      = "wss://stream.data.alpaca.markets/v2/iex"
	PaperTradeUpdatesURL = "wss://paper-api.alpaca.markets/stream"
	LiveTradeUpdatesURL  = "wss://api.alpaca.markets/stream"

	headerKeyID  = "APCA-API-KEY-ID"
	headerSecret = "APCA-API-SECRET-KEY"

	pathOrders         = "/v2/orders"
	pathOrderByClient  = "/v2/orders:by_client_order_id"
	streamTradeUpdates = "trade_updates"
)

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Status         string              `json:"status"`
	Qty            decimal.NullDecimal `json:"qty"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
}

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// streamMessage is a frame of the trading stream.
type streamMessage[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type listenRequest struct {
	Action string     `json:"action"`
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}

type authorization struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

// TradeUpdate is the payload of a trade_updates frame.
type TradeUpdate struct {
	Event       string              `json:"event"`
	ExecutionID string              `json:"execution_id"`
	Order       orderResponse       `json:"order"`
	Timestamp   time.Time           `json:"timestamp"`
	Price       decimal.NullDecimal `json:"price"`
	Qty         decimal.NullDecimal `json:"qty"`
}

// MarketMessage is one element of a market data frame. T selects which fields
// are set: "t" trade, "q" quote, "b" minute bar, "success", "error" and
// "subscription" are control messages.
type MarketMessage struct {
	T         string              `json:"T"`
	Symbol    string              `json:"S"`
	Timestamp time.Time           `json:"t"`
	Price     decimal.NullDecimal `json:"p"`
	Size      decimal.NullDecimal `json:"s"`
	BidPrice  decimal.NullDecimal `json:"bp"`
	AskPrice  decimal.NullDecimal `json:"ap"`
	Open      decimal.NullDecimal `json:"o"`
	High      decimal.NullDecimal `json:"h"`
	Low       decimal.NullDecimal `json:"l"`
	Close     decimal.NullDecimal `json:"c"`
	Volume    decimal.NullDecimal `json:"v"`
	Msg       string              `json:"msg"`
	Code      int                 `json:"code"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
	Bars   []string `json:"bars,omitempty"`
}
