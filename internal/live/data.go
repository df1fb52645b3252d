package live

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"quantix/internal/errors"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

const (
	DataBaseURL = "https://data.alpaca.markets"

	pathAssets       = "/v2/assets"
	defaultBarsLimit = 10000
	defaultDataFeed  = "iex"
)

// DataConfig configures the historical data client.
type DataConfig struct {
	// BaseURL is the market data host, DataBaseURL when empty.
	BaseURL string
	// TradingURL serves the asset list, PaperBaseURL when empty.
	TradingURL string
	Key        string
	Secret     string
	// Feed is "iex" or "sip"; empty means "iex".
	Feed string
	// PageLimit caps the bars per page; zero means 10000.
	PageLimit int
}

// DataClient downloads historical bars and the asset list.
type DataClient struct {
	data    api
	trading api
	feed    string
	limit   int
}

func NewDataClient(client *http.Client, cfg DataConfig) (*DataClient, error) {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "data client: key and secret are required")
	}
	dataBase, err := baseURL(cfg.BaseURL, DataBaseURL)
	if err != nil {
		return nil, err
	}
	tradingBase, err := baseURL(cfg.TradingURL, PaperBaseURL)
	if err != nil {
		return nil, err
	}
	feed := cfg.Feed
	if feed == "" {
		feed = defaultDataFeed
	}
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = defaultBarsLimit
	}
	return &DataClient{
		data:    api{name: "data client", client: client, base: dataBase, key: cfg.Key, secret: cfg.Secret},
		trading: api{name: "data client", client: client, base: tradingBase, key: cfg.Key, secret: cfg.Secret},
		feed:    feed,
		limit:   limit,
	}, nil
}

func baseURL(raw, fallback string) (string, error) {
	base := strings.TrimRight(raw, "/")
	if base == "" {
		return fallback, nil
	}
	if _, err := url.Parse(base); err != nil {
		return "", errors.Wrapf(exception.ErrInvalidArgument, "data client base url %q", base)
	}
	return base, nil
}

type barsResponse struct {
	Bars          []barMessage `json:"bars"`
	Symbol        string       `json:"symbol"`
	NextPageToken *string      `json:"next_page_token"`
}

type barMessage struct {
	Timestamp time.Time           `json:"t"`
	Open      decimal.Decimal     `json:"o"`
	High      decimal.Decimal     `json:"h"`
	Low       decimal.Decimal     `json:"l"`
	Close     decimal.Decimal     `json:"c"`
	Volume    decimal.Decimal     `json:"v"`
	VWAP      decimal.NullDecimal `json:"vw"`
}

// Bars returns the symbol's bars in [from, to), following page tokens until
// the venue has no more. Bars come back oldest first.
func (c *DataClient) Bars(ctx context.Context, symbol string, tf schema.TimeFrame, from, to time.Time) ([]schema.Bar, error) {
	if symbol == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "bars: symbol is empty")
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{
		"timeframe":  []string{tf.Value()},
		"limit":      []string{strconv.Itoa(c.limit)},
		"feed":       []string{c.feed},
		"adjustment": []string{"raw"},
	}
	if !from.IsZero() {
		q.Set("start", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("end", to.UTC().Format(time.RFC3339))
	}
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/bars"

	var (
		out   []schema.Bar
		pages int
		seen  = make(map[string]struct{})
	)
	for {
		var resp barsResponse
		if err := c.data.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, errors.Wrapf(err, "bars %s page %d", symbol, pages+1)
		}
		pages++
		for _, m := range resp.Bars {
			bar := schema.Bar{
				Timestamp: m.Timestamp.UTC(),
				Venue:     schema.VenueAlpaca,
				Symbol:    symbol,
				TimeFrame: tf,
				Open:      m.Open,
				High:      m.High,
				Low:       m.Low,
				Close:     m.Close,
				Volume:    m.Volume,
				VWAP:      m.VWAP,
			}
			if !to.IsZero() && !bar.Timestamp.Before(to) {
				continue
			}
			if err := bar.Validate(); err != nil {
				return nil, errors.Wrapf(err, "bars %s at %s", symbol, bar.Timestamp.Format(time.RFC3339))
			}
			out = append(out, bar)
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		token := *resp.NextPageToken
		if _, dup := seen[token]; dup {
			return nil, errors.Wrapf(exception.ErrInResponseError, "bars %s: page token %q repeated", symbol, token)
		}
		seen[token] = struct{}{}
		q.Set("page_token", token)
	}
	logs.Infof("data client fetched %d %s bars of %s in %d pages", len(out), tf.Value(), symbol, pages)
	return out, nil
}

// Asset is a tradable instrument listed by the venue.
type Asset struct {
	Symbol   string
	Name     string
	Class    schema.AssetClass
	Active   bool
	Tradable bool
}

type assetMessage struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Class    string `json:"class"`
	Status   string `json:"status"`
	Tradable bool   `json:"tradable"`
}

func assetClass(raw string) (schema.AssetClass, bool) {
	switch raw {
	case "us_equity":
		return schema.AssetEquity, true
	case "us_option":
		return schema.AssetOption, true
	case "crypto":
		return schema.AssetCrypto, true
	default:
		return "", false
	}
}

// Assets lists the active US equities. Assets of a class the engine does not
// know are skipped.
func (c *DataClient) Assets(ctx context.Context) ([]Asset, error) {
	q := url.Values{"status": []string{"active"}, "asset_class": []string{"us_equity"}}
	var resp []assetMessage
	if err := c.trading.do(ctx, http.MethodGet, pathAssets, q, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "assets")
	}
	out := make([]Asset, 0, len(resp))
	for _, m := range resp {
		class, ok := assetClass(m.Class)
		if !ok {
			continue
		}
		name := m.Symbol
		if m.Name != "" {
			name = m.Name + "-" + m.Symbol
		}
		out = append(out, Asset{
			Symbol:   m.Symbol,
			Name:     name,
			Class:    class,
			Active:   m.Status == "active",
			Tradable: m.Tradable,
		})
	}
	return out, nil
}
