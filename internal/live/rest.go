package live

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"quantix/internal/errors"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

const maxErrorBody = 4 << 10

// RESTConfig configures the order gateway.
type RESTConfig struct {
	BaseURL string
	Key     string
	Secret  string
	// TimeInForce is sent with every order; empty means "day".
	TimeInForce string
}

// RESTGateway places and cancels orders over the Alpaca trading REST API. It
// implements broker.Gateway.
//
// Timeouts, transport failures, 429 and 5xx answers are ErrBrokerTimeout so
// the broker retries them; any other 4xx is ErrVenueRejected.
type RESTGateway struct {
	api
	tif string

	mu        sync.Mutex
	venueIDs  map[string]string
	attempted map[string]struct{}
}

func NewRESTGateway(client *http.Client, cfg RESTConfig) (*RESTGateway, error) {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "rest gateway: key and secret are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = PaperBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "rest gateway base url %q", base)
	}
	tif := cfg.TimeInForce
	if tif == "" {
		tif = "day"
	}
	return &RESTGateway{
		api:       api{name: "rest gateway", client: client, base: base, key: cfg.Key, secret: cfg.Secret},
		tif:       tif,
		venueIDs:  make(map[string]string),
		attempted: make(map[string]struct{}),
	}, nil
}

func alpacaType(t schema.OrderType) (string, error) {
	switch t {
	case schema.OrderTypeMarket:
		return "market", nil
	case schema.OrderTypeLimit:
		return "limit", nil
	case schema.OrderTypeStop:
		return "stop", nil
	default:
		return "", errors.Wrapf(exception.ErrInvalidType, "%d", t)
	}
}

func (g *RESTGateway) PlaceOrder(ctx context.Context, intent schema.OrderIntent) error {
	typ, err := alpacaType(intent.Type)
	if err != nil {
		return err
	}
	body := orderRequest{
		Symbol:        intent.Symbol,
		Qty:           intent.Quantity.String(),
		Side:          intent.Side.String(),
		Type:          typ,
		TimeInForce:   g.tif,
		ClientOrderID: intent.ID,
	}
	switch intent.Type {
	case schema.OrderTypeLimit:
		body.LimitPrice = intent.Price.String()
	case schema.OrderTypeStop:
		body.StopPrice = intent.Price.String()
	}

	g.mu.Lock()
	_, retried := g.attempted[intent.ID]
	g.attempted[intent.ID] = struct{}{}
	g.mu.Unlock()

	var resp orderResponse
	err = g.do(ctx, http.MethodPost, pathOrders, nil, body, &resp)
	if err != nil {
		// a timed out attempt may have landed; the venue then refuses the repeat
		if retried && errors.Is(err, exception.ErrVenueRejected) && strings.Contains(err.Error(), "unique") {
			logs.Infof("rest gateway %s already placed by an earlier attempt", intent.ID)
			return nil
		}
		return err
	}
	g.remember(intent.ID, resp.ID)
	return nil
}

func (g *RESTGateway) CancelOrder(ctx context.Context, id string) error {
	venueID, ok := g.VenueID(id)
	if !ok {
		var resp orderResponse
		q := url.Values{"client_order_id": []string{id}}
		if err := g.do(ctx, http.MethodGet, pathOrderByClient, q, nil, &resp); err != nil {
			return errors.Wrapf(err, "resolve %s", id)
		}
		venueID = resp.ID
		g.remember(id, venueID)
	}
	return g.do(ctx, http.MethodDelete, pathOrders+"/"+url.PathEscape(venueID), nil, nil, nil)
}

// VenueID returns the venue's order id for a client order id.
func (g *RESTGateway) VenueID(clientID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.venueIDs[clientID]
	return id, ok
}

func (g *RESTGateway) remember(clientID, venueID string) {
	if venueID == "" {
		return
	}
	g.mu.Lock()
	g.venueIDs[clientID] = venueID
	g.mu.Unlock()
}

// api is an authenticated JSON client for one Alpaca host.
type api struct {
	name   string
	client *http.Client
	base   string
	key    string
	secret string
}

func (g *api) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := sonic.ConfigFastest.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	target := g.base + path
	if len(query) != 0 {
		target += "?" + query.Encode()
	}
	r, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	r.Header.Set(headerKeyID, g.key)
	r.Header.Set(headerSecret, g.secret)
	r.Header.Set("Accept", "application/json")
	if in != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := g.client.Do(r)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(exception.ErrBrokerTimeout, "%s %s: %s", method, path, ctx.Err())
		}
		return errors.Wrapf(exception.ErrBrokerTimeout, "%s %s: %s", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "decode %s %s", method, path)
		}
		return nil
	}

	var apiErr errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := sonic.ConfigFastest.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	detail := method + " " + path + ": " + resp.Status
	if apiErr.Message != "" {
		detail += ": " + apiErr.Message
	}
	logs.Errorf("%s %s after %s", g.name, detail, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.Wrap(exception.ErrBrokerTimeout, detail)
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrap(exception.ErrUnknownOrder, detail)
	default:
		return errors.Wrap(exception.ErrVenueRejected, detail)
	}
}
