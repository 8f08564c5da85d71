package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/domain"
)

const (
	coinbaseDefaultBaseURL = "https://api.exchange.coinbase.com"
	coinbaseDefaultWSURL   = "wss://ws-feed.exchange.coinbase.com"
)

// Coinbase is the REST and stream client for Coinbase Exchange style APIs.
type Coinbase struct {
	name       string
	baseURL    string
	wsURL      string
	auth       crypto.HMACAuth
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewCoinbase creates a Coinbase client. Empty URLs fall back to the public
// Coinbase Exchange endpoints.
func NewCoinbase(cfg Config, httpClient *http.Client, logger *slog.Logger) *Coinbase {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = coinbaseDefaultBaseURL
	}
	ws := cfg.WSURL
	if ws == "" {
		ws = coinbaseDefaultWSURL
	}
	return &Coinbase{
		name:       cfg.Name,
		baseURL:    base,
		wsURL:      ws,
		auth:       cfg.Auth,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "venue"), slog.String("venue", cfg.Name)),
		now:        time.Now,
	}
}

// Venue returns the configured venue name.
func (c *Coinbase) Venue() string { return c.name }

type coinbaseTicker struct {
	Price string    `json:"price"`
	Time  time.Time `json:"time"`
}

type coinbaseOrderRequest struct {
	ClientOID   string `json:"client_oid,omitempty"`
	ProductID   string `json:"product_id"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	TimeInForce string `json:"time_in_force"`
}

type coinbaseOrder struct {
	ID            string `json:"id"`
	ClientOID     string `json:"client_oid"`
	ProductID     string `json:"product_id"`
	Status        string `json:"status"`
	DoneReason    string `json:"done_reason"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
}

type coinbaseError struct {
	Message string `json:"message"`
}

// FetchPrice returns the last trade price for pair.
func (c *Coinbase) FetchPrice(ctx context.Context, pair string) (domain.Quote, error) {
	path := "/products/" + coinbaseProduct(pair) + "/ticker"
	body, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("coinbase: fetch price %s: %w", pair, err)
	}

	var t coinbaseTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return domain.Quote{}, fmt.Errorf("coinbase: decode ticker: %w", err)
	}
	price := parseFloat(t.Price)
	if price <= 0 {
		return domain.Quote{}, fmt.Errorf("coinbase: fetch price %s: %w: price %q", pair, domain.ErrTransient, t.Price)
	}

	observed := c.now().UTC()
	if !t.Time.IsZero() {
		observed = t.Time.UTC()
	}
	return domain.Quote{
		Venue:      c.name,
		Pair:       domain.NormalizePair(pair),
		Price:      price,
		ObservedAt: observed,
	}, nil
}

// PlaceOrder submits a GTC limit order.
func (c *Coinbase) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	payload, err := json.Marshal(coinbaseOrderRequest{
		ClientOID:   req.ClientID,
		ProductID:   coinbaseProduct(req.Pair),
		Side:        string(req.Side),
		Type:        "limit",
		Price:       formatFloat(req.Price),
		Size:        formatFloat(req.Amount),
		TimeInForce: "GTC",
	})
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("coinbase: encode order: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/orders", payload, true)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("coinbase: place order: %w", err)
	}

	var o coinbaseOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("coinbase: decode order: %w", err)
	}
	status := coinbaseStatus(o.Status, o.DoneReason)
	if status == domain.OrderStatusFailed {
		return domain.OrderHandle{}, fmt.Errorf("coinbase: place order: %w: status %s", domain.ErrOrderRejected, o.Status)
	}
	return domain.OrderHandle{ID: o.ID, ClientID: o.ClientOID, Status: status}, nil
}

// CancelOrder cancels an open order. Coinbase answers 404 for orders that
// are already done; that is a refusal, not an error.
func (c *Coinbase) CancelOrder(ctx context.Context, pair, orderID string) (bool, error) {
	q := url.Values{}
	q.Set("product_id", coinbaseProduct(pair))
	path := "/orders/" + url.PathEscape(orderID) + "?" + q.Encode()

	if _, err := c.do(ctx, http.MethodDelete, path, nil, true); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrOrderRejected) {
			c.logger.InfoContext(ctx, "cancel refused by venue",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
			return false, nil
		}
		return false, fmt.Errorf("coinbase: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// GetOrderStatus queries an order and reports its average fill price.
func (c *Coinbase) GetOrderStatus(ctx context.Context, pair, orderID string) (domain.OrderReport, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, true)
	if err != nil {
		return domain.OrderReport{}, fmt.Errorf("coinbase: get order %s: %w", orderID, err)
	}

	var o coinbaseOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.OrderReport{}, fmt.Errorf("coinbase: decode order: %w", err)
	}

	rep := domain.OrderReport{
		Status:       coinbaseStatus(o.Status, o.DoneReason),
		FilledAmount: parseFloat(o.FilledSize),
	}
	if rep.FilledAmount > 0 {
		rep.FilledPrice = parseFloat(o.ExecutedValue) / rep.FilledAmount
	}
	return rep, nil
}

// OpenPriceStream subscribes to the ticker channel for pair.
func (c *Coinbase) OpenPriceStream(ctx context.Context, pair string) (domain.PriceStream, error) {
	norm := domain.NormalizePair(pair)
	product := coinbaseProduct(pair)

	sub, err := json.Marshal(map[string]any{
		"type":        "subscribe",
		"product_ids": []string{product},
		"channels":    []string{"ticker"},
	})
	if err != nil {
		return nil, fmt.Errorf("coinbase: encode subscribe: %w", err)
	}

	parse := func(raw []byte) (domain.Quote, bool, error) {
		var msg struct {
			Type      string    `json:"type"`
			ProductID string    `json:"product_id"`
			Price     string    `json:"price"`
			Time      time.Time `json:"time"`
			Message   string    `json:"message"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return domain.Quote{}, false, fmt.Errorf("coinbase: decode feed message: %w", err)
		}
		switch msg.Type {
		case "ticker":
		case "error":
			return domain.Quote{}, false, fmt.Errorf("coinbase: feed error: %s", msg.Message)
		default:
			return domain.Quote{}, false, nil
		}
		if msg.ProductID != product {
			return domain.Quote{}, false, nil
		}
		price := parseFloat(msg.Price)
		if price <= 0 {
			return domain.Quote{}, false, nil
		}
		observed := msg.Time.UTC()
		if msg.Time.IsZero() {
			observed = c.now().UTC()
		}
		return domain.Quote{Venue: c.name, Pair: norm, Price: price, ObservedAt: observed}, true, nil
	}

	s, err := dialStream(ctx, c.wsURL, sub, parse, c.logger)
	if err != nil {
		return nil, fmt.Errorf("coinbase: open stream %s: %w", pair, err)
	}
	return s, nil
}

// do sends a request, adding CB-ACCESS headers when signed. pathAndQuery is
// signed exactly as sent.
func (c *Coinbase) do(ctx context.Context, method, pathAndQuery string, body []byte, signed bool) ([]byte, error) {
	req, err := newRequest(method, c.baseURL+pathAndQuery, body)
	if err != nil {
		return nil, err
	}
	if signed {
		if c.auth.Key == "" || c.auth.Secret == "" {
			return nil, fmt.Errorf("%w: api key not configured", domain.ErrUnauthorized)
		}
		headers := c.auth.CoinbaseHeadersAt(method, pathAndQuery, string(body), c.now().Unix())
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	return send(ctx, c.httpClient, req, c.classify)
}

func (c *Coinbase) classify(status int, body []byte) error {
	var e coinbaseError
	_ = json.Unmarshal(body, &e)

	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "insufficient funds") {
		return fmt.Errorf("%w: coinbase: %s", domain.ErrOrderRejected, e.Message)
	}
	return statusError("coinbase", status, apiError{Message: e.Message})
}

func coinbaseStatus(status, doneReason string) domain.OrderStatus {
	switch status {
	case "done", "settled":
		switch doneReason {
		case "filled":
			return domain.OrderStatusFilled
		case "canceled":
			return domain.OrderStatusCanceled
		case "rejected":
			return domain.OrderStatusFailed
		}
		return domain.OrderStatusFilled
	case "rejected":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusPending
	}
}
