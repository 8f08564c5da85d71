package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/domain"
)

const (
	binanceDefaultBaseURL = "https://api.binance.com"
	binanceDefaultWSURL   = "wss://stream.binance.com:9443/ws"
	binanceRecvWindow     = "5000"
)

// Binance error codes that mean the venue declined the order itself.
const (
	binanceCodeOrderRejected  = -2010
	binanceCodeCancelRejected = -2011
	binanceCodeUnknownOrder   = -2013
)

// Binance is the REST and stream client for Binance-style spot APIs.
type Binance struct {
	name       string
	baseURL    string
	wsURL      string
	auth       crypto.HMACAuth
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewBinance creates a Binance client. Empty URLs fall back to the public
// Binance endpoints.
func NewBinance(cfg Config, httpClient *http.Client, logger *slog.Logger) *Binance {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = binanceDefaultBaseURL
	}
	ws := strings.TrimRight(cfg.WSURL, "/")
	if ws == "" {
		ws = binanceDefaultWSURL
	}
	return &Binance{
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
func (b *Binance) Venue() string { return b.name }

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type binanceOrder struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FetchPrice returns the latest trade price for pair.
func (b *Binance) FetchPrice(ctx context.Context, pair string) (domain.Quote, error) {
	q := url.Values{}
	q.Set("symbol", binanceSymbol(pair))

	body, err := b.do(ctx, http.MethodGet, "/api/v3/ticker/price", q, false)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance: fetch price %s: %w", pair, err)
	}

	var t binanceTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return domain.Quote{}, fmt.Errorf("binance: decode ticker: %w", err)
	}
	price := parseFloat(t.Price)
	if price <= 0 {
		return domain.Quote{}, fmt.Errorf("binance: fetch price %s: %w: price %q", pair, domain.ErrTransient, t.Price)
	}

	return domain.Quote{
		Venue:      b.name,
		Pair:       domain.NormalizePair(pair),
		Price:      price,
		ObservedAt: b.now().UTC(),
	}, nil
}

// PlaceOrder submits a GTC limit order.
func (b *Binance) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	q := url.Values{}
	q.Set("symbol", binanceSymbol(req.Pair))
	q.Set("side", strings.ToUpper(string(req.Side)))
	q.Set("type", "LIMIT")
	q.Set("timeInForce", "GTC")
	q.Set("quantity", formatFloat(req.Amount))
	q.Set("price", formatFloat(req.Price))
	if req.ClientID != "" {
		q.Set("newClientOrderId", req.ClientID)
	}

	body, err := b.do(ctx, http.MethodPost, "/api/v3/order", q, true)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("binance: place order: %w", err)
	}

	var o binanceOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("binance: decode order: %w", err)
	}
	status := binanceStatus(o.Status)
	if status == domain.OrderStatusFailed {
		return domain.OrderHandle{}, fmt.Errorf("binance: place order: %w: status %s", domain.ErrOrderRejected, o.Status)
	}

	return domain.OrderHandle{
		ID:       strconv.FormatInt(o.OrderID, 10),
		ClientID: o.ClientOrderID,
		Status:   status,
	}, nil
}

// CancelOrder cancels an open order. A venue refusal (already filled or
// unknown) returns false without an error.
func (b *Binance) CancelOrder(ctx context.Context, pair, orderID string) (bool, error) {
	q := url.Values{}
	q.Set("symbol", binanceSymbol(pair))
	q.Set("orderId", orderID)

	body, err := b.do(ctx, http.MethodDelete, "/api/v3/order", q, true)
	if err != nil {
		if isBinanceCode(err, binanceCodeCancelRejected, binanceCodeUnknownOrder) {
			b.logger.InfoContext(ctx, "cancel refused by venue",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
			return false, nil
		}
		return false, fmt.Errorf("binance: cancel order %s: %w", orderID, err)
	}

	var o binanceOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return false, fmt.Errorf("binance: decode cancel: %w", err)
	}
	return binanceStatus(o.Status) == domain.OrderStatusCanceled, nil
}

// GetOrderStatus queries an order and reports its average fill price.
func (b *Binance) GetOrderStatus(ctx context.Context, pair, orderID string) (domain.OrderReport, error) {
	q := url.Values{}
	q.Set("symbol", binanceSymbol(pair))
	q.Set("orderId", orderID)

	body, err := b.do(ctx, http.MethodGet, "/api/v3/order", q, true)
	if err != nil {
		return domain.OrderReport{}, fmt.Errorf("binance: get order %s: %w", orderID, err)
	}

	var o binanceOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.OrderReport{}, fmt.Errorf("binance: decode order: %w", err)
	}

	rep := domain.OrderReport{
		Status:       binanceStatus(o.Status),
		FilledAmount: parseFloat(o.ExecutedQty),
	}
	if rep.FilledAmount > 0 {
		rep.FilledPrice = parseFloat(o.CummulativeQuoteQty) / rep.FilledAmount
	}
	return rep, nil
}

// OpenPriceStream subscribes to the <symbol>@ticker stream.
func (b *Binance) OpenPriceStream(ctx context.Context, pair string) (domain.PriceStream, error) {
	norm := domain.NormalizePair(pair)
	streamURL := fmt.Sprintf("%s/%s@ticker", b.wsURL, strings.ToLower(binanceSymbol(pair)))

	parse := func(raw []byte) (domain.Quote, bool, error) {
		var msg struct {
			Event     string `json:"e"`
			EventTime int64  `json:"E"`
			Symbol    string `json:"s"`
			Last      string `json:"c"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return domain.Quote{}, false, fmt.Errorf("binance: decode ticker event: %w", err)
		}
		if msg.Event != "24hrTicker" {
			return domain.Quote{}, false, nil
		}
		price := parseFloat(msg.Last)
		if price <= 0 {
			return domain.Quote{}, false, nil
		}
		observed := b.now().UTC()
		if msg.EventTime > 0 {
			observed = time.UnixMilli(msg.EventTime).UTC()
		}
		return domain.Quote{Venue: b.name, Pair: norm, Price: price, ObservedAt: observed}, true, nil
	}

	s, err := dialStream(ctx, streamURL, nil, parse, b.logger)
	if err != nil {
		return nil, fmt.Errorf("binance: open stream %s: %w", pair, err)
	}
	return s, nil
}

// do builds, optionally signs, and sends a request.
func (b *Binance) do(ctx context.Context, method, path string, q url.Values, signed bool) ([]byte, error) {
	if signed {
		if b.auth.Key == "" || b.auth.Secret == "" {
			return nil, fmt.Errorf("%w: api key not configured", domain.ErrUnauthorized)
		}
		q.Set("recvWindow", binanceRecvWindow)
		q.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		encoded := q.Encode()
		path += "?" + encoded + "&signature=" + b.auth.QuerySignature(encoded)
	} else if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := newRequest(method, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if b.auth.Key != "" {
		req.Header.Set("X-MBX-APIKEY", b.auth.Key)
	}
	return send(ctx, b.httpClient, req, b.classify)
}

func (b *Binance) classify(status int, body []byte) error {
	var e binanceError
	_ = json.Unmarshal(body, &e)
	apiErr := apiError{Code: e.Code, Message: e.Msg}

	if status == http.StatusBadRequest {
		switch e.Code {
		case binanceCodeOrderRejected, binanceCodeCancelRejected, binanceCodeUnknownOrder:
			return &binanceCodeError{code: e.Code, err: fmt.Errorf("%w: binance: %s", domain.ErrOrderRejected, e.Msg)}
		}
	}
	return statusError("binance", status, apiErr)
}

// binanceCodeError keeps the numeric venue code next to the domain error.
type binanceCodeError struct {
	code int
	err  error
}

func (e *binanceCodeError) Error() string { return fmt.Sprintf("%v (code %d)", e.err, e.code) }
func (e *binanceCodeError) Unwrap() error { return e.err }

func isBinanceCode(err error, codes ...int) bool {
	var ce *binanceCodeError
	if !errors.As(err, &ce) {
		return false
	}
	for _, c := range codes {
		if ce.code == c {
			return true
		}
	}
	return false
}

func binanceStatus(s string) domain.OrderStatus {
	switch s {
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusPending
	}
}
