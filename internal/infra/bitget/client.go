package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"maker_go/internal/domain"
	"maker_go/internal/gateway"
	"maker_go/internal/infra"
)

// Config holds the Bitget connection settings.
type Config struct {
	RestURL    string
	WSURL      string
	AccessKey  string
	SecretKey  string
	Passphrase string

	PricePrecision  int
	AmountPrecision int
}

// Client is the Bitget V2 spot REST client. Every call flows through the
// rate limiter and the circuit breaker; network failures map onto the
// gateway error taxonomy so the core never sees HTTP details.
type Client struct {
	baseURL string
	httpc   *http.Client
	signer  *Signer
	limiter *infra.RateLimiter
	breaker *infra.CircuitBreaker
	log     *slog.Logger

	pricePrec  int
	amountPrec int
}

// NewClient creates a REST client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL := cfg.RestURL
	if baseURL == "" {
		baseURL = defaultRestURL
	}
	return &Client{
		baseURL:    baseURL,
		httpc:      &http.Client{Timeout: 10 * time.Second},
		signer:     NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.Passphrase),
		limiter:    infra.NewRateLimiter(10, 10),
		breaker:    infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("bitget-rest")),
		log:        log,
		pricePrec:  cfg.PricePrecision,
		amountPrec: cfg.AmountPrecision,
	}
}

// Close wipes the credentials.
func (c *Client) Close() {
	c.signer.Wipe()
}

// apiError is a venue-reported rejection, as opposed to a transport
// failure.
type apiError struct {
	Code string
	Msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bitget api %s: %s", e.Code, e.Msg)
}

// do performs one signed request and decodes data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("bitget: circuit open: %w", gateway.ErrTransport)
	}
	c.limiter.Wait()

	pathWithQuery := path
	if len(query) > 0 {
		pathWithQuery += "?" + query.Encode()
	}

	var bodyStr string
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bitget: marshal body: %w", err)
		}
		bodyStr = string(b)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, reader)
	if err != nil {
		return fmt.Errorf("bitget: build request: %w", err)
	}
	for k, v := range c.signer.Headers(method, pathWithQuery, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("bitget: %s %s: %w", method, path, gateway.ErrTimeout)
		}
		return fmt.Errorf("bitget: %s %s: %v: %w", method, path, err, gateway.ErrTransport)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("bitget: read response: %v: %w", err, gateway.ErrTransport)
	}
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return fmt.Errorf("bitget: http %d: %w", resp.StatusCode, gateway.ErrTransport)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("bitget: decode envelope: %v: %w", err, gateway.ErrTransport)
	}
	if envelope.Code != codeOK {
		// Venue rejections are not transport failures; the breaker stays
		// closed.
		c.breaker.RecordSuccess()
		if envelope.Code == codeOrderNotFound {
			return fmt.Errorf("bitget: %s: %w", envelope.Msg, gateway.ErrNotFound)
		}
		return &apiError{Code: envelope.Code, Msg: envelope.Msg}
	}
	c.breaker.RecordSuccess()

	if out != nil {
		var dataEnvelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &dataEnvelope); err != nil {
			return fmt.Errorf("bitget: decode data: %w", err)
		}
		if err := json.Unmarshal(dataEnvelope.Data, out); err != nil {
			return fmt.Errorf("bitget: decode payload: %w", err)
		}
	}
	return nil
}

func (c *Client) formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', c.pricePrec, 64)
}

func (c *Client) formatAmount(a float64) string {
	return strconv.FormatFloat(a, 'f', c.amountPrec, 64)
}

// CreateOrder places a GTC limit order carrying the client token as
// clientOid. The create response only returns ids, so the result is
// synthesized from the request; callers confirm-fetch for the live view.
func (c *Client) CreateOrder(ctx context.Context, req gateway.CreateRequest) (*domain.Order, error) {
	side := "buy"
	if req.Side == domain.SideSell {
		side = "sell"
	}
	wire := placeOrderRequest{
		Symbol:    req.Symbol,
		Side:      side,
		OrderType: "limit",
		Force:     "gtc",
		Price:     c.formatPrice(req.Price),
		Size:      c.formatAmount(req.Amount),
		ClientOid: req.ClientToken,
	}

	var data placeOrderData
	if err := c.do(ctx, http.MethodPost, "/api/v2/spot/trade/place-order", nil, wire, &data); err != nil {
		return nil, err
	}

	now := time.Now().UnixMicro()
	return &domain.Order{
		ID:            data.OrderID,
		ClientToken:   req.ClientToken,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Amount:        req.Amount,
		Status:        domain.StatusOpen,
		CreatedUnixM:  now,
		LastSeenUnixM: now,
	}, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	wire := cancelOrderRequest{Symbol: symbol, OrderID: orderID}
	return c.do(ctx, http.MethodPost, "/api/v2/spot/trade/cancel-order", nil, wire, nil)
}

// GetOrder fetches the venue view of one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	q := url.Values{"orderId": {orderID}}
	var details []orderDetail
	if err := c.do(ctx, http.MethodGet, "/api/v2/spot/trade/orderInfo", q, nil, &details); err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, gateway.ErrNotFound
	}
	o := details[0].toOrder()
	return &o, nil
}

// GetOrderByClientToken resolves an ambiguous submission by clientOid.
// (nil, nil) means the venue never saw the token.
func (c *Client) GetOrderByClientToken(ctx context.Context, token, symbol string) (*domain.Order, error) {
	q := url.Values{"clientOid": {token}}
	var details []orderDetail
	err := c.do(ctx, http.MethodGet, "/api/v2/spot/trade/orderInfo", q, nil, &details)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, nil
	}
	o := details[0].toOrder()
	return &o, nil
}

// GetOpenOrders lists unfilled orders for a symbol. The nil return on
// failure is the transport-failure signal callers key off.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	q := url.Values{"symbol": {symbol}}
	var details []orderDetail
	if err := c.do(ctx, http.MethodGet, "/api/v2/spot/trade/unfilled-orders", q, nil, &details); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(details))
	for _, d := range details {
		orders = append(orders, d.toOrder())
	}
	return orders, nil
}

// FetchTicker returns the current price snapshot.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	q := url.Values{"symbol": {symbol}}
	var data []tickerData
	if err := c.do(ctx, http.MethodGet, "/api/v2/spot/market/tickers", q, nil, &data); err != nil {
		return domain.Ticker{}, err
	}
	if len(data) == 0 {
		return domain.Ticker{}, fmt.Errorf("bitget: empty ticker for %s", symbol)
	}
	t := data[0]
	return domain.Ticker{
		Symbol:  symbol,
		Last:    parseFloat(t.LastPr),
		BestBid: parseFloat(t.BidPr),
		BestAsk: parseFloat(t.AskPr),
		TsUnixM: time.Now().UnixMicro(),
	}, nil
}

// FetchOrderBook returns a depth snapshot.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	q := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	var data bookData
	if err := c.do(ctx, http.MethodGet, "/api/v2/spot/market/orderbook", q, nil, &data); err != nil {
		return domain.OrderBook{}, err
	}

	book := domain.OrderBook{Symbol: symbol, TsUnixM: parseUnixMilli(data.Ts)}
	for _, lvl := range data.Bids {
		if len(lvl) >= 2 {
			book.Bids = append(book.Bids, domain.OrderBookLevel{
				Price: parseFloat(lvl[0]), Amount: parseFloat(lvl[1]),
			})
		}
	}
	for _, lvl := range data.Asks {
		if len(lvl) >= 2 {
			book.Asks = append(book.Asks, domain.OrderBookLevel{
				Price: parseFloat(lvl[0]), Amount: parseFloat(lvl[1]),
			})
		}
	}
	return book, nil
}

// FetchAssets returns the spot wallet keyed by coin. The live gateway
// maps it onto the configured base/quote pair.
func (c *Client) FetchAssets(ctx context.Context) (map[string]float64, error) {
	var data []assetData
	if err := c.do(ctx, http.MethodGet, "/api/v2/spot/account/assets", nil, nil, &data); err != nil {
		return nil, err
	}
	assets := make(map[string]float64, len(data))
	for _, a := range data {
		assets[a.Coin] = parseFloat(a.Available) + parseFloat(a.Frozen)
	}
	return assets, nil
}
