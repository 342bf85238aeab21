// Package trading is a REST client for the order book server.
package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-orderbook/orderbook-go/internal/backoff"
)

// Credentials supplies the bearer token attached to authenticated calls.
// *session.Holder satisfies it.
type Credentials interface {
	Get() (string, bool)
}

// ClientOpts contains options for the trading client
type ClientOpts struct {
	BaseURL    string
	Timeout    time.Duration
	RetryLimit int
	RetryDelay time.Duration
	// Credentials is read once per request. Nil sends every request unauthenticated.
	Credentials Credentials
	HTTPClient  *http.Client
}

// Client is the order book REST client.
type Client struct {
	opts       ClientOpts
	httpClient *http.Client

	do func(c *Client, req *http.Request) (*http.Response, error)
}

// NewClient creates a new trading client using the given opts.
func NewClient(opts ClientOpts) *Client {
	if opts.BaseURL == "" {
		if s := os.Getenv("ORDERBOOK_API_BASE"); s != "" {
			opts.BaseURL = s
		} else {
			opts.BaseURL = "http://localhost:8080"
		}
	}
	if opts.RetryLimit == 0 {
		opts.RetryLimit = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		opts:       opts,
		httpClient: httpClient,
		do:         defaultDo,
	}
}

const apiPrefix = "/api/v1"

func defaultDo(c *Client, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	for i := 0; ; i++ {
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		// Only requests without a body are safe to send again.
		if resp.StatusCode != http.StatusTooManyRequests || req.Method != http.MethodGet {
			break
		}
		if i >= c.opts.RetryLimit {
			break
		}
		resp.Body.Close()
		if err := backoff.Sleep(req.Context(), c.opts.RetryDelay); err != nil {
			return nil, err
		}
	}

	if err = verify(resp); err != nil {
		return nil, err
	}

	return resp, nil
}

type callOpts struct {
	authenticated  bool
	idempotencyKey string
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, co callOpts) (*http.Request, error) {
	u, err := url.Parse(c.opts.BaseURL + apiPrefix + path)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent())
	if co.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", co.idempotencyKey)
	}
	if co.authenticated && c.opts.Credentials != nil {
		if token, ok := c.opts.Credentials.Get(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, co callOpts) error {
	req, err := c.newRequest(ctx, method, path, body, co)
	if err != nil {
		return err
	}
	resp, err := c.do(c, req)
	if err != nil {
		return err
	}
	if err := unmarshal(resp, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func authed() callOpts { return callOpts{authenticated: true} }

func mutation(key string) callOpts {
	return callOpts{authenticated: true, idempotencyKey: key}
}

// AddOrder submits a new order. A rejected order is returned as a
// *RequestFailedError with status 422.
func (c *Client) AddOrder(ctx context.Context, req AddOrderRequest) (*OrderResult, error) {
	if err := validateAdd(req); err != nil {
		return nil, err
	}
	res := &OrderResult{}
	if err := c.call(ctx, http.MethodPost, "/order/add", req, res, mutation(req.IdempotencyKey)); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) ModifyOrder(ctx context.Context, req ModifyOrderRequest) (*OrderResult, error) {
	if err := validateModify(req); err != nil {
		return nil, err
	}
	res := &OrderResult{}
	if err := c.call(ctx, http.MethodPut, "/order/modify", req, res, mutation(req.IdempotencyKey)); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) CancelOrder(ctx context.Context, req CancelOrderRequest) (*OrderResult, error) {
	if req.ID == 0 {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidOrder)
	}
	res := &OrderResult{}
	if err := c.call(ctx, http.MethodDelete, "/order/cancel", req, res, mutation(req.IdempotencyKey)); err != nil {
		return nil, err
	}
	return res, nil
}

// GetOrderBook returns the aggregated depth for ticker.
func (c *Client) GetOrderBook(ctx context.Context, ticker string) (*OrderBookSnapshot, error) {
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	book := &OrderBookSnapshot{}
	if err := c.call(ctx, http.MethodGet, "/ticker/"+url.PathEscape(ticker)+"/order-list", nil, book, authed()); err != nil {
		return nil, err
	}
	return book, nil
}

func (c *Client) ListTickers(ctx context.Context) (*TickerList, error) {
	list := &TickerList{}
	if err := c.call(ctx, http.MethodGet, "/ticker", nil, list, authed()); err != nil {
		return nil, err
	}
	return list, nil
}

// Register creates an account. It never sends the bearer credential.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	res := &RegisterResponse{}
	if err := c.call(ctx, http.MethodPost, "/user/register", req, res, callOpts{}); err != nil {
		return nil, err
	}
	return res, nil
}

// Login exchanges a username and password for a bearer token. It never sends
// the bearer credential and does not store the returned token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	res := &LoginResponse{}
	if err := c.call(ctx, http.MethodPost, "/user/login", req, res, callOpts{}); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetMe(ctx context.Context) (*UserProfile, error) {
	me := &UserProfile{}
	if err := c.call(ctx, http.MethodGet, "/user", nil, me, authed()); err != nil {
		return nil, err
	}
	return me, nil
}

// ListMyOrders returns the caller's orders, most recent first as sent by the server.
func (c *Client) ListMyOrders(ctx context.Context) ([]OpenOrder, error) {
	orders := []OpenOrder{}
	if err := c.call(ctx, http.MethodGet, "/user/order-list", nil, &orders, authed()); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) AddMoney(ctx context.Context, req AddMoneyRequest) (*AddMoneyResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", req.Amount)
	}
	res := &AddMoneyResponse{}
	if err := c.call(ctx, http.MethodPost, "/user/money", req, res, authed()); err != nil {
		return nil, err
	}
	return res, nil
}

func validateAdd(req AddOrderRequest) error {
	if req.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidOrder)
	}
	if req.Quantity == 0 {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidOrder)
	}
	if req.Side != Bid && req.Side != Ask {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, req.Side)
	}
	if err := CheckUnits("price", req.Price); err != nil {
		return err
	}
	return CheckUnits("quantity", req.Quantity)
}

func validateModify(req ModifyOrderRequest) error {
	if req.ID == 0 {
		return fmt.Errorf("%w: id is required", ErrInvalidOrder)
	}
	if req.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidOrder)
	}
	if req.Quantity != nil {
		if *req.Quantity == 0 {
			return fmt.Errorf("%w: quantity must be > 0", ErrInvalidOrder)
		}
		if err := CheckUnits("quantity", *req.Quantity); err != nil {
			return err
		}
	}
	if req.Price != nil {
		return CheckUnits("price", *req.Price)
	}
	return nil
}

func verify(resp *http.Response) error {
	if resp.StatusCode >= http.StatusMultipleChoices || resp.StatusCode < http.StatusOK {
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return &RequestFailedError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func unmarshal(resp *http.Response, data any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(data)
}
