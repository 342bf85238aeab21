// Package orders drives order entry and the account queries around it.
package orders

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/query"
	"github.com/go-orderbook/orderbook-go/trading"
)

// API is the part of the REST client the controller uses. *trading.Client
// satisfies it.
type API interface {
	AddOrder(ctx context.Context, req trading.AddOrderRequest) (*trading.OrderResult, error)
	ModifyOrder(ctx context.Context, req trading.ModifyOrderRequest) (*trading.OrderResult, error)
	CancelOrder(ctx context.Context, req trading.CancelOrderRequest) (*trading.OrderResult, error)
	ListMyOrders(ctx context.Context) ([]trading.OpenOrder, error)
	ListTickers(ctx context.Context) (*trading.TickerList, error)
	GetMe(ctx context.Context) (*trading.UserProfile, error)
	Register(ctx context.Context, req trading.RegisterRequest) (*trading.RegisterResponse, error)
	Login(ctx context.Context, req trading.LoginRequest) (*trading.LoginResponse, error)
	AddMoney(ctx context.Context, req trading.AddMoneyRequest) (*trading.AddMoneyResponse, error)
}

// Session stores the credential returned by Login. *session.Holder satisfies it.
type Session interface {
	Set(token string)
	Clear()
}

var (
	KeyOrderBook = query.Key{"orderbook"}
	KeyMyOrders  = query.Key{"my-orders"}
	KeyTickers   = query.Key{"tickers"}
	KeyMe        = query.Key{"me"}
)

var (
	myOrdersOptions = query.Options{RefetchInterval: 2 * time.Second, RefetchOnFocus: true}
	tickersOptions  = query.Options{StaleTime: 30 * time.Second}
	meOptions       = query.Options{RefetchInterval: 5 * time.Second, RefetchOnFocus: true}
)

// Option configures a Controller.
type Option func(*Controller)

// WithIdempotentRetry lets a failed add, modify or cancel be retried n times.
// Every invocation carries an idempotency key, generated if the request has
// none, that is reused across its attempts.
func WithIdempotentRetry(n int, delay time.Duration) Option {
	return func(c *Controller) {
		c.retry = n
		c.retryDelay = delay
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller runs order mutations through the cache and invalidates the
// affected queries whatever the outcome, unless the request never left
// the client.
type Controller struct {
	api     API
	cache   *query.Cache
	session Session
	logger  logging.Logger

	retry      int
	retryDelay time.Duration
	newKey     func() string
}

func NewController(api API, cache *query.Cache, session Session, opts ...Option) *Controller {
	c := &Controller{
		api:        api,
		cache:      cache,
		session:    session,
		logger:     logging.DefaultLogger(),
		retryDelay: 500 * time.Millisecond,
		newKey:     func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable reports whether err may be worth another attempt: transport
// failures, 5xx and 429. Rejections and local validation errors are final.
func retryable(err error) bool {
	if localError(err) {
		return false
	}
	code := trading.StatusCode(err)
	return code == 0 || code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

func (c *Controller) invalidateOrders() {
	c.cache.Invalidate(KeyOrderBook)
	c.cache.Invalidate(KeyMyOrders)
}

// localError reports whether err was raised before anything reached the
// server.
func localError(err error) bool {
	return errors.Is(err, trading.ErrInvalidOrder) || errors.Is(err, trading.ErrUnitsOutOfRange)
}

func (c *Controller) mutate(ctx context.Context, name string, fn func(context.Context) (*trading.OrderResult, error)) (*trading.OrderResult, error) {
	return query.Mutate(ctx, c.cache, fn, query.MutateOptions[*trading.OrderResult]{
		Retry:      c.retry,
		RetryDelay: c.retryDelay,
		RetryIf:    retryable,
		OnSuccess: func(*trading.OrderResult) {
			c.invalidateOrders()
		},
		OnError: func(err error) {
			c.logger.Warnf("orders: %s failed: %v", name, err)
			// The server may have applied the change before failing.
			if !localError(err) {
				c.invalidateOrders()
			}
		},
	})
}

// Add places an order. Price and quantity are in smallest units.
func (c *Controller) Add(ctx context.Context, req trading.AddOrderRequest) (*trading.OrderResult, error) {
	if c.retry > 0 && req.IdempotencyKey == "" {
		req.IdempotencyKey = c.newKey()
	}
	return c.mutate(ctx, "add", func(ctx context.Context) (*trading.OrderResult, error) {
		return c.api.AddOrder(ctx, req)
	})
}

// Modify changes the fields of req that are set.
func (c *Controller) Modify(ctx context.Context, req trading.ModifyOrderRequest) (*trading.OrderResult, error) {
	if c.retry > 0 && req.IdempotencyKey == "" {
		req.IdempotencyKey = c.newKey()
	}
	return c.mutate(ctx, "modify", func(ctx context.Context) (*trading.OrderResult, error) {
		return c.api.ModifyOrder(ctx, req)
	})
}

func (c *Controller) Cancel(ctx context.Context, id uint64) (*trading.OrderResult, error) {
	req := trading.CancelOrderRequest{ID: id}
	if c.retry > 0 {
		req.IdempotencyKey = c.newKey()
	}
	return c.mutate(ctx, "cancel", func(ctx context.Context) (*trading.OrderResult, error) {
		return c.api.CancelOrder(ctx, req)
	})
}

// CancelOrder cancels o unless it is already terminal.
func (c *Controller) CancelOrder(ctx context.Context, o trading.OpenOrder) (*trading.OrderResult, error) {
	if !o.Cancellable() {
		return nil, errOrderClosed
	}
	return c.Cancel(ctx, o.ID)
}

var errOrderClosed = errors.New("order is closed")

// MyOrders fetches the caller's orders.
func (c *Controller) MyOrders(ctx context.Context) ([]trading.OpenOrder, error) {
	s, err := query.Fetch(ctx, c.cache, KeyMyOrders, c.api.ListMyOrders, myOrdersOptions)
	return s.Data, err
}

// WatchMyOrders polls the caller's orders every two seconds.
func (c *Controller) WatchMyOrders(listener func(query.State[[]trading.OpenOrder])) (stop func()) {
	return query.Watch(c.cache, KeyMyOrders, c.api.ListMyOrders, myOrdersOptions, listener)
}

// Tickers returns the ticker list, fetching it at most every 30 seconds.
func (c *Controller) Tickers(ctx context.Context) ([]trading.Ticker, error) {
	if s := query.Get[[]trading.Ticker](c.cache, KeyTickers); s.HasData && !s.Stale {
		return s.Data, nil
	}
	s, err := query.Fetch(ctx, c.cache, KeyTickers, c.fetchTickers, tickersOptions)
	return s.Data, err
}

func (c *Controller) fetchTickers(ctx context.Context) ([]trading.Ticker, error) {
	list, err := c.api.ListTickers(ctx)
	if err != nil {
		return nil, err
	}
	return list.Tickers, nil
}

func (c *Controller) Me(ctx context.Context) (*trading.UserProfile, error) {
	s, err := query.Fetch(ctx, c.cache, KeyMe, c.api.GetMe, meOptions)
	return s.Data, err
}

// WatchMe polls the profile every five seconds.
func (c *Controller) WatchMe(listener func(query.State[*trading.UserProfile])) (stop func()) {
	return query.Watch(c.cache, KeyMe, c.api.GetMe, meOptions, listener)
}
