package stream

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-orderbook/orderbook-go/internal/backoff"
	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/trading"
)

// Mode selects how the symbol is announced to the server.
type Mode int

const (
	// SubscribeMessage sends {"type":"subscribe","symbol":S} as the first frame.
	SubscribeMessage Mode = iota
	// QueryParam puts the symbol in the URL as ?symbols=S.
	QueryParam
)

func (m Mode) String() string {
	if m == QueryParam {
		return "query"
	}
	return "subscribe"
}

// ParseMode accepts "subscribe" and "query".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "subscribe", "":
		return SubscribeMessage, nil
	case "query":
		return QueryParam, nil
	}
	return 0, fmt.Errorf("unknown stream mode %q", s)
}

// Option is a configuration option for the Client
type Option interface {
	apply(*options)
}

type options struct {
	logger         logging.Logger
	baseURL        string
	mode           Mode
	reconnect      backoff.Policy
	bufferCapacity int
	tradesHandler  func([]trading.Trade)
	stateHandler   func(State)

	// for testing only
	connCreator connCreator
}

type funcOption struct {
	f func(*options)
}

func (fo *funcOption) apply(o *options) {
	fo.f(o)
}

func newFuncOption(f func(*options)) *funcOption {
	return &funcOption{
		f: f,
	}
}

// WithLogger configures the logger
func WithLogger(logger logging.Logger) Option {
	return newFuncOption(func(o *options) {
		o.logger = logger
	})
}

// WithBaseURL configures the websocket URL
func WithBaseURL(url string) Option {
	return newFuncOption(func(o *options) {
		o.baseURL = url
	})
}

// WithMode configures how the symbol is sent to the server
func WithMode(mode Mode) Option {
	return newFuncOption(func(o *options) {
		o.mode = mode
	})
}

// WithReconnectSettings configures how many consecutive reconnect attempts
// can happen before the client gives up (0 means unlimited) and the bounds
// of the exponential wait between attempts.
func WithReconnectSettings(limit int, base, max time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.reconnect.Retries = limit
		o.reconnect.Base = base
		o.reconnect.Max = max
	})
}

// WithBufferCapacity configures how many recent trades are kept
func WithBufferCapacity(n int) Option {
	return newFuncOption(func(o *options) {
		o.bufferCapacity = n
	})
}

// WithTradesHandler is called with the recent trades, newest first, whenever
// they change. The slice is owned by the handler.
func WithTradesHandler(handler func([]trading.Trade)) Option {
	return newFuncOption(func(o *options) {
		o.tradesHandler = handler
	})
}

// WithStateHandler is called on every connection state change
func WithStateHandler(handler func(State)) Option {
	return newFuncOption(func(o *options) {
		o.stateHandler = handler
	})
}

// WithGorilla uses gorilla/websocket instead of the default implementation
func WithGorilla() Option {
	return newFuncOption(func(o *options) {
		o.connCreator = newGorillaWebsocketConn
	})
}

// WithGobwas uses gobwas/ws instead of the default implementation
func WithGobwas() Option {
	return newFuncOption(func(o *options) {
		o.connCreator = newGobwasWebsocketConn
	})
}

func withConnCreator(cc connCreator) Option {
	return newFuncOption(func(o *options) {
		o.connCreator = cc
	})
}

func defaultOptions() options {
	baseURL := "ws://localhost:8080/ws"
	if s := os.Getenv("ORDERBOOK_WS_URL"); s != "" {
		baseURL = s
	}
	return options{
		logger:  logging.DefaultLogger(),
		baseURL: baseURL,
		mode:    SubscribeMessage,
		reconnect: backoff.Policy{
			Base:    500 * time.Millisecond,
			Max:     30 * time.Second,
			Retries: 10,
			Jitter:  0.5,
		},
		bufferCapacity: 300,
		tradesHandler:  func([]trading.Trade) {},
		stateHandler:   func(State) {},
		connCreator:    newNhooyrWebsocketConn,
	}
}
