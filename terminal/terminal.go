// Package terminal is the application root of a market-data terminal. It
// owns every long-lived component and switches them between tickers together.
package terminal

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/marketdata"
	"github.com/go-orderbook/orderbook-go/marketdata/stream"
	"github.com/go-orderbook/orderbook-go/orders"
	"github.com/go-orderbook/orderbook-go/query"
	"github.com/go-orderbook/orderbook-go/session"
	"github.com/go-orderbook/orderbook-go/trading"
)

// TradesKey is the cache key the streamed trades of symbol are mirrored to.
func TradesKey(symbol string) query.Key {
	return query.Key{"trades", symbol}
}

// Opts configures a Terminal.
type Opts struct {
	Trading trading.ClientOpts
	Book    marketdata.SynchronizerOpts
	// Depth is the number of book levels per side (default 20).
	Depth int
	// Store mirrors the session. Nil keeps it in memory only.
	Store session.Store
	// Stream options are applied after the terminal's own handlers.
	Stream []stream.Option
	// StatsWindow is the moving-average window in trades (default 20).
	StatsWindow int
	Orders      []orders.Option

	OnBook   func(marketdata.BookView)
	OnTrades func([]trading.Trade)
	OnState  func(stream.State)

	Logger logging.Logger
	// closers are released by Close after every worker has stopped.
	closers []io.Closer
}

// Terminal is safe for concurrent use.
type Terminal struct {
	opts Opts

	Session *session.Holder
	Client  *trading.Client
	Cache   *query.Cache
	Books   *marketdata.Synchronizer
	Stream  *stream.Client
	Orders  *orders.Controller
	Stats   *TradeStats

	// switchMu serializes SetTicker and Close.
	switchMu    sync.Mutex
	mu          sync.Mutex
	ticker      string
	unsubscribe func()
	closed      bool
}

func New(opts Opts) *Terminal {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	if opts.Depth <= 0 {
		opts.Depth = 20
	}
	if opts.OnBook == nil {
		opts.OnBook = func(marketdata.BookView) {}
	}
	if opts.OnTrades == nil {
		opts.OnTrades = func([]trading.Trade) {}
	}
	if opts.OnState == nil {
		opts.OnState = func(stream.State) {}
	}
	if opts.Book.Logger == nil {
		opts.Book.Logger = opts.Logger
	}

	t := &Terminal{opts: opts, Stats: NewTradeStats(opts.StatsWindow)}
	t.Session = session.NewHolder(session.HolderOpts{Store: opts.Store, Logger: opts.Logger})
	if opts.Trading.Credentials == nil {
		opts.Trading.Credentials = t.Session
	}
	t.Client = trading.NewClient(opts.Trading)
	t.Cache = query.New(opts.Logger)
	t.Books = marketdata.NewSynchronizer(t.Client, t.Cache, opts.Book)
	t.Orders = orders.NewController(t.Client, t.Cache, t.Session,
		append([]orders.Option{orders.WithLogger(opts.Logger)}, opts.Orders...)...)

	streamOpts := append([]stream.Option{
		stream.WithLogger(opts.Logger),
		stream.WithTradesHandler(t.onTrades),
		stream.WithStateHandler(opts.OnState),
	}, opts.Stream...)
	t.Stream = stream.NewClient(streamOpts...)
	return t
}

// onTrades runs on the stream goroutine with the whole buffer. An empty
// buffer means the stream switched symbols.
func (t *Terminal) onTrades(trades []trading.Trade) {
	if len(trades) == 0 {
		t.Stats.Reset()
	} else if symbol := t.Stream.Symbol(); symbol != "" {
		query.SetData(t.Cache, TradesKey(symbol), trades)
		t.Stats.Observe(trades)
	}
	t.opts.OnTrades(trades)
}

// SetTicker points the book subscription and the trade stream at ticker.
// The previous ticker's poller and connection are stopped first.
func (t *Terminal) SetTicker(ctx context.Context, ticker string) error {
	if ticker == "" {
		return stream.ErrEmptySymbol
	}
	t.switchMu.Lock()
	defer t.switchMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return stream.ErrClosed
	}
	if t.ticker == ticker {
		t.mu.Unlock()
		return nil
	}
	prev := t.unsubscribe
	t.unsubscribe = nil
	t.ticker = ""
	t.mu.Unlock()

	if prev != nil {
		prev()
	}
	if err := t.Stream.Watch(ctx, ticker); err != nil {
		return err
	}
	unsubscribe := t.Books.Subscribe(ticker, t.opts.Depth, t.opts.OnBook)

	t.mu.Lock()
	t.ticker = ticker
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
	t.opts.Logger.Infof("terminal: watching %s", ticker)
	return nil
}

// Ticker returns the active ticker or "".
func (t *Terminal) Ticker() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticker
}

// Trades returns the mirrored trades of the active ticker, newest first.
func (t *Terminal) Trades() []trading.Trade {
	ticker := t.Ticker()
	if ticker == "" {
		return nil
	}
	return query.Get[[]trading.Trade](t.Cache, TradesKey(ticker)).Data
}

// Focus refetches stale queries that refetch on focus.
func (t *Terminal) Focus() {
	t.Cache.NotifyFocus()
}

// Logout drops the credential and every cached response. Market data keeps
// flowing for the active ticker, so the buffered trades are mirrored back
// and the trade statistics are kept.
func (t *Terminal) Logout() {
	t.Orders.Logout()
	if symbol := t.Stream.Symbol(); symbol != "" {
		if trades := t.Stream.Trades(); len(trades) > 0 {
			query.SetData(t.Cache, TradesKey(symbol), trades)
		}
	}
}

// Close stops the poller and the stream and waits for them.
func (t *Terminal) Close() error {
	t.switchMu.Lock()
	defer t.switchMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	t.Books.Close()
	errs := []error{t.Stream.Close()}
	t.Cache.Wait()
	for _, c := range t.opts.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
