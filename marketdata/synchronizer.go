package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/query"
	"github.com/go-orderbook/orderbook-go/trading"
)

// BookFetcher loads one order book snapshot. *trading.Client satisfies it.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, ticker string) (*trading.OrderBookSnapshot, error)
}

// BookKey is the cache key of the snapshot for ticker.
func BookKey(ticker string) query.Key {
	return query.Key{"orderbook", ticker}
}

// SynchronizerOpts configures a Synchronizer.
type SynchronizerOpts struct {
	// PollInterval is the fixed polling cadence (default 700ms).
	PollInterval time.Duration
	// RequestTimeout bounds one snapshot request (default 5s).
	RequestTimeout time.Duration
	Logger         logging.Logger
}

// Synchronizer keeps one poller per ticker shared by all of its subscribers.
type Synchronizer struct {
	fetcher BookFetcher
	cache   *query.Cache
	opts    SynchronizerOpts

	mu      sync.Mutex
	pollers map[string]*poller
}

type poller struct {
	ticker string
	stop   func()
	subs   map[*subscriber]struct{}
	last   query.State[*trading.OrderBookSnapshot]
	// version counts published states so a subscriber never goes back in time.
	version uint64
}

type subscriber struct {
	depth   int
	handler func(BookView)

	mu     sync.Mutex
	closed bool
	seen   uint64
}

func (s *subscriber) deliver(ticker string, version uint64, st query.State[*trading.OrderBookSnapshot]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || version <= s.seen {
		return
	}
	s.seen = version
	v := NewBookView(ticker, st.Data, s.depth)
	v.FetchedAt = st.FetchedAt
	v.Err = st.Err
	s.handler(v)
}

func NewSynchronizer(fetcher BookFetcher, cache *query.Cache, opts SynchronizerOpts) *Synchronizer {
	if opts.PollInterval == 0 {
		opts.PollInterval = 700 * time.Millisecond
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	return &Synchronizer{
		fetcher: fetcher,
		cache:   cache,
		opts:    opts,
		pollers: make(map[string]*poller),
	}
}

// Subscribe calls handler with a view of ticker cut to depth after every
// poll, including failed ones. The first subscriber of a ticker starts its
// poller and the last unsubscribe stops it. handler is never called
// concurrently with itself nor after unsubscribe returns; it must not call
// unsubscribe.
func (s *Synchronizer) Subscribe(ticker string, depth int, handler func(BookView)) (unsubscribe func()) {
	sub := &subscriber{depth: depth, handler: handler}

	s.mu.Lock()
	p, ok := s.pollers[ticker]
	if !ok {
		p = &poller{ticker: ticker, subs: make(map[*subscriber]struct{})}
		s.pollers[ticker] = p
		s.opts.Logger.Infof("marketdata: start polling %s every %v", ticker, s.opts.PollInterval)
		p.stop = query.Watch(s.cache, BookKey(ticker), func(ctx context.Context) (*trading.OrderBookSnapshot, error) {
			return s.fetcher.GetOrderBook(ctx, ticker)
		}, query.Options{
			RefetchInterval: s.opts.PollInterval,
			Timeout:         s.opts.RequestTimeout,
		}, func(st query.State[*trading.OrderBookSnapshot]) {
			s.publish(p, st)
		})
	}
	p.subs[sub] = struct{}{}
	last, version := p.last, p.version
	s.mu.Unlock()

	if version > 0 {
		sub.deliver(ticker, version, last)
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(p, sub) })
	}
}

func (s *Synchronizer) publish(p *poller, st query.State[*trading.OrderBookSnapshot]) {
	if !st.HasData && st.Err == nil {
		return
	}
	if st.Err != nil {
		s.opts.Logger.Warnf("marketdata: poll %s failed: %v", p.ticker, st.Err)
	}

	s.mu.Lock()
	p.last = st
	p.version++
	version := p.version
	subs := make([]*subscriber, 0, len(p.subs))
	for sub := range p.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(p.ticker, version, st)
	}
}

func (s *Synchronizer) unsubscribe(p *poller, sub *subscriber) {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()

	s.mu.Lock()
	delete(p.subs, sub)
	last := len(p.subs) == 0
	if last && s.pollers[p.ticker] == p {
		delete(s.pollers, p.ticker)
	}
	s.mu.Unlock()

	if last {
		p.stop()
		s.opts.Logger.Infof("marketdata: stopped polling %s", p.ticker)
	}
}

// Stats returns the subscriber count of every polled ticker.
func (s *Synchronizer) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.pollers))
	for t, p := range s.pollers {
		out[t] = len(p.subs)
	}
	return out
}

// Close stops every poller. Subscribers receive nothing afterwards.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	pollers := s.pollers
	s.pollers = make(map[string]*poller)
	for _, p := range pollers {
		for sub := range p.subs {
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()
		}
	}
	s.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
}
