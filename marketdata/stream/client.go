// Package stream ingests the live trade feed of one symbol at a time.
package stream

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/mailru/easyjson"

	"github.com/go-orderbook/orderbook-go/internal/backoff"
	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/trading"
)

// State is the connection state of the Client.
type State int

const (
	// Closed means no connection is wanted: before Watch, after Close, or
	// after the Watch context ended.
	Closed State = iota
	Connecting
	Open
	// Disconnected means the connection dropped and reconnecting gave up.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats are counters over the lifetime of the Client.
type Stats struct {
	// Received is the number of trades added to the buffer.
	Received uint64
	// Duplicates is the number of trades dropped by (symbol, seq).
	Duplicates uint64
	// Discarded is the number of lines that were not a valid trade frame.
	Discarded   uint64
	Connections uint64
	Reconnects  uint64
}

// Client keeps one connection for the watched symbol and a bounded buffer
// of its recent trades. It is safe for concurrent use.
type Client struct {
	opts   options
	buffer *TradeBuffer

	// switchMu serializes Watch and Close.
	switchMu sync.Mutex

	mu      sync.Mutex
	active  *watch
	epoch   uint64
	state   State
	lastErr error
	closed  bool

	// handlerMu keeps handler calls ordered.
	handlerMu sync.Mutex

	received    atomic.Uint64
	duplicates  atomic.Uint64
	discarded   atomic.Uint64
	connections atomic.Uint64
	reconnects  atomic.Uint64
}

// watch is the lifetime of one Watch call.
type watch struct {
	symbol string
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient returns a Client that is not connected until Watch is called.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.logger == nil {
		o.logger = logging.DefaultLogger()
	}
	if o.tradesHandler == nil {
		o.tradesHandler = func([]trading.Trade) {}
	}
	if o.stateHandler == nil {
		o.stateHandler = func(State) {}
	}
	if o.bufferCapacity <= 0 {
		o.bufferCapacity = 300
	}
	return &Client{
		opts:   o,
		buffer: NewTradeBuffer(o.bufferCapacity),
	}
}

// Watch switches the stream to symbol. The previous connection, if any, is
// closed and its goroutines have exited before the buffer is cleared and the
// new connection starts. Watch does not wait for the new connection; follow
// it through the state handler. Cancelling ctx closes the connection.
func (c *Client) Watch(ctx context.Context, symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.active
	c.active = nil
	c.epoch++
	w := &watch{symbol: symbol, epoch: c.epoch, done: make(chan struct{})}
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	c.buffer.Reset()
	c.emitTrades(nil)

	wctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	c.mu.Lock()
	c.active = w
	c.lastErr = nil
	c.mu.Unlock()

	go func() {
		defer close(w.done)
		c.maintainConnection(wctx, w)
		c.mu.Lock()
		if c.active == w {
			c.active = nil
		}
		c.mu.Unlock()
	}()
	return nil
}

func (w *watch) stop() {
	w.cancel()
	<-w.done
}

// Close closes the connection and waits for its goroutines. Further Watch
// calls return ErrClosed.
func (c *Client) Close() error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool {
	return c.State() == Open
}

// Err returns why the client is Disconnected, if it is.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Symbol returns the watched symbol, or "" once its connection has ended
// for good (Closed or Disconnected).
func (c *Client) Symbol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.symbol
}

// Trades returns the buffered trades, newest first.
func (c *Client) Trades() []trading.Trade {
	return c.buffer.Snapshot()
}

func (c *Client) Stats() Stats {
	return Stats{
		Received:    c.received.Load(),
		Duplicates:  c.duplicates.Load(),
		Discarded:   c.discarded.Load(),
		Connections: c.connections.Load(),
		Reconnects:  c.reconnects.Load(),
	}
}

func (c *Client) constructURL(symbol string) (url.URL, error) {
	u, err := url.Parse(c.opts.baseURL)
	if err != nil {
		return url.URL{}, fmt.Errorf("invalid stream url %q: %w", c.opts.baseURL, err)
	}
	if c.opts.mode == QueryParam {
		q := u.Query()
		q.Set("symbols", symbol)
		u.RawQuery = q.Encode()
	}
	return *u, nil
}

// setState applies st unless w has been superseded.
func (c *Client) setState(w *watch, st State, err error) {
	c.mu.Lock()
	if w.epoch != c.epoch || c.state == st {
		c.mu.Unlock()
		return
	}
	c.state = st
	c.lastErr = err
	c.mu.Unlock()

	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.opts.stateHandler(st)
}

func (c *Client) emitTrades(trades []trading.Trade) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.opts.tradesHandler(trades)
}

func (c *Client) maintainConnection(ctx context.Context, w *watch) {
	log := newConnLog(c.opts.logger, w.symbol)
	policy := c.opts.reconnect

	u, err := c.constructURL(w.symbol)
	if err != nil {
		log.Errorf("%v", err)
		c.setState(w, Disconnected, err)
		return
	}

	var connErr error
	failedAttemptsInARow := 0
	for {
		if ctx.Err() != nil {
			c.setState(w, Closed, nil)
			return
		}
		if failedAttemptsInARow > 0 {
			if policy.Exhausted(failedAttemptsInARow) {
				log.Errorf("max reconnect limit has been reached, last error: %v", connErr)
				c.setState(w, Disconnected, fmt.Errorf("%w, last error: %w", ErrReconnectLimit, connErr))
				return
			}
			c.setState(w, Connecting, nil)
			if err := backoff.Sleep(ctx, policy.Duration(failedAttemptsInARow)); err != nil {
				continue
			}
			c.reconnects.Add(1)
		} else {
			c.setState(w, Connecting, nil)
		}

		log.Infof("connecting to %s, attempt %d/%d ...", u.String(), failedAttemptsInARow+1, policy.Retries+1)
		cn, err := c.opts.connCreator(ctx, u)
		if err != nil {
			connErr = err
			failedAttemptsInARow++
			if ctx.Err() == nil {
				log.Warnf("failed to connect, error: %v", err)
			}
			continue
		}
		oc := &onceConn{conn: cn}

		if c.opts.mode == SubscribeMessage {
			msg, err := easyjson.Marshal(subscribeFrame{Symbol: w.symbol})
			if err == nil {
				err = oc.writeMessage(ctx, msg)
			}
			if err != nil {
				connErr = err
				failedAttemptsInARow++
				oc.close()
				log.Warnf("subscribe failed, error: %v", err)
				continue
			}
		}

		c.connections.Add(1)
		connErr = nil
		failedAttemptsInARow = 0
		log.Infof("established connection")
		c.setState(w, Open, nil)

		wg := sync.WaitGroup{}
		wg.Add(2)
		closeCh := make(chan struct{})
		go c.connPinger(ctx, oc, log, &wg, closeCh)
		go c.connReader(ctx, w, oc, log, &wg, closeCh)
		wg.Wait()

		if ctx.Err() != nil {
			log.Infof("disconnected")
			continue
		}
		log.Warnf("connection lost")
		connErr = fmt.Errorf("connection lost")
		failedAttemptsInARow = 1
	}
}

func (c *Client) connPinger(ctx context.Context, cn conn, log logging.Logger, wg *sync.WaitGroup, closeCh <-chan struct{}) {
	pingTicker := newPingTicker()
	defer func() {
		pingTicker.Stop()
		cn.close()
		wg.Done()
	}()

	for {
		select {
		case <-closeCh:
			return
		case <-ctx.Done():
			return
		case <-pingTicker.C():
			if err := cn.ping(ctx); err != nil {
				if ctx.Err() == nil {
					log.Errorf("ping failed, error: %v", err)
				}
				return
			}
		}
	}
}

func (c *Client) connReader(ctx context.Context, w *watch, cn conn, log logging.Logger, wg *sync.WaitGroup, closeCh chan<- struct{}) {
	defer func() {
		close(closeCh)
		cn.close()
		wg.Done()
	}()

	for {
		msg, err := cn.readMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("reading from conn failed, error: %v", err)
			}
			return
		}
		c.ingest(w, msg, log)
	}
}

// ingest applies one payload to the buffer. Payloads of a superseded watch
// are dropped.
func (c *Client) ingest(w *watch, payload []byte, log logging.Logger) {
	trades, discarded := decodePayload(payload)
	for i := 0; i < len(trades); {
		if trades[i].Symbol != "" && trades[i].Symbol != w.symbol {
			trades = append(trades[:i], trades[i+1:]...)
			discarded++
			continue
		}
		i++
	}
	if discarded > 0 {
		c.discarded.Add(uint64(discarded))
		log.Debugf("discarded %d malformed frame(s)", discarded)
	}
	if len(trades) == 0 {
		return
	}

	c.mu.Lock()
	if w.epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	added := c.buffer.Prepend(trades)
	c.mu.Unlock()

	c.received.Add(uint64(added))
	c.duplicates.Add(uint64(len(trades) - added))
	if added > 0 {
		c.emitTrades(c.buffer.Snapshot())
	}
}
