package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/go-orderbook/orderbook-go/internal/config"
	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/marketdata"
	"github.com/go-orderbook/orderbook-go/marketdata/stream"
	"github.com/go-orderbook/orderbook-go/session"
	"github.com/go-orderbook/orderbook-go/trading"
)

// fakeExchange serves order books over REST and two trades per subscription
// over the websocket.
func fakeExchange(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ticker/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"bids":[{"price":99,"volume":3,"orderCount":1},{"price":100,"volume":1,"orderCount":1}],"asks":[{"price":102,"volume":2,"orderCount":1}],"timestamp":1}`)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_, msg, err := c.Read(ctx)
		if err != nil {
			return
		}
		var sub struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			return
		}
		payload := fmt.Sprintf(
			`{"type":"trade","trade":{"symbol":%q,"price":11,"qty":1,"side":"buy","ts":2,"seq":2}}`+"\n"+
				`{"type":"trade","trade":{"symbol":%q,"price":10,"qty":1,"side":"sell","ts":1,"seq":1}}`,
			sub.Symbol, sub.Symbol)
		if err := c.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
			return
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

type events struct {
	mu     sync.Mutex
	books  []marketdata.BookView
	trades [][]trading.Trade
}

func (e *events) onBook(v marketdata.BookView) {
	e.mu.Lock()
	e.books = append(e.books, v)
	e.mu.Unlock()
}

func (e *events) onTrades(tr []trading.Trade) {
	e.mu.Lock()
	e.trades = append(e.trades, tr)
	e.mu.Unlock()
}

func (e *events) lastBook() (marketdata.BookView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.books) == 0 {
		return marketdata.BookView{}, false
	}
	return e.books[len(e.books)-1], true
}

func (e *events) lastTrades() []trading.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.trades) == 0 {
		return nil
	}
	return e.trades[len(e.trades)-1]
}

func newTestTerminal(t *testing.T) (*Terminal, *events) {
	t.Helper()
	ts := fakeExchange(t)
	ev := &events{}
	term := New(Opts{
		Trading: trading.ClientOpts{BaseURL: ts.URL},
		Book:    marketdata.SynchronizerOpts{PollInterval: 10 * time.Millisecond},
		Depth:   5,
		Store:   &session.MemoryStore{},
		Stream: []stream.Option{
			stream.WithBaseURL("ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"),
		},
		OnBook:   ev.onBook,
		OnTrades: ev.onTrades,
		Logger:   logging.Nop(),
	})
	t.Cleanup(func() { term.Close() })
	return term, ev
}

func TestSetTickerStreamsBookAndTrades(t *testing.T) {
	term, ev := newTestTerminal(t)
	require.NoError(t, term.SetTicker(context.Background(), "AAA"))
	assert.Equal(t, "AAA", term.Ticker())

	require.Eventually(t, func() bool {
		v, ok := ev.lastBook()
		return ok && v.Ticker == "AAA"
	}, 2*time.Second, 5*time.Millisecond)
	v, _ := ev.lastBook()
	best, ok := v.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(100), best.Price)

	require.Eventually(t, func() bool {
		return len(term.Trades()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	trades := term.Trades()
	assert.Equal(t, uint64(2), trades[0].Seq)
	assert.Equal(t, "AAA", trades[0].Symbol)
	assert.Len(t, ev.lastTrades(), 2)

	sum := term.Stats.Summary()
	assert.Equal(t, 2, sum.Count)
	assert.InDelta(t, 10.5, sum.Average, 1e-9)
	assert.Equal(t, uint64(11), sum.LastPrice)
}

func TestSetTickerSwitchesEverything(t *testing.T) {
	term, ev := newTestTerminal(t)
	ctx := context.Background()
	require.NoError(t, term.SetTicker(ctx, "AAA"))
	require.Eventually(t, func() bool { return len(term.Trades()) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, term.SetTicker(ctx, "BBB"))
	assert.Equal(t, map[string]int{"BBB": 1}, term.Books.Stats())

	require.Eventually(t, func() bool {
		tr := ev.lastTrades()
		return len(tr) == 2 && tr[0].Symbol == "BBB"
	}, 2*time.Second, 5*time.Millisecond)
	for _, tr := range term.Trades() {
		assert.Equal(t, "BBB", tr.Symbol)
	}
	require.Eventually(t, func() bool {
		v, ok := ev.lastBook()
		return ok && v.Ticker == "BBB"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSetTickerSameTickerIsNoop(t *testing.T) {
	term, _ := newTestTerminal(t)
	ctx := context.Background()
	require.NoError(t, term.SetTicker(ctx, "AAA"))
	require.NoError(t, term.SetTicker(ctx, "AAA"))
	assert.Equal(t, map[string]int{"AAA": 1}, term.Books.Stats())
	assert.ErrorIs(t, term.SetTicker(ctx, ""), stream.ErrEmptySymbol)
}

func TestLogoutClearsSession(t *testing.T) {
	term, _ := newTestTerminal(t)
	term.Session.Set("tok")
	term.Logout()

	_, ok := term.Session.Get()
	assert.False(t, ok)
	assert.Equal(t, 0, term.Cache.Len())
}

func TestLogoutKeepsMarketData(t *testing.T) {
	term, _ := newTestTerminal(t)
	require.NoError(t, term.SetTicker(context.Background(), "AAA"))
	require.Eventually(t, func() bool { return len(term.Trades()) == 2 }, 2*time.Second, 5*time.Millisecond)
	before := term.Stats.Summary()

	term.Session.Set("tok")
	term.Logout()

	_, ok := term.Session.Get()
	assert.False(t, ok)
	assert.Len(t, term.Trades(), 2)
	assert.Equal(t, before, term.Stats.Summary())

	// A later snapshot of the same buffer adds nothing to the statistics.
	term.Stats.Observe(term.Stream.Trades())
	assert.Equal(t, before, term.Stats.Summary())
}

func TestCloseStopsWorkers(t *testing.T) {
	term, _ := newTestTerminal(t)
	require.NoError(t, term.SetTicker(context.Background(), "AAA"))
	require.NoError(t, term.Close())

	assert.Empty(t, term.Books.Stats())
	assert.Equal(t, stream.Closed, term.Stream.State())
	assert.ErrorIs(t, term.SetTicker(context.Background(), "BBB"), stream.ErrClosed)
	assert.NoError(t, term.Close())
}

func TestOptsFromConfig(t *testing.T) {
	cfg := &config.Config{
		API: config.APIConfig{
			BaseURL:    "http://example.test",
			StreamURL:  "ws://example.test/ws",
			StreamMode: "query",
			Timeout:    time.Second,
		},
		Session: config.SessionConfig{Store: "memory"},
		Book:    config.BookConfig{Depth: 7, PollInterval: time.Second},
	}
	opts, err := OptsFromConfig(cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", opts.Trading.BaseURL)
	assert.Equal(t, 7, opts.Depth)
	assert.Equal(t, time.Second, opts.Book.PollInterval)
	assert.IsType(t, &session.MemoryStore{}, opts.Store)
	assert.Len(t, opts.Stream, 2)

	cfg.Session = config.SessionConfig{Store: "file", Path: t.TempDir() + "/session"}
	opts, err = OptsFromConfig(cfg, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &session.FileStore{}, opts.Store)

	cfg.Session.Store = "redis"
	cfg.Redis = config.RedisConfig{Addr: "localhost:0", Prefix: "test:"}
	opts, err = OptsFromConfig(cfg, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &session.RedisStore{}, opts.Store)
	assert.Len(t, opts.closers, 1)
	require.NoError(t, New(opts).Close())

	cfg.API.StreamMode = "bogus"
	_, err = OptsFromConfig(cfg, logging.Nop())
	assert.Error(t, err)
}
