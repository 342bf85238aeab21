package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/trading"
)

const tradeA = `{"type":"trade","trade":{"symbol":"AAA","price":100,"qty":1,"side":"buy","ts":1,"seq":1}}`

type recorder struct {
	mu     sync.Mutex
	states []State
	trades [][]trading.Trade
}

func (r *recorder) onState(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) onTrades(t []trading.Trade) {
	r.mu.Lock()
	r.trades = append(r.trades, t)
	r.mu.Unlock()
}

func (r *recorder) lastTrades() []trading.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.trades) == 0 {
		return nil
	}
	return r.trades[len(r.trades)-1]
}

func (r *recorder) stateList() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func usePingTicker(t *testing.T) *testTicker {
	tt := newTestTicker()
	orig := newPingTicker
	newPingTicker = func() ticker { return tt }
	t.Cleanup(func() { newPingTicker = orig })
	return tt
}

func newTestClient(t *testing.T, d *mockDialer, rec *recorder, opts ...Option) *Client {
	usePingTicker(t)
	base := []Option{
		WithBaseURL("ws://example.test/ws"),
		WithLogger(logging.Nop()),
		WithReconnectSettings(3, time.Millisecond, 5*time.Millisecond),
		withConnCreator(d.dial),
		WithStateHandler(rec.onState),
		WithTradesHandler(rec.onTrades),
	}
	c := NewClient(append(base, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitDial(t *testing.T, d *mockDialer) *mockConn {
	t.Helper()
	select {
	case c := <-d.dialC:
		return c
	case <-time.After(time.Second):
		t.Fatal("no dial")
		return nil
	}
}

func TestWatchSubscribeMode(t *testing.T) {
	d := newMockDialer(newMockConn())
	rec := &recorder{}
	c := newTestClient(t, d, rec)

	require.NoError(t, c.Watch(context.Background(), "AAA"))
	mc := waitDial(t, d)
	assert.Equal(t, "ws://example.test/ws", mc.url.String())

	select {
	case msg := <-mc.writeCh:
		assert.JSONEq(t, `{"type":"subscribe","symbol":"AAA"}`, string(msg))
	case <-time.After(time.Second):
		require.Fail(t, "no subscribe frame")
	}
	assert.Eventually(t, c.Connected, time.Second, time.Millisecond)
	assert.Equal(t, "AAA", c.Symbol())

	mc.readCh <- []byte(tradeA)
	assert.Eventually(t, func() bool { return len(rec.lastTrades()) == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 100, c.Trades()[0].Price)
	assert.Equal(t, []State{Connecting, Open}, rec.stateList())
}

func TestWatchQueryParamMode(t *testing.T) {
	d := newMockDialer(newMockConn())
	c := newTestClient(t, d, &recorder{}, WithMode(QueryParam))

	require.NoError(t, c.Watch(context.Background(), "A B"))
	mc := waitDial(t, d)
	assert.Equal(t, "A B", mc.url.Query().Get("symbols"))
	assert.Eventually(t, c.Connected, time.Second, time.Millisecond)
	assert.Empty(t, mc.writeCh)
}

func TestMultiLinePayloadOrder(t *testing.T) {
	d := newMockDialer(newMockConn())
	rec := &recorder{}
	c := newTestClient(t, d, rec, WithMode(QueryParam))
	require.NoError(t, c.Watch(context.Background(), "AAA"))
	mc := waitDial(t, d)

	mc.readCh <- []byte(`{"type":"trade","trade":{"symbol":"AAA","price":1,"qty":1,"seq":1}}`)
	mc.readCh <- []byte(`{"type":"trade","trade":{"symbol":"AAA","price":2,"qty":1,"seq":2}}` + "\n" +
		`{"type":"trade","trade":{"symbol":"AAA","price":3,"qty":1,"seq":3}}`)
	assert.Eventually(t, func() bool { return len(c.Trades()) == 3 }, time.Second, time.Millisecond)

	got := c.Trades()
	assert.Equal(t, []uint64{2, 3, 1}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
}

func TestSwitchSymbolClosesPreviousOnce(t *testing.T) {
	aaa, bbb := newMockConn(), newMockConn()
	d := newMockDialer(aaa, bbb)
	rec := &recorder{}
	c := newTestClient(t, d, rec, WithMode(QueryParam))

	require.NoError(t, c.Watch(context.Background(), "AAA"))
	waitDial(t, d)
	aaa.readCh <- []byte(tradeA)
	assert.Eventually(t, func() bool { return len(c.Trades()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Watch(context.Background(), "BBB"))
	// The old connection is gone before Watch returns.
	assert.True(t, aaa.closed())
	assert.EqualValues(t, 1, aaa.closeCount.Load())
	assert.Empty(t, c.Trades())
	assert.Empty(t, rec.lastTrades())

	next := waitDial(t, d)
	assert.Equal(t, "BBB", next.url.Query().Get("symbols"))
	assert.Eventually(t, c.Connected, time.Second, time.Millisecond)

	// Late AAA data never reaches BBB state.
	aaa.readCh <- []byte(tradeA)
	bbb.readCh <- []byte(`{"type":"trade","trade":{"symbol":"BBB","price":5,"qty":1,"seq":1}}`)
	assert.Eventually(t, func() bool { return len(c.Trades()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	got := c.Trades()
	require.Len(t, got, 1)
	assert.Equal(t, "BBB", got[0].Symbol)
	assert.Equal(t, 2, d.dialCount())
	assert.EqualValues(t, 1, aaa.closeCount.Load())
}

func TestMismatchedSymbolDiscarded(t *testing.T) {
	d := newMockDialer(newMockConn())
	c := newTestClient(t, d, &recorder{}, WithMode(QueryParam))
	require.NoError(t, c.Watch(context.Background(), "BBB"))
	mc := waitDial(t, d)

	mc.readCh <- []byte(tradeA)
	assert.Eventually(t, func() bool { return c.Stats().Discarded == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, c.Trades())
}

func TestDiscardAndDuplicateCounters(t *testing.T) {
	d := newMockDialer(newMockConn())
	c := newTestClient(t, d, &recorder{}, WithMode(QueryParam))
	require.NoError(t, c.Watch(context.Background(), "AAA"))
	mc := waitDial(t, d)

	mc.readCh <- []byte("garbage")
	mc.readCh <- []byte(tradeA)
	mc.readCh <- []byte(tradeA)
	assert.Eventually(t, func() bool {
		s := c.Stats()
		return s.Discarded == 1 && s.Received == 1 && s.Duplicates == 1
	}, time.Second, time.Millisecond)
	assert.True(t, c.Connected())
	assert.Len(t, c.Trades(), 1)
}

func TestReconnectKeepsBuffer(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	d := newMockDialer(first, second)
	rec := &recorder{}
	c := newTestClient(t, d, rec, WithMode(QueryParam))
	require.NoError(t, c.Watch(context.Background(), "AAA"))
	waitDial(t, d)
	first.readCh <- []byte(tradeA)
	assert.Eventually(t, func() bool { return len(c.Trades()) == 1 }, time.Second, time.Millisecond)

	first.close()
	waitDial(t, d)
	assert.Eventually(t, func() bool { return c.Stats().Reconnects == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, c.Connected, time.Second, time.Millisecond)
	assert.Len(t, c.Trades(), 1)
	assert.EqualValues(t, 2, c.Stats().Connections)
}

func TestReconnectLimitDisconnects(t *testing.T) {
	d := newMockDialer()
	rec := &recorder{}
	c := newTestClient(t, d, rec)
	require.NoError(t, c.Watch(context.Background(), "AAA"))

	assert.Eventually(t, func() bool { return c.State() == Disconnected }, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Err(), ErrReconnectLimit)
	assert.ErrorIs(t, c.Err(), errDial)
	// The first attempt plus three retries.
	assert.Equal(t, 4, d.dialCount())
	assert.Equal(t, []State{Connecting, Disconnected}, rec.stateList())
	assert.Eventually(t, func() bool { return c.Symbol() == "" }, time.Second, time.Millisecond)
}

func TestPing(t *testing.T) {
	d := newMockDialer(newMockConn())
	rec := &recorder{}
	c := newTestClient(t, d, rec, WithMode(QueryParam))
	tt := newTestTicker()
	newPingTicker = func() ticker { return tt }

	require.NoError(t, c.Watch(context.Background(), "AAA"))
	mc := waitDial(t, d)
	tt.Tick()
	select {
	case <-mc.pingCh:
	case <-time.After(time.Second):
		require.Fail(t, "no ping")
	}
}

func TestPingFailureReconnects(t *testing.T) {
	bad := newMockConn()
	bad.pingDisabled = true
	d := newMockDialer(bad, newMockConn())
	c := newTestClient(t, d, &recorder{}, WithMode(QueryParam))
	tt := newTestTicker()
	newPingTicker = func() ticker { return tt }

	require.NoError(t, c.Watch(context.Background(), "AAA"))
	waitDial(t, d)
	tt.Tick()
	waitDial(t, d)
	assert.True(t, bad.closed())
	assert.Eventually(t, c.Connected, time.Second, time.Millisecond)
}

func TestCloseAndContextCancel(t *testing.T) {
	d := newMockDialer(newMockConn(), newMockConn())
	rec := &recorder{}
	c := newTestClient(t, d, rec, WithMode(QueryParam))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Watch(ctx, "AAA"))
	mc := waitDial(t, d)
	assert.Eventually(t, c.Connected, time.Second, time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool { return c.State() == Closed }, time.Second, time.Millisecond)
	assert.True(t, mc.closed())
	assert.Eventually(t, func() bool { return c.Symbol() == "" }, time.Second, time.Millisecond)

	require.NoError(t, c.Watch(context.Background(), "AAA"))
	assert.Equal(t, "AAA", c.Symbol())
	mc = waitDial(t, d)
	require.NoError(t, c.Close())
	assert.True(t, mc.closed())
	assert.Equal(t, Closed, c.State())
	assert.ErrorIs(t, c.Watch(context.Background(), "AAA"), ErrClosed)
	require.NoError(t, c.Close())
}

func TestWatchEmptySymbol(t *testing.T) {
	c := newTestClient(t, newMockDialer(), &recorder{})
	assert.ErrorIs(t, c.Watch(context.Background(), ""), ErrEmptySymbol)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "State(9)", State(9).String())
}
