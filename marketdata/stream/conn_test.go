package stream

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
)

var (
	errClose        = errors.New("closed")
	errPingDisabled = errors.New("ping disabled")
)

type mockConn struct {
	url          url.URL
	pingCh       chan struct{}
	closeCh      chan struct{}
	closeCount   atomic.Int32
	readCh       chan []byte
	writeCh      chan []byte
	pingDisabled bool
	once         sync.Once
}

var _ conn = (*mockConn)(nil)

func newMockConn() *mockConn {
	return &mockConn{
		pingCh:  make(chan struct{}, 10),
		closeCh: make(chan struct{}),
		readCh:  make(chan []byte, 10),
		writeCh: make(chan []byte, 10),
	}
}

func (c *mockConn) close() error {
	c.closeCount.Add(1)
	c.once.Do(func() {
		close(c.closeCh)
	})
	return nil
}

func (c *mockConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *mockConn) ping(_ context.Context) error {
	if c.pingDisabled {
		return errPingDisabled
	}
	select {
	case <-c.closeCh:
		return errClose
	default:
	}
	c.pingCh <- struct{}{}
	return nil
}

func (c *mockConn) readMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.readCh:
		return data, nil
	case <-c.closeCh:
		return nil, errClose
	}
}

func (c *mockConn) writeMessage(_ context.Context, data []byte) error {
	select {
	case <-c.closeCh:
		return errClose
	default:
	}
	c.writeCh <- data
	return nil
}

// mockDialer hands out the conns pushed to it, one per dial, or fails
// while it has none.
type mockDialer struct {
	mu    sync.Mutex
	conns []*mockConn
	dials []url.URL
	dialC chan *mockConn
}

var errDial = errors.New("dial failed")

func newMockDialer(conns ...*mockConn) *mockDialer {
	return &mockDialer{conns: conns, dialC: make(chan *mockConn, 100)}
}

func (d *mockDialer) dial(_ context.Context, u url.URL) (conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, u)
	if len(d.conns) == 0 {
		return nil, errDial
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	c.url = u
	d.dialC <- c
	return c, nil
}

func (d *mockDialer) push(c *mockConn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}
