package stream

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// conn represents a websocket connection between the server and the client
type conn interface {
	// close closes the websocket connection
	close() error
	// ping sends a ping to the the server
	ping(ctx context.Context) error
	// readMessage blocks until it reads a single message
	readMessage(ctx context.Context) (data []byte, err error)
	// writeMessage writes a single message
	writeMessage(ctx context.Context, data []byte) error
}

type connCreator func(ctx context.Context, u url.URL) (conn, error)

var (
	dialTimeout    = 3 * time.Second  // Time allowed to establish the connection
	writeWait      = 5 * time.Second  // Time allowed to write a message to the peer
	pongWait       = 5 * time.Second  // Time allowed to read the next pong message from the peer
	pingPeriod     = 10 * time.Second // Send pings to peer with this period
	maxMessageSize = int64(1 << 20)
)

// onceConn closes the wrapped conn at most once; the pinger and the reader
// both close on exit.
type onceConn struct {
	conn
	once sync.Once
	err  error
}

func (c *onceConn) close() error {
	c.once.Do(func() {
		c.err = c.conn.close()
	})
	return c.err
}
