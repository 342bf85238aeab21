package stream

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type gorillaWebsocketConn struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer; control frames are exempt.
	writeMu sync.Mutex
}

// newGorillaWebsocketConn creates a new gorilla websocket connection
func newGorillaWebsocketConn(ctx context.Context, u url.URL) (conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		Proxy:            websocket.DefaultDialer.Proxy,
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(pingPeriod + pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pingPeriod + pongWait))
	})

	return &gorillaWebsocketConn{conn: c}, nil
}

// close sends a close frame and closes the underlying connection, which
// unblocks a pending read.
func (c *gorillaWebsocketConn) close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.conn.Close()
}

// ping sends a ping; the pong extends the read deadline.
func (c *gorillaWebsocketConn) ping(_ context.Context) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readMessage blocks until it reads a single message. Cancellation is
// handled by closing the connection.
func (c *gorillaWebsocketConn) readMessage(_ context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pingPeriod + pongWait))
	return data, nil
}

// writeMessage writes a single text message
func (c *gorillaWebsocketConn) writeMessage(_ context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
