package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errMessageTooLarge = errors.New("message too large")

type gobwasWebsocketConn struct {
	conn net.Conn
	// src is the handshake reader when the server sent data right behind
	// the upgrade, the raw conn otherwise.
	src io.Reader

	writeMu sync.Mutex
}

// lockedWriter lets the read side answer control frames without racing
// the pinger.
type lockedWriter struct {
	c *gobwasWebsocketConn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	_ = w.c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.conn.Write(p)
}

func newGobwasWebsocketConn(ctx context.Context, u url.URL) (conn, error) {
	dialer := ws.Dialer{Timeout: dialTimeout}
	c, br, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return nil, err
	}
	gc := &gobwasWebsocketConn{conn: c, src: c}
	if br != nil {
		gc.src = br
	}
	return gc, nil
}

func (c *gobwasWebsocketConn) close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *gobwasWebsocketConn) ping(_ context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteClientMessage(c.conn, ws.OpPing, nil)
}

func (c *gobwasWebsocketConn) extendDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pingPeriod + pongWait))
}

// readMessage returns the next text or binary message. Pings are answered
// and pongs extend the read deadline along the way.
func (c *gobwasWebsocketConn) readMessage(_ context.Context) ([]byte, error) {
	c.extendDeadline()
	control := wsutil.ControlFrameHandler(lockedWriter{c}, ws.StateClientSide)
	handle := func(h ws.Header, r io.Reader) error {
		if h.OpCode == ws.OpPong {
			c.extendDeadline()
		}
		return control(h, r)
	}
	rd := &wsutil.Reader{
		Source:         c.src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: handle,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := handle(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.Length > maxMessageSize {
			return nil, errMessageTooLarge
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(io.LimitReader(rd, maxMessageSize))
	}
}

func (c *gobwasWebsocketConn) writeMessage(_ context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteClientText(c.conn, data)
}
