package stream

import "errors"

var (
	// ErrClosed is returned by Watch after Close.
	ErrClosed = errors.New("trade stream closed")
	// ErrEmptySymbol is returned by Watch for an empty symbol.
	ErrEmptySymbol = errors.New("empty symbol")
	// ErrReconnectLimit is reported through Err once the client gave up
	// reconnecting and entered Disconnected.
	ErrReconnectLimit = errors.New("max reconnect limit has been reached")
)
