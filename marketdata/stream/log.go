package stream

import (
	"github.com/google/uuid"

	"github.com/go-orderbook/orderbook-go/logging"
)

// connLog prefixes every line with the symbol and a per-connection id so
// interleaved reconnects can be told apart.
type connLog struct {
	logger logging.Logger
	prefix string
}

func newConnLog(logger logging.Logger, symbol string) *connLog {
	return &connLog{
		logger: logger,
		prefix: "tradestream[" + symbol + " " + uuid.NewString()[:8] + "]: ",
	}
}

func (l *connLog) Debugf(format string, v ...interface{}) { l.logger.Debugf(l.prefix+format, v...) }
func (l *connLog) Infof(format string, v ...interface{})  { l.logger.Infof(l.prefix+format, v...) }
func (l *connLog) Warnf(format string, v ...interface{})  { l.logger.Warnf(l.prefix+format, v...) }
func (l *connLog) Errorf(format string, v ...interface{}) { l.logger.Errorf(l.prefix+format, v...) }

var _ logging.Logger = (*connLog)(nil)
