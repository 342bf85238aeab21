package stream

import (
	"bytes"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/go-orderbook/orderbook-go/trading"
)

const (
	frameTrade     = "trade"
	frameSubscribe = "subscribe"
)

// inboundFrame is {"type":"trade","trade":{...}}. Unknown fields are skipped.
type inboundFrame struct {
	Type     string
	Trade    trading.Trade
	hasTrade bool
}

var _ easyjson.Unmarshaler = (*inboundFrame)(nil)

func (f *inboundFrame) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "type":
			f.Type = in.String()
		case "trade":
			decodeTrade(in, &f.Trade)
			f.hasTrade = true
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

func decodeTrade(in *jlexer.Lexer, t *trading.Trade) {
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "symbol":
			t.Symbol = in.String()
		case "price":
			t.Price = in.Uint64()
		case "qty":
			t.Qty = in.Uint64()
		case "side":
			t.Side = in.String()
		case "ts":
			t.Ts = in.Int64()
		case "seq":
			t.Seq = in.Uint64()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

// subscribeFrame is the control frame sent first in SubscribeMessage mode.
type subscribeFrame struct {
	Symbol string
}

var _ easyjson.Marshaler = subscribeFrame{}

func (f subscribeFrame) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"type":`)
	out.String(frameSubscribe)
	out.RawString(`,"symbol":`)
	out.String(f.Symbol)
	out.RawByte('}')
}

// decodePayload splits a payload on newlines and returns the trades it
// carries in payload order, plus the number of lines that were not a valid
// trade frame. Blank lines are ignored.
func decodePayload(payload []byte) (trades []trading.Trade, discarded int) {
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var f inboundFrame
		if err := easyjson.Unmarshal(line, &f); err != nil || f.Type != frameTrade || !f.hasTrade {
			discarded++
			continue
		}
		trades = append(trades, f.Trade)
	}
	return trades, discarded
}
