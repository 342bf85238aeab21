package stream

import (
	"slices"
	"sync"

	"github.com/go-orderbook/orderbook-go/trading"
)

type tradeKey struct {
	symbol string
	seq    uint64
}

// TradeBuffer holds the most recent trades, newest first. Trades with a
// non-zero seq already present in the buffer are dropped.
type TradeBuffer struct {
	mu       sync.Mutex
	capacity int
	trades   []trading.Trade
	seen     map[tradeKey]struct{}
}

func NewTradeBuffer(capacity int) *TradeBuffer {
	if capacity <= 0 {
		capacity = 300
	}
	return &TradeBuffer{
		capacity: capacity,
		seen:     make(map[tradeKey]struct{}),
	}
}

// Prepend puts trades in front of the buffer keeping their order, so a
// payload A, B reads [A, B, older...]. It returns how many were added.
func (b *TradeBuffer) Prepend(trades []trading.Trade) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	fresh := make([]trading.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Seq != 0 {
			k := tradeKey{t.Symbol, t.Seq}
			if _, dup := b.seen[k]; dup {
				continue
			}
			b.seen[k] = struct{}{}
		}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return 0
	}

	next := append(fresh, b.trades...)
	if len(next) > b.capacity {
		for _, t := range next[b.capacity:] {
			if t.Seq != 0 {
				delete(b.seen, tradeKey{t.Symbol, t.Seq})
			}
		}
		next = next[:b.capacity]
	}
	b.trades = next
	return len(fresh)
}

// Snapshot returns a copy of the buffer, newest first.
func (b *TradeBuffer) Snapshot() []trading.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.trades)
}

func (b *TradeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trades)
}

func (b *TradeBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = nil
	b.seen = make(map[tradeKey]struct{})
}
