package terminal

import (
	"sync"

	movingaverage "github.com/RobinUS2/golang-moving-average"

	"github.com/go-orderbook/orderbook-go/trading"
)

// TradeSummary describes the trades seen since the last ticker switch.
type TradeSummary struct {
	// Count is the number of prices in the averaging window.
	Count     int
	Average   float64
	LastPrice uint64
	Volume    uint64
}

// TradeStats keeps a moving average of recent trade prices.
type TradeStats struct {
	window int

	mu      sync.Mutex
	avg     *movingaverage.MovingAverage
	head    trading.Trade
	hasHead bool
	last    uint64
	volume  uint64
}

func NewTradeStats(window int) *TradeStats {
	if window <= 0 {
		window = 20
	}
	return &TradeStats{window: window, avg: movingaverage.New(window)}
}

// Observe takes a newest-first buffer snapshot and adds the trades that are
// newer than the previous snapshot's head.
func (s *TradeStats) Observe(snapshot []trading.Trade) {
	if len(snapshot) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(snapshot)
	if s.hasHead {
		for i, t := range snapshot {
			if t == s.head {
				n = i
				break
			}
		}
	}
	for i := n - 1; i >= 0; i-- {
		s.avg.Add(float64(snapshot[i].Price))
		s.volume += snapshot[i].Qty
	}
	s.head = snapshot[0]
	s.hasHead = true
	s.last = snapshot[0].Price
}

func (s *TradeStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avg = movingaverage.New(s.window)
	s.hasHead = false
	s.last = 0
	s.volume = 0
}

func (s *TradeStats) Summary() TradeSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := TradeSummary{LastPrice: s.last, Volume: s.volume, Count: s.avg.Count()}
	if sum.Count > 0 {
		sum.Average = s.avg.Avg()
	}
	return sum
}
