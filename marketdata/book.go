package marketdata

import (
	"slices"
	"time"

	"github.com/go-orderbook/orderbook-go/trading"
)

// BookView is a normalized order book ready for display: bids best (highest)
// first, asks best (lowest) first, each side cut to the requested depth.
type BookView struct {
	Ticker    string
	Bids      []trading.PriceLevel
	Asks      []trading.PriceLevel
	Timestamp int64
	// FetchedAt is when the snapshot was received.
	FetchedAt time.Time
	// Err is set when the latest poll failed; the levels are then those of
	// the last good snapshot.
	Err error
}

// NewBookView sorts and truncates snap without modifying it. A depth of zero
// or less keeps every level. Levels sharing a price are kept as they are.
func NewBookView(ticker string, snap *trading.OrderBookSnapshot, depth int) BookView {
	v := BookView{Ticker: ticker}
	if snap == nil {
		return v
	}
	v.Timestamp = snap.Timestamp
	v.Bids = normalize(snap.Bids, depth, func(a, b trading.PriceLevel) int { return cmpPrice(b.Price, a.Price) })
	v.Asks = normalize(snap.Asks, depth, func(a, b trading.PriceLevel) int { return cmpPrice(a.Price, b.Price) })
	return v
}

func normalize(levels []trading.PriceLevel, depth int, cmp func(a, b trading.PriceLevel) int) []trading.PriceLevel {
	out := slices.Clone(levels)
	slices.SortStableFunc(out, cmp)
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}

func cmpPrice(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (v BookView) BestBid() (trading.PriceLevel, bool) {
	if len(v.Bids) == 0 {
		return trading.PriceLevel{}, false
	}
	return v.Bids[0], true
}

func (v BookView) BestAsk() (trading.PriceLevel, bool) {
	if len(v.Asks) == 0 {
		return trading.PriceLevel{}, false
	}
	return v.Asks[0], true
}

// Spread is best ask minus best bid. It is negative for a crossed book and
// undefined when either side is empty.
func (v BookView) Spread() (int64, bool) {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return int64(ask.Price) - int64(bid.Price), true
}

func (v BookView) HasSpread() bool {
	_, ok := v.Spread()
	return ok
}

func (v BookView) MaxBidVolume() uint64 { return maxVolume(v.Bids) }

func (v BookView) MaxAskVolume() uint64 { return maxVolume(v.Asks) }

func maxVolume(levels []trading.PriceLevel) uint64 {
	var m uint64
	for _, l := range levels {
		m = max(m, l.Volume)
	}
	return m
}

// DepthRatio scales level against the largest volume on its side, in [0, 1].
func (v BookView) DepthRatio(level trading.PriceLevel, side trading.Side) float64 {
	m := v.MaxBidVolume()
	if side == trading.Ask {
		m = v.MaxAskVolume()
	}
	if m == 0 {
		return 0
	}
	return float64(level.Volume) / float64(m)
}
