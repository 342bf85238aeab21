package trading

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	}
	return fmt.Sprintf("Side(%d)", int8(s))
}

type OrderType int8

const (
	FillAndKill OrderType = iota
	GoodTillCancel
)

// Form names used by order entry.
const (
	Market = FillAndKill
	Limit  = GoodTillCancel
)

func (t OrderType) String() string {
	switch t {
	case FillAndKill:
		return "MARKET"
	case GoodTillCancel:
		return "LIMIT"
	}
	return fmt.Sprintf("OrderType(%d)", int8(t))
}

// ParseOrderType maps "LIMIT" and "MARKET" (any case) to an OrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return Limit, nil
	case "MARKET":
		return Market, nil
	}
	return 0, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, s)
}

type PriceLevel struct {
	Price      uint64 `json:"price"`
	Volume     uint64 `json:"volume"`
	OrderCount int    `json:"orderCount"`
}

type OrderBookSnapshot struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// Trade is a single execution published on the trade stream.
type Trade struct {
	Symbol string `json:"symbol"`
	Price  uint64 `json:"price"`
	Qty    uint64 `json:"qty"`
	Side   string `json:"side"`
	Ts     int64  `json:"ts"`
	Seq    uint64 `json:"seq"`
}

// Time converts Ts (unix milliseconds).
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.Ts)
}

// OpenOrder is the server's order record. Field names follow the server.
type OpenOrder struct {
	ID             uint64    `json:"ID"`
	UserID         int64     `json:"UserID"`
	Ticker         string    `json:"Ticker"`
	TickerID       int64     `json:"TickerID"`
	Side           Side      `json:"Side"`
	TickerLedgerID int64     `json:"TickerLedgerID"`
	Type           OrderType `json:"Type"`
	Quantity       uint64    `json:"Quantity"`
	Filled         uint64    `json:"Filled"`
	Price          uint64    `json:"Price"`
	IsActive       bool      `json:"IsActive"`
	CreatedAt      string    `json:"CreatedAt"`
	ClosedAt       *string   `json:"ClosedAt"`
}

// Terminal reports whether the order can no longer trade.
func (o OpenOrder) Terminal() bool {
	return !o.IsActive || o.ClosedAt != nil
}

func (o OpenOrder) Cancellable() bool {
	return !o.Terminal()
}

func (o OpenOrder) Remaining() uint64 {
	if o.Filled >= o.Quantity {
		return 0
	}
	return o.Quantity - o.Filled
}

type Ticker struct {
	ID     int64  `json:"id"`
	Ticker string `json:"ticker"`
}

type TickerList struct {
	Tickers []Ticker `json:"tickers"`
}

type UserProfile struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	CreatedAt time.Time       `json:"created_at"`
	Balance   decimal.Decimal `json:"balance"`
}

func (p UserProfile) MemberSince() civil.Date {
	return civil.DateOf(p.CreatedAt)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AddMoneyRequest struct {
	Amount int64 `json:"amount"`
}

type AddMoneyResponse struct {
	Message string `json:"message"`
}

type AddOrderRequest struct {
	Side     Side      `json:"side"`
	Price    uint64    `json:"price"`
	Quantity uint64    `json:"quantity"`
	Type     OrderType `json:"type"`
	Ticker   string    `json:"ticker"`

	// IdempotencyKey is sent as the Idempotency-Key header when set.
	IdempotencyKey string `json:"-"`
}

// ModifyOrderRequest changes a resting order. Nil fields are left unchanged.
type ModifyOrderRequest struct {
	ID       uint64     `json:"id"`
	Price    *uint64    `json:"price,omitempty"`
	Quantity *uint64    `json:"quantity,omitempty"`
	Type     *OrderType `json:"type,omitempty"`
	Ticker   string     `json:"ticker,omitempty"`

	IdempotencyKey string `json:"-"`
}

type CancelOrderRequest struct {
	ID uint64 `json:"id"`

	IdempotencyKey string `json:"-"`
}

const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// OrderResult is returned by add, modify and cancel.
type OrderResult struct {
	OrderID uint64 `json:"orderId"`
	Trades  []Fill `json:"trades,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r OrderResult) Accepted() bool {
	return r.Status == StatusAccepted
}

type Fill struct {
	MakerID   uint64    `json:"MakerID"`
	TakerID   uint64    `json:"TakerID"`
	Price     uint64    `json:"Price"`
	Quantity  uint64    `json:"Quantity"`
	Timestamp time.Time `json:"Timestamp"`
}
