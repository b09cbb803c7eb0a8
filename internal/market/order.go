// Package market implements per-goods order books and a continuous double auction.
package market

import (
	"errors"
	"fmt"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
)

var (
	// ErrInvalidOrder is wrapped by every order validation failure.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderNotFound is returned when cancelling an unknown or closed order.
	ErrOrderNotFound = errors.New("order not found")
)

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarshalText encodes the side as "buy" or "sell".
func (s Side) MarshalText() ([]byte, error) {
	if s != Buy && s != Sell {
		return nil, fmt.Errorf("unknown side %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes "buy" or "sell".
func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType uint8

const (
	Limit OrderType = iota
	MarketOrder
)

func (t OrderType) String() string {
	if t == MarketOrder {
		return "market"
	}
	return "limit"
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusOpen      Status = "open"
	StatusPartial   Status = "partial"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Order is a buy or sell instruction for one goods market.
// Remaining only ever decreases and never exceeds Quantity.
type Order struct {
	ID          string            `json:"id"`
	Side        Side              `json:"side"`
	Type        OrderType         `json:"-"`
	GoodsID     catalog.GoodsID   `json:"goods_id"`
	OwnerID     economy.CompanyID `json:"owner_id"`
	LimitPrice  float64           `json:"limit_price"` // Protection price for market orders, 0 = none
	Quantity    float64           `json:"quantity"`
	Remaining   float64           `json:"remaining_quantity"`
	Status      Status            `json:"status"`
	CreatedTick uint64            `json:"created_tick"`
	ExpiryTick  uint64            `json:"expiry_tick,omitempty"` // 0 = good till cancelled
	Tag         string            `json:"tag,omitempty"`         // Origin: player, auto, ai, consumer

	seq uint64
}

// Filled returns the executed quantity.
func (o *Order) Filled() float64 {
	return o.Quantity - o.Remaining
}

// Active reports whether the order can still trade.
func (o *Order) Active() bool {
	return o.Status == StatusOpen || o.Status == StatusPartial
}

// Expired reports whether the order has reached its expiry tick.
func (o *Order) Expired(tick uint64) bool {
	return o.ExpiryTick > 0 && tick >= o.ExpiryTick
}

// crosses reports whether a resting price satisfies this order's limit.
func (o *Order) crosses(restingPrice float64) bool {
	if o.Type == MarketOrder && o.LimitPrice <= 0 {
		return true
	}
	if o.Side == Buy {
		return restingPrice <= o.LimitPrice
	}
	return restingPrice >= o.LimitPrice
}

// before is the time-priority rule: creation tick, then insertion sequence.
func (o *Order) before(other *Order) bool {
	if o.CreatedTick != other.CreatedTick {
		return o.CreatedTick < other.CreatedTick
	}
	return o.seq < other.seq
}

func (o *Order) validate(tick uint64) error {
	if o.GoodsID == "" {
		return fmt.Errorf("%w: missing goods id", ErrInvalidOrder)
	}
	if o.OwnerID == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidOrder)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: unknown side", ErrInvalidOrder)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %g", ErrInvalidOrder, o.Quantity)
	}
	if o.Type == Limit && o.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price must be positive, got %g", ErrInvalidOrder, o.LimitPrice)
	}
	if o.LimitPrice < 0 {
		return fmt.Errorf("%w: negative price", ErrInvalidOrder)
	}
	if o.ExpiryTick != 0 && o.ExpiryTick <= tick {
		return fmt.Errorf("%w: expiry tick %d not after current tick %d", ErrInvalidOrder, o.ExpiryTick, tick)
	}
	return nil
}

// Trade is an immutable settlement record.
type Trade struct {
	ID          string            `json:"id"`
	GoodsID     catalog.GoodsID   `json:"goods_id"`
	BuyerID     economy.CompanyID `json:"buyer_company_id"`
	SellerID    economy.CompanyID `json:"seller_company_id"`
	BuyOrderID  string            `json:"buy_order_id"`
	SellOrderID string            `json:"sell_order_id"`
	Price       float64           `json:"price"`
	Quantity    float64           `json:"quantity"`
	Tick        uint64            `json:"tick"`
	Aggressor   Side              `json:"aggressor"`
}

// Notional is price times quantity.
func (t Trade) Notional() float64 {
	return t.Price * t.Quantity
}
