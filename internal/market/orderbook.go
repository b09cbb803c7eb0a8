package market

import (
	"sort"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
)

// priceLevel is a FIFO queue of resting orders at one price.
type priceLevel struct {
	price  float64
	orders []*Order
}

func (l *priceLevel) volume() float64 {
	v := 0.0
	for _, o := range l.orders {
		v += o.Remaining
	}
	return v
}

// OrderBook holds the resting orders of one goods market.
// Bids are kept descending and asks ascending, so the frontier is index 0.
type OrderBook struct {
	GoodsID catalog.GoodsID

	bids []*priceLevel
	asks []*priceLevel

	purgedAt uint64
	purged   bool
}

// NewOrderBook creates an empty book.
func NewOrderBook(goods catalog.GoodsID) *OrderBook {
	return &OrderBook{GoodsID: goods}
}

func (b *OrderBook) side(s Side) *[]*priceLevel {
	if s == Buy {
		return &b.bids
	}
	return &b.asks
}

// better reports whether price a ranks ahead of price b on side s.
func better(s Side, a, b float64) bool {
	if s == Buy {
		return a > b
	}
	return a < b
}

// insert places a resting order behind every order it does not precede in time.
func (b *OrderBook) insert(o *Order) {
	levels := b.side(o.Side)
	i := sort.Search(len(*levels), func(i int) bool {
		return !better(o.Side, (*levels)[i].price, o.LimitPrice)
	})
	if i < len(*levels) && (*levels)[i].price == o.LimitPrice {
		lvl := (*levels)[i]
		j := sort.Search(len(lvl.orders), func(j int) bool { return o.before(lvl.orders[j]) })
		lvl.orders = append(lvl.orders, nil)
		copy(lvl.orders[j+1:], lvl.orders[j:])
		lvl.orders[j] = o
		return
	}
	lvl := &priceLevel{price: o.LimitPrice, orders: []*Order{o}}
	*levels = append(*levels, nil)
	copy((*levels)[i+1:], (*levels)[i:])
	(*levels)[i] = lvl
}

// remove deletes a resting order. It returns false when the order is not on the book.
func (b *OrderBook) remove(o *Order) bool {
	levels := b.side(o.Side)
	for i, lvl := range *levels {
		if lvl.price != o.LimitPrice {
			continue
		}
		for j, r := range lvl.orders {
			if r != o {
				continue
			}
			lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
			if len(lvl.orders) == 0 {
				*levels = append((*levels)[:i], (*levels)[i+1:]...)
			}
			return true
		}
	}
	return false
}

// front returns the oldest order at the best price on side s, or nil.
func (b *OrderBook) front(s Side) *Order {
	levels := *b.side(s)
	if len(levels) == 0 {
		return nil
	}
	return levels[0].orders[0]
}

// popFront removes the order returned by front.
func (b *OrderBook) popFront(s Side) {
	levels := b.side(s)
	lvl := (*levels)[0]
	lvl.orders = lvl.orders[1:]
	if len(lvl.orders) == 0 {
		*levels = (*levels)[1:]
	}
}

// purge expires every order with tick >= ExpiryTick. It scans at most once per tick
// because no order can be created already expired.
func (b *OrderBook) purge(tick uint64) []*Order {
	if b.purged && b.purgedAt == tick {
		return nil
	}
	b.purged, b.purgedAt = true, tick

	var expired []*Order
	for _, levels := range []*[]*priceLevel{&b.bids, &b.asks} {
		kept := (*levels)[:0]
		for _, lvl := range *levels {
			live := lvl.orders[:0]
			for _, o := range lvl.orders {
				if o.Expired(tick) {
					o.Status = StatusExpired
					expired = append(expired, o)
					continue
				}
				live = append(live, o)
			}
			lvl.orders = live
			if len(lvl.orders) > 0 {
				kept = append(kept, lvl)
			}
		}
		*levels = kept
	}
	return expired
}

// BestBid returns the highest resting bid.
func (b *OrderBook) BestBid() (float64, bool) {
	if len(b.bids) == 0 {
		return 0, false
	}
	return b.bids[0].price, true
}

// BestAsk returns the lowest resting ask.
func (b *OrderBook) BestAsk() (float64, bool) {
	if len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].price, true
}

// Level is an aggregated price level for depth queries.
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Orders   int     `json:"orders"`
}

// Depth is the aggregated top of both sides of a book.
type Depth struct {
	GoodsID catalog.GoodsID `json:"goods_id"`
	Bids    []Level         `json:"bids"`
	Asks    []Level         `json:"asks"`
}

// Depth aggregates up to levels price levels per side (levels <= 0 means all).
func (b *OrderBook) Depth(levels int) Depth {
	d := Depth{GoodsID: b.GoodsID}
	d.Bids = aggregate(b.bids, levels)
	d.Asks = aggregate(b.asks, levels)
	return d
}

func aggregate(src []*priceLevel, n int) []Level {
	if n <= 0 || n > len(src) {
		n = len(src)
	}
	out := make([]Level, 0, n)
	for _, lvl := range src[:n] {
		out = append(out, Level{Price: lvl.price, Quantity: lvl.volume(), Orders: len(lvl.orders)})
	}
	return out
}

// Volume returns resting quantity on one side.
func (b *OrderBook) Volume(s Side) float64 {
	v := 0.0
	for _, lvl := range *b.side(s) {
		v += lvl.volume()
	}
	return v
}

// Orders returns the resting orders on both sides in priority order.
func (b *OrderBook) Orders() []*Order {
	var out []*Order
	for _, lvl := range b.bids {
		out = append(out, lvl.orders...)
	}
	for _, lvl := range b.asks {
		out = append(out, lvl.orders...)
	}
	return out
}

// OrdersOf returns the resting orders owned by owner.
func (b *OrderBook) OrdersOf(owner economy.CompanyID) []*Order {
	var out []*Order
	for _, o := range b.Orders() {
		if o.OwnerID == owner {
			out = append(out, o)
		}
	}
	return out
}
