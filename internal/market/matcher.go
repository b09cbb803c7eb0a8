package market

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
)

const (
	// DefaultTradeRetention is how many trades per goods are kept for volume queries.
	DefaultTradeRetention = 5000
	// closedOrderRetention is how many ticks a closed order stays queryable.
	closedOrderRetention = 200
)

// Result is the outcome of submitting one order.
type Result struct {
	Order  *Order  `json:"order"`
	Filled float64 `json:"filled_quantity"`
	Trades []Trade `json:"trades"`
}

// Volume is traded quantity split by aggressor side.
type Volume struct {
	Total float64 `json:"total"`
	Buy   float64 `json:"buy"`
	Sell  float64 `json:"sell"`
}

// Matcher runs price/time priority matching for every goods market of one game.
// It is not safe for concurrent use; the owning game serializes access.
type Matcher struct {
	books     map[catalog.GoodsID]*OrderBook
	orders    map[string]*Order
	trades    map[catalog.GoodsID][]Trade
	lastPrice map[catalog.GoodsID]float64

	tick      uint64
	seq       uint64
	tradeSeq  uint64
	retention int
	expired   []*Order
	newID     func() string
}

// NewMatcher creates a matcher with no books.
func NewMatcher() *Matcher {
	return &Matcher{
		books:     make(map[catalog.GoodsID]*OrderBook),
		orders:    make(map[string]*Order),
		trades:    make(map[catalog.GoodsID][]Trade),
		lastPrice: make(map[catalog.GoodsID]float64),
		retention: DefaultTradeRetention,
		newID:     func() string { return uuid.NewString() },
	}
}

// SetTick advances the matcher clock. Ticks never move backwards.
func (m *Matcher) SetTick(tick uint64) {
	if tick < m.tick {
		return
	}
	m.tick = tick
	if tick%50 == 0 {
		m.pruneClosed()
	}
}

// Tick returns the matcher clock.
func (m *Matcher) Tick() uint64 {
	return m.tick
}

// Book returns the order book for goods, creating it on first use.
func (m *Matcher) Book(goods catalog.GoodsID) *OrderBook {
	b, ok := m.books[goods]
	if !ok {
		b = NewOrderBook(goods)
		m.books[goods] = b
	}
	m.expired = append(m.expired, b.purge(m.tick)...)
	return b
}

// Submit validates and matches an order. Unfilled limit quantity rests on the
// book; unfilled market quantity is discarded. No liquidity is not an error.
func (m *Matcher) Submit(o *Order) (Result, error) {
	if err := o.validate(m.tick); err != nil {
		return Result{}, err
	}
	if o.ID == "" {
		o.ID = m.newID()
	}
	if _, dup := m.orders[o.ID]; dup {
		return Result{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidOrder, o.ID)
	}

	m.seq++
	o.seq = m.seq
	o.CreatedTick = m.tick
	o.Remaining = o.Quantity
	o.Status = StatusOpen
	m.orders[o.ID] = o

	book := m.Book(o.GoodsID)
	res := Result{Order: o}
	opp := o.Side.Opposite()

	for o.Remaining > economy.Epsilon {
		resting := book.front(opp)
		if resting == nil || !o.crosses(resting.LimitPrice) {
			break
		}

		qty := min(o.Remaining, resting.Remaining)
		m.tradeSeq++
		t := Trade{
			ID:        fmt.Sprintf("T%d-%d", m.tick, m.tradeSeq),
			GoodsID:   o.GoodsID,
			Price:     resting.LimitPrice,
			Quantity:  qty,
			Tick:      m.tick,
			Aggressor: o.Side,
		}
		if o.Side == Buy {
			t.BuyerID, t.SellerID = o.OwnerID, resting.OwnerID
			t.BuyOrderID, t.SellOrderID = o.ID, resting.ID
		} else {
			t.BuyerID, t.SellerID = resting.OwnerID, o.OwnerID
			t.BuyOrderID, t.SellOrderID = resting.ID, o.ID
		}

		o.Remaining = economy.NonNegative(o.Remaining - qty)
		resting.Remaining = economy.NonNegative(resting.Remaining - qty)
		if resting.Remaining == 0 {
			resting.Status = StatusFilled
			book.popFront(opp)
		} else {
			resting.Status = StatusPartial
		}

		res.Trades = append(res.Trades, t)
		res.Filled += qty
	}

	switch {
	case o.Remaining == 0:
		o.Status = StatusFilled
	case o.Type == MarketOrder:
		o.Status = StatusCancelled
	default:
		if res.Filled > 0 {
			o.Status = StatusPartial
		}
		book.insert(o)
	}

	m.record(o.GoodsID, res.Trades)
	return res, nil
}

func (m *Matcher) record(goods catalog.GoodsID, trades []Trade) {
	if len(trades) == 0 {
		return
	}
	log := append(m.trades[goods], trades...)
	if len(log) > m.retention {
		trimmed := make([]Trade, m.retention)
		copy(trimmed, log[len(log)-m.retention:])
		log = trimmed
	}
	m.trades[goods] = log
	m.lastPrice[goods] = trades[len(trades)-1].Price
}

// Cancel removes an active order from its book.
func (m *Matcher) Cancel(orderID string) (*Order, error) {
	o, ok := m.orders[orderID]
	if !ok || !o.Active() {
		return nil, fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	book := m.Book(o.GoodsID)
	if !o.Active() {
		// The lookup above purged it.
		return nil, fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	book.remove(o)
	o.Status = StatusCancelled
	return o, nil
}

// Order returns an order by ID, including recently closed ones.
func (m *Matcher) Order(orderID string) (*Order, bool) {
	o, ok := m.orders[orderID]
	if ok && o.Active() && o.Expired(m.tick) {
		m.Book(o.GoodsID)
	}
	return o, ok
}

// TakeExpired returns and clears the orders expired since the last call.
func (m *Matcher) TakeExpired() []*Order {
	for _, g := range m.goodsIDs() {
		m.Book(g)
	}
	out := m.expired
	m.expired = nil
	return out
}

// BestBid returns the best bid for goods.
func (m *Matcher) BestBid(goods catalog.GoodsID) (float64, bool) {
	return m.Book(goods).BestBid()
}

// BestAsk returns the best ask for goods.
func (m *Matcher) BestAsk(goods catalog.GoodsID) (float64, bool) {
	return m.Book(goods).BestAsk()
}

// Depth returns aggregated depth for goods.
func (m *Matcher) Depth(goods catalog.GoodsID, levels int) Depth {
	return m.Book(goods).Depth(levels)
}

// LastTradePrice returns the most recent execution price for goods.
func (m *Matcher) LastTradePrice(goods catalog.GoodsID) (float64, bool) {
	p, ok := m.lastPrice[goods]
	return p, ok
}

// Volume sums traded quantity for goods over ticks [from, to].
func (m *Matcher) Volume(goods catalog.GoodsID, from, to uint64) Volume {
	var v Volume
	log := m.trades[goods]
	i := sort.Search(len(log), func(i int) bool { return log[i].Tick >= from })
	for ; i < len(log) && log[i].Tick <= to; i++ {
		v.Total += log[i].Quantity
		if log[i].Aggressor == Buy {
			v.Buy += log[i].Quantity
		} else {
			v.Sell += log[i].Quantity
		}
	}
	return v
}

// Trades returns the retained trades for goods over ticks [from, to].
func (m *Matcher) Trades(goods catalog.GoodsID, from, to uint64) []Trade {
	log := m.trades[goods]
	i := sort.Search(len(log), func(i int) bool { return log[i].Tick >= from })
	var out []Trade
	for ; i < len(log) && log[i].Tick <= to; i++ {
		out = append(out, log[i])
	}
	return out
}

// OpenOrders returns the active orders of owner across all books, oldest first.
func (m *Matcher) OpenOrders(owner economy.CompanyID) []*Order {
	var out []*Order
	for _, g := range m.goodsIDs() {
		out = append(out, m.Book(g).OrdersOf(owner)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

func (m *Matcher) goodsIDs() []catalog.GoodsID {
	ids := make([]catalog.GoodsID, 0, len(m.books))
	for g := range m.books {
		ids = append(ids, g)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Matcher) pruneClosed() {
	for id, o := range m.orders {
		if !o.Active() && o.CreatedTick+closedOrderRetention < m.tick {
			delete(m.orders, id)
		}
	}
}
