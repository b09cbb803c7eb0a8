package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
	"github.com/talgya/mini-economy/internal/pricing"
)

// OrderRequest is an order as submitted by a player, the auto-trader or an AI company.
type OrderRequest struct {
	Owner    economy.CompanyID
	Side     market.Side
	Type     market.OrderType
	GoodsID  catalog.GoodsID
	Quantity float64
	Price    float64 // Limit price; the protection price for market orders
	TTL      uint64  // Ticks until expiry, 0 = good till cancelled
	Tag      string
}

// Exchange settles matched trades against the ledger. Buy orders escrow
// price × quantity of cash and sell orders reserve stock, so a fill can never
// overdraw either side.
type Exchange struct {
	cat       *catalog.Catalog
	ledger    *economy.Ledger
	matcher   *market.Matcher
	discovery *pricing.Discovery

	pending []market.Trade
}

// NewExchange wires the matcher to the ledger.
func NewExchange(cat *catalog.Catalog, ledger *economy.Ledger, matcher *market.Matcher, discovery *pricing.Discovery) *Exchange {
	return &Exchange{cat: cat, ledger: ledger, matcher: matcher, discovery: discovery}
}

// Price returns the published price of g.
func (x *Exchange) Price(g catalog.GoodsID) float64 {
	return x.discovery.Price(g)
}

// Place validates, escrows and submits an order, settling any immediate fills.
func (x *Exchange) Place(req OrderRequest) (market.Result, error) {
	const op = "place order"
	if _, ok := x.cat.Goods(req.GoodsID); !ok {
		return market.Result{}, invalid(op, "unknown goods %q", req.GoodsID)
	}
	if req.Quantity <= 0 {
		return market.Result{}, invalid(op, "quantity must be positive")
	}
	if req.Price <= 0 && (req.Type == market.Limit || req.Side == market.Buy) {
		return market.Result{}, invalid(op, "price must be positive")
	}
	acct, err := x.ledger.MustAccount(req.Owner)
	if err != nil {
		return market.Result{}, invalidErr(op, err)
	}

	switch req.Side {
	case market.Buy:
		if err := acct.ReserveCash(req.Price * req.Quantity); err != nil {
			return market.Result{}, invalidErr(op, err)
		}
	case market.Sell:
		if err := acct.ReserveForSale(req.GoodsID, req.Quantity); err != nil {
			return market.Result{}, invalidErr(op, err)
		}
	}

	tick := x.matcher.Tick()
	o := &market.Order{
		Side:       req.Side,
		Type:       req.Type,
		GoodsID:    req.GoodsID,
		OwnerID:    req.Owner,
		LimitPrice: req.Price,
		Quantity:   req.Quantity,
		Tag:        req.Tag,
	}
	if req.TTL > 0 {
		o.ExpiryTick = tick + req.TTL
	}

	res, err := x.matcher.Submit(o)
	if err != nil {
		o.Remaining = req.Quantity
		x.release(acct, o)
		return market.Result{}, invalidErr(op, err)
	}
	x.settle(res.Trades)
	if !o.Active() {
		x.release(acct, o)
	}
	return res, nil
}

// PlaceOrder is the limit-order shortcut used by AI companies.
func (x *Exchange) PlaceOrder(owner economy.CompanyID, side market.Side, g catalog.GoodsID, qty, price float64, ttl uint64, tag string) (*market.Order, error) {
	res, err := x.Place(OrderRequest{Owner: owner, Side: side, GoodsID: g, Quantity: qty, Price: price, TTL: ttl, Tag: tag})
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

// OpenOrders returns the resting orders of owner.
func (x *Exchange) OpenOrders(owner economy.CompanyID) []*market.Order {
	return x.matcher.OpenOrders(owner)
}

// Order returns an order by ID.
func (x *Exchange) Order(id string) (*market.Order, bool) {
	return x.matcher.Order(id)
}

// OrderActive reports whether an order can still trade.
func (x *Exchange) OrderActive(id string) bool {
	o, ok := x.matcher.Order(id)
	return ok && o.Active() && !o.Expired(x.matcher.Tick())
}

// Cancel cancels an active order. A non-empty owner must match the order's owner.
func (x *Exchange) Cancel(owner economy.CompanyID, orderID string) (*market.Order, error) {
	if o, ok := x.matcher.Order(orderID); ok && owner != "" && o.OwnerID != owner {
		return nil, fmt.Errorf("cancel %s: %w", orderID, market.ErrOrderNotFound)
	}
	o, err := x.matcher.Cancel(orderID)
	if err != nil {
		return nil, err
	}
	if acct, ok := x.ledger.Account(o.OwnerID); ok {
		x.release(acct, o)
	}
	return o, nil
}

// BeginTick advances the matcher clock and releases the reservations of expired orders.
func (x *Exchange) BeginTick(tick uint64) int {
	x.matcher.SetTick(tick)
	expired := x.matcher.TakeExpired()
	for _, o := range expired {
		if acct, ok := x.ledger.Account(o.OwnerID); ok {
			x.release(acct, o)
		}
	}
	return len(expired)
}

// DrainTrades returns the trades settled since the previous call.
func (x *Exchange) DrainTrades() []market.Trade {
	out := x.pending
	x.pending = nil
	return out
}

func (x *Exchange) settle(trades []market.Trade) {
	for _, t := range trades {
		buyer, bok := x.ledger.Account(t.BuyerID)
		seller, sok := x.ledger.Account(t.SellerID)
		if !bok || !sok {
			slog.Error("trade with unknown account", "trade", t.ID, "buyer", t.BuyerID, "seller", t.SellerID)
			continue
		}
		escrow := t.Price
		if bo, ok := x.matcher.Order(t.BuyOrderID); ok {
			escrow = bo.LimitPrice
		}
		notional := t.Notional()

		buyer.PayFromReserve(escrow*t.Quantity, notional)
		buyer.Add(t.GoodsID, t.Quantity, t.Price)
		seller.DeliverReserved(t.GoodsID, t.Quantity)
		seller.Credit(notional)

		x.pending = append(x.pending, t)
	}
}

// release returns the escrow or stock reservation held for an order's unfilled quantity.
func (x *Exchange) release(acct *economy.Account, o *market.Order) {
	if o.Remaining <= 0 {
		return
	}
	if o.Side == market.Buy {
		acct.ReleaseCash(o.LimitPrice * o.Remaining)
		return
	}
	acct.ReleaseSale(o.GoodsID, o.Remaining)
}
