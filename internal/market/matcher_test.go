package market

import (
	"errors"
	"testing"

	"github.com/talgya/mini-economy/internal/economy"
)

func limit(side Side, owner string, price, qty float64) *Order {
	return &Order{Side: side, GoodsID: "steel", OwnerID: economy.CompanyID(owner), LimitPrice: price, Quantity: qty}
}

func mustSubmit(t *testing.T, m *Matcher, o *Order) Result {
	t.Helper()
	res, err := m.Submit(o)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return res
}

func TestMakerPriceAndPartialFill(t *testing.T) {
	m := NewMatcher()
	sell := limit(Sell, "seller", 100, 50)
	mustSubmit(t, m, sell)

	res := mustSubmit(t, m, limit(Buy, "buyer", 120, 30))

	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Price != 100 || tr.Quantity != 30 {
		t.Errorf("expected trade 30 @ 100, got %g @ %g", tr.Quantity, tr.Price)
	}
	if tr.BuyerID != "buyer" || tr.SellerID != "seller" {
		t.Errorf("wrong counterparties: %+v", tr)
	}
	if res.Filled != 30 || res.Order.Status != StatusFilled || res.Order.Remaining != 0 {
		t.Errorf("incoming buy should be fully filled: %+v", res.Order)
	}
	if sell.Remaining != 20 || sell.Status != StatusPartial {
		t.Errorf("resting sell should have 20 left and be partial, got %g %s", sell.Remaining, sell.Status)
	}
	if ask, ok := m.BestAsk("steel"); !ok || ask != 100 {
		t.Errorf("expected best ask 100, got %g %v", ask, ok)
	}
	if p, ok := m.LastTradePrice("steel"); !ok || p != 100 {
		t.Errorf("expected last trade price 100, got %g", p)
	}
}

func TestPriceThenTimePriority(t *testing.T) {
	m := NewMatcher()
	first := limit(Sell, "a", 101, 10)
	second := limit(Sell, "b", 101, 10)
	cheap := limit(Sell, "c", 99, 5)
	mustSubmit(t, m, first)
	mustSubmit(t, m, second)
	mustSubmit(t, m, cheap)

	res := mustSubmit(t, m, limit(Buy, "buyer", 105, 20))

	if len(res.Trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(res.Trades))
	}
	wantSellers := []string{"c", "a", "b"}
	wantQty := []float64{5, 10, 5}
	for i, tr := range res.Trades {
		if string(tr.SellerID) != wantSellers[i] || tr.Quantity != wantQty[i] {
			t.Errorf("trade %d: got seller %s qty %g, want %s %g", i, tr.SellerID, tr.Quantity, wantSellers[i], wantQty[i])
		}
	}
	if second.Remaining != 5 {
		t.Errorf("later order at same price should keep 5, got %g", second.Remaining)
	}
}

func TestLimitDoesNotCross(t *testing.T) {
	m := NewMatcher()
	mustSubmit(t, m, limit(Sell, "s", 110, 10))
	res := mustSubmit(t, m, limit(Buy, "b", 100, 10))
	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(res.Trades))
	}
	if res.Order.Status != StatusOpen {
		t.Errorf("unfilled limit order should rest open, got %s", res.Order.Status)
	}
	if bid, _ := m.BestBid("steel"); bid != 100 {
		t.Errorf("expected best bid 100, got %g", bid)
	}
}

func TestDeterministicReplay(t *testing.T) {
	run := func() string {
		m := NewMatcher()
		var all []Trade
		prices := []float64{100, 102, 98, 101, 99, 103, 97}
		for tick := uint64(1); tick <= 20; tick++ {
			m.SetTick(tick)
			for i, p := range prices {
				side := Buy
				if (int(tick)+i)%2 == 0 {
					side = Sell
				}
				res, err := m.Submit(limit(side, string(rune('a'+i)), p, float64(5+i)))
				if err != nil {
					t.Fatal(err)
				}
				all = append(all, res.Trades...)
			}
		}
		if len(all) == 0 {
			t.Fatal("replay produced no trades")
		}
		return TradeDigest(all)
	}
	if a, b := run(), run(); a != b {
		t.Errorf("identical order sequences produced different digests: %s vs %s", a, b)
	}
}

func TestExpiryIsNotCancellation(t *testing.T) {
	m := NewMatcher()
	m.SetTick(1)
	o := limit(Sell, "s", 100, 10)
	o.ExpiryTick = 3
	mustSubmit(t, m, o)

	m.SetTick(2)
	if _, ok := m.BestAsk("steel"); !ok {
		t.Fatal("order should still rest before its expiry tick")
	}

	m.SetTick(3)
	if _, ok := m.BestAsk("steel"); ok {
		t.Error("expired order must be purged on access")
	}
	if o.Status != StatusExpired {
		t.Errorf("expected status expired, got %s", o.Status)
	}
	expired := m.TakeExpired()
	if len(expired) != 1 || expired[0] != o {
		t.Errorf("expected the expired order to be reported once, got %d", len(expired))
	}
	if len(m.TakeExpired()) != 0 {
		t.Error("TakeExpired must drain")
	}
	if _, err := m.Cancel(o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("cancelling an expired order should fail, got %v", err)
	}
}

func TestMarketOrderNeverRests(t *testing.T) {
	m := NewMatcher()
	mustSubmit(t, m, limit(Sell, "s", 100, 5))

	mo := &Order{Side: Buy, Type: MarketOrder, GoodsID: "steel", OwnerID: "b", Quantity: 8}
	res := mustSubmit(t, m, mo)
	if res.Filled != 5 {
		t.Errorf("expected 5 filled, got %g", res.Filled)
	}
	if mo.Status != StatusCancelled || mo.Remaining != 3 {
		t.Errorf("market remainder should be discarded, got %s remaining %g", mo.Status, mo.Remaining)
	}
	if _, ok := m.BestBid("steel"); ok {
		t.Error("market order must not rest on the book")
	}

	empty := &Order{Side: Sell, Type: MarketOrder, GoodsID: "steel", OwnerID: "s", Quantity: 1}
	res = mustSubmit(t, m, empty)
	if len(res.Trades) != 0 || empty.Status != StatusCancelled {
		t.Errorf("no liquidity should give zero trades and a cancelled order, got %d %s", len(res.Trades), empty.Status)
	}
}

func TestMarketOrderProtectionPrice(t *testing.T) {
	m := NewMatcher()
	mustSubmit(t, m, limit(Sell, "s", 100, 5))
	mustSubmit(t, m, limit(Sell, "s", 130, 5))

	mo := &Order{Side: Buy, Type: MarketOrder, GoodsID: "steel", OwnerID: "b", Quantity: 10, LimitPrice: 115}
	res := mustSubmit(t, m, mo)
	if res.Filled != 5 {
		t.Errorf("protection price should stop at 115, filled %g", res.Filled)
	}
}

func TestSubmitValidation(t *testing.T) {
	m := NewMatcher()
	m.SetTick(10)
	cases := []struct {
		name string
		o    *Order
	}{
		{"zero quantity", &Order{Side: Buy, GoodsID: "steel", OwnerID: "a", LimitPrice: 1}},
		{"no price", &Order{Side: Buy, GoodsID: "steel", OwnerID: "a", Quantity: 1}},
		{"no goods", &Order{Side: Buy, OwnerID: "a", LimitPrice: 1, Quantity: 1}},
		{"no owner", &Order{Side: Buy, GoodsID: "steel", LimitPrice: 1, Quantity: 1}},
		{"past expiry", &Order{Side: Buy, GoodsID: "steel", OwnerID: "a", LimitPrice: 1, Quantity: 1, ExpiryTick: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Submit(tc.o); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}

	o := limit(Buy, "a", 1, 1)
	o.ID = "fixed"
	mustSubmit(t, m, o)
	dup := limit(Buy, "a", 1, 1)
	dup.ID = "fixed"
	if _, err := m.Submit(dup); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("duplicate id should be rejected, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	m := NewMatcher()
	o := limit(Buy, "b", 90, 10)
	mustSubmit(t, m, o)

	got, err := m.Cancel(o.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if _, ok := m.BestBid("steel"); ok {
		t.Error("cancelled order should leave the book")
	}
	if _, err := m.Cancel(o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("second cancel should fail, got %v", err)
	}
	if _, err := m.Cancel("nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown id should fail, got %v", err)
	}
	if found, ok := m.Order(o.ID); !ok || found.Status != StatusCancelled {
		t.Error("closed orders stay queryable")
	}
}

func TestDepthAggregatesLevels(t *testing.T) {
	m := NewMatcher()
	mustSubmit(t, m, limit(Buy, "a", 95, 10))
	mustSubmit(t, m, limit(Buy, "b", 95, 5))
	mustSubmit(t, m, limit(Buy, "c", 97, 1))
	mustSubmit(t, m, limit(Sell, "d", 105, 2))
	mustSubmit(t, m, limit(Sell, "e", 103, 3))

	d := m.Depth("steel", 0)
	if len(d.Bids) != 2 || d.Bids[0].Price != 97 || d.Bids[1].Quantity != 15 || d.Bids[1].Orders != 2 {
		t.Errorf("unexpected bids: %+v", d.Bids)
	}
	if len(d.Asks) != 2 || d.Asks[0].Price != 103 {
		t.Errorf("unexpected asks: %+v", d.Asks)
	}
	if top := m.Depth("steel", 1); len(top.Bids) != 1 || len(top.Asks) != 1 {
		t.Errorf("level limit ignored: %+v", top)
	}
}

func TestVolumeByAggressor(t *testing.T) {
	m := NewMatcher()
	m.SetTick(1)
	mustSubmit(t, m, limit(Sell, "s", 100, 10))
	mustSubmit(t, m, limit(Buy, "b", 100, 4))
	m.SetTick(2)
	mustSubmit(t, m, limit(Buy, "b", 99, 10))
	mustSubmit(t, m, limit(Sell, "s", 99, 3))

	v := m.Volume("steel", 1, 2)
	if v.Total != 7 || v.Buy != 4 || v.Sell != 3 {
		t.Errorf("unexpected volume %+v", v)
	}
	if v := m.Volume("steel", 2, 2); v.Total != 3 {
		t.Errorf("expected tick-2 volume 3, got %+v", v)
	}
	if n := len(m.Trades("steel", 1, 1)); n != 1 {
		t.Errorf("expected 1 trade on tick 1, got %d", n)
	}
}

func TestOpenOrdersOfOwner(t *testing.T) {
	m := NewMatcher()
	mustSubmit(t, m, limit(Buy, "me", 90, 1))
	mustSubmit(t, m, &Order{Side: Sell, GoodsID: "coal", OwnerID: "me", LimitPrice: 50, Quantity: 2})
	mustSubmit(t, m, limit(Buy, "other", 91, 1))

	open := m.OpenOrders("me")
	if len(open) != 2 {
		t.Fatalf("expected 2 open orders, got %d", len(open))
	}
	if open[0].GoodsID != "steel" {
		t.Errorf("orders should be oldest first, got %s", open[0].GoodsID)
	}
}
