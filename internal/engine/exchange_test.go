package engine

import (
	"errors"
	"testing"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
	"github.com/talgya/mini-economy/internal/pricing"
)

func newTestExchange(t *testing.T) (*Exchange, *economy.Ledger, *market.Matcher) {
	t.Helper()
	cat := loadTestCatalog(t)
	ledger := economy.NewLedger()
	matcher := market.NewMatcher()
	tracker := pricing.NewTracker([]catalog.GoodsID{"iron-ore", "steel", "tools"})
	return NewExchange(cat, ledger, matcher, pricing.NewDiscovery(cat, matcher, tracker)), ledger, matcher
}

func TestSettlementRefundsPriceImprovement(t *testing.T) {
	ex, ledger, _ := newTestExchange(t)
	seller, _ := ledger.Open("s", 0)
	buyer, _ := ledger.Open("b", 10_000)
	seller.Add("steel", 50, 80)

	if _, err := ex.Place(OrderRequest{Owner: "s", Side: market.Sell, GoodsID: "steel", Quantity: 50, Price: 100}); err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	res, err := ex.Place(OrderRequest{Owner: "b", Side: market.Buy, GoodsID: "steel", Quantity: 30, Price: 120})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if len(res.Trades) != 1 || res.Trades[0].Price != 100 || res.Trades[0].Quantity != 30 {
		t.Fatalf("expected 30 @ 100, got %+v", res.Trades)
	}
	if buyer.Cash() != 7_000 || buyer.ReservedCash() != 0 {
		t.Errorf("buyer should pay 3,000 and keep no escrow: cash %g reserved %g", buyer.Cash(), buyer.ReservedCash())
	}
	if buyer.Quantity("steel") != 30 {
		t.Errorf("buyer should receive 30 steel, has %g", buyer.Quantity("steel"))
	}
	if seller.Cash() != 3_000 {
		t.Errorf("seller should receive 3,000, has %g", seller.Cash())
	}
	h := seller.Holding("steel")
	if h.Quantity != 20 || h.ReservedForSale != 20 {
		t.Errorf("seller should hold 20 steel, all reserved for the resting order: %+v", h)
	}
	if got := ex.DrainTrades(); len(got) != 1 {
		t.Errorf("expected one drained trade, got %d", len(got))
	}
	if got := ex.DrainTrades(); len(got) != 0 {
		t.Errorf("drain should empty the pending list, got %d", len(got))
	}
}

func TestBuyEscrowBlocksOverspend(t *testing.T) {
	ex, ledger, _ := newTestExchange(t)
	buyer, _ := ledger.Open("b", 1_000)

	if _, err := ex.Place(OrderRequest{Owner: "b", Side: market.Buy, GoodsID: "steel", Quantity: 5, Price: 150}); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	_, err := ex.Place(OrderRequest{Owner: "b", Side: market.Buy, GoodsID: "steel", Quantity: 2, Price: 150})
	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, economy.ErrInsufficientCash) {
		t.Fatalf("expected insufficient cash validation error, got %v", err)
	}
	if buyer.ReservedCash() != 750 {
		t.Errorf("only the first order should hold escrow, reserved %g", buyer.ReservedCash())
	}
}

func TestExpiryReleasesEscrow(t *testing.T) {
	ex, ledger, _ := newTestExchange(t)
	buyer, _ := ledger.Open("b", 1_000)
	ex.BeginTick(1)

	res, err := ex.Place(OrderRequest{Owner: "b", Side: market.Buy, GoodsID: "steel", Quantity: 5, Price: 100, TTL: 2})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !ex.OrderActive(res.Order.ID) {
		t.Fatal("order should be active before expiry")
	}

	if n := ex.BeginTick(2); n != 0 {
		t.Errorf("nothing should expire at tick 2, got %d", n)
	}
	if n := ex.BeginTick(3); n != 1 {
		t.Fatalf("expected one expiry at tick 3, got %d", n)
	}
	if buyer.ReservedCash() != 0 || buyer.Cash() != 1_000 {
		t.Errorf("expiry should release the escrow: cash %g reserved %g", buyer.Cash(), buyer.ReservedCash())
	}
	if o, _ := ex.Order(res.Order.ID); o.Status != market.StatusExpired {
		t.Errorf("expected expired status, got %s", o.Status)
	}
}

func TestCancelChecksOwner(t *testing.T) {
	ex, ledger, _ := newTestExchange(t)
	seller, _ := ledger.Open("s", 0)
	seller.Add("steel", 10, 80)
	res, err := ex.Place(OrderRequest{Owner: "s", Side: market.Sell, GoodsID: "steel", Quantity: 10, Price: 100})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if _, err := ex.Cancel("intruder", res.Order.ID); !errors.Is(err, market.ErrOrderNotFound) {
		t.Errorf("foreign cancel should look like a missing order, got %v", err)
	}
	if _, err := ex.Cancel("s", res.Order.ID); err != nil {
		t.Fatalf("owner cancel failed: %v", err)
	}
	if seller.Available("steel") != 10 {
		t.Errorf("cancel should release reserved stock, available %g", seller.Available("steel"))
	}
}

func TestMarketBuyNeedsProtectionPrice(t *testing.T) {
	ex, ledger, _ := newTestExchange(t)
	ledger.Open("b", 1_000)

	_, err := ex.Place(OrderRequest{Owner: "b", Side: market.Buy, Type: market.MarketOrder, GoodsID: "steel", Quantity: 1})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("market buy without a price ceiling must be rejected, got %v", err)
	}

	res, err := ex.Place(OrderRequest{Owner: "b", Side: market.Buy, Type: market.MarketOrder, GoodsID: "steel", Quantity: 1, Price: 200})
	if err != nil {
		t.Fatalf("market buy failed: %v", err)
	}
	if res.Order.Active() {
		t.Error("a market order never rests")
	}
	if acct, _ := ledger.Account("b"); acct.ReservedCash() != 0 {
		t.Errorf("unfilled market buy should release escrow, reserved %g", acct.ReservedCash())
	}
}
