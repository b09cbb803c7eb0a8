package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/market"
)

func TestShortageTriggersAutoPurchase(t *testing.T) {
	g := newTestGame(t, nil)
	mill := mustBuy(t, g, "steel-mill", Position{})
	playerAccount(t, g).Add("iron-ore", 80, 1000)

	u := g.Step()

	b := g.Buildings(PlayerID)[0]
	if b.Status != StatusNoInput || b.ProductionProgress != 0 {
		t.Fatalf("expected no_input with untouched progress, got %s %g", b.Status, b.ProductionProgress)
	}
	if len(u.Shortages) != 1 || u.Shortages[0].BuildingID != mill.ID {
		t.Fatalf("snapshot should report the shortage: %+v", u.Shortages)
	}

	orders := g.Orders(PlayerID)
	if len(orders) != 1 {
		t.Fatalf("expected one auto-purchase order, got %d", len(orders))
	}
	o := orders[0]
	if o.Side != market.Buy || o.GoodsID != "iron-ore" || o.Quantity != 20 || o.Tag != autoOrderTag {
		t.Errorf("unexpected auto order: %+v", o)
	}
	if !approx(o.LimitPrice, 1000*DefaultMaxPriceMultiplier) {
		t.Errorf("auto buy should be priced at market × 1.15, got %g", o.LimitPrice)
	}
	if len(u.AutoTrades) != 1 || u.AutoTrades[0].Kind != "buy" || u.AutoTrades[0].BuildingID != mill.ID {
		t.Errorf("snapshot should carry the auto action: %+v", u.AutoTrades)
	}

	g.Step()
	if n := len(g.Orders(PlayerID)); n != 1 {
		t.Errorf("a building+goods pair keeps at most one auto order, have %d", n)
	}
}

func TestAutoBuyBlockedBelowProtection(t *testing.T) {
	g := newTestGame(t, nil)
	mustBuy(t, g, "steel-mill", Position{})
	acct := playerAccount(t, g)
	if err := acct.Debit(20_000_000); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if !approx(acct.Cash(), 40_000_000) {
		t.Fatalf("setup: expected 40,000,000 cash, got %g", acct.Cash())
	}

	u := g.Step()

	if n := len(g.Orders(PlayerID)); n != 0 {
		t.Fatalf("no auto-buy may be placed below the protection threshold, found %d", n)
	}
	if len(u.AutoTrades) != 1 || u.AutoTrades[0].Kind != "skipped" {
		t.Errorf("expected a skipped action, got %+v", u.AutoTrades)
	}
}

func TestPausedBuildingInSnapshot(t *testing.T) {
	g := newTestGame(t, nil)
	mine := mustBuy(t, g, "iron-mine", Position{})
	if err := g.SetBuildingPaused(mine.ID, true); err != nil {
		t.Fatalf("SetBuildingPaused failed: %v", err)
	}
	before := playerAccount(t, g).Cash()

	u := g.Step()

	want := 1_000_000.0 / DefaultTicksPerMonth * 0.25
	if !approx(u.Financials.TotalMaintenance, want) {
		t.Errorf("paused maintenance: want %g, got %g", want, u.Financials.TotalMaintenance)
	}
	if !approx(before-u.PlayerCash, want) {
		t.Errorf("cash delta: want %g, got %g", want, before-u.PlayerCash)
	}
	if u.BuildingCount != 1 || len(u.Financials.BuildingProfits) != 1 {
		t.Errorf("unexpected building summary: %+v", u.Financials)
	}
}

func TestSwitchMethodResetsCycle(t *testing.T) {
	g := newTestGame(t, nil)
	mill := mustBuy(t, g, "steel-mill", Position{})
	playerAccount(t, g).Add("iron-ore", 500, 1000)
	g.Step()
	if b := g.Buildings(PlayerID)[0]; b.ProductionProgress != 1 {
		t.Fatalf("setup: expected progress 1, got %g", b.ProductionProgress)
	}

	if err := g.SwitchBuildingMethod(mill.ID, "arc"); err != nil {
		t.Fatalf("SwitchBuildingMethod failed: %v", err)
	}
	b := g.Buildings(PlayerID)[0]
	if b.CurrentMethodID != "arc" || b.ProductionProgress != 0 || b.AvgProfitPerTick() != 0 {
		t.Errorf("switch should reset progress and profit history: %+v", b)
	}

	var ve *ValidationError
	if err := g.SwitchBuildingMethod(mill.ID, "cold-fusion"); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for an unknown method, got %v", err)
	}
	if err := g.SwitchBuildingMethod("nope", "arc"); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for an unknown building, got %v", err)
	}
}

func TestPurchaseValidation(t *testing.T) {
	g := newTestGame(t, func(o *Options) { o.StartingCash = 30_000_000 })
	var ve *ValidationError

	if _, err := g.PurchaseBuilding("spaceport", Position{}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for unknown building, got %v", err)
	}
	if _, err := g.PurchaseBuilding("steel-mill", Position{}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for insufficient cash, got %v", err)
	}
	mustBuy(t, g, "iron-mine", Position{X: 1})
	if _, err := g.PurchaseBuilding("iron-mine", Position{X: 1}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for an occupied slot, got %v", err)
	}
	if got := playerAccount(t, g).Cash(); got != 10_000_000 {
		t.Errorf("only the successful purchase should be charged, cash %g", got)
	}
}

func TestPlayerOrdersAndCancel(t *testing.T) {
	g := newTestGame(t, nil)
	playerAccount(t, g).Add("steel", 10, 4000)

	res, err := g.PlayerSubmitSellOrder(PlayerID, "steel", 10, 5000)
	if err != nil {
		t.Fatalf("PlayerSubmitSellOrder failed: %v", err)
	}
	if res.Order.Status != market.StatusOpen || res.Order.Tag != playerOrderTag {
		t.Errorf("expected a resting player order, got %+v", res.Order)
	}

	var ve *ValidationError
	if _, err := g.PlayerSubmitSellOrder(PlayerID, "steel", 1, 5000); !errors.As(err, &ve) {
		t.Errorf("selling reserved stock should fail validation, got %v", err)
	}
	if _, err := g.PlayerSubmitBuyOrder(PlayerID, "unobtainium", 1, 1); !errors.As(err, &ve) {
		t.Errorf("unknown goods should fail validation, got %v", err)
	}

	o, err := g.CancelOrder(PlayerID, res.Order.ID)
	if err != nil || o.Status != market.StatusCancelled {
		t.Fatalf("CancelOrder: %v %+v", err, o)
	}
	if got := playerAccount(t, g).Available("steel"); got != 10 {
		t.Errorf("cancel should release reserved stock, available %g", got)
	}
	if _, err := g.CancelOrder(PlayerID, res.Order.ID); !errors.Is(err, market.ErrOrderNotFound) {
		t.Errorf("second cancel should report ErrOrderNotFound, got %v", err)
	}
}

func TestStartResearchChargesCost(t *testing.T) {
	g := newTestGame(t, nil)
	a, err := g.StartResearch("lean-manufacturing")
	if err != nil {
		t.Fatalf("StartResearch failed: %v", err)
	}
	if a.CompletesAt != 60 {
		t.Errorf("expected completion at tick 60, got %d", a.CompletesAt)
	}
	if got := playerAccount(t, g).Cash(); got != 80_000_000 {
		t.Errorf("research cost not charged: %g", got)
	}
	var ve *ValidationError
	if _, err := g.StartResearch("lean-manufacturing"); !errors.As(err, &ve) {
		t.Errorf("starting an active project twice should fail, got %v", err)
	}
	if _, err := g.StartResearch("time-travel"); !errors.As(err, &ve) {
		t.Errorf("unknown project should fail, got %v", err)
	}
	if st := g.Research(); len(st.Active) != 1 {
		t.Errorf("expected one active project, got %+v", st.Active)
	}
}

func TestSpeedAndPause(t *testing.T) {
	g := newTestGame(t, nil)
	if _, paused := g.Speed(); !paused {
		t.Fatal("a game created at speed 0 starts paused")
	}
	if err := g.SetSpeed(4); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	if speed, paused := g.Speed(); speed != 4 || paused {
		t.Errorf("expected running at 4, got %g paused=%v", speed, paused)
	}
	if !g.TogglePause() {
		t.Error("TogglePause should pause a running game")
	}
	var ve *ValidationError
	if err := g.SetSpeed(MaxSpeed + 1); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError above max speed, got %v", err)
	}
}

func TestSubscribersNeverBlockTheTick(t *testing.T) {
	g := newTestGame(t, nil)
	ch, unsubscribe := g.Subscribe(1)

	for i := 0; i < 3; i++ {
		g.Step()
	}
	u := <-ch
	if u.Tick != 1 {
		t.Errorf("buffered subscriber should hold the first snapshot, got tick %d", u.Tick)
	}
	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestDefaultEconomyIsDeterministic(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("Default catalog failed: %v", err)
	}
	run := func() []TickUpdate {
		opts := DefaultOptions()
		opts.Speed = 0
		opts.StarterBuildings = []string{"iron-mine", "steel-mill"}
		g, err := NewGame(context.Background(), "", cat, opts)
		if err != nil {
			t.Fatalf("NewGame failed: %v", err)
		}
		defer g.Close()
		return RunTicks(g, 120)
	}
	a, b := run(), run()

	trades := 0
	for i := range a {
		if a[i].Digest != b[i].Digest {
			t.Fatalf("tick %d: trade digests differ", a[i].Tick)
		}
		trades += len(a[i].Trades)
		for id, p := range a[i].MarketPrices {
			if b[i].MarketPrices[id] != p {
				t.Fatalf("tick %d: price of %s differs: %g vs %g", a[i].Tick, id, p, b[i].MarketPrices[id])
			}
			goods, _ := cat.Goods(id)
			if p < goods.BasePrice*0.2-1e-9 || p > goods.BasePrice*5+1e-9 {
				t.Fatalf("tick %d: price of %s left its band: %g", a[i].Tick, id, p)
			}
		}
	}
	if trades == 0 {
		t.Error("expected the default economy to trade within 120 ticks")
	}
}

func TestDriverAdvancesAndStops(t *testing.T) {
	g := newTestGame(t, nil)
	if err := g.SetSpeed(MaxSpeed); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	ch, unsubscribe := g.Subscribe(8)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewDriver(g, 10*time.Millisecond).Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for seen := 0; seen < 3; {
		select {
		case <-ch:
			seen++
		case <-deadline:
			t.Fatal("driver did not produce 3 ticks in time")
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
