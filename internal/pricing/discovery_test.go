package pricing

import (
	"math"
	"testing"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/market"
)

const testCatalog = `
goods:
  - id: steel
    name: Steel
    category: intermediate
    base_price: 1000
  - id: grain
    name: Grain
    category: raw
    base_price: 400
    price_model: ratio
`

type fakeBook struct {
	last, bid, ask float64
	vol            market.Volume
}

func (f *fakeBook) LastTradePrice(catalog.GoodsID) (float64, bool) { return f.last, f.last > 0 }
func (f *fakeBook) BestBid(catalog.GoodsID) (float64, bool)        { return f.bid, f.bid > 0 }
func (f *fakeBook) BestAsk(catalog.GoodsID) (float64, bool)        { return f.ask, f.ask > 0 }
func (f *fakeBook) Volume(catalog.GoodsID, uint64, uint64) market.Volume {
	return f.vol
}

func newTestDiscovery(t *testing.T, book BookSignals) (*Discovery, *Tracker) {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	tr := NewTracker([]catalog.GoodsID{"steel", "grain"})
	return NewDiscovery(cat, book, tr), tr
}

func TestRateLimitAppliesBeforeBand(t *testing.T) {
	d, _ := newTestDiscovery(t, nil)
	d.Shock("steel", 0.30)

	c, ok := d.Update("steel", 1)
	if !ok {
		t.Fatal("expected a committed change")
	}
	if c.Price > 1020+1e-9 {
		t.Errorf("price moved past the 2%% rate limit: %f", c.Price)
	}
	if math.Abs(c.Price-1020) > 1e-9 {
		t.Errorf("expected price 1020, got %f", c.Price)
	}
}

func TestShockIsClamped(t *testing.T) {
	d, _ := newTestDiscovery(t, nil)
	d.Shock("steel", 5)
	if got := d.shocks["steel"]; got != MaxShock {
		t.Errorf("expected shock clamped to %f, got %f", MaxShock, got)
	}
	d.Update("steel", 1)
	if _, pending := d.shocks["steel"]; pending {
		t.Error("shock should be consumed by the update")
	}
	d.Shock("unknown", 0.1)
	if len(d.shocks) != 0 {
		t.Error("shocks for unknown goods must be ignored")
	}
}

func TestPriceStaysInBand(t *testing.T) {
	cases := []struct {
		name  string
		trade float64
	}{
		{"runaway high", 1e6},
		{"runaway low", 0.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			book := &fakeBook{last: tc.trade, bid: tc.trade, ask: tc.trade}
			d, _ := newTestDiscovery(t, book)
			for tick := uint64(1); tick <= 2000; tick++ {
				d.Update("steel", tick)
				p := d.Price("steel")
				if p < 1000*MinMultiplier-1e-9 || p > 1000*MaxMultiplier+1e-9 {
					t.Fatalf("tick %d: price %f left the band", tick, p)
				}
			}
		})
	}
}

func TestNoCommitWithoutSignal(t *testing.T) {
	d, _ := newTestDiscovery(t, nil)
	if _, ok := d.Update("steel", 1); ok {
		t.Error("no signal should not commit a change")
	}
	if n := len(d.History("steel", 0)); n != 1 {
		t.Errorf("history should only hold the seed point, got %d", n)
	}
	if s, _ := d.State("steel"); s.LastUpdateTick != 1 {
		t.Errorf("expected last update tick 1, got %d", s.LastUpdateTick)
	}
}

func TestZeroFlowIsIdempotent(t *testing.T) {
	plain, _ := newTestDiscovery(t, nil)
	touched, tr := newTestDiscovery(t, nil)

	for tick := uint64(1); tick <= 50; tick++ {
		tr.AddSupply("grain", 0)
		tr.AddDemand("grain", 0)
		tr.AddSupply("steel", 0)
		plain.UpdateAll(tick)
		touched.UpdateAll(tick)
		if plain.Price("grain") != touched.Price("grain") || plain.Price("steel") != touched.Price("steel") {
			t.Fatalf("tick %d: zero injections changed the price", tick)
		}
	}
}

func TestBookTargetFollowsTrades(t *testing.T) {
	book := &fakeBook{last: 1100, bid: 1090, ask: 1110, vol: market.Volume{Total: 10, Buy: 10}}
	d, _ := newTestDiscovery(t, book)
	for tick := uint64(1); tick <= 10; tick++ {
		d.Update("steel", tick)
	}
	p := d.Price("steel")
	if p <= 1000 || p > 1120 {
		t.Errorf("expected price to climb toward 1100, got %f", p)
	}
	s, _ := d.State("steel")
	if s.BestBid != 1090 || s.BestAsk != 1110 || s.LastTradePrice != 1100 {
		t.Errorf("book signals not synced: %+v", s)
	}
}

func TestRatioModel(t *testing.T) {
	d, tr := newTestDiscovery(t, nil)
	tr.AddDemand("grain", 900)

	// Tick 100 falls in summer, where grain has no seasonal modifier.
	c, ok := d.Update("grain", 100)
	if !ok {
		t.Fatal("expected the ratio model to move the price")
	}
	if math.Abs(c.Price-400*1.02) > 1e-9 {
		t.Errorf("expected a rate-limited rise to 408, got %f", c.Price)
	}
}

func TestMidpointOneSided(t *testing.T) {
	cases := []struct {
		bid, ask, want float64
		ok             bool
	}{
		{100, 110, 105, true},
		{100, 0, 105, true},
		{0, 100, 95, true},
		{0, 0, 0, false},
	}
	for _, tc := range cases {
		got, ok := midpoint(tc.bid, tc.ask)
		if ok != tc.ok || math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("midpoint(%v, %v) = %v, %v; want %v, %v", tc.bid, tc.ask, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHistoryTrimIsDeferred(t *testing.T) {
	s := &PriceState{}
	d := &Discovery{}
	for i := 0; i < CleanupThreshold; i++ {
		d.appendHistory(s, PricePoint{Tick: uint64(i)})
	}
	if len(s.History) != CleanupThreshold {
		t.Fatalf("history trimmed early: %d", len(s.History))
	}
	d.appendHistory(s, PricePoint{Tick: CleanupThreshold})
	if len(s.History) != MaxHistoryPoints {
		t.Errorf("expected trim to %d, got %d", MaxHistoryPoints, len(s.History))
	}
	if last := s.History[len(s.History)-1].Tick; last != CleanupThreshold {
		t.Errorf("trim must keep the newest points, last tick %d", last)
	}
}

func TestRegressionWeightGrows(t *testing.T) {
	if regressionWeight(1000, 1000) != 0 {
		t.Error("no deviation should mean no regression")
	}
	if regressionWeight(1500, 1000) >= regressionWeight(3000, 1000) {
		t.Error("regression weight should grow with deviation")
	}
	if regressionWeight(1e9, 1000) != 0.3 {
		t.Error("regression weight should be capped")
	}
}
