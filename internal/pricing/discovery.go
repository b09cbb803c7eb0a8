package pricing

import (
	"log/slog"
	"math"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
)

const (
	// MaxPriceChange bounds the tick-over-tick move as a fraction of the current price.
	MaxPriceChange = 0.02
	// MinMultiplier and MaxMultiplier bound the price band around the base price.
	MinMultiplier = 0.2
	MaxMultiplier = 5.0
	// MaxHistoryPoints is the retained history length per goods.
	MaxHistoryPoints = 500
	// CleanupThreshold is the length at which history is trimmed back to MaxHistoryPoints.
	CleanupThreshold = 600
	// MaxShock bounds an injected price shock as a fraction of the current price.
	MaxShock = 0.30

	minCommitDelta = 0.001
	oneSidedSpread = 0.05
	pressureImpact = 0.1
	pressureWindow = 10

	weightTrade    = 0.5
	weightMid      = 0.3
	weightPressure = 0.1
	weightInertia  = 0.1
)

// BookSignals is the market data the book model reads. *market.Matcher satisfies it.
type BookSignals interface {
	LastTradePrice(g catalog.GoodsID) (float64, bool)
	BestBid(g catalog.GoodsID) (float64, bool)
	BestAsk(g catalog.GoodsID) (float64, bool)
	Volume(g catalog.GoodsID, from, to uint64) market.Volume
}

// PricePoint is one committed price.
type PricePoint struct {
	Tick  uint64  `json:"tick"`
	Price float64 `json:"price"`
}

// PriceState is the published price record of one goods.
type PriceState struct {
	GoodsID        catalog.GoodsID    `json:"goods_id"`
	Model          catalog.PriceModel `json:"model"`
	CurrentPrice   float64            `json:"current_price"`
	BasePrice      float64            `json:"base_price"`
	LastTradePrice float64            `json:"last_trade_price,omitempty"`
	BestBid        float64            `json:"best_bid,omitempty"`
	BestAsk        float64            `json:"best_ask,omitempty"`
	History        []PricePoint       `json:"history,omitempty"`
	LastUpdateTick uint64             `json:"last_update_tick"`
}

// Floor returns the lowest allowed price.
func (s *PriceState) Floor() float64 { return s.BasePrice * MinMultiplier }

// Ceiling returns the highest allowed price.
func (s *PriceState) Ceiling() float64 { return s.BasePrice * MaxMultiplier }

// PriceChange reports one committed update.
type PriceChange struct {
	GoodsID catalog.GoodsID `json:"goods_id"`
	Price   float64         `json:"price"`
	Change  float64         `json:"change"`
}

// Discovery owns the published prices of one game. Each goods uses the strategy
// named by its catalog price model; both commit through the same clamp path.
type Discovery struct {
	cat     *catalog.Catalog
	book    BookSignals
	tracker *Tracker
	states  map[catalog.GoodsID]*PriceState
	shocks  map[catalog.GoodsID]float64
}

// NewDiscovery seeds every goods at its base price.
func NewDiscovery(cat *catalog.Catalog, book BookSignals, tracker *Tracker) *Discovery {
	d := &Discovery{
		cat:     cat,
		book:    book,
		tracker: tracker,
		states:  make(map[catalog.GoodsID]*PriceState),
		shocks:  make(map[catalog.GoodsID]float64),
	}
	for _, g := range cat.AllGoods() {
		d.states[g.ID] = &PriceState{
			GoodsID:      g.ID,
			Model:        g.PriceModel,
			CurrentPrice: g.BasePrice,
			BasePrice:    g.BasePrice,
			History:      []PricePoint{{Tick: 0, Price: g.BasePrice}},
		}
	}
	return d
}

// Price returns the current published price of g, or 0 for unknown goods.
func (d *Discovery) Price(g catalog.GoodsID) float64 {
	if s, ok := d.states[g]; ok {
		return s.CurrentPrice
	}
	return 0
}

// Prices returns every current price.
func (d *Discovery) Prices() map[catalog.GoodsID]float64 {
	out := make(map[catalog.GoodsID]float64, len(d.states))
	for g, s := range d.states {
		out[g] = s.CurrentPrice
	}
	return out
}

// State returns a copy of the price state of g, including its history.
func (d *Discovery) State(g catalog.GoodsID) (PriceState, bool) {
	s, ok := d.states[g]
	if !ok {
		return PriceState{}, false
	}
	out := *s
	out.History = append([]PricePoint(nil), s.History...)
	return out, true
}

// History returns up to n most recent points for g (n <= 0 means all).
func (d *Discovery) History(g catalog.GoodsID, n int) []PricePoint {
	s, ok := d.states[g]
	if !ok {
		return nil
	}
	h := s.History
	if n > 0 && n < len(h) {
		h = h[len(h)-n:]
	}
	return append([]PricePoint(nil), h...)
}

// Shock queues a fractional price impulse for g, folded into its next target.
// The impulse is clamped to ±MaxShock and never bypasses the rate limit or band.
func (d *Discovery) Shock(g catalog.GoodsID, fraction float64) {
	if _, ok := d.states[g]; !ok || math.IsNaN(fraction) {
		return
	}
	d.shocks[g] = economy.Clamp(d.shocks[g]+fraction, -MaxShock, MaxShock)
}

// UpdateAll recomputes every goods in catalog order and returns the committed changes.
func (d *Discovery) UpdateAll(tick uint64) []PriceChange {
	var changes []PriceChange
	for _, g := range d.cat.AllGoods() {
		if c, ok := d.Update(g.ID, tick); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// Update recomputes the price of g for tick. It reports whether a change was committed.
func (d *Discovery) Update(g catalog.GoodsID, tick uint64) (PriceChange, bool) {
	s, ok := d.states[g]
	if !ok {
		return PriceChange{}, false
	}
	d.syncBook(s)

	var target float64
	if s.Model == catalog.PriceModelRatio {
		target = d.ratioTarget(s, tick)
	} else {
		target = d.bookTarget(s, tick)
	}
	if shock, ok := d.shocks[g]; ok {
		target *= 1 + shock
		delete(d.shocks, g)
	}

	next := d.clamp(s, target)
	s.LastUpdateTick = tick
	delta := next - s.CurrentPrice
	if math.Abs(delta) <= minCommitDelta {
		return PriceChange{}, false
	}

	s.CurrentPrice = next
	d.appendHistory(s, PricePoint{Tick: tick, Price: next})
	if d.tracker != nil {
		d.tracker.RecordPrice(g, next)
	}
	slog.Debug("price updated", "goods", g, "price", next, "change", delta, "tick", tick)
	return PriceChange{GoodsID: g, Price: next, Change: delta}, true
}

func (d *Discovery) syncBook(s *PriceState) {
	if d.book == nil {
		return
	}
	s.LastTradePrice, _ = d.book.LastTradePrice(s.GoodsID)
	s.BestBid, _ = d.book.BestBid(s.GoodsID)
	s.BestAsk, _ = d.book.BestAsk(s.GoodsID)
}

// bookTarget blends trade, midpoint, pressure and inertia, then regresses toward base.
// Missing signals drop out and the remaining weights are renormalized.
func (d *Discovery) bookTarget(s *PriceState, tick uint64) float64 {
	cur := s.CurrentPrice
	sum := weightInertia * cur
	weights := weightInertia

	if s.LastTradePrice > 0 {
		sum += weightTrade * s.LastTradePrice
		weights += weightTrade
	}
	if mid, ok := midpoint(s.BestBid, s.BestAsk); ok {
		sum += weightMid * mid
		weights += weightMid
	}
	if p, ok := d.pressure(s.GoodsID, tick); ok {
		sum += weightPressure * cur * (1 + p*pressureImpact)
		weights += weightPressure
	}

	blend := sum / weights
	rw := regressionWeight(cur, s.BasePrice)
	return (1-rw)*blend + rw*s.BasePrice
}

// midpoint degrades to a one-sided estimate when only one side of the book rests.
func midpoint(bid, ask float64) (float64, bool) {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2, true
	case bid > 0:
		return bid * (1 + oneSidedSpread), true
	case ask > 0:
		return ask * (1 - oneSidedSpread), true
	default:
		return 0, false
	}
}

// pressure prefers aggressor flow over the recent window and falls back to the tracker.
func (d *Discovery) pressure(g catalog.GoodsID, tick uint64) (float64, bool) {
	if d.book != nil {
		from := uint64(0)
		if tick > pressureWindow {
			from = tick - pressureWindow
		}
		v := d.book.Volume(g, from, tick)
		if v.Buy+v.Sell > 0 {
			return economy.Clamp((v.Buy-v.Sell)/(v.Buy+v.Sell), -1, 1), true
		}
	}
	if d.tracker != nil {
		return d.tracker.Pressure(g), true
	}
	return 0, false
}

// regressionWeight grows quadratically with relative deviation from base, capped at 0.3.
func regressionWeight(cur, base float64) float64 {
	if base <= 0 {
		return 0
	}
	dev := math.Abs(cur-base) / base
	return economy.Clamp(dev*dev*0.05, 0, 0.3)
}

// ratioTarget is base × demand/supply × season, the flow-driven model.
func (d *Discovery) ratioTarget(s *PriceState, tick uint64) float64 {
	if d.tracker == nil {
		return s.CurrentPrice
	}
	goods, _ := d.cat.Goods(s.GoodsID)
	return s.BasePrice * d.tracker.Ratio(s.GoodsID) * SeasonalMod(SeasonAt(tick), goods)
}

// clamp applies the rate limit first and the absolute band second.
func (d *Discovery) clamp(s *PriceState, target float64) float64 {
	cur := s.CurrentPrice
	if math.IsNaN(target) || math.IsInf(target, 0) {
		target = cur
	}
	step := cur * MaxPriceChange
	next := economy.Clamp(target, cur-step, cur+step)
	return economy.Clamp(next, s.Floor(), s.Ceiling())
}

func (d *Discovery) appendHistory(s *PriceState, p PricePoint) {
	s.History = append(s.History, p)
	if len(s.History) > CleanupThreshold {
		trimmed := make([]PricePoint, MaxHistoryPoints)
		copy(trimmed, s.History[len(s.History)-MaxHistoryPoints:])
		s.History = trimmed
	}
}
