// Package pricing turns trade flow, order-book depth and supply/demand imbalance
// into a bounded published price per goods.
package pricing

import (
	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
)

const (
	// DecayRate is applied to supply and demand counters once per tick.
	DecayRate = 0.995
	// MinCounter floors both counters so the demand/supply ratio stays finite.
	MinCounter = 100.0
)

// SupplyDemand is the decaying flow state of one goods.
type SupplyDemand struct {
	Supply        float64 `json:"supply"`
	Demand        float64 `json:"demand"`
	LastPrice     float64 `json:"last_price"`
	PriceVelocity float64 `json:"price_velocity"` // Fractional change of the last recorded price
}

// Tracker accumulates produced and consumed quantity per goods.
type Tracker struct {
	data  map[catalog.GoodsID]*SupplyDemand
	decay float64
	floor float64
}

// NewTracker creates counters for goods, each starting at the floor.
func NewTracker(goods []catalog.GoodsID) *Tracker {
	t := &Tracker{
		data:  make(map[catalog.GoodsID]*SupplyDemand, len(goods)),
		decay: DecayRate,
		floor: MinCounter,
	}
	for _, g := range goods {
		t.entry(g)
	}
	return t
}

func (t *Tracker) entry(g catalog.GoodsID) *SupplyDemand {
	sd, ok := t.data[g]
	if !ok {
		sd = &SupplyDemand{Supply: t.floor, Demand: t.floor}
		t.data[g] = sd
	}
	return sd
}

// AddSupply records produced or offered quantity. Non-positive amounts are ignored.
func (t *Tracker) AddSupply(g catalog.GoodsID, amount float64) {
	if amount <= 0 {
		return
	}
	t.entry(g).Supply += amount
}

// AddDemand records consumed or requested quantity. Non-positive amounts are ignored.
func (t *Tracker) AddDemand(g catalog.GoodsID, amount float64) {
	if amount <= 0 {
		return
	}
	t.entry(g).Demand += amount
}

// Decay shrinks every counter geometrically, never below the floor.
func (t *Tracker) Decay() {
	for _, sd := range t.data {
		sd.Supply = max(sd.Supply*t.decay, t.floor)
		sd.Demand = max(sd.Demand*t.decay, t.floor)
	}
}

// RecordPrice stores the latest published price and its velocity.
func (t *Tracker) RecordPrice(g catalog.GoodsID, price float64) {
	sd := t.entry(g)
	if sd.LastPrice > 0 {
		sd.PriceVelocity = (price - sd.LastPrice) / sd.LastPrice
	}
	sd.LastPrice = price
}

// Get returns a copy of the counters for g.
func (t *Tracker) Get(g catalog.GoodsID) SupplyDemand {
	return *t.entry(g)
}

// Ratio is demand divided by supply.
func (t *Tracker) Ratio(g catalog.GoodsID) float64 {
	sd := t.entry(g)
	return sd.Demand / sd.Supply
}

// Pressure is the normalized imbalance (demand - supply) / (demand + supply) in [-1, 1].
func (t *Tracker) Pressure(g catalog.GoodsID) float64 {
	sd := t.entry(g)
	return economy.Clamp((sd.Demand-sd.Supply)/(sd.Demand+sd.Supply), -1, 1)
}

// All returns a copy of every counter.
func (t *Tracker) All() map[catalog.GoodsID]SupplyDemand {
	out := make(map[catalog.GoodsID]SupplyDemand, len(t.data))
	for g, sd := range t.data {
		out[g] = *sd
	}
	return out
}
