package engine

import (
	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
)

// profitWindow is how many completed cycles the per-building profit average spans.
const profitWindow = 8

// Position is a building's slot on the player's site grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BuildingInstance is one owned production building.
type BuildingInstance struct {
	ID                 string            `json:"id"`
	DefinitionID       string            `json:"definition_id"`
	OwnerID            economy.CompanyID `json:"owner_id"`
	Position           Position          `json:"position"`
	Efficiency         float64           `json:"efficiency"`
	Utilization        float64           `json:"utilization"`
	Status             BuildingStatus    `json:"status"`
	ProductionProgress float64           `json:"production_progress"`
	CurrentMethodID    string            `json:"current_method_id"`
	MissingInputs      []MissingInput    `json:"missing_inputs,omitempty"`
	CompletedCycles    int               `json:"completed_cycles"`
	UnpaidMaintenance  float64           `json:"unpaid_maintenance,omitempty"`

	profits          profitRing
	cycleMaintenance float64
	cycleTicks       int // ticks since the last completed cycle
}

// MissingInput is a shortfall that stopped a production cycle.
type MissingInput struct {
	GoodsID   catalog.GoodsID `json:"goods_id"`
	Required  float64         `json:"required"`
	Available float64         `json:"available"`
}

// Shortfall is the quantity still needed.
func (m MissingInput) Shortfall() float64 {
	return economy.NonNegative(m.Required - m.Available)
}

// AvgProfitPerTick is the mean per-tick net profit over the last completed cycles.
func (b *BuildingInstance) AvgProfitPerTick() float64 {
	return b.profits.mean()
}

// profitRing holds the per-tick normalized net profit of recent cycles.
type profitRing struct {
	vals [profitWindow]float64
	n    int
	next int
}

func (r *profitRing) push(v float64) {
	r.vals[r.next] = v
	r.next = (r.next + 1) % profitWindow
	if r.n < profitWindow {
		r.n++
	}
}

func (r *profitRing) mean() float64 {
	if r.n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < r.n; i++ {
		sum += r.vals[i]
	}
	return sum / float64(r.n)
}

func (r *profitRing) last() float64 {
	if r.n == 0 {
		return 0
	}
	return r.vals[(r.next+profitWindow-1)%profitWindow]
}

// resetCycle drops progress and profit history, as after a method switch.
func (b *BuildingInstance) resetCycle() {
	b.ProductionProgress = 0
	b.cycleMaintenance = 0
	b.cycleTicks = 0
	b.profits.reset()
}

func (r *profitRing) reset() {
	*r = profitRing{}
}
