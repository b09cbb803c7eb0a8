// Recipe-driven production. Buildings advance one cycle at a time and only
// consume inputs once the cycle completes.
package engine

import (
	"log/slog"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/pricing"
	"github.com/talgya/mini-economy/internal/research"
)

// DefaultTicksPerMonth converts monthly maintenance into a per-tick charge.
const DefaultTicksPerMonth = 30

// PriceSource publishes the current price of a good.
type PriceSource interface {
	Price(g catalog.GoodsID) float64
}

// BuildingReport is the outcome of one building's tick.
type BuildingReport struct {
	BuildingID  string            `json:"building_id"`
	OwnerID     economy.CompanyID `json:"owner_id"`
	Status      BuildingStatus    `json:"status"`
	Completed   bool              `json:"completed"`
	Income      float64           `json:"income"`
	InputCost   float64           `json:"input_cost"`
	Maintenance float64           `json:"maintenance"`
	Unpaid      float64           `json:"unpaid,omitempty"`
	Missing     []MissingInput    `json:"missing_inputs,omitempty"`
}

// ProductionScheduler advances buildings through their recipes.
type ProductionScheduler struct {
	cat           *catalog.Catalog
	ledger        *economy.Ledger
	tracker       *pricing.Tracker
	research      *research.Service
	prices        PriceSource
	ticksPerMonth float64
}

// NewProductionScheduler creates a scheduler. ticksPerMonth <= 0 uses DefaultTicksPerMonth.
func NewProductionScheduler(cat *catalog.Catalog, ledger *economy.Ledger, tracker *pricing.Tracker, rs *research.Service, prices PriceSource, ticksPerMonth int) *ProductionScheduler {
	if ticksPerMonth <= 0 {
		ticksPerMonth = DefaultTicksPerMonth
	}
	return &ProductionScheduler{
		cat:           cat,
		ledger:        ledger,
		tracker:       tracker,
		research:      rs,
		prices:        prices,
		ticksPerMonth: float64(ticksPerMonth),
	}
}

// MaintenancePerTick is the charge for one tick of def in status s.
func (p *ProductionScheduler) MaintenancePerTick(def *catalog.BuildingDefinition, s BuildingStatus) float64 {
	return def.MaintenanceCost / p.ticksPerMonth * s.MaintenanceMultiplier()
}

// Recipe returns the recipe b runs this tick, scaled by research output modifiers.
func (p *ProductionScheduler) Recipe(b *BuildingInstance) (catalog.Recipe, bool) {
	def, ok := p.cat.Building(b.DefinitionID)
	if !ok {
		return catalog.Recipe{}, false
	}
	m, ok := def.Method(b.CurrentMethodID)
	if !ok {
		return catalog.Recipe{}, false
	}
	return m.Recipe.Scaled(p.research.OutputMultiplier(def.ID)), true
}

// Step runs one tick for b. Shortages are detected before progress advances,
// so the returned status is the building's state for this tick.
func (p *ProductionScheduler) Step(b *BuildingInstance) BuildingReport {
	rep := BuildingReport{BuildingID: b.ID, OwnerID: b.OwnerID}
	def, ok := p.cat.Building(b.DefinitionID)
	acct, aok := p.ledger.Account(b.OwnerID)
	recipe, rok := p.Recipe(b)
	if !ok || !aok || !rok {
		slog.Error("building skipped", "building", b.ID, "definition", b.DefinitionID, "owner", b.OwnerID)
		rep.Status = b.Status
		return rep
	}

	if b.Status != StatusPaused {
		p.advance(b, recipe, acct, &rep)
	}

	charge := p.MaintenancePerTick(def, b.Status)
	paid := acct.DebitUpTo(charge)
	rep.Maintenance = paid
	rep.Unpaid = economy.NonNegative(charge - paid)
	b.UnpaidMaintenance += rep.Unpaid
	b.cycleMaintenance += charge
	b.cycleTicks++
	rep.Status = b.Status

	if rep.Completed {
		net := rep.Income - rep.InputCost - b.cycleMaintenance
		b.profits.push(net / float64(b.cycleTicks))
		b.cycleMaintenance = 0
		b.cycleTicks = 0
	}
	return rep
}

func (p *ProductionScheduler) advance(b *BuildingInstance, recipe catalog.Recipe, acct *economy.Account, rep *BuildingReport) {
	if missing := p.reserveInputs(recipe, acct); len(missing) > 0 {
		b.Status = StatusNoInput
		b.MissingInputs = missing
		rep.Missing = missing
		return
	}
	b.Status = StatusRunning
	b.MissingInputs = nil
	b.ProductionProgress += b.Efficiency * b.Utilization * p.research.EfficiencyMultiplier(b.DefinitionID)
	if b.ProductionProgress < recipe.TicksRequired {
		return
	}

	for _, in := range recipe.Inputs {
		if err := acct.ConsumeForProduction(in.Goods, in.Amount); err != nil {
			// Reservations make this unreachable unless stock left the account mid-tick.
			slog.Error("production input vanished", "building", b.ID, "goods", in.Goods, "error", err)
			b.Status = StatusNoInput
			b.ProductionProgress = recipe.TicksRequired
			return
		}
		rep.InputCost += in.Amount * p.prices.Price(in.Goods)
		p.tracker.AddDemand(in.Goods, in.Amount)
	}

	produced := 0.0
	for _, out := range recipe.Outputs {
		produced += out.Amount
	}
	unitCost := 0.0
	if produced > 0 {
		unitCost = rep.InputCost / produced
	}
	for _, out := range recipe.Outputs {
		acct.Add(out.Goods, out.Amount, unitCost)
		rep.Income += out.Amount * p.prices.Price(out.Goods)
		p.tracker.AddSupply(out.Goods, out.Amount)
	}

	b.ProductionProgress -= recipe.TicksRequired
	b.CompletedCycles++
	rep.Completed = true
}

// reserveInputs claims every input for this tick or none of them.
func (p *ProductionScheduler) reserveInputs(recipe catalog.Recipe, acct *economy.Account) []MissingInput {
	var missing []MissingInput
	reserved := make([]catalog.Ingredient, 0, len(recipe.Inputs))
	for _, in := range recipe.Inputs {
		got := acct.ReserveForProduction(in.Goods, in.Amount)
		reserved = append(reserved, catalog.Ingredient{Goods: in.Goods, Amount: got})
		if got+economy.Epsilon < in.Amount {
			missing = append(missing, MissingInput{GoodsID: in.Goods, Required: in.Amount, Available: got})
		}
	}
	if len(missing) > 0 {
		for _, r := range reserved {
			acct.ReleaseProduction(r.Goods, r.Amount)
		}
	}
	return missing
}
