package engine

import "sort"

// BuildingProfit is one building's contribution to a tick.
type BuildingProfit struct {
	BuildingID       string         `json:"building_id"`
	DefinitionID     string         `json:"definition_id"`
	Status           BuildingStatus `json:"status"`
	NetProfit        float64        `json:"net_profit"`
	AvgProfitPerTick float64        `json:"avg_profit_per_tick"`
}

// FinancialSummary aggregates the player's production results for one tick.
type FinancialSummary struct {
	TotalIncome       float64          `json:"total_income"`
	TotalInputCost    float64          `json:"total_input_cost"`
	TotalMaintenance  float64          `json:"total_maintenance"`
	UnpaidMaintenance float64          `json:"unpaid_maintenance,omitempty"`
	NetProfit         float64          `json:"net_profit"`
	AvgNetProfit      float64          `json:"avg_net_profit"`
	BuildingProfits   []BuildingProfit `json:"building_profits"`
}

// summarize folds building reports into a summary. AvgNetProfit sums the
// per-building cycle-smoothed averages.
func summarize(buildings []*BuildingInstance, reports map[string]BuildingReport) FinancialSummary {
	var f FinancialSummary
	for _, b := range buildings {
		r := reports[b.ID]
		net := r.Income - r.InputCost - r.Maintenance
		f.TotalIncome += r.Income
		f.TotalInputCost += r.InputCost
		f.TotalMaintenance += r.Maintenance
		f.UnpaidMaintenance += r.Unpaid
		f.NetProfit += net
		f.AvgNetProfit += b.AvgProfitPerTick()
		f.BuildingProfits = append(f.BuildingProfits, BuildingProfit{
			BuildingID:       b.ID,
			DefinitionID:     b.DefinitionID,
			Status:           b.Status,
			NetProfit:        net,
			AvgProfitPerTick: b.AvgProfitPerTick(),
		})
	}
	sort.Slice(f.BuildingProfits, func(i, j int) bool {
		return f.BuildingProfits[i].BuildingID < f.BuildingProfits[j].BuildingID
	})
	return f
}
