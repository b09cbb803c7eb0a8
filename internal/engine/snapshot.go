package engine

import (
	"time"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/market"
	"github.com/talgya/mini-economy/internal/pricing"
)

// BuildingShortage reports a building that could not run this tick.
type BuildingShortage struct {
	BuildingID    string         `json:"building_id"`
	Status        BuildingStatus `json:"status"`
	MissingInputs []MissingInput `json:"missing_inputs"`
}

// MarketEventNote is a narrative market event applied during the tick.
type MarketEventNote struct {
	Headline    string `json:"headline"`
	Description string `json:"description"`
}

// TickUpdate is the immutable snapshot emitted after every tick. It shares no
// memory with the game state.
type TickUpdate struct {
	GameID        string                            `json:"game_id"`
	Tick          uint64                            `json:"tick"`
	Timestamp     time.Time                         `json:"timestamp"`
	Season        string                            `json:"season"`
	PlayerCash    float64                           `json:"player_cash"`
	BuildingCount int                               `json:"building_count"`
	Financials    FinancialSummary                  `json:"financials"`
	MarketPrices  map[catalog.GoodsID]float64       `json:"market_prices"`
	MarketChanges []pricing.PriceChange             `json:"market_changes,omitempty"`
	TickVolumes   map[catalog.GoodsID]market.Volume `json:"tick_volumes,omitempty"`
	Shortages     []BuildingShortage                `json:"building_shortages,omitempty"`
	Trades        []market.Trade                    `json:"trades,omitempty"`
	AutoTrades    []AutoTradeAction                 `json:"auto_trades,omitempty"`
	AIOrders      []agents.Action                   `json:"ai_orders,omitempty"`
	Events        []MarketEventNote                 `json:"events,omitempty"`
	Digest        string                            `json:"digest"`
}

func tickVolumes(trades []market.Trade) map[catalog.GoodsID]market.Volume {
	if len(trades) == 0 {
		return nil
	}
	out := make(map[catalog.GoodsID]market.Volume)
	for _, t := range trades {
		v := out[t.GoodsID]
		v.Total += t.Quantity
		if t.Aggressor == market.Buy {
			v.Buy += t.Quantity
		} else {
			v.Sell += t.Quantity
		}
		out[t.GoodsID] = v
	}
	return out
}

func shortages(buildings []*BuildingInstance) []BuildingShortage {
	var out []BuildingShortage
	for _, b := range buildings {
		if !b.Status.Starved() {
			continue
		}
		out = append(out, BuildingShortage{
			BuildingID:    b.ID,
			Status:        b.Status,
			MissingInputs: append([]MissingInput(nil), b.MissingInputs...),
		})
	}
	return out
}
