package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Quote is one goods line of a market prompt.
type Quote struct {
	GoodsID   string
	Name      string
	Price     float64
	BasePrice float64
	Volume    float64 // Traded quantity over the recent window
}

// MarketContext is the state a market-event prompt describes.
type MarketContext struct {
	Tick   uint64
	Season string
	Quotes []Quote
}

// MarketEvent is a narrative event with bounded economic effects.
// Price changes are fractional shocks; supply changes are fractions of tracked supply.
type MarketEvent struct {
	Headline      string             `json:"headline"`
	Description   string             `json:"description,omitempty"`
	PriceChanges  map[string]float64 `json:"price_changes,omitempty"`
	SupplyChanges map[string]float64 `json:"supply_changes,omitempty"`
}

type marketEventBatch struct {
	Events []MarketEvent `json:"events"`
}

// GenerateMarketEvents asks the generator for up to three market events.
// Goods not present in the context are dropped from the effect maps.
func GenerateMarketEvents(ctx context.Context, gen Generator, mc MarketContext) ([]MarketEvent, error) {
	if gen == nil {
		return nil, ErrDisabled
	}
	response, err := gen.Complete(ctx, marketSystemPrompt, buildMarketPrompt(mc), 600)
	if err != nil {
		return nil, fmt.Errorf("market events: %w", err)
	}
	return parseMarketEvents(response, mc)
}

const marketSystemPrompt = `You are the wire service of an industrial trading economy. You report plausible, ` +
	`short-lived market events: strikes, discoveries, accidents, demand fads, logistics problems.

Respond ONLY with a single JSON object:
{"events": [{"headline": "...", "description": "...", "price_changes": {"goods-id": 0.05}, "supply_changes": {"goods-id": -0.1}}]}
- at most 3 events, zero events is fine when nothing notable happens
- price_changes and supply_changes are fractions between -0.3 and 0.3
- only use goods ids from the market listing`

func buildMarketPrompt(mc MarketContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Day %d, %s.\n\nMarket listing:\n", mc.Tick, mc.Season)
	for _, q := range mc.Quotes {
		change := 0.0
		if q.BasePrice > 0 {
			change = (q.Price/q.BasePrice - 1) * 100
		}
		fmt.Fprintf(&b, "- %s (%s): %s (%+.1f%% vs base), volume %s\n",
			q.GoodsID, q.Name, humanize.Commaf(roundCents(q.Price)), change, humanize.Commaf(roundCents(q.Volume)))
	}
	b.WriteString("\nWhat happens in the markets today? Respond with a single JSON object.")
	return b.String()
}

func parseMarketEvents(response string, mc MarketContext) ([]MarketEvent, error) {
	var batch marketEventBatch
	if err := decode(schemaMarketEvents, response, &batch); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(mc.Quotes))
	for _, q := range mc.Quotes {
		known[q.GoodsID] = true
	}
	for i := range batch.Events {
		batch.Events[i].PriceChanges = filterKnown(batch.Events[i].PriceChanges, known)
		batch.Events[i].SupplyChanges = filterKnown(batch.Events[i].SupplyChanges, known)
	}
	return batch.Events, nil
}

func filterKnown(m map[string]float64, known map[string]bool) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if known[k] {
			out[k] = v
		}
	}
	return out
}

func roundCents(v float64) float64 {
	return float64(int64(v*100)) / 100
}
