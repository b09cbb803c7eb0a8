package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// StrategyContext describes one AI company for a strategy prompt.
type StrategyContext struct {
	CompanyName  string
	Personality  string
	Cash         float64
	StartingCash float64
	Season       string
	Holdings     map[string]float64
	Inputs       []string
	Outputs      []string
	Prices       map[string]float64
	Notes        []string
}

// Strategy is generated trading advice. Biases are fractions added to the company's spreads.
type Strategy struct {
	BuyBias   float64  `json:"buy_bias"`
	SellBias  float64  `json:"sell_bias"`
	Focus     []string `json:"focus,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// GenerateStrategy asks the generator for trading advice for one company.
func GenerateStrategy(ctx context.Context, gen Generator, sc StrategyContext) (*Strategy, error) {
	if gen == nil {
		return nil, ErrDisabled
	}
	response, err := gen.Complete(ctx, buildStrategySystemPrompt(sc), buildStrategyPrompt(sc), 300)
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	var s Strategy
	if err := decode(schemaStrategy, response, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func buildStrategySystemPrompt(sc StrategyContext) string {
	return fmt.Sprintf(
		`You advise %s, a %s industrial company in a commodity trading economy.

Respond ONLY with a single JSON object:
- "buy_bias": fraction added to how far above market the company bids (-0.1 to 0.1)
- "sell_bias": fraction added to how far below market it offers (-0.1 to 0.1)
- "focus": up to 5 goods ids to stock more heavily
- "rationale": one sentence`,
		sc.CompanyName, sc.Personality,
	)
}

func buildStrategyPrompt(sc StrategyContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Season: %s. Cash: %s (started with %s).\n",
		sc.Season, humanize.Commaf(roundCents(sc.Cash)), humanize.Commaf(roundCents(sc.StartingCash)))
	fmt.Fprintf(&b, "Consumes: %s. Produces: %s.\n\n", strings.Join(sc.Inputs, ", "), strings.Join(sc.Outputs, ", "))
	b.WriteString("Holdings and prices:\n")
	for _, g := range append(append([]string{}, sc.Inputs...), sc.Outputs...) {
		fmt.Fprintf(&b, "- %s: hold %s @ %s\n", g, humanize.Commaf(roundCents(sc.Holdings[g])), humanize.Commaf(roundCents(sc.Prices[g])))
	}
	if len(sc.Notes) > 0 {
		b.WriteString("\nRecent notable events:\n")
		for _, n := range sc.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	b.WriteString("\nHow should the company trade this month? Respond with a single JSON object.")
	return b.String()
}
