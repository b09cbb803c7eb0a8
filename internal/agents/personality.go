// Package agents runs the AI-owned companies that trade alongside the player.
// Each company follows a personality template that shapes spreads, order sizes and stock targets.
package agents

import "fmt"

// Personality names a behavioral template.
type Personality string

const (
	Aggressive   Personality = "aggressive"
	Balanced     Personality = "balanced"
	Conservative Personality = "conservative"
)

// ParsePersonality validates a personality name.
func ParsePersonality(s string) (Personality, error) {
	switch p := Personality(s); p {
	case Aggressive, Balanced, Conservative:
		return p, nil
	default:
		return "", fmt.Errorf("unknown personality %q", s)
	}
}

// Template defines how a personality trades.
type Template struct {
	// Spread is the fraction over (buys) or under (sells) the market price an order is placed at.
	Spread float64

	// OrderFraction caps a single buy order's notional as a fraction of available cash.
	OrderFraction float64

	// InputCycles is how many production cycles of inputs the company tries to hold.
	InputCycles float64

	// KeepCycles is how many cycles of output it holds back instead of selling.
	KeepCycles float64

	// CashReserve is the fraction of starting cash below which the company stops buying.
	CashReserve float64

	// OrderTTL is how many ticks an order rests before expiring.
	OrderTTL uint64
}

var templates = map[Personality]Template{
	Aggressive: {
		Spread:        0.08,
		OrderFraction: 0.4,
		InputCycles:   3,
		KeepCycles:    0,
		CashReserve:   0.2,
		OrderTTL:      4,
	},
	Balanced: {
		Spread:        0.04,
		OrderFraction: 0.25,
		InputCycles:   2,
		KeepCycles:    1,
		CashReserve:   0.35,
		OrderTTL:      6,
	},
	Conservative: {
		Spread:        0.02,
		OrderFraction: 0.15,
		InputCycles:   1.5,
		KeepCycles:    2,
		CashReserve:   0.5,
		OrderTTL:      8,
	},
}

// TemplateFor returns the template of p, falling back to Balanced.
func TemplateFor(p Personality) Template {
	if t, ok := templates[p]; ok {
		return t
	}
	return templates[Balanced]
}

// Profile seeds one AI company.
type Profile struct {
	Name        string
	Personality Personality
	Buildings   []string
}

// DefaultRoster covers every tier of the default supply chain.
func DefaultRoster() []Profile {
	return []Profile{
		{Name: "Ironclad Mining", Personality: Aggressive, Buildings: []string{"iron-mine", "coal-mine"}},
		{Name: "Verdant Agriculture", Personality: Conservative, Buildings: []string{"farm", "lumber-camp", "flour-mill"}},
		{Name: "Copperline", Personality: Balanced, Buildings: []string{"copper-mine", "oil-well", "copper-smelter"}},
		{Name: "Northwind Industries", Personality: Balanced, Buildings: []string{"steel-mill", "sawmill", "refinery"}},
		{Name: "Hearth & Home", Personality: Conservative, Buildings: []string{"bakery", "furniture-workshop"}},
		{Name: "Voltaic Works", Personality: Aggressive, Buildings: []string{"tool-factory", "electronics-plant"}},
	}
}
