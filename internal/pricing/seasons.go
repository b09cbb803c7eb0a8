package pricing

import "github.com/talgya/mini-economy/internal/catalog"

// Season constants.
const (
	SeasonSpring = 0
	SeasonSummer = 1
	SeasonAutumn = 2
	SeasonWinter = 3
)

// TicksPerSeason is three thirty-day months.
const TicksPerSeason = 90

// SeasonAt returns the season for a tick.
func SeasonAt(tick uint64) uint8 {
	return uint8((tick / TicksPerSeason) % 4)
}

// SeasonName returns a human-readable season name.
func SeasonName(season uint8) string {
	switch season {
	case SeasonSpring:
		return "spring"
	case SeasonSummer:
		return "summer"
	case SeasonAutumn:
		return "autumn"
	case SeasonWinter:
		return "winter"
	default:
		return "unknown"
	}
}

// SeasonalMod returns a price modifier for goods in a season.
// Food is dear in winter and cheap after harvest; timber and fuel follow heating demand.
func SeasonalMod(season uint8, g catalog.Goods) float64 {
	food := g.ID == "grain" || g.ID == "flour" || g.ID == "bread"
	heat := g.ID == "coal" || g.ID == "timber" || g.ID == "crude-oil"

	switch season {
	case SeasonWinter:
		switch {
		case food:
			return 1.15
		case heat:
			return 1.2
		default:
			return 1.0
		}
	case SeasonSpring:
		if food {
			return 1.05
		}
		return 1.0
	case SeasonSummer:
		if heat {
			return 0.9
		}
		return 1.0
	case SeasonAutumn:
		if food {
			return 0.85
		}
		return 1.0
	}
	return 1.0
}
