package engine

import (
	"context"
	"math"
	"testing"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
)

const testCatalog = `
goods:
  - {id: iron-ore, name: Iron Ore, category: raw, base_price: 1000}
  - {id: steel, name: Steel, category: intermediate, base_price: 4500}
  - {id: tools, name: Tools, category: consumer, base_price: 12000, base_demand: 2}

buildings:
  - id: iron-mine
    name: Iron Mine
    cost: 20000000
    maintenance_cost: 1000000
    default_method: open-pit
    methods:
      - id: open-pit
        name: Open Pit
        recipe: {ticks_required: 5, outputs: [{goods: iron-ore, amount: 100}]}
  - id: steel-mill
    name: Steel Mill
    cost: 40000000
    maintenance_cost: 2000000
    default_method: blast
    methods:
      - id: blast
        name: Blast Furnace
        recipe:
          ticks_required: 2
          inputs: [{goods: iron-ore, amount: 100}]
          outputs: [{goods: steel, amount: 40}]
      - id: arc
        name: Electric Arc
        recipe:
          ticks_required: 3
          inputs: [{goods: iron-ore, amount: 80}]
          outputs: [{goods: steel, amount: 35}]
`

func loadTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return cat
}

// newTestGame creates a paused game with no AI companies on the test catalog.
func newTestGame(t *testing.T, tweak func(*Options)) *Game {
	t.Helper()
	opts := DefaultOptions()
	opts.AICompanies = 0
	opts.Speed = 0
	if tweak != nil {
		tweak(&opts)
	}
	g, err := NewGame(context.Background(), "test", loadTestCatalog(t), opts)
	if err != nil {
		t.Fatalf("NewGame failed: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func mustBuy(t *testing.T, g *Game, defID string, pos Position) BuildingInstance {
	t.Helper()
	b, err := g.PurchaseBuilding(defID, pos)
	if err != nil {
		t.Fatalf("PurchaseBuilding(%s) failed: %v", defID, err)
	}
	return b
}

func playerAccount(t *testing.T, g *Game) *economy.Account {
	t.Helper()
	acct, ok := g.ledger.Account(PlayerID)
	if !ok {
		t.Fatal("player account missing")
	}
	return acct
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

type fixedPrices map[catalog.GoodsID]float64

func (p fixedPrices) Price(g catalog.GoodsID) float64 { return p[g] }
