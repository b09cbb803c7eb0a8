package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/llm"
)

func TestMarketEventIsRememberedByCompanies(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("Default catalog failed: %v", err)
	}
	opts := DefaultOptions()
	opts.AICompanies = 2
	opts.Speed = 0
	g, err := NewGame(context.Background(), "events", cat, opts)
	if err != nil {
		t.Fatalf("NewGame failed: %v", err)
	}
	t.Cleanup(g.Close)

	g.applyEvent(llm.MarketEvent{
		Headline:     "Mine flooding",
		PriceChanges: map[string]float64{"coal": 0.2},
	})
	companies := g.ai.Companies()
	if len(companies) != 2 {
		t.Fatalf("expected 2 AI companies, have %d", len(companies))
	}
	for _, c := range companies {
		sc := g.strategyContext(c, 1)
		if len(sc.Notes) == 0 || !strings.Contains(sc.Notes[0], "Mine flooding") {
			t.Errorf("%s: expected the event in the strategy notes, got %v", c.ID, sc.Notes)
		}
	}
}

func TestSnapshotCarriesAIOrders(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("Default catalog failed: %v", err)
	}
	opts := DefaultOptions()
	opts.AICompanies = 4
	opts.Speed = 0
	g, err := NewGame(context.Background(), "ai-orders", cat, opts)
	if err != nil {
		t.Fatalf("NewGame failed: %v", err)
	}
	t.Cleanup(g.Close)

	u := g.Step()

	if len(u.AIOrders) == 0 {
		t.Fatal("companies with input needs should place orders on the first tick")
	}
	for _, a := range u.AIOrders {
		if !strings.HasPrefix(string(a.CompanyID), "ai-") || (a.OrderID == "" && a.Err == "") {
			t.Errorf("unexpected AI order action: %+v", a)
		}
	}
}
