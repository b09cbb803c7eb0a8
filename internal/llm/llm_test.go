package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) Complete(_ context.Context, _, prompt string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func testMarket() MarketContext {
	return MarketContext{
		Tick:   42,
		Season: "winter",
		Quotes: []Quote{
			{GoodsID: "steel", Name: "Steel", Price: 4600, BasePrice: 4500, Volume: 1200},
			{GoodsID: "coal", Name: "Coal", Price: 580, BasePrice: 600},
		},
	}
}

func TestMarketEventsFromFencedResponse(t *testing.T) {
	gen := &fakeGenerator{response: "Here you go:\n```json\n" +
		`{"events":[{"headline":"Mine strike","price_changes":{"coal":0.1,"unobtainium":0.2},"supply_changes":{"coal":-0.2}}]}` +
		"\n```"}

	events, err := GenerateMarketEvents(context.Background(), gen, testMarket())
	if err != nil {
		t.Fatalf("GenerateMarketEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Headline != "Mine strike" {
		t.Fatalf("unexpected events %+v", events)
	}
	if _, ok := events[0].PriceChanges["unobtainium"]; ok {
		t.Error("unknown goods should be filtered out")
	}
	if events[0].PriceChanges["coal"] != 0.1 || events[0].SupplyChanges["coal"] != -0.2 {
		t.Errorf("unexpected effects %+v", events[0])
	}
	if !strings.Contains(gen.prompts[0], "4,600") {
		t.Errorf("prompt should format prices with separators: %s", gen.prompts[0])
	}
}

func TestMarketEventsRejectInvalidPayloads(t *testing.T) {
	cases := []struct {
		name     string
		response string
	}{
		{"no json", "the markets are calm"},
		{"broken json", `{"events": [`},
		{"missing events", `{"headline": "x"}`},
		{"out of range", `{"events":[{"headline":"x","price_changes":{"coal":4}}]}`},
		{"extra field", `{"events":[{"headline":"x","mood":"grim"}]}`},
		{"too many", `{"events":[{"headline":"a"},{"headline":"b"},{"headline":"c"},{"headline":"d"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{response: tc.response}
			if _, err := GenerateMarketEvents(context.Background(), gen, testMarket()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestGeneratorErrorsPropagate(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	if _, err := GenerateStrategy(context.Background(), gen, StrategyContext{}); err == nil {
		t.Error("expected generator error")
	}
	if _, err := GenerateMarketEvents(context.Background(), nil, testMarket()); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestStrategyDecode(t *testing.T) {
	gen := &fakeGenerator{response: `{"buy_bias":0.05,"sell_bias":-0.02,"focus":["coal"],"rationale":"winter"}`}
	s, err := GenerateStrategy(context.Background(), gen, StrategyContext{
		CompanyName: "Ironclad", Personality: "aggressive", Inputs: []string{"coal"},
		Holdings: map[string]float64{"coal": 10}, Prices: map[string]float64{"coal": 600},
	})
	if err != nil {
		t.Fatalf("GenerateStrategy failed: %v", err)
	}
	if s.BuyBias != 0.05 || len(s.Focus) != 1 {
		t.Errorf("unexpected strategy %+v", s)
	}
}

func TestResearchEffectValidation(t *testing.T) {
	rc := ResearchContext{ProjectID: "p", ProjectName: "P", Buildings: []string{"farm"}}

	gen := &fakeGenerator{response: `{"kind":"output","building_id":"farm","multiplier":1.3}`}
	e, err := ProposeResearchEffect(context.Background(), gen, rc)
	if err != nil || e.Multiplier != 1.3 {
		t.Fatalf("unexpected result %+v %v", e, err)
	}

	gen.response = `{"kind":"output","building_id":"castle","multiplier":1.3}`
	if _, err := ProposeResearchEffect(context.Background(), gen, rc); err == nil {
		t.Error("unknown building should be rejected")
	}
	gen.response = `{"kind":"magic","multiplier":1.3}`
	if _, err := ProposeResearchEffect(context.Background(), gen, rc); err == nil {
		t.Error("unknown kind should be rejected")
	}
}

func TestClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") != apiVersion {
			http.Error(w, "bad headers", http.StatusUnauthorized)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "m" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"content":[{"text":"hello"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{APIKey: "k", Model: "m", APIURL: srv.URL, MaxPerMinute: 1})
	got, err := c.Complete(context.Background(), "sys", "hi", 10)
	if err != nil || got != "hello" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
	if _, err := c.Complete(context.Background(), "sys", "hi", 10); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited on the second call, got %v", err)
	}
}

func TestClientDisabledWithoutKey(t *testing.T) {
	c := NewClient(Options{})
	if c.Enabled() {
		t.Error("client without key should be disabled")
	}
	if _, err := c.Complete(context.Background(), "", "", 1); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestClientReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{APIKey: "k", APIURL: srv.URL})
	_, err := c.Complete(context.Background(), "sys", "hi", 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable || apiErr.Body != "overloaded" {
		t.Errorf("expected an APIError with status 503, got %v", err)
	}
}
