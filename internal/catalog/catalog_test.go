package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	ore, ok := c.Goods("iron-ore")
	if !ok {
		t.Fatal("expected iron-ore in default catalog")
	}
	if ore.BasePrice != 1000 {
		t.Errorf("expected iron-ore base price 1000, got %f", ore.BasePrice)
	}

	mill, ok := c.Building("steel-mill")
	if !ok {
		t.Fatal("expected steel-mill in default catalog")
	}
	m, ok := mill.Method(mill.DefaultMethod)
	if !ok {
		t.Fatalf("default method %q missing", mill.DefaultMethod)
	}
	if len(m.Recipe.Inputs) != 2 {
		t.Errorf("expected 2 steel inputs, got %d", len(m.Recipe.Inputs))
	}

	grain, _ := c.Goods("grain")
	if grain.PriceModel != PriceModelRatio {
		t.Errorf("expected grain to use ratio price model, got %s", grain.PriceModel)
	}
}

func TestAllGoodsKeepsCatalogOrder(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	all := c.AllGoods()
	for i, g := range all {
		if c.GoodsIndex(g.ID) != i {
			t.Errorf("goods %s at position %d, index says %d", g.ID, i, c.GoodsIndex(g.ID))
		}
	}
	if c.GoodsIndex("unobtainium") != -1 {
		t.Error("expected -1 for unknown goods")
	}
}

func TestParseDefaultsPriceModel(t *testing.T) {
	c, err := Parse([]byte(`
goods:
  - {id: a, name: A, category: raw, base_price: 10}
buildings:
  - id: well
    name: Well
    default_method: draw
    methods:
      - id: draw
        recipe: {ticks_required: 1, outputs: [{goods: a, amount: 5}]}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	g, _ := c.Goods("a")
	if g.PriceModel != PriceModelBook {
		t.Errorf("expected book model by default, got %q", g.PriceModel)
	}
	if got := c.Producers("a"); len(got) != 1 || got[0] != "well" {
		t.Errorf("unexpected producers: %v", got)
	}
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no goods",
			yaml: `goods: []`,
			want: "no goods",
		},
		{
			name: "non-positive price",
			yaml: `goods: [{id: a, base_price: 0}]`,
			want: "base_price",
		},
		{
			name: "unknown recipe goods",
			yaml: `
goods: [{id: a, base_price: 1}]
buildings:
  - id: b
    default_method: m
    methods: [{id: m, recipe: {ticks_required: 1, outputs: [{goods: z, amount: 1}]}}]`,
			want: "unknown goods",
		},
		{
			name: "missing default method",
			yaml: `
goods: [{id: a, base_price: 1}]
buildings:
  - id: b
    default_method: nope
    methods: [{id: m, recipe: {ticks_required: 1, outputs: [{goods: a, amount: 1}]}}]`,
			want: "default_method",
		},
		{
			name: "zero ticks",
			yaml: `
goods: [{id: a, base_price: 1}]
buildings:
  - id: b
    default_method: m
    methods: [{id: m, recipe: {ticks_required: 0, outputs: [{goods: a, amount: 1}]}}]`,
			want: "ticks_required",
		},
		{
			name: "duplicate goods",
			yaml: `goods: [{id: a, base_price: 1}, {id: a, base_price: 2}]`,
			want: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRecipeScaled(t *testing.T) {
	r := Recipe{
		Inputs:        []Ingredient{{Goods: "a", Amount: 10}},
		Outputs:       []Ingredient{{Goods: "b", Amount: 4}},
		TicksRequired: 3,
	}
	s := r.Scaled(1.5)
	if s.Inputs[0].Amount != 15 || s.Outputs[0].Amount != 6 {
		t.Errorf("unexpected scaled amounts: %+v", s)
	}
	if r.Inputs[0].Amount != 10 {
		t.Error("Scaled must not mutate the original recipe")
	}
	if s.TicksRequired != 3 {
		t.Errorf("ticks must not scale, got %f", s.TicksRequired)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `goods: [{id: a, name: A, base_price: 3}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.AllGoods()) != 1 {
		t.Errorf("expected 1 goods, got %d", len(c.AllGoods()))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
