// Package catalog holds the static goods and building reference data.
// Catalogs are loaded once from YAML and are read-only afterwards.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GoodsID is the stable identifier of a tradeable good.
type GoodsID string

// Category groups goods by their position in the supply chain.
type Category string

const (
	CategoryRaw          Category = "raw"
	CategoryIntermediate Category = "intermediate"
	CategoryConsumer     Category = "consumer"
)

// PriceModel selects how a goods market forms its published price.
type PriceModel string

const (
	// PriceModelBook blends trade prints and order-book depth.
	PriceModelBook PriceModel = "book"
	// PriceModelRatio derives price from the tracked demand/supply ratio.
	PriceModelRatio PriceModel = "ratio"
)

// Goods is one entry of the goods catalog.
type Goods struct {
	ID         GoodsID    `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name"`
	Category   Category   `yaml:"category" json:"category"`
	BasePrice  float64    `yaml:"base_price" json:"base_price"`
	PriceModel PriceModel `yaml:"price_model" json:"price_model"`
	BaseDemand float64    `yaml:"base_demand" json:"base_demand"` // Background consumer demand per tick
}

// Ingredient is an amount of one good consumed or produced by a recipe.
type Ingredient struct {
	Goods  GoodsID `yaml:"goods" json:"goods"`
	Amount float64 `yaml:"amount" json:"amount"`
}

// Recipe is an immutable input to output transformation.
type Recipe struct {
	Inputs        []Ingredient `yaml:"inputs" json:"inputs"`
	Outputs       []Ingredient `yaml:"outputs" json:"outputs"`
	TicksRequired float64      `yaml:"ticks_required" json:"ticks_required"`
}

// Scaled returns a copy of the recipe with every amount multiplied by mult.
func (r Recipe) Scaled(mult float64) Recipe {
	out := Recipe{TicksRequired: r.TicksRequired}
	out.Inputs = make([]Ingredient, len(r.Inputs))
	for i, in := range r.Inputs {
		out.Inputs[i] = Ingredient{Goods: in.Goods, Amount: in.Amount * mult}
	}
	out.Outputs = make([]Ingredient, len(r.Outputs))
	for i, o := range r.Outputs {
		out.Outputs[i] = Ingredient{Goods: o.Goods, Amount: o.Amount * mult}
	}
	return out
}

// Method is a named production method a building can run.
type Method struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Recipe Recipe `yaml:"recipe" json:"recipe"`
}

// BuildingDefinition describes a purchasable production building.
type BuildingDefinition struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Cost            float64  `yaml:"cost" json:"cost"`
	MaintenanceCost float64  `yaml:"maintenance_cost" json:"maintenance_cost"` // Per month
	DefaultMethod   string   `yaml:"default_method" json:"default_method"`
	Methods         []Method `yaml:"methods" json:"methods"`
}

// Method looks up a production method by ID.
func (d *BuildingDefinition) Method(id string) (Method, bool) {
	for _, m := range d.Methods {
		if m.ID == id {
			return m, true
		}
	}
	return Method{}, false
}

// Catalog is the read-only lookup table for goods and buildings.
type Catalog struct {
	goods       []Goods
	goodsIdx    map[GoodsID]int
	buildings   []BuildingDefinition
	buildingIdx map[string]int
}

type catalogFile struct {
	Goods     []Goods              `yaml:"goods"`
	Buildings []BuildingDefinition `yaml:"buildings"`
}

//go:embed default.yaml
var defaultCatalog []byte

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog YAML file. An empty path loads the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates catalog YAML.
func Parse(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog yaml: %w", err)
	}

	c := &Catalog{
		goods:       f.Goods,
		goodsIdx:    make(map[GoodsID]int, len(f.Goods)),
		buildings:   f.Buildings,
		buildingIdx: make(map[string]int, len(f.Buildings)),
	}
	for i := range c.goods {
		if c.goods[i].PriceModel == "" {
			c.goods[i].PriceModel = PriceModelBook
		}
		if _, dup := c.goodsIdx[c.goods[i].ID]; dup {
			return nil, fmt.Errorf("duplicate goods id %q", c.goods[i].ID)
		}
		c.goodsIdx[c.goods[i].ID] = i
	}
	for i := range c.buildings {
		if _, dup := c.buildingIdx[c.buildings[i].ID]; dup {
			return nil, fmt.Errorf("duplicate building id %q", c.buildings[i].ID)
		}
		c.buildingIdx[c.buildings[i].ID] = i
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	if len(c.goods) == 0 {
		return fmt.Errorf("catalog has no goods")
	}
	for _, g := range c.goods {
		if g.ID == "" {
			return fmt.Errorf("goods with empty id")
		}
		if g.BasePrice <= 0 {
			return fmt.Errorf("goods %s: base_price must be positive", g.ID)
		}
		if g.PriceModel != PriceModelBook && g.PriceModel != PriceModelRatio {
			return fmt.Errorf("goods %s: unknown price_model %q", g.ID, g.PriceModel)
		}
		if g.BaseDemand < 0 {
			return fmt.Errorf("goods %s: base_demand must not be negative", g.ID)
		}
	}

	for _, b := range c.buildings {
		if len(b.Methods) == 0 {
			return fmt.Errorf("building %s: no production methods", b.ID)
		}
		if _, ok := b.Method(b.DefaultMethod); !ok {
			return fmt.Errorf("building %s: default_method %q not found", b.ID, b.DefaultMethod)
		}
		if b.Cost < 0 || b.MaintenanceCost < 0 {
			return fmt.Errorf("building %s: cost and maintenance_cost must not be negative", b.ID)
		}
		for _, m := range b.Methods {
			if m.Recipe.TicksRequired <= 0 {
				return fmt.Errorf("building %s method %s: ticks_required must be positive", b.ID, m.ID)
			}
			if len(m.Recipe.Outputs) == 0 {
				return fmt.Errorf("building %s method %s: recipe has no outputs", b.ID, m.ID)
			}
			for _, ing := range append(append([]Ingredient{}, m.Recipe.Inputs...), m.Recipe.Outputs...) {
				if _, ok := c.goodsIdx[ing.Goods]; !ok {
					return fmt.Errorf("building %s method %s: unknown goods %q", b.ID, m.ID, ing.Goods)
				}
				if ing.Amount <= 0 {
					return fmt.Errorf("building %s method %s: amount for %s must be positive", b.ID, m.ID, ing.Goods)
				}
			}
		}
	}
	return nil
}

// Goods returns the catalog entry for id.
func (c *Catalog) Goods(id GoodsID) (Goods, bool) {
	i, ok := c.goodsIdx[id]
	if !ok {
		return Goods{}, false
	}
	return c.goods[i], true
}

// GoodsIndex returns the catalog position of id, or -1.
func (c *Catalog) GoodsIndex(id GoodsID) int {
	i, ok := c.goodsIdx[id]
	if !ok {
		return -1
	}
	return i
}

// AllGoods returns every goods entry in catalog order.
func (c *Catalog) AllGoods() []Goods {
	out := make([]Goods, len(c.goods))
	copy(out, c.goods)
	return out
}

// Building returns the building definition for id.
func (c *Catalog) Building(id string) (*BuildingDefinition, bool) {
	i, ok := c.buildingIdx[id]
	if !ok {
		return nil, false
	}
	return &c.buildings[i], true
}

// Buildings returns every building definition in catalog order.
func (c *Catalog) Buildings() []BuildingDefinition {
	out := make([]BuildingDefinition, len(c.buildings))
	copy(out, c.buildings)
	return out
}

// Producers returns the IDs of buildings with at least one method that outputs goods.
func (c *Catalog) Producers(goods GoodsID) []string {
	var ids []string
	for _, b := range c.buildings {
		found := false
		for _, m := range b.Methods {
			for _, o := range m.Recipe.Outputs {
				if o.Goods == goods {
					found = true
				}
			}
		}
		if found {
			ids = append(ids, b.ID)
		}
	}
	return ids
}
