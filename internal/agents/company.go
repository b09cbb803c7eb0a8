package agents

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
)

// Advice bounds. Strategy advice only nudges a template, it never replaces it.
const (
	MaxBias       = 0.1
	minOrderQty   = 0.01
	aiOrderTag    = "ai"
	defaultAdvice = 30 // Ticks advice stays in force
)

// Exchange is the narrow market surface an AI company trades through.
type Exchange interface {
	Price(g catalog.GoodsID) float64
	PlaceOrder(owner economy.CompanyID, side market.Side, g catalog.GoodsID, qty, price float64, ttl uint64, tag string) (*market.Order, error)
	OpenOrders(owner economy.CompanyID) []*market.Order
}

// Needs is the per-cycle recipe footprint of a company's buildings.
type Needs struct {
	Inputs  map[catalog.GoodsID]float64
	Outputs map[catalog.GoodsID]float64
}

// View is what a company sees of itself at decision time.
type View struct {
	Account *economy.Account
	Needs   Needs
}

// Advice is an optional strategy overlay, typically produced by the text-generation service.
type Advice struct {
	BuyBias    float64           `json:"buy_bias"`  // Added to the buy spread
	SellBias   float64           `json:"sell_bias"` // Added to the sell discount
	Focus      []catalog.GoodsID `json:"focus,omitempty"`
	Rationale  string            `json:"rationale,omitempty"`
	ValidUntil uint64            `json:"valid_until"`
}

// Company is an AI-owned trading company.
type Company struct {
	ID          economy.CompanyID `json:"id"`
	Name        string            `json:"name"`
	Personality Personality       `json:"personality"`

	advice *Advice
	notes  []Note
}

// Advice returns the advice in force at tick, if any.
func (c *Company) Advice(tick uint64) (Advice, bool) {
	if c.advice == nil || tick > c.advice.ValidUntil {
		return Advice{}, false
	}
	return *c.advice, true
}

// Action is one order an AI company placed, or tried to place.
type Action struct {
	CompanyID economy.CompanyID `json:"company_id"`
	Side      market.Side       `json:"side"`
	GoodsID   catalog.GoodsID   `json:"goods_id"`
	Quantity  float64           `json:"quantity"`
	Price     float64           `json:"price"`
	OrderID   string            `json:"order_id,omitempty"`
	Err       string            `json:"error,omitempty"`
}

// Manager owns the AI companies of one game.
type Manager struct {
	companies []*Company
	index     map[economy.CompanyID]*Company
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{index: make(map[economy.CompanyID]*Company)}
}

// Add registers a company.
func (m *Manager) Add(c *Company) error {
	if _, dup := m.index[c.ID]; dup {
		return fmt.Errorf("ai company %s already registered", c.ID)
	}
	m.companies = append(m.companies, c)
	m.index[c.ID] = c
	return nil
}

// Companies returns the companies in registration order.
func (m *Manager) Companies() []*Company {
	return append([]*Company(nil), m.companies...)
}

// Company looks up a company.
func (m *Manager) Company(id economy.CompanyID) (*Company, bool) {
	c, ok := m.index[id]
	return c, ok
}

// ApplyAdvice installs strategy advice for a company. Biases are clamped to ±MaxBias.
func (m *Manager) ApplyAdvice(id economy.CompanyID, a Advice) bool {
	c, ok := m.index[id]
	if !ok {
		return false
	}
	a.BuyBias = economy.Clamp(a.BuyBias, -MaxBias, MaxBias)
	a.SellBias = economy.Clamp(a.SellBias, -MaxBias, MaxBias)
	c.advice = &a
	return true
}

// FallbackAdvice is the deterministic advice used when generated advice is unavailable.
func FallbackAdvice(p Personality, tick uint64) Advice {
	a := Advice{ValidUntil: tick + defaultAdvice, Rationale: "personality default"}
	switch p {
	case Aggressive:
		a.BuyBias = 0.02
	case Conservative:
		a.SellBias = -0.01
	}
	return a
}

// ProcessTick lets every company restock inputs and sell surplus output.
func (m *Manager) ProcessTick(tick uint64, ex Exchange, view func(economy.CompanyID) (View, bool)) []Action {
	var actions []Action
	for _, c := range m.companies {
		v, ok := view(c.ID)
		if !ok || v.Account == nil {
			continue
		}
		actions = append(actions, m.decide(c, tick, ex, v)...)
	}
	return actions
}

type orderKey struct {
	goods catalog.GoodsID
	side  market.Side
}

func (m *Manager) decide(c *Company, tick uint64, ex Exchange, v View) []Action {
	tpl := TemplateFor(c.Personality)
	advice, _ := c.Advice(tick)

	open := make(map[orderKey]bool)
	for _, o := range ex.OpenOrders(c.ID) {
		open[orderKey{o.GoodsID, o.Side}] = true
	}

	var actions []Action
	acct := v.Account
	canBuy := acct.Cash() >= acct.StartingCash*tpl.CashReserve

	for _, g := range sortedGoods(v.Needs.Inputs) {
		if !canBuy || open[orderKey{g, market.Buy}] {
			continue
		}
		price := ex.Price(g)
		if price <= 0 {
			continue
		}
		cycles := tpl.InputCycles
		if focused(advice.Focus, g) {
			cycles *= 1.5
		}
		want := v.Needs.Inputs[g] * cycles
		have := acct.Quantity(g)
		if have >= want {
			continue
		}
		limit := price * (1 + tpl.Spread + advice.BuyBias)
		qty := min(want-have, acct.AvailableCash()*tpl.OrderFraction/limit)
		if qty < minOrderQty {
			continue
		}
		actions = append(actions, c.place(ex, tick, market.Buy, g, qty, limit, tpl.OrderTTL))
	}

	for _, g := range sortedGoods(v.Needs.Outputs) {
		if open[orderKey{g, market.Sell}] {
			continue
		}
		surplus := acct.Available(g) - v.Needs.Outputs[g]*tpl.KeepCycles
		if surplus < minOrderQty {
			continue
		}
		price := ex.Price(g)
		if price <= 0 {
			continue
		}
		limit := price * (1 - tpl.Spread + advice.SellBias)
		actions = append(actions, c.place(ex, tick, market.Sell, g, surplus, limit, tpl.OrderTTL))
	}
	return actions
}

func (c *Company) place(ex Exchange, tick uint64, side market.Side, g catalog.GoodsID, qty, price float64, ttl uint64) Action {
	a := Action{CompanyID: c.ID, Side: side, GoodsID: g, Quantity: qty, Price: price}
	o, err := ex.PlaceOrder(c.ID, side, g, qty, price, ttl, aiOrderTag)
	if err != nil {
		a.Err = err.Error()
		c.Remember(tick, ImportanceLow, "%s order for %s rejected: %v", side, g, err)
		slog.Debug("ai order rejected", "company", c.ID, "side", side, "goods", g, "error", err)
		return a
	}
	a.OrderID = o.ID
	return a
}

func focused(focus []catalog.GoodsID, g catalog.GoodsID) bool {
	for _, f := range focus {
		if f == g {
			return true
		}
	}
	return false
}

func sortedGoods(m map[catalog.GoodsID]float64) []catalog.GoodsID {
	out := make([]catalog.GoodsID, 0, len(m))
	for g := range m {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
