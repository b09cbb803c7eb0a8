package engine

import (
	"log/slog"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
)

// Auto-trade defaults.
const (
	DefaultProtectionRatio      = 0.5
	DefaultMaxOrderCashFraction = 0.3
	DefaultMaxPriceMultiplier   = 1.15
	DefaultMinPriceMultiplier   = 0.85
	DefaultAutoOrderTTL         = 5

	autoOrderTag = "auto"
	minAutoQty   = 0.01
)

// AutoTradeRule keeps one goods between a trigger and a target level.
type AutoTradeRule struct {
	GoodsID            catalog.GoodsID `json:"goods_id"`
	TriggerThreshold   float64         `json:"trigger_threshold"`
	TargetStock        float64         `json:"target_stock"`
	ReserveStock       float64         `json:"reserve_stock"`
	MaxPriceMultiplier float64         `json:"max_price_multiplier"`
	MinPriceMultiplier float64         `json:"min_price_multiplier"`
}

// AutoTradeConfig is one company's auto-trade setup.
type AutoTradeConfig struct {
	Enabled              bool            `json:"enabled"`
	ProtectionRatio      float64         `json:"protection_ratio"`
	MaxOrderCashFraction float64         `json:"max_order_cash_fraction"`
	Rules                []AutoTradeRule `json:"rules"`
}

func (c *AutoTradeConfig) applyDefaults() {
	if c.ProtectionRatio <= 0 {
		c.ProtectionRatio = DefaultProtectionRatio
	}
	if c.MaxOrderCashFraction <= 0 {
		c.MaxOrderCashFraction = DefaultMaxOrderCashFraction
	}
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.MaxPriceMultiplier <= 0 {
			r.MaxPriceMultiplier = DefaultMaxPriceMultiplier
		}
		if r.MinPriceMultiplier <= 0 {
			r.MinPriceMultiplier = DefaultMinPriceMultiplier
		}
	}
}

// AutoTradeAction reports one decision of the auto-trader.
type AutoTradeAction struct {
	Kind       string          `json:"kind"` // buy, sell, skipped
	BuildingID string          `json:"building_id,omitempty"`
	GoodsID    catalog.GoodsID `json:"goods_id"`
	Quantity   float64         `json:"quantity"`
	Price      float64         `json:"price"`
	OrderID    string          `json:"order_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

type autoKey struct {
	building string
	goods    catalog.GoodsID
	side     market.Side
}

// AutoTradeManager submits rule-based orders within cash-safety limits.
// Each building and goods pair has at most one outstanding auto order.
type AutoTradeManager struct {
	configs     map[economy.CompanyID]*AutoTradeConfig
	outstanding map[economy.CompanyID]map[autoKey]string
	ttl         uint64
}

// NewAutoTradeManager creates a manager with no configured companies.
func NewAutoTradeManager(ttl uint64) *AutoTradeManager {
	if ttl == 0 {
		ttl = DefaultAutoOrderTTL
	}
	return &AutoTradeManager{
		configs:     make(map[economy.CompanyID]*AutoTradeConfig),
		outstanding: make(map[economy.CompanyID]map[autoKey]string),
		ttl:         ttl,
	}
}

// Configure installs a company's configuration, filling defaults.
func (m *AutoTradeManager) Configure(company economy.CompanyID, cfg AutoTradeConfig) {
	cfg.applyDefaults()
	cfg.Rules = append([]AutoTradeRule(nil), cfg.Rules...)
	sort.Slice(cfg.Rules, func(i, j int) bool { return cfg.Rules[i].GoodsID < cfg.Rules[j].GoodsID })
	m.configs[company] = &cfg
}

// Config returns a company's configuration.
func (m *AutoTradeManager) Config(company economy.CompanyID) (AutoTradeConfig, bool) {
	c, ok := m.configs[company]
	if !ok {
		return AutoTradeConfig{}, false
	}
	return *c, true
}

// Enabled reports whether auto-trade is on for company.
func (m *AutoTradeManager) Enabled(company economy.CompanyID) bool {
	c, ok := m.configs[company]
	return ok && c.Enabled
}

// ProcessTick evaluates every rule of company.
func (m *AutoTradeManager) ProcessTick(company economy.CompanyID, tick uint64, ex *Exchange, acct *economy.Account) []AutoTradeAction {
	cfg, ok := m.configs[company]
	if !ok || !cfg.Enabled || acct == nil {
		return nil
	}
	m.sweep(company, ex)

	var actions []AutoTradeAction
	for _, r := range cfg.Rules {
		held := acct.Quantity(r.GoodsID)
		switch {
		case held < r.TriggerThreshold && r.TargetStock > held:
			if a, ok := m.buy(company, cfg, "", r.GoodsID, r.TargetStock-held, r.MaxPriceMultiplier, ex, acct); ok {
				actions = append(actions, a)
			}
		case held > r.ReserveStock:
			if a, ok := m.sell(company, r, ex, acct); ok {
				actions = append(actions, a)
			}
		}
	}
	return actions
}

// Procure requests a shortage-driven purchase for one building input.
func (m *AutoTradeManager) Procure(company economy.CompanyID, buildingID string, g catalog.GoodsID, qty float64, ex *Exchange, acct *economy.Account) (AutoTradeAction, bool) {
	cfg, ok := m.configs[company]
	if !ok || !cfg.Enabled || acct == nil {
		return AutoTradeAction{}, false
	}
	m.sweep(company, ex)
	mult := DefaultMaxPriceMultiplier
	for _, r := range cfg.Rules {
		if r.GoodsID == g {
			mult = r.MaxPriceMultiplier
		}
	}
	return m.buy(company, cfg, buildingID, g, qty, mult, ex, acct)
}

func (m *AutoTradeManager) buy(company economy.CompanyID, cfg *AutoTradeConfig, buildingID string, g catalog.GoodsID, qty, mult float64, ex *Exchange, acct *economy.Account) (AutoTradeAction, bool) {
	key := autoKey{building: buildingID, goods: g, side: market.Buy}
	if _, busy := m.outstanding[company][key]; busy {
		return AutoTradeAction{}, false
	}
	action := AutoTradeAction{Kind: "skipped", BuildingID: buildingID, GoodsID: g}

	// Cash escrowed for resting buys is already spent as far as the threshold goes.
	threshold := acct.StartingCash * cfg.ProtectionRatio
	cash := acct.AvailableCash()
	if cash < threshold {
		action.Reason = "cash below protection threshold"
		slog.Debug("auto-buy blocked", "company", company, "goods", g,
			"cash", humanize.Commaf(cash), "threshold", humanize.Commaf(threshold))
		return action, true
	}

	price := ex.Price(g) * mult
	if price <= 0 {
		action.Reason = "no market price"
		return action, true
	}
	budget := min(cash*cfg.MaxOrderCashFraction, cash-threshold)
	qty = min(qty, budget/price)
	if qty < minAutoQty {
		action.Reason = "order below minimum size"
		return action, true
	}

	res, err := ex.Place(OrderRequest{Owner: company, Side: market.Buy, GoodsID: g, Quantity: qty, Price: price, TTL: m.ttl, Tag: autoOrderTag})
	if err != nil {
		action.Reason = err.Error()
		return action, true
	}
	action.Kind, action.Quantity, action.Price, action.OrderID = "buy", qty, price, res.Order.ID
	m.track(company, key, res.Order)
	return action, true
}

func (m *AutoTradeManager) sell(company economy.CompanyID, r AutoTradeRule, ex *Exchange, acct *economy.Account) (AutoTradeAction, bool) {
	key := autoKey{goods: r.GoodsID, side: market.Sell}
	if _, busy := m.outstanding[company][key]; busy {
		return AutoTradeAction{}, false
	}
	surplus := min(acct.Quantity(r.GoodsID)-r.ReserveStock, acct.Available(r.GoodsID))
	price := ex.Price(r.GoodsID) * r.MinPriceMultiplier
	if surplus < minAutoQty || price <= 0 {
		return AutoTradeAction{}, false
	}
	action := AutoTradeAction{Kind: "skipped", GoodsID: r.GoodsID}
	res, err := ex.Place(OrderRequest{Owner: company, Side: market.Sell, GoodsID: r.GoodsID, Quantity: surplus, Price: price, TTL: m.ttl, Tag: autoOrderTag})
	if err != nil {
		action.Reason = err.Error()
		return action, true
	}
	action.Kind, action.Quantity, action.Price, action.OrderID = "sell", surplus, price, res.Order.ID
	m.track(company, key, res.Order)
	return action, true
}

func (m *AutoTradeManager) track(company economy.CompanyID, key autoKey, o *market.Order) {
	if !o.Active() {
		return
	}
	if m.outstanding[company] == nil {
		m.outstanding[company] = make(map[autoKey]string)
	}
	m.outstanding[company][key] = o.ID
}

// sweep forgets orders that have settled, expired or been cancelled.
func (m *AutoTradeManager) sweep(company economy.CompanyID, ex *Exchange) {
	for key, id := range m.outstanding[company] {
		if !ex.OrderActive(id) {
			delete(m.outstanding[company], key)
		}
	}
}

// Outstanding returns the number of open auto orders for company.
func (m *AutoTradeManager) Outstanding(company economy.CompanyID) int {
	return len(m.outstanding[company])
}
