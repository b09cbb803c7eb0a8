package engine

import (
	"errors"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
	"github.com/talgya/mini-economy/internal/pricing"
	"github.com/talgya/mini-economy/internal/research"
)

// Control-surface calls mutate the game between ticks. Their effects are
// visible in the next emitted snapshot.

// Tick returns the last processed tick.
func (g *Game) Tick() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tick
}

// Speed returns the speed multiplier and whether the game is paused.
func (g *Game) Speed() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speed, g.paused
}

// SetSpeed changes the tick rate. Speed 0 pauses the game.
func (g *Game) SetSpeed(speed float64) error {
	if speed < 0 || speed > MaxSpeed {
		return invalid("set speed", "speed must be within [0, %g]", MaxSpeed)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if speed == 0 {
		g.paused = true
		return nil
	}
	g.speed = speed
	g.paused = false
	return nil
}

// TogglePause flips the paused state and returns the new one.
func (g *Game) TogglePause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = !g.paused
	return g.paused
}

// PurchaseBuilding buys a building for the player at pos.
func (g *Game) PurchaseBuilding(defID string, pos Position) (BuildingInstance, error) {
	const op = "purchase building"
	g.mu.Lock()
	defer g.mu.Unlock()
	def, ok := g.cat.Building(defID)
	if !ok {
		return BuildingInstance{}, invalid(op, "unknown building %q", defID)
	}
	for _, b := range g.buildings {
		if b.OwnerID == PlayerID && b.Position == pos {
			return BuildingInstance{}, invalid(op, "position %d,%d is occupied", pos.X, pos.Y)
		}
	}
	acct, _ := g.ledger.Account(PlayerID)
	if err := acct.Debit(def.Cost); err != nil {
		return BuildingInstance{}, invalid(op, "insufficient cash: %s costs %s, %s available",
			def.Name, humanize.Commaf(def.Cost), humanize.Commaf(acct.AvailableCash()))
	}
	b, err := g.addBuilding(PlayerID, defID, pos)
	if err != nil {
		acct.Credit(def.Cost)
		return BuildingInstance{}, err
	}
	slog.Info("building purchased", "game", g.ID, "building", b.ID, "definition", defID)
	return *b, nil
}

func (g *Game) playerBuilding(op, id string) (*BuildingInstance, error) {
	b, ok := g.buildingIdx[id]
	if !ok || b.OwnerID != PlayerID {
		return nil, invalid(op, "unknown building %q", id)
	}
	return b, nil
}

// SwitchBuildingMethod changes a player building's production method. Progress
// and the profit average restart because cycle length may differ.
func (g *Game) SwitchBuildingMethod(buildingID, methodID string) error {
	const op = "switch method"
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.playerBuilding(op, buildingID)
	if err != nil {
		return err
	}
	def, _ := g.cat.Building(b.DefinitionID)
	if _, ok := def.Method(methodID); !ok {
		return invalid(op, "building %s has no method %q", def.ID, methodID)
	}
	if b.CurrentMethodID == methodID {
		return nil
	}
	b.CurrentMethodID = methodID
	b.MissingInputs = nil
	b.resetCycle()
	return nil
}

// SetBuildingPaused pauses or resumes a player building.
func (g *Game) SetBuildingPaused(buildingID string, paused bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.playerBuilding("pause building", buildingID)
	if err != nil {
		return err
	}
	switch {
	case paused:
		b.Status = StatusPaused
		b.MissingInputs = nil
	case b.Status == StatusPaused:
		b.Status = StatusRunning
	}
	return nil
}

// PlayerSubmitBuyOrder places a good-till-cancelled limit buy.
func (g *Game) PlayerSubmitBuyOrder(company economy.CompanyID, goods catalog.GoodsID, qty, price float64) (market.Result, error) {
	return g.SubmitOrder(OrderRequest{Owner: company, Side: market.Buy, GoodsID: goods, Quantity: qty, Price: price})
}

// PlayerSubmitSellOrder places a good-till-cancelled limit sell.
func (g *Game) PlayerSubmitSellOrder(company economy.CompanyID, goods catalog.GoodsID, qty, price float64) (market.Result, error) {
	return g.SubmitOrder(OrderRequest{Owner: company, Side: market.Sell, GoodsID: goods, Quantity: qty, Price: price})
}

// SubmitOrder places an order on behalf of a player company.
func (g *Game) SubmitOrder(req OrderRequest) (market.Result, error) {
	if req.Owner == "" {
		req.Owner = PlayerID
	}
	if req.Owner == ConsumerID {
		return market.Result{}, invalid("place order", "company %s is not tradable", req.Owner)
	}
	if req.Tag == "" {
		req.Tag = playerOrderTag
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	res, err := g.exchange.Place(req)
	if err != nil {
		return market.Result{}, err
	}
	copied := *res.Order
	res.Order = &copied
	return res, nil
}

// CancelOrder cancels an order of company.
func (g *Game) CancelOrder(company economy.CompanyID, orderID string) (market.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, err := g.exchange.Cancel(company, orderID)
	if err != nil {
		if errors.Is(err, market.ErrOrderNotFound) {
			return market.Order{}, invalidErr("cancel order", err)
		}
		return market.Order{}, err
	}
	return *o, nil
}

// ConfigureAutoTrade replaces the player's auto-trade configuration.
func (g *Game) ConfigureAutoTrade(cfg AutoTradeConfig) error {
	for _, r := range cfg.Rules {
		if _, ok := g.cat.Goods(r.GoodsID); !ok {
			return invalid("configure auto-trade", "unknown goods %q", r.GoodsID)
		}
		if r.TriggerThreshold < 0 || r.TargetStock < r.TriggerThreshold || r.ReserveStock < 0 {
			return invalid("configure auto-trade", "rule for %s needs 0 <= trigger <= target and reserve >= 0", r.GoodsID)
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autotrade.Configure(PlayerID, cfg)
	return nil
}

// AutoTradeConfig returns the player's auto-trade configuration.
func (g *Game) AutoTradeConfig() AutoTradeConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	cfg, _ := g.autotrade.Config(PlayerID)
	return cfg
}

// StartResearch pays for and starts a research project for the player.
func (g *Game) StartResearch(projectID string) (research.Active, error) {
	const op = "start research"
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.research.Project(projectID)
	if !ok {
		return research.Active{}, invalid(op, "unknown project %q", projectID)
	}
	if err := g.research.CanStart(projectID); err != nil {
		return research.Active{}, invalidErr(op, err)
	}
	acct, _ := g.ledger.Account(PlayerID)
	if err := acct.Debit(p.Cost); err != nil {
		return research.Active{}, invalid(op, "insufficient cash: %s costs %s", p.Name, humanize.Commaf(p.Cost))
	}
	a, err := g.research.Start(PlayerID, projectID, g.tick)
	if err != nil {
		acct.Credit(p.Cost)
		return research.Active{}, invalidErr(op, err)
	}
	g.requestEffect(p, g.tick)
	return *a, nil
}

// ResearchState lists every project with the active and completed ones.
type ResearchState struct {
	Projects  []research.Project    `json:"projects"`
	Active    []research.Active     `json:"active"`
	Completed []research.Completion `json:"completed"`
}

// Research returns the research state.
func (g *Game) Research() ResearchState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ResearchState{
		Projects:  g.research.Projects(),
		Active:    g.research.Active(),
		Completed: g.research.Completed(),
	}
}

// Buildings returns copies of the buildings owned by company, or all when company is empty.
func (g *Game) Buildings(company economy.CompanyID) []BuildingInstance {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []BuildingInstance
	for _, b := range g.buildings {
		if company != "" && b.OwnerID != company {
			continue
		}
		c := *b
		c.MissingInputs = append([]MissingInput(nil), b.MissingInputs...)
		out = append(out, c)
	}
	return out
}

// Account returns a snapshot of a company's account.
func (g *Game) Account(company economy.CompanyID) (economy.InventorySnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acct, ok := g.ledger.Account(company)
	if !ok {
		return economy.InventorySnapshot{}, false
	}
	return acct.Snapshot(), true
}

// Orders returns copies of the open orders of company.
func (g *Game) Orders(company economy.CompanyID) []market.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []market.Order
	for _, o := range g.exchange.OpenOrders(company) {
		out = append(out, *o)
	}
	return out
}

// Prices returns the current published prices.
func (g *Game) Prices() map[catalog.GoodsID]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.discovery.Prices()
}

// PriceState returns the price state of goods with up to historyLen history points.
func (g *Game) PriceState(goods catalog.GoodsID, historyLen int) (pricing.PriceState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.discovery.State(goods)
	if !ok {
		return s, false
	}
	s.History = g.discovery.History(goods, historyLen)
	return s, true
}

// Depth returns aggregated order-book depth for goods.
func (g *Game) Depth(goods catalog.GoodsID, levels int) (market.Depth, error) {
	if _, ok := g.cat.Goods(goods); !ok {
		return market.Depth{}, invalid("order book", "unknown goods %q", goods)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.matcher.Depth(goods, levels), nil
}

// Catalog returns the game's static catalog.
func (g *Game) Catalog() *catalog.Catalog {
	return g.cat
}

// Last returns the most recent snapshot.
func (g *Game) Last() (TickUpdate, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return TickUpdate{}, false
	}
	return *g.last, true
}

// Options returns the options the game was created with.
func (g *Game) Options() Options {
	return g.opts
}
