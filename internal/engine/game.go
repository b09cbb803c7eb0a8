package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
	"github.com/talgya/mini-economy/internal/pricing"
	"github.com/talgya/mini-economy/internal/research"
)

// PlayerID is the account of the human player.
const PlayerID economy.CompanyID = "player"

// Game defaults.
const (
	DefaultStartingCash = 100_000_000
	DefaultSpeed        = 1.0
	MaxSpeed            = 10.0
	playerOrderTag      = "player"
)

// Options configures a new game.
type Options struct {
	Seed                 int64
	StartingCash         float64
	TicksPerMonth        int
	ProtectionRatio      float64
	MaxOrderCashFraction float64
	AutoTrade            bool
	AutoOrderTTL         uint64
	AICompanies          int // Companies taken from the default roster, 0 = none
	StarterBuildings     []string
	Speed                float64
	LLM                  LLMOptions
}

// DefaultOptions returns the standard single-player setup.
func DefaultOptions() Options {
	return Options{
		Seed:                 1,
		StartingCash:         DefaultStartingCash,
		TicksPerMonth:        DefaultTicksPerMonth,
		ProtectionRatio:      DefaultProtectionRatio,
		MaxOrderCashFraction: DefaultMaxOrderCashFraction,
		AutoTrade:            true,
		AutoOrderTTL:         DefaultAutoOrderTTL,
		AICompanies:          len(agents.DefaultRoster()),
		Speed:                DefaultSpeed,
	}
}

// Game owns the complete state of one simulation. Every mutation happens
// under mu, either inside a tick or in a control-surface call between ticks.
type Game struct {
	ID      string
	Created time.Time

	mu     sync.Mutex
	opts   Options
	tick   uint64
	speed  float64
	paused bool

	cat        *catalog.Catalog
	ledger     *economy.Ledger
	matcher    *market.Matcher
	tracker    *pricing.Tracker
	discovery  *pricing.Discovery
	exchange   *Exchange
	production *ProductionScheduler
	autotrade  *AutoTradeManager
	demand     *DemandModel
	ai         *agents.Manager
	research   *research.Service

	buildings   []*BuildingInstance
	buildingIdx map[string]*BuildingInstance

	ext               *external
	pendingStrategies map[economy.CompanyID]struct{}
	cancel            context.CancelFunc

	subs    map[int]chan TickUpdate
	nextSub int
	last    *TickUpdate
}

// NewGame builds a game from a catalog. The context bounds background generation jobs.
func NewGame(ctx context.Context, id string, cat *catalog.Catalog, opts Options) (*Game, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if opts.StartingCash <= 0 {
		opts.StartingCash = DefaultStartingCash
	}
	if opts.Speed < 0 || opts.Speed > MaxSpeed {
		return nil, invalid("create game", "speed must be within [0, %g]", MaxSpeed)
	}

	goodsIDs := make([]catalog.GoodsID, 0)
	for _, g := range cat.AllGoods() {
		goodsIDs = append(goodsIDs, g.ID)
	}

	speed := opts.Speed
	if speed == 0 {
		speed = DefaultSpeed
	}

	ctx, cancel := context.WithCancel(ctx)
	g := &Game{
		ID:                id,
		Created:           time.Now().UTC(),
		opts:              opts,
		speed:             speed,
		paused:            opts.Speed == 0,
		cat:               cat,
		ledger:            economy.NewLedger(),
		matcher:           market.NewMatcher(),
		tracker:           pricing.NewTracker(goodsIDs),
		research:          research.NewService(research.DefaultProjects()),
		ai:                agents.NewManager(),
		autotrade:         NewAutoTradeManager(opts.AutoOrderTTL),
		buildingIdx:       make(map[string]*BuildingInstance),
		pendingStrategies: make(map[economy.CompanyID]struct{}),
		cancel:            cancel,
		subs:              make(map[int]chan TickUpdate),
	}
	g.discovery = pricing.NewDiscovery(cat, g.matcher, g.tracker)
	g.exchange = NewExchange(cat, g.ledger, g.matcher, g.discovery)
	g.production = NewProductionScheduler(cat, g.ledger, g.tracker, g.research, g.discovery, opts.TicksPerMonth)
	g.demand = NewDemandModel(cat, g.tracker, opts.Seed)
	g.ext = newExternal(ctx, opts.LLM)

	if err := g.setup(); err != nil {
		cancel()
		return nil, fmt.Errorf("setup game %s: %w", id, err)
	}
	slog.Info("game created", "game", id, "ai_companies", len(g.ai.Companies()),
		"starting_cash", humanize.Commaf(opts.StartingCash))
	return g, nil
}

func (g *Game) setup() error {
	if _, err := g.ledger.Open(PlayerID, g.opts.StartingCash); err != nil {
		return err
	}
	if _, err := g.ledger.Open(ConsumerID, 0); err != nil {
		return err
	}
	g.autotrade.Configure(PlayerID, AutoTradeConfig{
		Enabled:              g.opts.AutoTrade,
		ProtectionRatio:      g.opts.ProtectionRatio,
		MaxOrderCashFraction: g.opts.MaxOrderCashFraction,
	})
	for i, defID := range g.opts.StarterBuildings {
		if _, err := g.addBuilding(PlayerID, defID, Position{X: i}); err != nil {
			return err
		}
	}

	roster := agents.DefaultRoster()
	for i := 0; i < g.opts.AICompanies && i < len(roster); i++ {
		p := roster[i]
		id := economy.CompanyID(fmt.Sprintf("ai-%d", i+1))
		if _, err := g.ledger.Open(id, g.opts.StartingCash); err != nil {
			return err
		}
		if err := g.ai.Add(&agents.Company{ID: id, Name: p.Name, Personality: p.Personality}); err != nil {
			return err
		}
		for j, defID := range p.Buildings {
			if _, err := g.addBuilding(id, defID, Position{X: j, Y: i + 1}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Game) addBuilding(owner economy.CompanyID, defID string, pos Position) (*BuildingInstance, error) {
	def, ok := g.cat.Building(defID)
	if !ok {
		return nil, invalid("purchase building", "unknown building %q", defID)
	}
	b := &BuildingInstance{
		ID:              uuid.NewString(),
		DefinitionID:    def.ID,
		OwnerID:         owner,
		Position:        pos,
		Efficiency:      1,
		Utilization:     1,
		Status:          StatusRunning,
		CurrentMethodID: def.DefaultMethod,
	}
	g.buildings = append(g.buildings, b)
	g.buildingIdx[b.ID] = b
	return b, nil
}

// Close stops background generation jobs.
func (g *Game) Close() {
	g.cancel()
	g.ext.close()
	g.mu.Lock()
	for id, ch := range g.subs {
		close(ch)
		delete(g.subs, id)
	}
	g.mu.Unlock()
}

// Step runs one tick and publishes its snapshot.
func (g *Game) Step() TickUpdate {
	g.mu.Lock()
	u := g.processTick()
	g.last = &u
	g.publishLocked(u)
	g.mu.Unlock()
	return u
}

func (g *Game) processTick() TickUpdate {
	g.tick++
	tick := g.tick

	// 1. Release expired orders; fills settle as they match.
	g.exchange.BeginTick(tick)
	g.ledger.ClearProductionReservations()

	// 2. Production, with shortage-driven procurement.
	reports := make(map[string]BuildingReport, len(g.buildings))
	var auto []AutoTradeAction
	for _, b := range g.buildings {
		rep := g.production.Step(b)
		reports[b.ID] = rep
		if len(rep.Missing) > 0 && b.OwnerID != PlayerID {
			g.ai.Remember(b.OwnerID, tick, agents.ImportanceMedium, "%s stalled, short of %s",
				b.DefinitionID, rep.Missing[0].GoodsID)
		}
		for _, m := range rep.Missing {
			if a, ok := g.procure(b, m); ok {
				auto = append(auto, a)
			}
		}
	}

	// 3. Prices.
	g.tracker.Decay()
	changes := g.discovery.UpdateAll(tick)

	// 4. Background demand.
	g.demand.Inject(tick, g.exchange)

	// 5. Rule-based auto-trade.
	for _, id := range g.ledger.IDs() {
		acct, _ := g.ledger.Account(id)
		auto = append(auto, g.autotrade.ProcessTick(id, tick, g.exchange, acct)...)
	}

	// 6. AI companies, research and generated content.
	aiOrders := g.ai.ProcessTick(tick, g.exchange, g.view)
	if rejected := countRejected(aiOrders); rejected > 0 {
		slog.Debug("ai orders rejected", "game", g.ID, "tick", tick, "rejected", rejected, "placed", len(aiOrders)-rejected)
	}
	g.research.Advance(tick)
	events := g.stepExternal(tick)

	// 7. Snapshot.
	trades := g.exchange.DrainTrades()
	g.rememberLargeTrades(tick, trades)
	player := g.playerBuildings()
	acct, _ := g.ledger.Account(PlayerID)
	u := TickUpdate{
		GameID:        g.ID,
		Tick:          tick,
		Timestamp:     time.Now().UTC(),
		Season:        pricing.SeasonName(pricing.SeasonAt(tick)),
		PlayerCash:    acct.Cash(),
		BuildingCount: len(player),
		Financials:    summarize(player, reports),
		MarketPrices:  g.discovery.Prices(),
		MarketChanges: changes,
		TickVolumes:   tickVolumes(trades),
		Shortages:     shortages(player),
		Trades:        trades,
		AutoTrades:    auto,
		AIOrders:      aiOrders,
		Events:        events,
		Digest:        market.TradeDigest(trades),
	}
	if tick%pricing.TicksPerSeason == 0 {
		slog.Info("season change", "game", g.ID, "tick", tick, "season", u.Season,
			"player_cash", humanize.Commaf(u.PlayerCash))
	}
	return u
}

func countRejected(actions []agents.Action) int {
	n := 0
	for _, a := range actions {
		if a.Err != "" {
			n++
		}
	}
	return n
}

// largeTradeNotional is the trade value AI companies take note of.
const largeTradeNotional = 1_000_000

func (g *Game) rememberLargeTrades(tick uint64, trades []market.Trade) {
	for _, t := range trades {
		if t.Notional() < largeTradeNotional {
			continue
		}
		value := humanize.Commaf(math.Round(t.Notional()))
		g.ai.Remember(t.BuyerID, tick, agents.ImportanceMedium, "bought %.0f %s for %s", t.Quantity, t.GoodsID, value)
		g.ai.Remember(t.SellerID, tick, agents.ImportanceMedium, "sold %.0f %s for %s", t.Quantity, t.GoodsID, value)
	}
}

func (g *Game) procure(b *BuildingInstance, m MissingInput) (AutoTradeAction, bool) {
	acct, ok := g.ledger.Account(b.OwnerID)
	if !ok {
		return AutoTradeAction{}, false
	}
	return g.autotrade.Procure(b.OwnerID, b.ID, m.GoodsID, m.Shortfall(), g.exchange, acct)
}

func (g *Game) view(id economy.CompanyID) (agents.View, bool) {
	acct, ok := g.ledger.Account(id)
	if !ok {
		return agents.View{}, false
	}
	return agents.View{Account: acct, Needs: g.needsOf(id)}, true
}

// needsOf sums the per-cycle recipe footprint of a company's running buildings.
func (g *Game) needsOf(id economy.CompanyID) agents.Needs {
	n := agents.Needs{Inputs: map[catalog.GoodsID]float64{}, Outputs: map[catalog.GoodsID]float64{}}
	for _, b := range g.buildings {
		if b.OwnerID != id || b.Status == StatusPaused {
			continue
		}
		r, ok := g.production.Recipe(b)
		if !ok {
			continue
		}
		for _, in := range r.Inputs {
			n.Inputs[in.Goods] += in.Amount
		}
		for _, out := range r.Outputs {
			n.Outputs[out.Goods] += out.Amount
		}
	}
	return n
}

func (g *Game) playerBuildings() []*BuildingInstance {
	var out []*BuildingInstance
	for _, b := range g.buildings {
		if b.OwnerID == PlayerID {
			out = append(out, b)
		}
	}
	return out
}

// Subscribe registers for tick snapshots. Sends never block the tick: a
// subscriber whose buffer is full misses that snapshot.
func (g *Game) Subscribe(buffer int) (<-chan TickUpdate, func()) {
	if buffer < 1 {
		buffer = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSub
	g.nextSub++
	ch := make(chan TickUpdate, buffer)
	g.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if c, ok := g.subs[id]; ok {
				close(c)
				delete(g.subs, id)
			}
		})
	}
}

func (g *Game) publishLocked(u TickUpdate) {
	for id, ch := range g.subs {
		select {
		case ch <- u:
		default:
			slog.Debug("subscriber lagging, snapshot dropped", "game", g.ID, "subscriber", id, "tick", u.Tick)
		}
	}
}
