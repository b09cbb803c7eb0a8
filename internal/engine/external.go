package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/llm"
	"github.com/talgya/mini-economy/internal/pricing"
	"github.com/talgya/mini-economy/internal/research"
)

// LLM defaults, in ticks.
const (
	DefaultLLMTimeoutTicks  = 12
	DefaultLLMCooldownTicks = 60
	DefaultLLMFailures      = 3
	DefaultEventInterval    = 30
	eventVolumeWindow       = 10
)

// LLMOptions wires the text-generation collaborator. A nil Generator disables
// every generated feature; the game then runs on deterministic fallbacks only.
type LLMOptions struct {
	Generator          llm.Generator
	TimeoutTicks       uint64
	FailureThreshold   int
	CooldownTicks      uint64
	EventIntervalTicks uint64
}

// external holds the async generation jobs of one game. Jobs are requested
// during a tick and their results applied on a later one.
type external struct {
	gen           llm.Generator
	eventInterval uint64
	events        *llm.Scheduler[[]llm.MarketEvent]
	strategies    *llm.Scheduler[*llm.Strategy]
	effects       *llm.Scheduler[*llm.ResearchEffect]
}

func newExternal(ctx context.Context, opts LLMOptions) *external {
	if opts.Generator == nil {
		return &external{}
	}
	if opts.TimeoutTicks == 0 {
		opts.TimeoutTicks = DefaultLLMTimeoutTicks
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultLLMFailures
	}
	if opts.CooldownTicks == 0 {
		opts.CooldownTicks = DefaultLLMCooldownTicks
	}
	if opts.EventIntervalTicks == 0 {
		opts.EventIntervalTicks = DefaultEventInterval
	}
	breaker := llm.NewBreaker(opts.FailureThreshold, opts.CooldownTicks)
	return &external{
		gen:           opts.Generator,
		eventInterval: opts.EventIntervalTicks,
		events:        llm.NewScheduler[[]llm.MarketEvent](ctx, "market-events", opts.TimeoutTicks, breaker),
		strategies:    llm.NewScheduler[*llm.Strategy](ctx, "strategy", opts.TimeoutTicks, breaker),
		effects:       llm.NewScheduler[*llm.ResearchEffect](ctx, "research", opts.TimeoutTicks, breaker),
	}
}

func (e *external) enabled() bool {
	return e != nil && e.gen != nil
}

func (e *external) close() {
	if !e.enabled() {
		return
	}
	e.events.Close()
	e.strategies.Close()
	e.effects.Close()
}

// stepExternal applies finished generation jobs and requests new ones.
func (g *Game) stepExternal(tick uint64) []MarketEventNote {
	notes := g.collectEvents(tick)
	g.collectStrategies(tick)
	g.collectEffects(tick)

	if g.ext.enabled() && tick%g.ext.eventInterval == 0 {
		mc := g.marketContext(tick)
		gen := g.ext.gen
		g.ext.events.Request(fmt.Sprintf("events-%d", tick), tick, func(ctx context.Context) ([]llm.MarketEvent, error) {
			return llm.GenerateMarketEvents(ctx, gen, mc)
		})
	}
	g.refreshAdvice(tick)
	return notes
}

func (g *Game) collectEvents(tick uint64) []MarketEventNote {
	if !g.ext.enabled() {
		return nil
	}
	var notes []MarketEventNote
	for _, o := range g.ext.events.Collect(tick) {
		if o.Err != nil {
			continue
		}
		for _, ev := range o.Value {
			g.applyEvent(ev)
			notes = append(notes, MarketEventNote{Headline: ev.Headline, Description: ev.Description})
		}
	}
	return notes
}

// applyEvent turns an event into price shocks and tracker flow. A negative
// supply change is booked as extra demand, since supply counters only grow.
func (g *Game) applyEvent(ev llm.MarketEvent) {
	for _, id := range sortedKeys(ev.PriceChanges) {
		g.discovery.Shock(catalog.GoodsID(id), ev.PriceChanges[id])
	}
	for _, id := range sortedKeys(ev.SupplyChanges) {
		gid := catalog.GoodsID(id)
		frac := ev.SupplyChanges[id]
		base := g.tracker.Get(gid).Supply
		if frac >= 0 {
			g.tracker.AddSupply(gid, base*frac)
		} else {
			g.tracker.AddDemand(gid, base*-frac)
		}
	}
	for _, c := range g.ai.Companies() {
		c.Remember(g.tick, agents.ImportanceHigh, "market event: %s", ev.Headline)
	}
	slog.Info("market event", "game", g.ID, "headline", ev.Headline)
}

func (g *Game) marketContext(tick uint64) llm.MarketContext {
	mc := llm.MarketContext{Tick: tick, Season: pricing.SeasonName(pricing.SeasonAt(tick))}
	from := uint64(0)
	if tick > eventVolumeWindow {
		from = tick - eventVolumeWindow
	}
	for _, goods := range g.cat.AllGoods() {
		mc.Quotes = append(mc.Quotes, llm.Quote{
			GoodsID:   string(goods.ID),
			Name:      goods.Name,
			Price:     g.discovery.Price(goods.ID),
			BasePrice: goods.BasePrice,
			Volume:    g.matcher.Volume(goods.ID, from, tick).Total,
		})
	}
	return mc
}

// refreshAdvice replaces expired AI advice, asking the generator when it is
// available and falling back to the personality default otherwise.
func (g *Game) refreshAdvice(tick uint64) {
	for _, c := range g.ai.Companies() {
		if _, ok := c.Advice(tick); ok {
			continue
		}
		if _, pending := g.pendingStrategies[c.ID]; pending {
			continue
		}
		if g.ext.enabled() {
			sc := g.strategyContext(c, tick)
			gen := g.ext.gen
			if g.ext.strategies.Request(string(c.ID), tick, func(ctx context.Context) (*llm.Strategy, error) {
				return llm.GenerateStrategy(ctx, gen, sc)
			}) {
				g.pendingStrategies[c.ID] = struct{}{}
				continue
			}
		}
		g.ai.ApplyAdvice(c.ID, agents.FallbackAdvice(c.Personality, tick))
	}
}

func (g *Game) collectStrategies(tick uint64) {
	if !g.ext.enabled() {
		return
	}
	for _, o := range g.ext.strategies.Collect(tick) {
		c, ok := g.ai.Company(economy.CompanyID(o.Key))
		if !ok {
			continue
		}
		delete(g.pendingStrategies, c.ID)
		if o.Err != nil || o.Value == nil {
			g.ai.ApplyAdvice(c.ID, agents.FallbackAdvice(c.Personality, tick))
			continue
		}
		advice := agents.Advice{
			BuyBias:    o.Value.BuyBias,
			SellBias:   o.Value.SellBias,
			Rationale:  o.Value.Rationale,
			ValidUntil: tick + DefaultEventInterval,
		}
		for _, f := range o.Value.Focus {
			if _, known := g.cat.Goods(catalog.GoodsID(f)); known {
				advice.Focus = append(advice.Focus, catalog.GoodsID(f))
			}
		}
		g.ai.ApplyAdvice(c.ID, advice)
	}
}

func (g *Game) strategyContext(c *agents.Company, tick uint64) llm.StrategyContext {
	sc := llm.StrategyContext{
		CompanyName: c.Name,
		Personality: string(c.Personality),
		Season:      pricing.SeasonName(pricing.SeasonAt(tick)),
		Holdings:    make(map[string]float64),
		Prices:      make(map[string]float64),
	}
	if acct, ok := g.ledger.Account(c.ID); ok {
		sc.Cash = acct.Cash()
		sc.StartingCash = acct.StartingCash
		for goods, h := range acct.Snapshot().Holdings {
			if h.Quantity > 0 {
				sc.Holdings[string(goods)] = h.Quantity
			}
		}
	}
	needs := g.needsOf(c.ID)
	for goods := range needs.Inputs {
		sc.Inputs = append(sc.Inputs, string(goods))
	}
	for goods := range needs.Outputs {
		sc.Outputs = append(sc.Outputs, string(goods))
	}
	sort.Strings(sc.Inputs)
	sort.Strings(sc.Outputs)
	for goods, p := range g.discovery.Prices() {
		sc.Prices[string(goods)] = p
	}
	for _, n := range c.ImportantNotes(5) {
		sc.Notes = append(sc.Notes, n.Content)
	}
	return sc
}

// requestEffect asks the generator what a just-started project unlocks.
func (g *Game) requestEffect(p research.Project, tick uint64) {
	if !g.ext.enabled() {
		return
	}
	rc := llm.ResearchContext{ProjectID: p.ID, ProjectName: p.Name}
	for _, def := range g.cat.Buildings() {
		rc.Buildings = append(rc.Buildings, def.ID)
	}
	gen := g.ext.gen
	g.ext.effects.Request(p.ID, tick, func(ctx context.Context) (*llm.ResearchEffect, error) {
		return llm.ProposeResearchEffect(ctx, gen, rc)
	})
}

func (g *Game) collectEffects(tick uint64) {
	if !g.ext.enabled() {
		return
	}
	for _, o := range g.ext.effects.Collect(tick) {
		if o.Err != nil || o.Value == nil {
			continue
		}
		e := research.Effect{Kind: research.EffectKind(o.Value.Kind), BuildingID: o.Value.BuildingID, Multiplier: o.Value.Multiplier}
		if g.research.Propose(o.Key, e) {
			slog.Info("research effect proposed", "game", g.ID, "project", o.Key, "summary", o.Value.Summary)
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
