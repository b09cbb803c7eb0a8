package engine

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/market"
	"github.com/talgya/mini-economy/internal/pricing"
)

// ConsumerID is the system account that buys consumer goods off the market.
const ConsumerID economy.CompanyID = "consumer"

const (
	demandAmplitude  = 0.3
	noiseAmplitude   = 0.1
	noiseFrequency   = 0.05
	demandPeriod     = pricing.TicksPerSeason * 4
	consumerMarkup   = 1.05
	consumerOrderTTL = 1
	consumerTag      = "consumer"
)

// goldenAngle spreads per-goods phases so demand peaks do not line up.
var goldenAngle = math.Pi * (3 - math.Sqrt(5))

// DemandModel injects background consumer demand each tick.
type DemandModel struct {
	cat     *catalog.Catalog
	tracker *pricing.Tracker
	noise   opensimplex.Noise
}

// NewDemandModel creates a demand model whose jitter is fixed by seed.
func NewDemandModel(cat *catalog.Catalog, tracker *pricing.Tracker, seed int64) *DemandModel {
	return &DemandModel{cat: cat, tracker: tracker, noise: opensimplex.New(seed)}
}

// Demand is the background demand for g at tick.
func (d *DemandModel) Demand(g catalog.Goods, tick uint64) float64 {
	if g.BaseDemand <= 0 {
		return 0
	}
	i := float64(d.cat.GoodsIndex(g.ID))
	phase := i * goldenAngle
	wave := 1 + demandAmplitude*math.Sin(2*math.Pi*float64(tick)/demandPeriod+phase)
	jitter := 1 + noiseAmplitude*d.noise.Eval2(i*7.31, float64(tick)*noiseFrequency)
	return g.BaseDemand * wave * jitter
}

// Inject records this tick's demand in the tracker and places consumer buy
// orders for consumer goods. Orders last one tick.
func (d *DemandModel) Inject(tick uint64, ex *Exchange) []market.Trade {
	acct, ok := ex.ledger.Account(ConsumerID)
	if !ok {
		return nil
	}

	type want struct {
		goods catalog.GoodsID
		qty   float64
		price float64
	}
	var orders []want
	budget := 0.0
	for _, g := range d.cat.AllGoods() {
		qty := d.Demand(g, tick)
		if qty <= 0 {
			continue
		}
		d.tracker.AddDemand(g.ID, qty)
		if g.Category != catalog.CategoryConsumer {
			continue
		}
		price := ex.Price(g.ID) * consumerMarkup
		orders = append(orders, want{g.ID, qty, price})
		budget += qty * price
	}
	if short := budget - acct.AvailableCash(); short > 0 {
		acct.Credit(short)
	}

	var trades []market.Trade
	for _, w := range orders {
		res, err := ex.Place(OrderRequest{Owner: ConsumerID, Side: market.Buy, GoodsID: w.goods, Quantity: w.qty, Price: w.price, TTL: consumerOrderTTL, Tag: consumerTag})
		if err != nil {
			continue
		}
		trades = append(trades, res.Trades...)
	}
	// Consumers use up what they bought.
	for _, w := range orders {
		if n := acct.Available(w.goods); n > 0 {
			_ = acct.Remove(w.goods, n)
		}
	}
	return trades
}
