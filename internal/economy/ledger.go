// Package economy provides per-company inventory and cash accounting.
// Production and trade settlement are the only writers.
package economy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/catalog"
)

// CompanyID identifies a player, AI or system company.
type CompanyID string

var (
	// ErrInsufficientCash is returned when available cash cannot cover a debit or reservation.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientStock is returned when unreserved stock cannot cover a removal.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnknownAccount is returned for operations on a company without an account.
	ErrUnknownAccount = errors.New("unknown account")
)

// Holding is the stock position of one company in one good.
type Holding struct {
	Quantity              float64 `json:"quantity"`
	ReservedForSale       float64 `json:"reserved_for_sale"`
	ReservedForProduction float64 `json:"reserved_for_production"`
	AvgCost               float64 `json:"avg_cost"`
}

// Available is the quantity not committed to sale or production.
func (h Holding) Available() float64 {
	return NonNegative(h.Quantity - h.ReservedForSale - h.ReservedForProduction)
}

// InventorySnapshot is an immutable copy of an account.
type InventorySnapshot struct {
	CompanyID    CompanyID                   `json:"company_id"`
	Cash         float64                     `json:"cash"`
	ReservedCash float64                     `json:"reserved_cash"`
	Holdings     map[catalog.GoodsID]Holding `json:"holdings"`
}

// Account holds one company's cash and stock.
type Account struct {
	ID           CompanyID
	StartingCash float64

	cash         decimal.Decimal
	reservedCash decimal.Decimal
	holdings     map[catalog.GoodsID]*Holding
}

func newAccount(id CompanyID, startingCash float64) *Account {
	return &Account{
		ID:           id,
		StartingCash: startingCash,
		cash:         decimal.NewFromFloat(startingCash),
		holdings:     make(map[catalog.GoodsID]*Holding),
	}
}

// Cash returns total cash, including the part escrowed for buy orders.
func (a *Account) Cash() float64 {
	return a.cash.InexactFloat64()
}

// ReservedCash returns the cash escrowed for resting buy orders.
func (a *Account) ReservedCash() float64 {
	return a.reservedCash.InexactFloat64()
}

// AvailableCash returns cash that can still be spent or reserved.
func (a *Account) AvailableCash() float64 {
	return a.cash.Sub(a.reservedCash).InexactFloat64()
}

// Credit adds cash. Non-positive amounts are ignored.
func (a *Account) Credit(amount float64) {
	if amount <= 0 {
		return
	}
	a.cash = a.cash.Add(decimal.NewFromFloat(amount))
}

// Debit removes cash from the available balance.
func (a *Account) Debit(amount float64) error {
	if amount <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(amount)
	if a.cash.Sub(a.reservedCash).LessThan(d) {
		return fmt.Errorf("debit %.2f from %s: %w", amount, a.ID, ErrInsufficientCash)
	}
	a.cash = a.cash.Sub(d)
	return nil
}

// DebitUpTo removes as much of amount as available cash allows and returns what was paid.
func (a *Account) DebitUpTo(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(amount)
	avail := a.cash.Sub(a.reservedCash)
	if avail.LessThan(d) {
		d = decimal.Max(avail, decimal.Zero)
	}
	a.cash = a.cash.Sub(d)
	return d.InexactFloat64()
}

// ReserveCash escrows cash for a buy order.
func (a *Account) ReserveCash(amount float64) error {
	if amount <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(amount)
	if a.cash.Sub(a.reservedCash).LessThan(d) {
		return fmt.Errorf("reserve %.2f for %s: %w", amount, a.ID, ErrInsufficientCash)
	}
	a.reservedCash = a.reservedCash.Add(d)
	return nil
}

// ReleaseCash returns escrowed cash to the available balance.
func (a *Account) ReleaseCash(amount float64) {
	if amount <= 0 {
		return
	}
	d := decimal.Min(decimal.NewFromFloat(amount), a.reservedCash)
	a.reservedCash = a.reservedCash.Sub(d)
}

// PayFromReserve settles a purchase out of escrow: reserved is released and paid is debited.
// Any difference between the two (price improvement) returns to the available balance.
func (a *Account) PayFromReserve(reserved, paid float64) {
	a.ReleaseCash(reserved)
	if paid <= 0 {
		return
	}
	a.cash = a.cash.Sub(decimal.NewFromFloat(paid))
	if a.cash.IsNegative() {
		a.cash = decimal.Zero
	}
}

func (a *Account) holding(goods catalog.GoodsID) *Holding {
	h, ok := a.holdings[goods]
	if !ok {
		h = &Holding{}
		a.holdings[goods] = h
	}
	return h
}

// Holding returns a copy of the position in goods.
func (a *Account) Holding(goods catalog.GoodsID) Holding {
	if h, ok := a.holdings[goods]; ok {
		return *h
	}
	return Holding{}
}

// Quantity returns the total held quantity of goods.
func (a *Account) Quantity(goods catalog.GoodsID) float64 {
	return a.Holding(goods).Quantity
}

// Available returns the unreserved quantity of goods.
func (a *Account) Available(goods catalog.GoodsID) float64 {
	return a.Holding(goods).Available()
}

// Add credits stock and folds unitCost into the weighted average cost.
func (a *Account) Add(goods catalog.GoodsID, qty, unitCost float64) {
	if qty <= 0 {
		return
	}
	h := a.holding(goods)
	total := h.Quantity + qty
	if total > 0 {
		h.AvgCost = (h.Quantity*h.AvgCost + qty*unitCost) / total
	}
	h.Quantity = total
}

// Remove debits unreserved stock.
func (a *Account) Remove(goods catalog.GoodsID, qty float64) error {
	if qty <= 0 {
		return nil
	}
	h := a.holding(goods)
	if h.Available()+Epsilon < qty {
		return fmt.Errorf("remove %.2f %s from %s: %w", qty, goods, a.ID, ErrInsufficientStock)
	}
	h.Quantity = NonNegative(h.Quantity - qty)
	return nil
}

// ReserveForSale commits stock to a resting sell order.
func (a *Account) ReserveForSale(goods catalog.GoodsID, qty float64) error {
	if qty <= 0 {
		return nil
	}
	h := a.holding(goods)
	if h.Available()+Epsilon < qty {
		return fmt.Errorf("reserve %.2f %s for %s: %w", qty, goods, a.ID, ErrInsufficientStock)
	}
	h.ReservedForSale += qty
	return nil
}

// ReleaseSale returns stock reserved for sale to the available pool.
func (a *Account) ReleaseSale(goods catalog.GoodsID, qty float64) {
	h := a.holding(goods)
	h.ReservedForSale = NonNegative(h.ReservedForSale - qty)
}

// DeliverReserved removes sold stock that was reserved for sale.
func (a *Account) DeliverReserved(goods catalog.GoodsID, qty float64) {
	h := a.holding(goods)
	h.ReservedForSale = NonNegative(h.ReservedForSale - qty)
	h.Quantity = NonNegative(h.Quantity - qty)
}

// ReserveForProduction commits up to qty of available stock to production and returns the amount reserved.
func (a *Account) ReserveForProduction(goods catalog.GoodsID, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	h := a.holding(goods)
	n := min(qty, h.Available())
	h.ReservedForProduction += n
	return n
}

// ReleaseProduction returns stock reserved for production to the available pool.
func (a *Account) ReleaseProduction(goods catalog.GoodsID, qty float64) {
	h := a.holding(goods)
	h.ReservedForProduction = NonNegative(h.ReservedForProduction - qty)
}

// ConsumeForProduction removes stock, drawing first from the production reservation.
func (a *Account) ConsumeForProduction(goods catalog.GoodsID, qty float64) error {
	if qty <= 0 {
		return nil
	}
	h := a.holding(goods)
	free := h.Quantity - h.ReservedForSale
	if free+Epsilon < qty {
		return fmt.Errorf("consume %.2f %s for %s: %w", qty, goods, a.ID, ErrInsufficientStock)
	}
	h.ReservedForProduction = NonNegative(h.ReservedForProduction - qty)
	h.Quantity = NonNegative(h.Quantity - qty)
	return nil
}

// ClearProductionReservations drops every production reservation on the account.
func (a *Account) ClearProductionReservations() {
	for _, h := range a.holdings {
		h.ReservedForProduction = 0
	}
}

// Snapshot copies the account.
func (a *Account) Snapshot() InventorySnapshot {
	out := InventorySnapshot{
		CompanyID:    a.ID,
		Cash:         a.Cash(),
		ReservedCash: a.ReservedCash(),
		Holdings:     make(map[catalog.GoodsID]Holding, len(a.holdings)),
	}
	for g, h := range a.holdings {
		out.Holdings[g] = *h
	}
	return out
}

// Ledger owns the accounts of one game.
type Ledger struct {
	accounts map[CompanyID]*Account
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[CompanyID]*Account)}
}

// Open creates an account with starting cash.
func (l *Ledger) Open(id CompanyID, startingCash float64) (*Account, error) {
	if _, exists := l.accounts[id]; exists {
		return nil, fmt.Errorf("account %s already exists", id)
	}
	a := newAccount(id, startingCash)
	l.accounts[id] = a
	return a, nil
}

// Account looks up a company's account.
func (l *Ledger) Account(id CompanyID) (*Account, bool) {
	a, ok := l.accounts[id]
	return a, ok
}

// MustAccount looks up an account and wraps ErrUnknownAccount when missing.
func (l *Ledger) MustAccount(id CompanyID) (*Account, error) {
	a, ok := l.accounts[id]
	if !ok {
		return nil, fmt.Errorf("company %s: %w", id, ErrUnknownAccount)
	}
	return a, nil
}

// IDs returns all company IDs in sorted order.
func (l *Ledger) IDs() []CompanyID {
	ids := make([]CompanyID, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClearProductionReservations resets production reservations on every account.
func (l *Ledger) ClearProductionReservations() {
	for _, a := range l.accounts {
		a.ClearProductionReservations()
	}
}
