// Package ledger owns all mutable financial state of the paper trading
// account: available/frozen balance, per-(symbol, position side)
// positions, and the open limit-order book.
//
// One mutex guards everything. Every public method acquires it for its
// full duration, and no public method calls another public method while
// holding it — equivalent mutations are performed inline instead. This
// makes each method individually atomic: no fill ever observes a stale
// balance, and listings never observe a half-removed order.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/model"
)

var (
	// ErrInsufficientBalance is returned when a fill would drive the
	// available balance negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient available balance")
)

type positionKey struct {
	symbol string
	side   model.PositionSide
}

// Ledger is the sole serialization point for account state. Construct
// one per engine instance with New and share it by pointer.
type Ledger struct {
	mu        sync.Mutex
	available decimal.Decimal
	frozen    decimal.Decimal
	positions map[positionKey]*model.Position

	// orders is the canonical open-order index, keyed by client order
	// id. byExchange maps exchange order id -> client order id for O(1)
	// lookup either way without duplicate entries. reserved records the
	// exact amount frozen for each open order so cancellation releases
	// precisely what submission froze, fee component included.
	orders     map[string]*model.OrderInfo
	byExchange map[string]string
	reserved   map[string]decimal.Decimal
}

// New creates a ledger holding the given initial available balance.
func New(initialBalance decimal.Decimal) *Ledger {
	l := &Ledger{}
	l.reset(initialBalance)
	return l
}

func (l *Ledger) reset(initialBalance decimal.Decimal) {
	l.available = initialBalance
	l.frozen = decimal.Zero
	l.positions = make(map[positionKey]*model.Position)
	l.orders = make(map[string]*model.OrderInfo)
	l.byExchange = make(map[string]string)
	l.reserved = make(map[string]decimal.Decimal)
}

// Reset wipes all positions and open orders and restores the available
// balance to initialBalance.
func (l *Ledger) Reset(initialBalance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset(initialBalance)
}

// --- Balance operations ---

// Freeze moves amount from available to frozen. Returns false without
// mutating anything if the available balance is insufficient or the
// amount is not positive.
func (l *Ledger) Freeze(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available.LessThan(amount) {
		return false
	}
	l.available = l.available.Sub(amount)
	l.frozen = l.frozen.Add(amount)
	return true
}

// Unfreeze moves amount from frozen back to available, clamped so the
// frozen balance never goes negative. In correct usage the clamp never
// engages; it is a guard against call-site mismatches.
func (l *Ledger) Unfreeze(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	released := amount
	if released.GreaterThan(l.frozen) {
		released = l.frozen
	}
	l.frozen = l.frozen.Sub(released)
	l.available = l.available.Add(released)
}

// Credit unconditionally adds amount to the available balance.
func (l *Ledger) Credit(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = l.available.Add(amount)
}

// Debit subtracts amount from the available balance. Returns false
// without mutating anything if the balance is insufficient.
func (l *Ledger) Debit(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available.LessThan(amount) {
		return false
	}
	l.available = l.available.Sub(amount)
	return true
}

// --- Fills ---

// FillResult reports the ledger-side outcome of one fill.
type FillResult struct {
	RealizedPnL decimal.Decimal
	Position    model.Position
}

// ApplyFill is the single position-mutation entry point. In one critical
// section it updates the (symbol, net) position, credits realized PnL,
// debits the fee, and settles the notional: a buy debits
// quantity*price*contractValue from available, a sell credits it.
//
// The whole fill is rejected with ErrInsufficientBalance, touching
// nothing, if the net balance movement would drive available negative.
func (l *Ledger) ApplyFill(symbol string, side model.Side, quantity, price, fee, contractValue decimal.Decimal) (FillResult, error) {
	signed := quantity
	if side == model.SideSell {
		signed = quantity.Neg()
	}
	notional := quantity.Mul(price).Mul(contractValue)

	l.mu.Lock()
	defer l.mu.Unlock()

	key := positionKey{symbol: symbol, side: model.PositionSideNet}
	pos, ok := l.positions[key]
	if !ok {
		pos = &model.Position{Symbol: symbol, PositionSide: model.PositionSideNet}
		l.positions[key] = pos
	}

	oldQty := pos.Quantity
	oldAvg := pos.AvgPrice
	newQty := oldQty.Add(signed)

	// Realized PnL accrues only on the reducing leg, against the entry
	// price in force BEFORE this fill.
	pnl := decimal.Zero
	if !oldQty.IsZero() && oldQty.Sign() != signed.Sign() {
		closed := decimal.Min(oldQty.Abs(), signed.Abs())
		pnl = closed.Mul(price.Sub(oldAvg)).Mul(contractValue)
		if oldQty.IsNegative() {
			pnl = pnl.Neg()
		}
	}

	// Net balance movement of the whole fill.
	delta := pnl.Sub(fee)
	if side == model.SideBuy {
		delta = delta.Sub(notional)
	} else {
		delta = delta.Add(notional)
	}
	if l.available.Add(delta).IsNegative() {
		return FillResult{}, ErrInsufficientBalance
	}

	pos.Quantity = newQty
	switch {
	case oldQty.IsZero():
		pos.AvgPrice = price
	case newQty.IsZero():
		pos.AvgPrice = decimal.Zero
	case oldQty.Sign() == signed.Sign():
		// Adding to the position: volume-weighted entry price.
		pos.AvgPrice = oldQty.Mul(oldAvg).Add(signed.Mul(price)).Div(newQty)
	case oldQty.Sign() != newQty.Sign():
		// Reversal: the excess beyond the close opens at the fill price.
		pos.AvgPrice = price
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)

	l.available = l.available.Add(delta)

	return FillResult{RealizedPnL: pnl, Position: *pos}, nil
}

// MarkToMarket refreshes the mark price and unrealized PnL of every
// position on symbol.
func (l *Ledger) MarkToMarket(symbol string, markPrice, contractValue decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, pos := range l.positions {
		if key.symbol != symbol {
			continue
		}
		pos.MarkPrice = markPrice
		if pos.Quantity.IsZero() {
			pos.UnrealizedPnL = decimal.Zero
			continue
		}
		pos.UnrealizedPnL = pos.Quantity.Mul(markPrice.Sub(pos.AvgPrice)).Mul(contractValue)
	}
}

// --- Open-order book ---

// AddOpenOrder inserts a resting limit order into the book, recording
// the amount frozen against it. The ledger stores its own copy.
func (l *Ledger) AddOpenOrder(order model.OrderInfo, reservedAmount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if order.Status == "" {
		order.Status = model.OrderStatusAccepted
	}
	o := order
	l.orders[o.ClientOrderID] = &o
	if o.ExchangeOrderID != "" {
		l.byExchange[o.ExchangeOrderID] = o.ClientOrderID
	}
	l.reserved[o.ClientOrderID] = reservedAmount
}

// RemoveOpenOrder removes an order from the book by client or exchange
// order id and returns the order and the amount still reserved against
// it. The reservation is NOT released here — callers settling a fill
// unfreeze it themselves before applying the fill.
func (l *Ledger) RemoveOpenOrder(id string) (model.OrderInfo, decimal.Decimal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.lookup(id)
	if !ok {
		return model.OrderInfo{}, decimal.Decimal{}, false
	}
	res := l.reserved[o.ClientOrderID]
	l.delete(o)
	return *o, res, true
}

// CancelOpenOrder removes an order by client or exchange order id and
// releases its full reservation back to available — exactly the amount
// frozen at submission, estimated fee included. Returns false for
// unknown or already-resolved ids, mutating nothing (idempotent).
func (l *Ledger) CancelOpenOrder(id string) (model.OrderInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.lookup(id)
	if !ok {
		return model.OrderInfo{}, false
	}
	l.release(o)
	o.Status = model.OrderStatusCancelled
	o.UpdateTime = time.Now().UTC()
	l.delete(o)
	return *o, true
}

// CancelAllOpenOrders cancels every open order for symbol (all symbols
// if empty), releasing reservations, and returns the cancelled orders
// in book order.
func (l *Ledger) CancelAllOpenOrders(symbol string) []model.OrderInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.OrderInfo
	for _, o := range l.sorted() {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		l.release(o)
		o.Status = model.OrderStatusCancelled
		o.UpdateTime = time.Now().UTC()
		l.delete(o)
		out = append(out, *o)
	}
	return out
}

// ListOpenOrders returns the open orders for symbol (all symbols if
// empty) in submission order. Each entry appears exactly once: the book
// has one canonical index, so no de-duplication is needed.
func (l *Ledger) ListOpenOrders(symbol string) []model.OrderInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.OrderInfo
	for _, o := range l.sorted() {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// OpenOrder looks up an open order by client or exchange order id.
func (l *Ledger) OpenOrder(id string) (model.OrderInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.lookup(id)
	if !ok {
		return model.OrderInfo{}, false
	}
	return *o, true
}

// lookup resolves either id form to the canonical entry. Caller holds mu.
func (l *Ledger) lookup(id string) (*model.OrderInfo, bool) {
	if o, ok := l.orders[id]; ok {
		return o, true
	}
	if clientID, ok := l.byExchange[id]; ok {
		o, ok := l.orders[clientID]
		return o, ok
	}
	return nil, false
}

// release moves an order's reservation from frozen back to available,
// clamped at the frozen balance. Caller holds mu.
func (l *Ledger) release(o *model.OrderInfo) {
	res := l.reserved[o.ClientOrderID]
	if !res.IsPositive() {
		return
	}
	if res.GreaterThan(l.frozen) {
		res = l.frozen
	}
	l.frozen = l.frozen.Sub(res)
	l.available = l.available.Add(res)
}

// delete removes an order from all indexes. Caller holds mu.
func (l *Ledger) delete(o *model.OrderInfo) {
	delete(l.orders, o.ClientOrderID)
	delete(l.byExchange, o.ExchangeOrderID)
	delete(l.reserved, o.ClientOrderID)
}

// sorted returns the book in submission order. Caller holds mu.
func (l *Ledger) sorted() []*model.OrderInfo {
	out := make([]*model.OrderInfo, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreateTime.Equal(out[j].CreateTime) {
			return out[i].CreateTime.Before(out[j].CreateTime)
		}
		return out[i].ExchangeOrderID < out[j].ExchangeOrderID
	})
	return out
}

// --- Read accessors ---

// Available returns the balance free for new orders.
func (l *Ledger) Available() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Frozen returns the balance reserved against open limit orders.
func (l *Ledger) Frozen() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen
}

// Total returns available + frozen.
func (l *Ledger) Total() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available.Add(l.frozen)
}

// TotalEquity returns the total balance plus the unrealized PnL of all
// positions (mark-to-market account value).
func (l *Ledger) TotalEquity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	equity := l.available.Add(l.frozen)
	for _, pos := range l.positions {
		equity = equity.Add(pos.UnrealizedPnL)
	}
	return equity
}

// Snapshot returns a point-in-time view of the account balances.
func (l *Ledger) Snapshot() model.AccountSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.available.Add(l.frozen)
	equity := total
	for _, pos := range l.positions {
		equity = equity.Add(pos.UnrealizedPnL)
	}
	return model.AccountSnapshot{
		Available:   l.available,
		Frozen:      l.frozen,
		Total:       total,
		TotalEquity: equity,
	}
}

// Position returns the position for (symbol, side). A position that has
// never been filled reads as zero quantity.
func (l *Ledger) Position(symbol string, side model.PositionSide) model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[positionKey{symbol: symbol, side: side}]; ok {
		return *pos
	}
	return model.Position{Symbol: symbol, PositionSide: side}
}

// ActivePositions returns every position with non-zero quantity, sorted
// by symbol for stable output.
func (l *Ledger) ActivePositions() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Position
	for _, pos := range l.positions {
		if !pos.Quantity.IsZero() {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
