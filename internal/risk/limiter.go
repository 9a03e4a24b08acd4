// Package risk implements optional pre-trade position limits for the
// paper engine: a per-symbol cap on absolute position size and a cap on
// aggregate open notional across all symbols.
//
// Limits are opt-in. A nil *Limiter, or a zero value for either cap,
// disables that check, so the default engine behavior is unchanged.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/model"
)

var (
	// ErrPositionLimitExceeded is returned when a fill would push a
	// symbol's absolute position beyond the per-symbol maximum.
	ErrPositionLimitExceeded = errors.New("risk: per-symbol position limit exceeded")

	// ErrNotionalLimitExceeded is returned when a fill would push the
	// aggregate absolute notional across all positions beyond the
	// account maximum.
	ErrNotionalLimitExceeded = errors.New("risk: aggregate notional limit exceeded")
)

// Limiter enforces pre-trade position limits.
type Limiter struct {
	// MaxPositionQty is the maximum absolute net quantity per symbol.
	// Zero means unlimited.
	MaxPositionQty decimal.Decimal

	// MaxOpenNotional is the maximum aggregate absolute notional
	// (|quantity| * price * contract value) across all positions,
	// measured at the candidate fill price. Zero means unlimited.
	MaxOpenNotional decimal.Decimal
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxPositionQty, maxOpenNotional decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPositionQty:  maxPositionQty,
		MaxOpenNotional: maxOpenNotional,
	}
}

// Enabled reports whether any check is active.
func (l *Limiter) Enabled() bool {
	return l != nil && (l.MaxPositionQty.IsPositive() || l.MaxOpenNotional.IsPositive())
}

// CheckLimit validates whether a candidate fill respects the limits.
//
// Parameters:
//   - symbol: instrument being traded
//   - qtyDelta: signed quantity change (+buy / -sell)
//   - price: candidate fill price
//   - contractValue: quantity-to-base-asset multiplier for symbol
//   - positions: current non-zero positions for the account
//
// Returns nil if the fill is within limits, or an error naming the
// violated limit.
func (l *Limiter) CheckLimit(symbol string, qtyDelta, price, contractValue decimal.Decimal, positions []model.Position) error {
	if !l.Enabled() {
		return nil
	}

	current := decimal.Zero
	otherNotional := decimal.Zero
	for _, p := range positions {
		if p.Symbol == symbol {
			current = p.Quantity
			continue
		}
		mark := p.MarkPrice
		if !mark.IsPositive() {
			mark = p.AvgPrice
		}
		otherNotional = otherNotional.Add(p.Quantity.Abs().Mul(mark))
	}

	newQty := current.Add(qtyDelta)
	if l.MaxPositionQty.IsPositive() && newQty.Abs().GreaterThan(l.MaxPositionQty) {
		return ErrPositionLimitExceeded
	}

	if l.MaxOpenNotional.IsPositive() {
		total := otherNotional.Add(newQty.Abs().Mul(price).Mul(contractValue))
		if total.GreaterThan(l.MaxOpenNotional) {
			return ErrNotionalLimitExceeded
		}
	}

	return nil
}
