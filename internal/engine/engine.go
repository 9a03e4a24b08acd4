// Package engine implements the execution logic of the paper trading
// account: market-order fills with slippage, limit-order acceptance
// with fund reservation, and the tick-driven maker match sweep.
//
// The engine holds no mutable state besides an atomic order-id counter.
// Every call reads the injected config and mutates state only through
// the ledger, so it is safe to invoke from any goroutine. Expected
// business outcomes — rejections included — are reported as
// OrderReport values, never as panics.
package engine

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/ledger"
	"github.com/quantfab/paper-engine/internal/model"
	"github.com/quantfab/paper-engine/internal/risk"
)

var (
	// ErrInvalidOrder is returned for missing or malformed order fields.
	ErrInvalidOrder = errors.New("engine: invalid order")

	// ErrUnsupportedOrderType is returned for order types other than
	// market and limit.
	ErrUnsupportedOrderType = errors.New("engine: unsupported order type")

	// ErrNoMarketData is returned for a market order on a symbol with
	// no cached last trade price.
	ErrNoMarketData = errors.New("engine: no market data for symbol")
)

// Config is the read-only pricing accessor interface the engine
// consumes. A nil Config falls back to built-in defaults.
type Config interface {
	MakerFeeRate() decimal.Decimal
	TakerFeeRate() decimal.Decimal
	MarketOrderSlippage() decimal.Decimal
	ContractValue(symbol string) decimal.Decimal
	Leverage(symbol string) decimal.Decimal
}

// Fallbacks used when no config is attached.
var (
	defaultMakerFeeRate = decimal.NewFromFloat(0.0002)
	defaultTakerFeeRate = decimal.NewFromFloat(0.0005)
)

// Engine executes orders against one ledger. Construct with New and
// share freely across goroutines; the ledger is the serialization
// point, and exchange-id allocation is an independent atomic counter so
// id allocation never contends with ledger mutation.
type Engine struct {
	ledger  *ledger.Ledger
	cfg     Config
	limiter *risk.Limiter
	seq     atomic.Int64
}

// New creates an engine bound to one ledger. cfg may be nil (defaults
// apply); limiter may be nil (no position limits).
func New(l *ledger.Ledger, cfg Config, limiter *risk.Limiter) *Engine {
	return &Engine{ledger: l, cfg: cfg, limiter: limiter}
}

// Ledger returns the ledger this engine executes against.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// nextExchangeOrderID allocates a monotonically increasing simulated
// exchange order id.
func (e *Engine) nextExchangeOrderID() string {
	return "mock_" + strconv.FormatInt(e.seq.Add(1), 10)
}

func (e *Engine) makerFeeRate() decimal.Decimal {
	if e.cfg == nil {
		return defaultMakerFeeRate
	}
	return e.cfg.MakerFeeRate()
}

func (e *Engine) takerFeeRate() decimal.Decimal {
	if e.cfg == nil {
		return defaultTakerFeeRate
	}
	return e.cfg.TakerFeeRate()
}

func (e *Engine) slippage() decimal.Decimal {
	if e.cfg == nil {
		return decimal.Zero
	}
	return e.cfg.MarketOrderSlippage()
}

func (e *Engine) contractValue(symbol string) decimal.Decimal {
	if e.cfg == nil {
		return decimal.NewFromInt(1)
	}
	return e.cfg.ContractValue(symbol)
}

// validate rejects malformed orders before any ledger call.
func validate(o model.OrderInfo) error {
	switch {
	case o.ClientOrderID == "":
		return fmt.Errorf("%w: client_order_id is required", ErrInvalidOrder)
	case o.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case !o.Side.Valid():
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	case !o.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	return nil
}

// ExecuteOrder routes an inbound order to the market or limit path.
// Unknown order types are rejected, never guessed at.
func (e *Engine) ExecuteOrder(o model.OrderInfo, lastTradePrice decimal.Decimal) model.OrderReport {
	switch o.OrderType {
	case model.OrderTypeMarket:
		return e.ExecuteMarketOrder(o, lastTradePrice)
	case model.OrderTypeLimit:
		return e.ExecuteLimitOrder(o)
	default:
		return e.reject(o, fmt.Errorf("%w: %q", ErrUnsupportedOrderType, o.OrderType))
	}
}

// ExecuteMarketOrder fills a market order at the slippage-adjusted last
// trade price with the taker fee rate. The order is always fully filled
// or rejected — there are no partial market fills.
func (e *Engine) ExecuteMarketOrder(o model.OrderInfo, lastTradePrice decimal.Decimal) model.OrderReport {
	o.OrderType = model.OrderTypeMarket
	if err := validate(o); err != nil {
		return e.reject(o, err)
	}
	if !lastTradePrice.IsPositive() {
		return e.reject(o, fmt.Errorf("%w: %s", ErrNoMarketData, o.Symbol))
	}

	// Slippage always worsens the price for the taker.
	one := decimal.NewFromInt(1)
	var fillPrice decimal.Decimal
	if o.Side == model.SideBuy {
		fillPrice = lastTradePrice.Mul(one.Add(e.slippage()))
	} else {
		fillPrice = lastTradePrice.Mul(one.Sub(e.slippage()))
	}

	cv := e.contractValue(o.Symbol)
	fee := o.Quantity.Mul(fillPrice).Mul(e.takerFeeRate())

	if o.Side == model.SideBuy {
		cost := o.Quantity.Mul(fillPrice).Mul(cv)
		if e.ledger.Available().LessThan(cost.Add(fee)) {
			return e.reject(o, ledger.ErrInsufficientBalance)
		}
	}

	if err := e.checkLimits(o, fillPrice, cv); err != nil {
		return e.reject(o, err)
	}

	if _, err := e.ledger.ApplyFill(o.Symbol, o.Side, o.Quantity, fillPrice, fee, cv); err != nil {
		return e.reject(o, err)
	}

	o.ExchangeOrderID = e.nextExchangeOrderID()
	o.FilledQuantity = o.Quantity
	o.FilledPrice = fillPrice
	o.Status = model.OrderStatusFilled
	return e.report(o, model.ReportFilled, fee, "")
}

// ExecuteLimitOrder accepts a resting limit order. A buy freezes the
// full notional plus the estimated maker fee; rejection on insufficient
// balance leaves nothing partially frozen. Sells reserve nothing.
func (e *Engine) ExecuteLimitOrder(o model.OrderInfo) model.OrderReport {
	o.OrderType = model.OrderTypeLimit
	if err := validate(o); err != nil {
		return e.reject(o, err)
	}
	if !o.Price.IsPositive() {
		return e.reject(o, fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder))
	}

	cv := e.contractValue(o.Symbol)
	if err := e.checkLimits(o, o.Price, cv); err != nil {
		return e.reject(o, err)
	}

	reserved := decimal.Zero
	if o.Side == model.SideBuy {
		cost := o.Quantity.Mul(o.Price).Mul(cv)
		fee := o.Quantity.Mul(o.Price).Mul(e.makerFeeRate())
		reserved = cost.Add(fee)
		if !e.ledger.Freeze(reserved) {
			return e.reject(o, ledger.ErrInsufficientBalance)
		}
	}

	now := time.Now().UTC()
	o.ExchangeOrderID = e.nextExchangeOrderID()
	if o.PositionSide == "" {
		o.PositionSide = model.PositionSideNet
	}
	if o.CreateTime.IsZero() {
		o.CreateTime = now
	}
	o.UpdateTime = now
	o.Status = model.OrderStatusAccepted
	e.ledger.AddOpenOrder(o, reserved)

	return e.report(o, model.ReportAccepted, decimal.Zero, "")
}

// MatchAgainstTick sweeps the open orders for symbol against one trade
// price. A buy matches when tickPrice <= limit, a sell when tickPrice >=
// limit, and every match fills AT THE ORDER'S LIMIT PRICE with the
// maker fee rate — the counterparty absorbs the slippage, not this
// account. After the sweep all positions on the symbol are marked to
// the tick price. Returns one report per fill in book order.
func (e *Engine) MatchAgainstTick(symbol string, tickPrice decimal.Decimal, ts time.Time) []model.OrderReport {
	if symbol == "" || !tickPrice.IsPositive() {
		return nil
	}

	var reports []model.OrderReport
	for _, o := range e.ledger.ListOpenOrders(symbol) {
		if !matches(o, tickPrice) {
			continue
		}

		// The removal is atomic: if a concurrent cancel won the race
		// the order is simply gone and the sweep moves on.
		o, reserved, ok := e.ledger.RemoveOpenOrder(o.ClientOrderID)
		if !ok {
			continue
		}
		if reserved.IsPositive() {
			e.ledger.Unfreeze(reserved)
		}

		cv := e.contractValue(o.Symbol)
		fee := o.Quantity.Mul(o.Price).Mul(e.makerFeeRate())
		if _, err := e.ledger.ApplyFill(o.Symbol, o.Side, o.Quantity, o.Price, fee, cv); err != nil {
			reports = append(reports, e.report(o, model.ReportRejected, decimal.Zero, err.Error()))
			continue
		}

		o.FilledQuantity = o.Quantity
		o.FilledPrice = o.Price
		o.Status = model.OrderStatusFilled
		o.UpdateTime = ts
		reports = append(reports, e.report(o, model.ReportFilled, fee, ""))
	}

	e.ledger.MarkToMarket(symbol, tickPrice, e.contractValue(symbol))
	return reports
}

// CancelOrder cancels one open order by client or exchange order id,
// releasing its full reservation. Cancelling an unknown, already-filled
// or already-cancelled id returns false and mutates nothing.
func (e *Engine) CancelOrder(id string) (model.OrderReport, bool) {
	o, ok := e.ledger.CancelOpenOrder(id)
	if !ok {
		return model.OrderReport{}, false
	}
	return e.report(o, model.ReportCancelled, decimal.Zero, ""), true
}

// CancelAll cancels every open order for symbol (all symbols if empty)
// and returns one cancellation report per order.
func (e *Engine) CancelAll(symbol string) []model.OrderReport {
	cancelled := e.ledger.CancelAllOpenOrders(symbol)
	reports := make([]model.OrderReport, 0, len(cancelled))
	for _, o := range cancelled {
		reports = append(reports, e.report(o, model.ReportCancelled, decimal.Zero, ""))
	}
	return reports
}

func (e *Engine) checkLimits(o model.OrderInfo, price, contractValue decimal.Decimal) error {
	if !e.limiter.Enabled() {
		return nil
	}
	delta := o.Quantity
	if o.Side == model.SideSell {
		delta = delta.Neg()
	}
	return e.limiter.CheckLimit(o.Symbol, delta, price, contractValue, e.ledger.ActivePositions())
}

func matches(o model.OrderInfo, tickPrice decimal.Decimal) bool {
	if o.Side == model.SideBuy {
		return tickPrice.LessThanOrEqual(o.Price)
	}
	return tickPrice.GreaterThanOrEqual(o.Price)
}

func (e *Engine) reject(o model.OrderInfo, err error) model.OrderReport {
	return e.report(o, model.ReportRejected, decimal.Zero, err.Error())
}

func (e *Engine) report(o model.OrderInfo, status model.ReportStatus, fee decimal.Decimal, errMsg string) model.OrderReport {
	return model.OrderReport{
		ID:              uuid.New().String(),
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		OrderType:       o.OrderType,
		Status:          status,
		Quantity:        o.Quantity,
		Price:           o.Price,
		FilledQuantity:  o.FilledQuantity,
		FilledPrice:     o.FilledPrice,
		Fee:             fee,
		ErrorMsg:        errMsg,
		Timestamp:       time.Now().UTC(),
	}
}
