// Package model defines the core domain types shared across the paper
// trading engine. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the taker direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType distinguishes immediately-executed orders from resting ones.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// PositionSide selects the position bucket an order applies to. The
// engine operates in unified ("net") mode only: one signed position per
// symbol. Long/short buckets exist for hedge-mode callers but are never
// produced by the engine itself.
type PositionSide string

const (
	PositionSideNet   PositionSide = "net"
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// OrderStatus is the lifecycle state of an order held in the book.
type OrderStatus string

const (
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// ReportStatus is the outcome carried on an OrderReport.
type ReportStatus string

const (
	ReportAccepted  ReportStatus = "accepted"
	ReportFilled    ReportStatus = "filled"
	ReportRejected  ReportStatus = "rejected"
	ReportCancelled ReportStatus = "cancelled"
)

// OrderInfo is an order as known to the engine and the open-order book.
// Only limit orders persist in the book; market orders resolve
// synchronously and are never stored.
type OrderInfo struct {
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	OrderType       OrderType       `json:"order_type"`
	PositionSide    PositionSide    `json:"position_side"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	FilledPrice     decimal.Decimal `json:"filled_price"`
	Status          OrderStatus     `json:"status"`
	CreateTime      time.Time       `json:"create_time"`
	UpdateTime      time.Time       `json:"update_time"`
}

// OrderReport is the immutable outcome record produced for every
// ledger-affecting operation: acceptance, fill, rejection, cancellation.
type OrderReport struct {
	ID              string          `json:"id"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	OrderType       OrderType       `json:"order_type"`
	Status          ReportStatus    `json:"status"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	FilledPrice     decimal.Decimal `json:"filled_price"`
	Fee             decimal.Decimal `json:"fee"`
	ErrorMsg        string          `json:"error_msg,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Position is the aggregate holding for one (symbol, position side) key.
// Quantity is signed: positive = long, negative = short. AvgPrice is
// meaningful only while Quantity is non-zero.
type Position struct {
	Symbol        string          `json:"symbol"`
	PositionSide  PositionSide    `json:"position_side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
}

// Tick is one inbound trade-price observation for a symbol. It drives
// both the last-trade-price cache and the limit-order match sweep.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Candle is one fixed-interval OHLC bucket aggregated from ticks.
type Candle struct {
	Symbol    string          `json:"symbol"`
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	TickCount int64           `json:"tick_count"`
}

// AccountSnapshot is a point-in-time view of the ledger's balances.
type AccountSnapshot struct {
	Available   decimal.Decimal `json:"available"`
	Frozen      decimal.Decimal `json:"frozen"`
	Total       decimal.Decimal `json:"total"`
	TotalEquity decimal.Decimal `json:"total_equity"`
}
