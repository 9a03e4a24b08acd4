package paper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/engine"
	"github.com/quantfab/paper-engine/internal/kline"
	"github.com/quantfab/paper-engine/internal/metrics"
	"github.com/quantfab/paper-engine/internal/model"
	"github.com/quantfab/paper-engine/internal/store"
)

// Loop is the orchestration loop between the transport layer and the
// execution engine. It consumes inbound orders and market ticks from
// channels, drives the engine, and publishes every resulting report to
// the journal store, the WebSocket hub, the metrics registry, and the
// outbound report channel.
//
// It also owns the last-trade-price cache market orders execute against.
type Loop struct {
	engine *engine.Engine
	st     store.Store
	hub    *WSHub            // optional
	agg    *kline.Aggregator // optional

	orders  chan model.OrderInfo
	ticks   chan model.Tick
	reports chan model.OrderReport

	lastMu sync.RWMutex
	last   map[string]decimal.Decimal
}

// NewLoop creates an orchestration loop. hub and agg may be nil.
func NewLoop(eng *engine.Engine, st store.Store, hub *WSHub, agg *kline.Aggregator) *Loop {
	return &Loop{
		engine:  eng,
		st:      st,
		hub:     hub,
		agg:     agg,
		orders:  make(chan model.OrderInfo, 256),
		ticks:   make(chan model.Tick, 1024),
		reports: make(chan model.OrderReport, 1024),
	}
}

// Run processes inbound orders and ticks until ctx is cancelled. Must
// be called in a goroutine; only one Run loop may be active per Loop.
func (l *Loop) Run(ctx context.Context) {
	l.lastMu.Lock()
	if l.last == nil {
		l.last = make(map[string]decimal.Decimal)
	}
	l.lastMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestration loop stopped")
			return
		case o := <-l.orders:
			l.handleOrder(ctx, o)
		case t := <-l.ticks:
			l.handleTick(ctx, t)
		}
	}
}

// SubmitOrder queues an inbound order for execution.
func (l *Loop) SubmitOrder(ctx context.Context, o model.OrderInfo) error {
	select {
	case l.orders <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushTick queues an inbound market tick.
func (l *Loop) PushTick(ctx context.Context, t model.Tick) error {
	select {
	case l.ticks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reports is the outbound stream of order reports. Reports are dropped
// when no consumer keeps up; the journal store retains the full record.
func (l *Loop) Reports() <-chan model.OrderReport {
	return l.reports
}

// LastPrice returns the cached last trade price for a symbol.
func (l *Loop) LastPrice(symbol string) (decimal.Decimal, bool) {
	l.lastMu.RLock()
	defer l.lastMu.RUnlock()
	p, ok := l.last[symbol]
	return p, ok
}

// Publish fans one report out to every consumer: metrics, the journal
// store, the WebSocket hub, and the outbound channel. Used by the loop
// itself and by admin operations (cancels) executed on other threads.
func (l *Loop) Publish(ctx context.Context, rep model.OrderReport) {
	liquidity := "taker"
	if rep.OrderType == model.OrderTypeLimit {
		liquidity = "maker"
	}
	l.publish(ctx, rep, liquidity)
}

func (l *Loop) handleOrder(ctx context.Context, o model.OrderInfo) {
	lastPrice, _ := l.LastPrice(o.Symbol)
	rep := l.engine.ExecuteOrder(o, lastPrice)
	l.Publish(ctx, rep)

	slog.Info("order processed",
		"client_order_id", rep.ClientOrderID,
		"exchange_order_id", rep.ExchangeOrderID,
		"symbol", rep.Symbol,
		"side", rep.Side,
		"type", rep.OrderType,
		"status", rep.Status,
		"filled_price", rep.FilledPrice.String(),
		"fee", rep.Fee.String(),
		"error", rep.ErrorMsg,
	)
}

func (l *Loop) handleTick(ctx context.Context, t model.Tick) {
	if t.Symbol == "" || !t.Price.IsPositive() {
		return
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	l.lastMu.Lock()
	l.last[t.Symbol] = t.Price
	l.lastMu.Unlock()

	metrics.TicksTotal.WithLabelValues(t.Symbol).Inc()

	start := time.Now()
	fills := l.engine.MatchAgainstTick(t.Symbol, t.Price, t.Timestamp)
	metrics.MatchSweepDuration.Observe(time.Since(start).Seconds())

	for _, rep := range fills {
		l.publish(ctx, rep, "maker")
		slog.Info("limit order matched",
			"client_order_id", rep.ClientOrderID,
			"symbol", rep.Symbol,
			"side", rep.Side,
			"status", rep.Status,
			"filled_price", rep.FilledPrice.String(),
			"tick_price", t.Price.String(),
		)
	}

	if l.agg != nil {
		l.agg.Observe(ctx, t)
	}
	if l.hub != nil {
		l.hub.BroadcastTick(t)
	}
}

// publish fans one report out to every consumer. The journal store is
// an observer: a failed insert is logged and the report still flows.
func (l *Loop) publish(ctx context.Context, rep model.OrderReport, liquidity string) {
	metrics.ReportsTotal.WithLabelValues(string(rep.Status)).Inc()
	if rep.Status == model.ReportFilled {
		metrics.FillsTotal.WithLabelValues(liquidity, string(rep.Side)).Inc()
		metrics.FeesPaid.Add(rep.Fee.InexactFloat64())
	}
	led := l.engine.Ledger()
	metrics.OpenOrders.Set(float64(len(led.ListOpenOrders(""))))
	metrics.AccountEquity.Set(led.TotalEquity().InexactFloat64())

	if l.st != nil {
		if err := l.st.InsertReport(ctx, &rep); err != nil {
			slog.Warn("report journal insert failed", "report_id", rep.ID, "err", err)
		}
	}
	if l.hub != nil {
		l.hub.BroadcastReport(rep)
	}

	select {
	case l.reports <- rep:
	default:
		// Outbound channel full: drop rather than stall the loop.
	}
}
