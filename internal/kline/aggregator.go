// Package kline aggregates inbound price ticks into fixed-interval
// OHLC candles and flushes completed buckets to the history store.
package kline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfab/paper-engine/internal/model"
	"github.com/quantfab/paper-engine/internal/store"
)

// Aggregator folds ticks into per-symbol candle buckets. When a tick
// lands in a new bucket the previous one is flushed to the store. The
// live bucket is also upserted on every tick so readers always see the
// current partial candle.
type Aggregator struct {
	st       store.Store
	interval time.Duration

	mu      sync.Mutex
	current map[string]*model.Candle
}

// NewAggregator creates an aggregator flushing to st. interval must be
// positive; 1 minute is the conventional choice.
func NewAggregator(st store.Store, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Aggregator{
		st:       st,
		interval: interval,
		current:  make(map[string]*model.Candle),
	}
}

// Observe folds one tick into its symbol's bucket and persists the
// updated candle. Store failures are logged, not propagated: candle
// history is an observer of the engine, never a gate on it.
func (a *Aggregator) Observe(ctx context.Context, tick model.Tick) {
	bucket := tick.Timestamp.Truncate(a.interval)

	a.mu.Lock()
	c, ok := a.current[tick.Symbol]
	if !ok || !c.OpenTime.Equal(bucket) {
		c = &model.Candle{
			Symbol:   tick.Symbol,
			OpenTime: bucket,
			Open:     tick.Price,
			High:     tick.Price,
			Low:      tick.Price,
		}
		a.current[tick.Symbol] = c
	}
	if tick.Price.GreaterThan(c.High) {
		c.High = tick.Price
	}
	if tick.Price.LessThan(c.Low) {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.TickCount++
	snapshot := *c
	a.mu.Unlock()

	if err := a.st.UpsertCandle(ctx, &snapshot); err != nil {
		slog.Warn("candle upsert failed", "symbol", tick.Symbol, "err", err)
	}
}

// Current returns the live (partial) candle for a symbol, if any.
func (a *Aggregator) Current(symbol string) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.current[symbol]
	if !ok {
		return model.Candle{}, false
	}
	return *c, true
}
