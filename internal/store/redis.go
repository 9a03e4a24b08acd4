package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfab/paper-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for candle history and recent-report queries.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertReport(ctx context.Context, r *model.OrderReport) error {
	if err := s.primary.InsertReport(ctx, r); err != nil {
		return err
	}
	// Invalidate report caches; next read re-populates.
	s.rdb.Del(ctx, reportsKey(r.Symbol), reportsKey(""))
	return nil
}

func (s *CachedStore) UpsertCandle(ctx context.Context, c *model.Candle) error {
	if err := s.primary.UpsertCandle(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, candlesKey(c.Symbol))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListReports(ctx context.Context, symbol string, limit int) ([]model.OrderReport, error) {
	data, err := s.rdb.Get(ctx, reportsKey(symbol)).Bytes()
	if err == nil {
		var reports []model.OrderReport
		if json.Unmarshal(data, &reports) == nil {
			if limit > 0 && len(reports) > limit {
				reports = reports[:limit]
			}
			return reports, nil
		}
	}

	// Cache miss: read from primary without the limit so the cached
	// entry serves later, larger queries too.
	reports, err := s.primary.ListReports(ctx, symbol, 0)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(reports); err == nil {
		s.rdb.Set(ctx, reportsKey(symbol), data, s.ttl)
	}
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

func (s *CachedStore) CandlesBySymbol(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	data, err := s.rdb.Get(ctx, candlesKey(symbol)).Bytes()
	if err == nil {
		var candles []model.Candle
		if json.Unmarshal(data, &candles) == nil {
			if limit > 0 && len(candles) > limit {
				candles = candles[len(candles)-limit:]
			}
			return candles, nil
		}
	}

	candles, err := s.primary.CandlesBySymbol(ctx, symbol, 0)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(candles); err == nil {
		s.rdb.Set(ctx, candlesKey(symbol), data, s.ttl)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// --- Cache keys ---

func reportsKey(symbol string) string {
	if symbol == "" {
		return "reports:all"
	}
	return fmt.Sprintf("reports:%s", symbol)
}

func candlesKey(symbol string) string { return fmt.Sprintf("candles:%s", symbol) }
