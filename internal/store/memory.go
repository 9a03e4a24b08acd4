package store

import (
	"context"
	"sort"
	"sync"

	"github.com/quantfab/paper-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices and maps. Used for
// testing and DB-less development runs. Not suitable for production
// history retention (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	reports []model.OrderReport
	candles map[string][]model.Candle // symbol -> candles, open-time order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make(map[string][]model.Candle),
	}
}

func (s *MemoryStore) InsertReport(_ context.Context, report *model.OrderReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, *report)
	return nil
}

func (s *MemoryStore) ListReports(_ context.Context, symbol string, limit int) ([]model.OrderReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first.
	var result []model.OrderReport
	for i := len(s.reports) - 1; i >= 0; i-- {
		r := s.reports[i]
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		result = append(result, r)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertCandle(_ context.Context, candle *model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candles := s.candles[candle.Symbol]
	for i, c := range candles {
		if c.OpenTime.Equal(candle.OpenTime) {
			candles[i] = *candle
			return nil
		}
	}
	candles = append(candles, *candle)
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	s.candles[candle.Symbol] = candles
	return nil
}

func (s *MemoryStore) CandlesBySymbol(_ context.Context, symbol string, limit int) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candles := s.candles[symbol]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]model.Candle, len(candles))
	copy(out, candles)
	return out, nil
}
