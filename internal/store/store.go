// Package store defines the persistence interface for the paper
// engine's report journal and historical candle data. Implementations
// include PostgreSQL (source of truth), Redis (read-through cache), and
// in-memory (for testing and DB-less runs).
//
// The store is an observer, never an authority: the in-memory ledger is
// the only source of account state, and engine correctness does not
// depend on any Store call succeeding.
package store

import (
	"context"

	"github.com/quantfab/paper-engine/internal/model"
)

// Store is the persistence interface for execution history.
type Store interface {
	// --- Report journal (append-only) ---

	// InsertReport appends an immutable order report.
	InsertReport(ctx context.Context, report *model.OrderReport) error

	// ListReports returns the most recent reports, newest first,
	// optionally filtered by symbol (empty = all). limit <= 0 means
	// no limit.
	ListReports(ctx context.Context, symbol string, limit int) ([]model.OrderReport, error)

	// --- Candle history ---

	// UpsertCandle inserts or replaces one aggregated candle, keyed by
	// (symbol, open time).
	UpsertCandle(ctx context.Context, candle *model.Candle) error

	// CandlesBySymbol returns the most recent candles for a symbol,
	// oldest first. limit <= 0 means no limit.
	CandlesBySymbol(ctx context.Context, symbol string, limit int) ([]model.Candle, error)
}
