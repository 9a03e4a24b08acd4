package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertReport(ctx context.Context, r *model.OrderReport) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO order_reports
		   (id, client_order_id, exchange_order_id, symbol, side, order_type, status,
		    quantity, price, filled_quantity, filled_price, fee, error_msg, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
		         $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13, $14)`,
		r.ID, r.ClientOrderID, r.ExchangeOrderID, r.Symbol, string(r.Side), string(r.OrderType), string(r.Status),
		r.Quantity.String(), r.Price.String(), r.FilledQuantity.String(), r.FilledPrice.String(), r.Fee.String(),
		r.ErrorMsg, r.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListReports(ctx context.Context, symbol string, limit int) ([]model.OrderReport, error) {
	query := `SELECT id, client_order_id, exchange_order_id, symbol, side, order_type, status,
	                 quantity::TEXT, price::TEXT, filled_quantity::TEXT, filled_price::TEXT, fee::TEXT,
	                 error_msg, timestamp
	          FROM order_reports`
	args := []interface{}{}
	if symbol != "" {
		query += ` WHERE symbol = $1`
		args = append(args, symbol)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.OrderReport
	for rows.Next() {
		var r model.OrderReport
		var side, orderType, status string
		var qtyS, priceS, filledQtyS, filledPriceS, feeS string

		if err := rows.Scan(&r.ID, &r.ClientOrderID, &r.ExchangeOrderID, &r.Symbol,
			&side, &orderType, &status,
			&qtyS, &priceS, &filledQtyS, &filledPriceS, &feeS,
			&r.ErrorMsg, &r.Timestamp); err != nil {
			return nil, err
		}

		r.Side = model.Side(side)
		r.OrderType = model.OrderType(orderType)
		r.Status = model.ReportStatus(status)
		r.Quantity, _ = decimal.NewFromString(qtyS)
		r.Price, _ = decimal.NewFromString(priceS)
		r.FilledQuantity, _ = decimal.NewFromString(filledQtyS)
		r.FilledPrice, _ = decimal.NewFromString(filledPriceS)
		r.Fee, _ = decimal.NewFromString(feeS)

		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) UpsertCandle(ctx context.Context, c *model.Candle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO candles (symbol, open_time, open, high, low, close, tick_count)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (symbol, open_time) DO UPDATE
		 SET open = EXCLUDED.open, high = EXCLUDED.high,
		     low = EXCLUDED.low, close = EXCLUDED.close,
		     tick_count = EXCLUDED.tick_count`,
		c.Symbol, c.OpenTime,
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
		c.TickCount,
	)
	return err
}

func (s *PostgresStore) CandlesBySymbol(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	query := `SELECT symbol, open_time, open::TEXT, high::TEXT, low::TEXT, close::TEXT, tick_count
	          FROM candles WHERE symbol = $1 ORDER BY open_time DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var openS, highS, lowS, closeS string
		if err := rows.Scan(&c.Symbol, &c.OpenTime,
			&openS, &highS, &lowS, &closeS, &c.TickCount); err != nil {
			return nil, err
		}
		c.Open, _ = decimal.NewFromString(openS)
		c.High, _ = decimal.NewFromString(highS)
		c.Low, _ = decimal.NewFromString(lowS)
		c.Close, _ = decimal.NewFromString(closeS)
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first for the LIMIT; callers get oldest first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}
