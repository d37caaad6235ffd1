package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const itemColumns = `symbol, base_price::TEXT, min_price::TEXT, max_price::TEXT,
	        current_price::TEXT, demand, supply, last_demand, last_supply,
	        enabled, created_at`

func scanItem(row pgx.Row) (*model.MarketItem, error) {
	var it model.MarketItem
	var base, min, max, cur string

	err := row.Scan(&it.Symbol, &base, &min, &max, &cur,
		&it.Demand, &it.Supply, &it.LastDemand, &it.LastSupply,
		&it.Enabled, &it.CreatedAt)
	if err != nil {
		return nil, err
	}

	it.BasePrice, _ = decimal.NewFromString(base)
	it.MinPrice, _ = decimal.NewFromString(min)
	it.MaxPrice, _ = decimal.NewFromString(max)
	it.CurrentPrice, _ = decimal.NewFromString(cur)
	return &it, nil
}

func (s *PostgresStore) CreateItem(ctx context.Context, it *model.MarketItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_items (symbol, base_price, min_price, max_price, current_price,
		                           demand, supply, last_demand, last_supply, enabled, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10, $11)`,
		it.Symbol,
		it.BasePrice.String(), it.MinPrice.String(), it.MaxPrice.String(), it.CurrentPrice.String(),
		it.Demand, it.Supply, it.LastDemand, it.LastSupply,
		it.Enabled, it.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetItem(ctx context.Context, symbol string) (*model.MarketItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM market_items WHERE symbol = $1`, symbol)

	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", symbol, err)
	}
	return it, nil
}

// GetItemFresh is identical to GetItem: this store is the source of
// truth, there is no cache to bypass.
func (s *PostgresStore) GetItemFresh(ctx context.Context, symbol string) (*model.MarketItem, error) {
	return s.GetItem(ctx, symbol)
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]model.MarketItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM market_items ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.MarketItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SetItemEnabled(ctx context.Context, symbol string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_items SET enabled = $2 WHERE symbol = $1`, symbol, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) RecordActivity(ctx context.Context, symbol string, demandDelta, supplyDelta int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_items SET demand = demand + $2, supply = supply + $3 WHERE symbol = $1`,
		symbol, demandDelta, supplyDelta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}
	return nil
}

// CommitTick applies the price write, history append/eviction, and
// accumulator rollover in a single transaction so a tick is never
// half-applied for an item. The accumulators are decremented by the
// priced amounts, not zeroed, so increments that land between the
// engine's read and this commit survive to the next tick.
func (s *PostgresStore) CommitTick(ctx context.Context, symbol string, price decimal.Decimal, at time.Time, retention int, demand, supply int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit tick %s: %w", symbol, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE market_items
		 SET current_price = $2::NUMERIC,
		     last_demand = CASE WHEN $3 <> 0 OR $4 <> 0 THEN $3 ELSE last_demand END,
		     last_supply = CASE WHEN $3 <> 0 OR $4 <> 0 THEN $4 ELSE last_supply END,
		     demand = demand - $3, supply = supply - $4
		 WHERE symbol = $1`,
		symbol, price.String(), demand, supply)
	if err != nil {
		return fmt.Errorf("commit tick %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO price_points (symbol, ts, price) VALUES ($1, $2, $3::NUMERIC)`,
		symbol, at, price.String()); err != nil {
		return fmt.Errorf("commit tick %s: %w", symbol, err)
	}

	if retention > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM price_points
			 WHERE symbol = $1 AND id NOT IN (
			     SELECT id FROM price_points WHERE symbol = $1 ORDER BY ts DESC LIMIT $2
			 )`,
			symbol, retention); err != nil {
			return fmt.Errorf("commit tick %s: %w", symbol, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetHistory(ctx context.Context, symbol string, limit int) ([]model.PricePoint, error) {
	query := `SELECT ts, price::TEXT FROM (
	              SELECT id, ts, price FROM price_points WHERE symbol = $1 ORDER BY ts DESC LIMIT $2
	          ) recent ORDER BY ts ASC`
	args := []any{symbol, limit}
	if limit <= 0 {
		query = `SELECT ts, price::TEXT FROM price_points WHERE symbol = $1 ORDER BY ts ASC`
		args = []any{symbol}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var priceS string
		if err := rows.Scan(&p.Timestamp, &priceS); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(priceS)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) GetHolding(ctx context.Context, owner, symbol string) (*model.Holding, error) {
	var h model.Holding
	var avgS string

	err := s.pool.QueryRow(ctx,
		`SELECT owner, symbol, quantity, avg_cost::TEXT
		 FROM holdings WHERE owner = $1 AND symbol = $2`, owner, symbol).
		Scan(&h.Owner, &h.Symbol, &h.Quantity, &avgS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("holding %s/%s: %w", owner, symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", owner, symbol, err)
	}

	h.AvgCost, _ = decimal.NewFromString(avgS)
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, owner string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner, symbol, quantity, avg_cost::TEXT
		 FROM holdings WHERE owner = $1 ORDER BY symbol`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var avgS string
		if err := rows.Scan(&h.Owner, &h.Symbol, &h.Quantity, &avgS); err != nil {
			return nil, err
		}
		h.AvgCost, _ = decimal.NewFromString(avgS)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// ListHoldingsFresh is identical to ListHoldings: this store is the
// source of truth, there is no cache to bypass.
func (s *PostgresStore) ListHoldingsFresh(ctx context.Context, owner string) ([]model.Holding, error) {
	return s.ListHoldings(ctx, owner)
}

func (s *PostgresStore) PutHolding(ctx context.Context, h *model.Holding) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (owner, symbol, quantity, avg_cost)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (owner, symbol)
		 DO UPDATE SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost`,
		h.Owner, h.Symbol, h.Quantity, h.AvgCost.String())
	return err
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, owner, symbol string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM holdings WHERE owner = $1 AND symbol = $2`, owner, symbol)
	return err
}

func (s *PostgresStore) AppendReceipt(ctx context.Context, r *model.TradeReceipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_receipts (id, owner, symbol, kind, amount, unit_price, total, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		r.ID, r.Owner, r.Symbol, r.Kind, r.Amount,
		r.UnitPrice.String(), r.Total.String(), r.Timestamp)
	return err
}

func (s *PostgresStore) ListReceiptsByOwner(ctx context.Context, owner string) ([]model.TradeReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, symbol, kind, amount, unit_price::TEXT, total::TEXT, timestamp
		 FROM trade_receipts WHERE owner = $1 ORDER BY timestamp`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []model.TradeReceipt
	for rows.Next() {
		var r model.TradeReceipt
		var unitS, totalS string
		if err := rows.Scan(&r.ID, &r.Owner, &r.Symbol, &r.Kind, &r.Amount,
			&unitS, &totalS, &r.Timestamp); err != nil {
			return nil, err
		}
		r.UnitPrice, _ = decimal.NewFromString(unitS)
		r.Total, _ = decimal.NewFromString(totalS)
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
