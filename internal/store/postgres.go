package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swapline/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Quantities are stored as NUMERIC for exact integer precision and
// scanned back as text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertPool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, asset_a, asset_b, fee_bps, reserve_a, reserve_b, share_supply, tracked, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
		 ON CONFLICT (id) DO UPDATE
		 SET reserve_a = EXCLUDED.reserve_a,
		     reserve_b = EXCLUDED.reserve_b,
		     share_supply = EXCLUDED.share_supply`,
		p.ID, p.AssetA, p.AssetB, p.FeeBps,
		p.ReserveA, p.ReserveB, p.ShareSupply,
		p.Tracked, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	err := s.pool.QueryRow(ctx,
		`SELECT id, asset_a, asset_b, fee_bps,
		        reserve_a::TEXT, reserve_b::TEXT, share_supply::TEXT,
		        tracked, created_at
		 FROM pools WHERE id = $1`, id).
		Scan(&p.ID, &p.AssetA, &p.AssetB, &p.FeeBps,
			&p.ReserveA, &p.ReserveB, &p.ShareSupply,
			&p.Tracked, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_a, asset_b, fee_bps,
		        reserve_a::TEXT, reserve_b::TEXT, share_supply::TEXT,
		        tracked, created_at
		 FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		if err := rows.Scan(&p.ID, &p.AssetA, &p.AssetB, &p.FeeBps,
			&p.ReserveA, &p.ReserveB, &p.ShareSupply,
			&p.Tracked, &p.CreatedAt); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *model.PoolEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_events (id, pool_id, kind, actor,
		        amount_a, amount_b, shares, asset_in, asset_out,
		        amount_in, amount_out, position_id, range_lower, range_upper, timestamp)
		 VALUES ($1, $2, $3, $4,
		        NULLIF($5, '')::NUMERIC, NULLIF($6, '')::NUMERIC, NULLIF($7, '')::NUMERIC, $8, $9,
		        NULLIF($10, '')::NUMERIC, NULLIF($11, '')::NUMERIC, $12, $13, $14, $15)`,
		ev.ID, ev.PoolID, ev.Kind, ev.Actor,
		ev.AmountA, ev.AmountB, ev.Shares, ev.AssetIn, ev.AssetOut,
		ev.AmountIn, ev.AmountOut, ev.PositionID, ev.RangeLower, ev.RangeUpper,
		ev.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetEventsByPool(ctx context.Context, poolID string) ([]model.PoolEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, kind, actor,
		        COALESCE(amount_a::TEXT, ''), COALESCE(amount_b::TEXT, ''), COALESCE(shares::TEXT, ''),
		        asset_in, asset_out,
		        COALESCE(amount_in::TEXT, ''), COALESCE(amount_out::TEXT, ''),
		        position_id, range_lower, range_upper, timestamp
		 FROM pool_events WHERE pool_id = $1 ORDER BY timestamp`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) GetEventsByActor(ctx context.Context, actor string) ([]model.PoolEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, kind, actor,
		        COALESCE(amount_a::TEXT, ''), COALESCE(amount_b::TEXT, ''), COALESCE(shares::TEXT, ''),
		        asset_in, asset_out,
		        COALESCE(amount_in::TEXT, ''), COALESCE(amount_out::TEXT, ''),
		        position_id, range_lower, range_upper, timestamp
		 FROM pool_events WHERE actor = $1 ORDER BY timestamp`, actor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents reads pgx rows into PoolEvent slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows pgxRows) ([]model.PoolEvent, error) {
	var events []model.PoolEvent
	for rows.Next() {
		var ev model.PoolEvent
		if err := rows.Scan(&ev.ID, &ev.PoolID, &ev.Kind, &ev.Actor,
			&ev.AmountA, &ev.AmountB, &ev.Shares,
			&ev.AssetIn, &ev.AssetOut,
			&ev.AmountIn, &ev.AmountOut,
			&ev.PositionID, &ev.RangeLower, &ev.RangeUpper, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
