package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// SnapshotRepository handles portfolio and position snapshot storage.
// Snapshots are appended once a run's trades all reach terminal state.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// CreateWithPositions writes a portfolio snapshot and its position
// breakdown in one transaction
func (r *SnapshotRepository) CreateWithPositions(ctx context.Context, snapshot *models.PortfolioSnapshot, positions []*models.PositionSnapshot) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, cycleerr.NewPersistenceFailure("begin snapshot transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	snapshotQuery := `
		INSERT INTO portfolio_snapshots (
			strategy_run_id, timestamp, total_value_usd,
			market_value_usd, asset_value_usd, hedge_value_usd, pnl_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var snapshotID int64
	err = tx.QueryRow(ctx, snapshotQuery,
		snapshot.RunID,
		snapshot.Timestamp,
		snapshot.TotalValueUSD,
		snapshot.MarketValueUSD,
		snapshot.AssetValueUSD,
		snapshot.HedgeValueUSD,
		snapshot.PnlUSD,
	).Scan(&snapshotID)
	if err != nil {
		return 0, cycleerr.NewPersistenceFailure("insert portfolio snapshot", err)
	}

	positionQuery := `
		INSERT INTO position_snapshots (
			portfolio_snapshot_id, position_type, market_id, token_id,
			instrument_id, symbol, size, usd_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, position := range positions {
		position.SnapshotID = snapshotID
		_, err := tx.Exec(ctx, positionQuery,
			snapshotID,
			position.PositionType,
			position.MarketID,
			position.TokenID,
			position.InstrumentID,
			position.Symbol,
			position.Size,
			position.USDValue,
		)
		if err != nil {
			return 0, cycleerr.NewPersistenceFailure("insert position snapshot", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, cycleerr.NewPersistenceFailure("commit snapshot transaction", err)
	}

	snapshot.ID = snapshotID
	return snapshotID, nil
}

// Latest returns the most recent portfolio snapshot, or nil when none
// exists
func (r *SnapshotRepository) Latest(ctx context.Context) (*models.PortfolioSnapshot, error) {
	query := `
		SELECT id, strategy_run_id, timestamp, total_value_usd,
			market_value_usd, asset_value_usd, hedge_value_usd, pnl_usd
		FROM portfolio_snapshots
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	return r.scanSnapshot(r.pool.QueryRow(ctx, query))
}

// ForRun returns the snapshot recorded for a run, or nil when the run has
// not settled
func (r *SnapshotRepository) ForRun(ctx context.Context, runID int64) (*models.PortfolioSnapshot, error) {
	query := `
		SELECT id, strategy_run_id, timestamp, total_value_usd,
			market_value_usd, asset_value_usd, hedge_value_usd, pnl_usd
		FROM portfolio_snapshots
		WHERE strategy_run_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	return r.scanSnapshot(r.pool.QueryRow(ctx, query, runID))
}

// PositionsForSnapshot returns the position breakdown of a snapshot.
// This is the "holdings as of run N" lookup that seeds the next cycle.
func (r *SnapshotRepository) PositionsForSnapshot(ctx context.Context, snapshotID int64) ([]*models.PositionSnapshot, error) {
	query := `
		SELECT id, portfolio_snapshot_id, position_type, market_id, token_id,
			instrument_id, symbol, size, usd_value
		FROM position_snapshots
		WHERE portfolio_snapshot_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for snapshot %d: %w", snapshotID, err)
	}
	defer rows.Close()

	var positions []*models.PositionSnapshot
	for rows.Next() {
		var position models.PositionSnapshot
		err := rows.Scan(
			&position.ID,
			&position.SnapshotID,
			&position.PositionType,
			&position.MarketID,
			&position.TokenID,
			&position.InstrumentID,
			&position.Symbol,
			&position.Size,
			&position.USDValue,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, &position)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

func (r *SnapshotRepository) scanSnapshot(row pgx.Row) (*models.PortfolioSnapshot, error) {
	var snapshot models.PortfolioSnapshot
	err := row.Scan(
		&snapshot.ID,
		&snapshot.RunID,
		&snapshot.Timestamp,
		&snapshot.TotalValueUSD,
		&snapshot.MarketValueUSD,
		&snapshot.AssetValueUSD,
		&snapshot.HedgeValueUSD,
		&snapshot.PnlUSD,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return &snapshot, nil
}
