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

// RunRepository handles strategy run and target persistence
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// CreateRunWithTargets writes a run and all its targets as a single atomic
// unit. Either everything commits or nothing does. Returns the run id and
// fills target RunIDs.
func (r *RunRepository) CreateRunWithTargets(ctx context.Context, run *models.StrategyRun, targets []*models.StrategyTarget) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, cycleerr.NewPersistenceFailure("begin run transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	runQuery := `
		INSERT INTO strategy_runs (
			timestamp, strategy_version, total_weight,
			expected_return_bps, volatility_bps, sharpe
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var runID int64
	err = tx.QueryRow(ctx, runQuery,
		run.Timestamp,
		run.StrategyVersion,
		run.TotalWeight,
		run.ExpectedReturnBps,
		run.VolatilityBps,
		run.Sharpe,
	).Scan(&runID)
	if err != nil {
		return 0, cycleerr.NewPersistenceFailure("insert strategy run", err)
	}

	targetQuery := `
		INSERT INTO strategy_targets (
			strategy_run_id, market_id, target_weight,
			expected_return_bps, variance_bps
		) VALUES ($1, $2, $3, $4, $5)
	`

	for _, target := range targets {
		target.RunID = runID
		_, err := tx.Exec(ctx, targetQuery,
			runID,
			target.MarketID,
			target.TargetWeight,
			target.ExpectedReturnBps,
			target.VarianceBps,
		)
		if err != nil {
			return 0, cycleerr.NewPersistenceFailure("insert strategy target", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, cycleerr.NewPersistenceFailure("commit run transaction", err)
	}

	run.ID = runID
	return runID, nil
}

// LatestRun returns the most recent strategy run, or nil when none exists
func (r *RunRepository) LatestRun(ctx context.Context) (*models.StrategyRun, error) {
	query := `
		SELECT id, timestamp, strategy_version, total_weight,
			expected_return_bps, volatility_bps, sharpe
		FROM strategy_runs
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	var run models.StrategyRun
	err := r.pool.QueryRow(ctx, query).Scan(
		&run.ID,
		&run.Timestamp,
		&run.StrategyVersion,
		&run.TotalWeight,
		&run.ExpectedReturnBps,
		&run.VolatilityBps,
		&run.Sharpe,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return &run, nil
}

// TargetsForRun returns the targets of a run ordered by market id
func (r *RunRepository) TargetsForRun(ctx context.Context, runID int64) ([]*models.StrategyTarget, error) {
	query := `
		SELECT id, strategy_run_id, market_id, target_weight,
			expected_return_bps, variance_bps
		FROM strategy_targets
		WHERE strategy_run_id = $1
		ORDER BY market_id
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets for run %d: %w", runID, err)
	}
	defer rows.Close()

	var targets []*models.StrategyTarget
	for rows.Next() {
		var target models.StrategyTarget
		err := rows.Scan(
			&target.ID,
			&target.RunID,
			&target.MarketID,
			&target.TargetWeight,
			&target.ExpectedReturnBps,
			&target.VarianceBps,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		targets = append(targets, &target)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating target rows: %w", err)
	}
	return targets, nil
}

// DeleteRun removes a run. Targets cascade; trades keep their audit rows
// with the run reference nulled (FK actions in the schema).
func (r *RunRepository) DeleteRun(ctx context.Context, runID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM strategy_runs WHERE id = $1`, runID)
	if err != nil {
		return cycleerr.NewPersistenceFailure("delete strategy run", err)
	}
	return nil
}
