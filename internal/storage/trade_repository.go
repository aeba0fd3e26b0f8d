package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// TradeRepository handles the append-only trade audit trail. Inserts and
// status transitions happen individually as execution progresses.
type TradeRepository struct {
	pool *pgxpool.Pool
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(pool *pgxpool.Pool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

// Insert appends a trade and returns its id
func (r *TradeRepository) Insert(ctx context.Context, trade *models.Trade) (int64, error) {
	query := `
		INSERT INTO trades (
			timestamp, strategy_run_id, market_id, action_type,
			amount_in, amount_out, usd_value, fee_usd,
			tx_ref, status, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		trade.Timestamp,
		trade.RunID,
		trade.MarketID,
		trade.ActionType,
		trade.AmountIn,
		trade.AmountOut,
		trade.USDValue,
		trade.FeeUSD,
		trade.TxRef,
		trade.Status,
		trade.Details,
	).Scan(&id)
	if err != nil {
		return 0, cycleerr.NewPersistenceFailure("insert trade", err)
	}

	trade.ID = id
	return id, nil
}

// UpdateStatus transitions a trade's status. Status is the only mutable
// field of the audit record; confirming also records the transaction
// reference and realized amount out. Illegal transitions are rejected at
// the database by the current-status guard.
func (r *TradeRepository) UpdateStatus(ctx context.Context, tradeID int64, from, to models.TradeStatus, txRef *string, amountOut *string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal trade status transition %s -> %s", from, to)
	}
	if to == models.TradeConfirmed && (txRef == nil || *txRef == "") {
		return fmt.Errorf("confirmed trade requires a transaction reference")
	}

	query := `
		UPDATE trades
		SET status = $1,
			tx_ref = COALESCE($2, tx_ref),
			amount_out = COALESCE($3::numeric, amount_out)
		WHERE id = $4 AND status = $5
	`

	tag, err := r.pool.Exec(ctx, query, to, txRef, amountOut, tradeID, from)
	if err != nil {
		return cycleerr.NewPersistenceFailure("update trade status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %d not in status %s, transition to %s refused", tradeID, from, to)
	}
	return nil
}

// TradesForRun returns all trades recorded for a run, oldest first
func (r *TradeRepository) TradesForRun(ctx context.Context, runID int64) ([]*models.Trade, error) {
	query := `
		SELECT id, timestamp, strategy_run_id, market_id, action_type,
			amount_in, amount_out, usd_value, fee_usd, tx_ref, status, details
		FROM trades
		WHERE strategy_run_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for run %d: %w", runID, err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var trade models.Trade
		err := rows.Scan(
			&trade.ID,
			&trade.Timestamp,
			&trade.RunID,
			&trade.MarketID,
			&trade.ActionType,
			&trade.AmountIn,
			&trade.AmountOut,
			&trade.USDValue,
			&trade.FeeUSD,
			&trade.TxRef,
			&trade.Status,
			&trade.Details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, &trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}
