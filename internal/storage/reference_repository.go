package storage

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// ReferenceRepository handles immutable reference data: tokens, markets,
// and hedge instruments
type ReferenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(pool *pgxpool.Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

// UpsertToken inserts a token if its address is new and returns its id
func (r *ReferenceRepository) UpsertToken(ctx context.Context, token *models.Token) (int64, error) {
	query := `
		INSERT INTO tokens (address, symbol, decimals)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query, token.Address.Hex(), token.Symbol, token.Decimals).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert token %s: %w", token.Symbol, err)
	}
	return id, nil
}

// UpsertMarket inserts a market if its address is new and returns its id.
// The token triple is immutable identity and is never updated.
func (r *ReferenceRepository) UpsertMarket(ctx context.Context, market *models.Market) (int64, error) {
	query := `
		INSERT INTO markets (address, index_token_id, long_token_id, short_token_id, display_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		market.Address.Hex(),
		market.IndexTokenID,
		market.LongTokenID,
		market.ShortTokenID,
		market.DisplayName,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert market %s: %w", market.Address.Hex(), err)
	}
	return id, nil
}

// UpsertInstrument inserts a hedge instrument if its ticker is new and
// returns its id
func (r *ReferenceRepository) UpsertInstrument(ctx context.Context, instrument *models.HedgeInstrument) (int64, error) {
	query := `
		INSERT INTO hedge_instruments (ticker)
		VALUES ($1)
		ON CONFLICT (ticker) DO UPDATE SET ticker = EXCLUDED.ticker
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query, instrument.Ticker).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert instrument %s: %w", instrument.Ticker, err)
	}
	return id, nil
}

// ListTokens returns all tokens ordered by id
func (r *ReferenceRepository) ListTokens(ctx context.Context) ([]*models.Token, error) {
	query := `SELECT id, address, symbol, decimals FROM tokens ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.Token
	for rows.Next() {
		var token models.Token
		var address string
		if err := rows.Scan(&token.ID, &address, &token.Symbol, &token.Decimals); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		token.Address = common.HexToAddress(address)
		tokens = append(tokens, &token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token rows: %w", err)
	}
	return tokens, nil
}

// ListMarkets returns all markets ordered by id
func (r *ReferenceRepository) ListMarkets(ctx context.Context) ([]*models.Market, error) {
	query := `
		SELECT id, address, index_token_id, long_token_id, short_token_id, display_name
		FROM markets
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var markets []*models.Market
	for rows.Next() {
		var market models.Market
		var address string
		err := rows.Scan(
			&market.ID,
			&address,
			&market.IndexTokenID,
			&market.LongTokenID,
			&market.ShortTokenID,
			&market.DisplayName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market row: %w", err)
		}
		market.Address = common.HexToAddress(address)
		markets = append(markets, &market)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market rows: %w", err)
	}
	return markets, nil
}

// ListInstruments returns all hedge instruments ordered by id
func (r *ReferenceRepository) ListInstruments(ctx context.Context) ([]*models.HedgeInstrument, error) {
	query := `SELECT id, ticker FROM hedge_instruments ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []*models.HedgeInstrument
	for rows.Next() {
		var instrument models.HedgeInstrument
		if err := rows.Scan(&instrument.ID, &instrument.Ticker); err != nil {
			return nil, fmt.Errorf("failed to scan instrument row: %w", err)
		}
		instruments = append(instruments, &instrument)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instrument rows: %w", err)
	}
	return instruments, nil
}
