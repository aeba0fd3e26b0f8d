package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/redis/go-redis/v9"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/observation"
)

// Default TTL for cached earliest-after lookups. One cycle re-polls the
// same reference instant while waiting for slow sources, so hits are
// common within a cycle and worthless across cycles.
const observationCacheTTL = 30 * time.Second

// ObservationRepository reads the append-only observation time series from
// ClickHouse, with an optional Redis read-through cache. It implements
// observation.Source. Writes are owned by ingestion collaborators.
type ObservationRepository struct {
	conn  driver.Conn
	cache *RedisCache
}

// NewObservationRepository creates a new observation repository. Pass a nil
// cache to read ClickHouse directly.
func NewObservationRepository(conn driver.Conn, cache *RedisCache) *ObservationRepository {
	return &ObservationRepository{conn: conn, cache: cache}
}

// LatestOrAfter returns the earliest observation for the entity with
// timestamp strictly greater than ts, or observation.ErrNotYetAvailable
func (r *ObservationRepository) LatestOrAfter(ctx context.Context, entity observation.EntityRef, ts time.Time) (*observation.Observation, error) {
	cacheKey := fmt.Sprintf("obs:%s:%d", entity.String(), ts.UnixNano())

	if cached, ok := r.cacheGet(ctx, cacheKey); ok {
		return cached, nil
	}

	var obs *observation.Observation
	var err error
	switch entity.Kind {
	case observation.KindAssetToken:
		obs, err = r.tokenPriceAfter(ctx, entity, ts)
	case observation.KindPoolMarket:
		obs, err = r.marketStateAfter(ctx, entity, ts)
	case observation.KindHedgeInstrument:
		obs, err = r.perpStateAfter(ctx, entity, ts)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", entity.Kind)
	}
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, cacheKey, obs)
	return obs, nil
}

func (r *ObservationRepository) tokenPriceAfter(ctx context.Context, entity observation.EntityRef, ts time.Time) (*observation.Observation, error) {
	query := `
		SELECT token_id, timestamp, min_price, max_price, mid_price
		FROM token_prices
		WHERE token_id = ? AND timestamp > ?
		ORDER BY timestamp ASC
		LIMIT 1
	`

	var price models.TokenPrice
	row := r.conn.QueryRow(ctx, query, entity.ID, ts)
	err := row.Scan(&price.TokenID, &price.Timestamp, &price.MinPrice, &price.MaxPrice, &price.MidPrice)
	if err != nil {
		if isNoRows(err) {
			return nil, observation.ErrNotYetAvailable
		}
		return nil, fmt.Errorf("failed to query token price after %s: %w", ts, err)
	}

	return &observation.Observation{
		Entity:     entity,
		Timestamp:  price.Timestamp,
		TokenPrice: &price,
	}, nil
}

func (r *ObservationRepository) marketStateAfter(ctx context.Context, entity observation.EntityRef, ts time.Time) (*observation.Observation, error) {
	query := marketStateColumns + `
		WHERE market_id = ? AND timestamp > ?
		ORDER BY timestamp ASC
		LIMIT 1
	`

	row := r.conn.QueryRow(ctx, query, entity.ID, ts)
	state, err := scanMarketState(row)
	if err != nil {
		if isNoRows(err) {
			return nil, observation.ErrNotYetAvailable
		}
		return nil, fmt.Errorf("failed to query market state after %s: %w", ts, err)
	}

	return &observation.Observation{
		Entity:      entity,
		Timestamp:   state.Timestamp,
		MarketState: state,
	}, nil
}

func (r *ObservationRepository) perpStateAfter(ctx context.Context, entity observation.EntityRef, ts time.Time) (*observation.Observation, error) {
	query := `
		SELECT instrument_id, timestamp, funding_rate, initial_margin_fraction,
			maintenance_margin_fraction, oracle_price, open_interest
		FROM perp_states
		WHERE instrument_id = ? AND timestamp > ?
		ORDER BY timestamp ASC
		LIMIT 1
	`

	var state models.PerpState
	row := r.conn.QueryRow(ctx, query, entity.ID, ts)
	err := row.Scan(
		&state.InstrumentID,
		&state.Timestamp,
		&state.FundingRate,
		&state.InitialMarginFraction,
		&state.MaintenanceMarginFraction,
		&state.OraclePrice,
		&state.OpenInterest,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, observation.ErrNotYetAvailable
		}
		return nil, fmt.Errorf("failed to query perp state after %s: %w", ts, err)
	}

	return &observation.Observation{
		Entity:    entity,
		Timestamp: state.Timestamp,
		PerpState: &state,
	}, nil
}

// TokenPriceHistory returns price observations in (from, to] ascending
func (r *ObservationRepository) TokenPriceHistory(ctx context.Context, tokenID int64, from, to time.Time) ([]*models.TokenPrice, error) {
	query := `
		SELECT token_id, timestamp, min_price, max_price, mid_price
		FROM token_prices
		WHERE token_id = ? AND timestamp > ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.conn.Query(ctx, query, tokenID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query token price history: %w", err)
	}
	defer rows.Close()

	var prices []*models.TokenPrice
	for rows.Next() {
		var price models.TokenPrice
		err := rows.Scan(&price.TokenID, &price.Timestamp, &price.MinPrice, &price.MaxPrice, &price.MidPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token price row: %w", err)
		}
		prices = append(prices, &price)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token price rows: %w", err)
	}
	return prices, nil
}

// MarketStateHistory returns market state observations in (from, to]
// ascending
func (r *ObservationRepository) MarketStateHistory(ctx context.Context, marketID int64, from, to time.Time) ([]*models.MarketState, error) {
	query := marketStateColumns + `
		WHERE market_id = ? AND timestamp > ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.conn.Query(ctx, query, marketID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query market state history: %w", err)
	}
	defer rows.Close()

	var states []*models.MarketState
	for rows.Next() {
		state, err := scanMarketState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market state row: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market state rows: %w", err)
	}
	return states, nil
}

const marketStateColumns = `
	SELECT market_id, timestamp, borrowing_factor_long, borrowing_factor_short,
		pnl_long, pnl_short, pnl_net,
		pool_price_min, pool_price_max, pool_price_mid,
		pool_long_amount, pool_short_amount, pool_long_usd, pool_short_usd,
		open_interest_long, open_interest_short,
		open_interest_long_via_tokens, open_interest_short_via_tokens,
		utilization, swap_volume, trading_volume,
		fees_position, fees_liquidation, fees_swap, fees_borrowing, fees_total
	FROM market_states
`

// scanner covers both driver.Row and driver.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMarketState(row scanner) (*models.MarketState, error) {
	var s models.MarketState
	err := row.Scan(
		&s.MarketID,
		&s.Timestamp,
		&s.BorrowingFactorLong,
		&s.BorrowingFactorShort,
		&s.PnlLong,
		&s.PnlShort,
		&s.PnlNet,
		&s.PoolPriceMin,
		&s.PoolPriceMax,
		&s.PoolPriceMid,
		&s.PoolLongAmount,
		&s.PoolShortAmount,
		&s.PoolLongUSD,
		&s.PoolShortUSD,
		&s.OpenInterestLong,
		&s.OpenInterestShort,
		&s.OpenInterestLongViaTokens,
		&s.OpenInterestShortViaTokens,
		&s.Utilization,
		&s.SwapVolume,
		&s.TradingVolume,
		&s.FeesPosition,
		&s.FeesLiquidation,
		&s.FeesSwap,
		&s.FeesBorrowing,
		&s.FeesTotal,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// cacheGet returns a cached observation for the key, if present and valid
func (r *ObservationRepository) cacheGet(ctx context.Context, key string) (*observation.Observation, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if err != redis.Nil {
			// Cache trouble never fails a read; fall through to ClickHouse
			return nil, false
		}
		return nil, false
	}

	var obs observation.Observation
	if err := json.Unmarshal([]byte(raw), &obs); err != nil {
		return nil, false
	}
	return &obs, true
}

func (r *ObservationRepository) cacheSet(ctx context.Context, key string, obs *observation.Observation) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(obs)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, key, string(raw), observationCacheTTL) // nolint:errcheck // best-effort cache
}
