package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenPrice is one append-only price observation for a token.
// Observations are monotonic per token and never rewritten.
type TokenPrice struct {
	ID        int64           `json:"id" db:"id"`
	TokenID   int64           `json:"tokenId" db:"token_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	MinPrice  decimal.Decimal `json:"minPrice" db:"min_price"`
	MaxPrice  decimal.Decimal `json:"maxPrice" db:"max_price"`
	MidPrice  decimal.Decimal `json:"midPrice" db:"mid_price"`
}

// MarketState is one append-only observation of a pool market
type MarketState struct {
	ID                        int64           `json:"id" db:"id"`
	MarketID                  int64           `json:"marketId" db:"market_id"`
	Timestamp                 time.Time       `json:"timestamp" db:"timestamp"`
	BorrowingFactorLong       decimal.Decimal `json:"borrowingFactorLong" db:"borrowing_factor_long"`
	BorrowingFactorShort      decimal.Decimal `json:"borrowingFactorShort" db:"borrowing_factor_short"`
	PnlLong                   decimal.Decimal `json:"pnlLong" db:"pnl_long"`
	PnlShort                  decimal.Decimal `json:"pnlShort" db:"pnl_short"`
	PnlNet                    decimal.Decimal `json:"pnlNet" db:"pnl_net"`
	PoolPriceMin              decimal.Decimal `json:"poolPriceMin" db:"pool_price_min"`
	PoolPriceMax              decimal.Decimal `json:"poolPriceMax" db:"pool_price_max"`
	PoolPriceMid              decimal.Decimal `json:"poolPriceMid" db:"pool_price_mid"`
	PoolLongAmount            decimal.Decimal `json:"poolLongAmount" db:"pool_long_amount"`
	PoolShortAmount           decimal.Decimal `json:"poolShortAmount" db:"pool_short_amount"`
	PoolLongUSD               decimal.Decimal `json:"poolLongUsd" db:"pool_long_usd"`
	PoolShortUSD              decimal.Decimal `json:"poolShortUsd" db:"pool_short_usd"`
	OpenInterestLong          decimal.Decimal `json:"openInterestLong" db:"open_interest_long"`
	OpenInterestShort         decimal.Decimal `json:"openInterestShort" db:"open_interest_short"`
	OpenInterestLongViaTokens decimal.Decimal `json:"openInterestLongViaTokens" db:"open_interest_long_via_tokens"`
	OpenInterestShortViaTokens decimal.Decimal `json:"openInterestShortViaTokens" db:"open_interest_short_via_tokens"`
	Utilization               decimal.Decimal `json:"utilization" db:"utilization"`
	SwapVolume                decimal.Decimal `json:"swapVolume" db:"swap_volume"`
	TradingVolume             decimal.Decimal `json:"tradingVolume" db:"trading_volume"`
	FeesPosition              decimal.Decimal `json:"feesPosition" db:"fees_position"`
	FeesLiquidation           decimal.Decimal `json:"feesLiquidation" db:"fees_liquidation"`
	FeesSwap                  decimal.Decimal `json:"feesSwap" db:"fees_swap"`
	FeesBorrowing             decimal.Decimal `json:"feesBorrowing" db:"fees_borrowing"`
	FeesTotal                 decimal.Decimal `json:"feesTotal" db:"fees_total"`
}

// PoolValueUSD returns the observed pool value backing LP deposits
func (s *MarketState) PoolValueUSD() decimal.Decimal {
	return s.PoolLongUSD.Add(s.PoolShortUSD)
}

// PerpState is one append-only observation of the hedge instrument
type PerpState struct {
	ID                        int64           `json:"id" db:"id"`
	InstrumentID              int64           `json:"instrumentId" db:"instrument_id"`
	Timestamp                 time.Time       `json:"timestamp" db:"timestamp"`
	FundingRate               decimal.Decimal `json:"fundingRate" db:"funding_rate"`
	InitialMarginFraction     decimal.Decimal `json:"initialMarginFraction" db:"initial_margin_fraction"`
	MaintenanceMarginFraction decimal.Decimal `json:"maintenanceMarginFraction" db:"maintenance_margin_fraction"`
	OraclePrice               decimal.Decimal `json:"oraclePrice" db:"oracle_price"`
	OpenInterest              decimal.Decimal `json:"openInterest" db:"open_interest"`
}
