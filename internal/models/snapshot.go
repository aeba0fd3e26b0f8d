package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a point-in-time valuation of total holdings,
// recorded once a run's trades all settle
type PortfolioSnapshot struct {
	ID             int64           `json:"id" db:"id"`
	RunID          *int64          `json:"runId,omitempty" db:"strategy_run_id"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	TotalValueUSD  decimal.Decimal `json:"totalValueUsd" db:"total_value_usd"`
	MarketValueUSD decimal.Decimal `json:"marketValueUsd" db:"market_value_usd"`
	AssetValueUSD  decimal.Decimal `json:"assetValueUsd" db:"asset_value_usd"`
	HedgeValueUSD  decimal.Decimal `json:"hedgeValueUsd" db:"hedge_value_usd"`
	PnlUSD         decimal.Decimal `json:"pnlUsd" db:"pnl_usd"`
}

// PositionType identifies what a position snapshot holds
type PositionType string

const (
	PositionPool  PositionType = "pool"
	PositionAsset PositionType = "asset"
	PositionHedge PositionType = "hedge"
)

// PositionSnapshot is the per-position breakdown of a portfolio snapshot
type PositionSnapshot struct {
	ID           int64           `json:"id" db:"id"`
	SnapshotID   int64           `json:"snapshotId" db:"portfolio_snapshot_id"`
	PositionType PositionType    `json:"positionType" db:"position_type"`
	MarketID     *int64          `json:"marketId,omitempty" db:"market_id"`
	TokenID      *int64          `json:"tokenId,omitempty" db:"token_id"`
	InstrumentID *int64          `json:"instrumentId,omitempty" db:"instrument_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Size         decimal.Decimal `json:"size" db:"size"`
	USDValue     decimal.Decimal `json:"usdValue" db:"usd_value"`
}
