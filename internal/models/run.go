package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyRun is one optimizer execution. Immutable once created;
// corrections require a new run.
type StrategyRun struct {
	ID                int64            `json:"id" db:"id"`
	Timestamp         time.Time        `json:"timestamp" db:"timestamp"`
	StrategyVersion   string           `json:"strategyVersion" db:"strategy_version"`
	TotalWeight       decimal.Decimal  `json:"totalWeight" db:"total_weight"`
	ExpectedReturnBps decimal.Decimal  `json:"expectedReturnBps" db:"expected_return_bps"`
	VolatilityBps     decimal.Decimal  `json:"volatilityBps" db:"volatility_bps"`
	// Sharpe is nil when volatility is effectively zero: undefined, never Inf
	Sharpe *decimal.Decimal `json:"sharpe,omitempty" db:"sharpe"`
}

// StrategyTarget is the per-market output of a run. Deleted when its run
// is deleted.
type StrategyTarget struct {
	ID                int64           `json:"id" db:"id"`
	RunID             int64           `json:"runId" db:"strategy_run_id"`
	MarketID          int64           `json:"marketId" db:"market_id"`
	TargetWeight      decimal.Decimal `json:"targetWeight" db:"target_weight"`
	ExpectedReturnBps decimal.Decimal `json:"expectedReturnBps" db:"expected_return_bps"`
	VarianceBps       decimal.Decimal `json:"varianceBps" db:"variance_bps"`
}

// HedgeInstruction is the hedge-notional output of a run. Positive size is
// a long hedge position, negative is short.
type HedgeInstruction struct {
	InstrumentID int64           `json:"instrumentId"`
	Ticker       string          `json:"ticker"`
	NotionalUSD  decimal.Decimal `json:"notionalUsd"`
	Size         decimal.Decimal `json:"size"` // contracts at oracle price
}
