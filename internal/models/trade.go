package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade.
// Transitions: planned -> submitted -> confirmed | failed. A trade whose
// submission never succeeds moves planned -> failed directly.
type TradeStatus string

const (
	TradePlanned   TradeStatus = "planned"
	TradeSubmitted TradeStatus = "submitted"
	TradeConfirmed TradeStatus = "confirmed"
	TradeFailed    TradeStatus = "failed"
)

// Terminal reports whether the status is final
func (s TradeStatus) Terminal() bool {
	return s == TradeConfirmed || s == TradeFailed
}

// CanTransitionTo reports whether the status may move to next
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	switch s {
	case TradePlanned:
		return next == TradeSubmitted || next == TradeFailed
	case TradeSubmitted:
		return next == TradeConfirmed || next == TradeFailed
	default:
		return false
	}
}

// ActionType identifies what a trade does
type ActionType string

const (
	ActionDeposit    ActionType = "pool_deposit"
	ActionWithdrawal ActionType = "pool_withdrawal"
	ActionHedge      ActionType = "hedge_order"
)

// Trade is a realized action. Append-only audit record; only Status (and
// TxRef/AmountOut once confirmed) may change after insertion. RunID is
// nulled if the run is deleted, preserving the audit trail.
type Trade struct {
	ID         int64           `json:"id" db:"id"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
	RunID      *int64          `json:"runId,omitempty" db:"strategy_run_id"`
	MarketID   *int64          `json:"marketId,omitempty" db:"market_id"`
	ActionType ActionType      `json:"actionType" db:"action_type"`
	AmountIn   decimal.Decimal `json:"amountIn" db:"amount_in"`
	AmountOut  decimal.Decimal `json:"amountOut" db:"amount_out"`
	USDValue   decimal.Decimal `json:"usdValue" db:"usd_value"`
	FeeUSD     decimal.Decimal `json:"feeUsd" db:"fee_usd"`
	TxRef      *string         `json:"txRef,omitempty" db:"tx_ref"`
	Status     TradeStatus     `json:"status" db:"status"`
	Details    *string         `json:"details,omitempty" db:"details"`
}
