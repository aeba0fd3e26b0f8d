// Package strategy implements the mean-variance optimizer that turns an
// aligned observation set into target weights, risk metrics, and a hedge
// instruction.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// MarketSlice bundles the aligned state and lookback history for one market
type MarketSlice struct {
	Market      *models.Market
	State       *models.MarketState
	IndexPrices []*models.TokenPrice  // lookback window, ascending
	History     []*models.MarketState // lookback window, ascending
}

// NetOIExposure returns the pool's net directional exposure as a fraction
// of pool value. Depositors take the opposite side of net trader open
// interest, so a positive value means traders are net long and the pool is
// effectively short the index.
func (s *MarketSlice) NetOIExposure() decimal.Decimal {
	poolValue := s.State.PoolValueUSD()
	if poolValue.Sign() <= 0 {
		return decimal.Zero
	}
	netOI := s.State.OpenInterestLongViaTokens.Sub(s.State.OpenInterestShortViaTokens)
	return netOI.Div(poolValue)
}

// Inputs is everything one optimizer run needs. Markets are sorted by
// market id so identical inputs always produce identical outputs.
type Inputs struct {
	Instant     time.Time
	Markets     []*MarketSlice
	Hedge       *models.PerpState
	Instrument  *models.HedgeInstrument
	PrevWeights map[int64]float64 // previous run's target weight by market id; empty on cold start
	CapitalUSD  decimal.Decimal
}

// Plan is the full output of one optimizer run
type Plan struct {
	Run     *models.StrategyRun
	Targets []*models.StrategyTarget
	Hedge   *models.HedgeInstruction
	// Weights indexes the solved weights by market id for the coordinator
	Weights map[int64]float64
	// DustOnly is set when every weight delta is below the dust threshold;
	// the run still commits but produces no trades
	DustOnly bool
}
