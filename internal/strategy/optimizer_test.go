package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/config"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Version:          "mv-1",
		RiskAversion:     2.0,
		HedgeReserve:     0.15,
		ConcentrationCap: 0.7,
		TurnoverCap:      1.0,
		DustWeightDelta:  0.005,
		MaxIterations:    5000,
		LookbackWindow:   72 * time.Hour,
	}
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError, logging.FormatJSON)
}

// testMarketState builds a plausible pool observation: $1M pool value,
// traders net long $200k via tokens, utilization 0.5.
func testMarketState(marketID int64, ts time.Time, pnlNet float64) *models.MarketState {
	return &models.MarketState{
		MarketID:                   marketID,
		Timestamp:                  ts,
		BorrowingFactorLong:        decimal.NewFromFloat(0.00001),
		BorrowingFactorShort:       decimal.NewFromFloat(0.00001),
		PnlNet:                     decimal.NewFromFloat(pnlNet),
		PoolLongUSD:                decimal.NewFromInt(500_000),
		PoolShortUSD:               decimal.NewFromInt(500_000),
		OpenInterestLong:           decimal.NewFromInt(400_000),
		OpenInterestShort:          decimal.NewFromInt(200_000),
		OpenInterestLongViaTokens:  decimal.NewFromInt(300_000),
		OpenInterestShortViaTokens: decimal.NewFromInt(100_000),
		Utilization:                decimal.NewFromFloat(0.5),
		FeesTotal:                  decimal.NewFromInt(100),
	}
}

// testSlice builds a market slice with hourly index prices ending at now
// and matching hourly market state history
func testSlice(marketID, tokenID int64, now time.Time, prices []float64) *MarketSlice {
	indexPrices := make([]*models.TokenPrice, len(prices))
	history := make([]*models.MarketState, len(prices))
	for i, p := range prices {
		ts := now.Add(-time.Duration(len(prices)-1-i) * time.Hour)
		indexPrices[i] = &models.TokenPrice{
			TokenID:   tokenID,
			Timestamp: ts,
			MidPrice:  decimal.NewFromFloat(p),
		}
		// Trader pnl drifts down over the window: pool gain
		history[i] = testMarketState(marketID, ts, float64(len(prices)-1-i)*500)
	}

	return &MarketSlice{
		Market:      &models.Market{ID: marketID, IndexTokenID: tokenID, DisplayName: "TEST/USD"},
		State:       testMarketState(marketID, now, 0),
		IndexPrices: indexPrices,
		History:     history,
	}
}

func testInputs(now time.Time) *Inputs {
	return &Inputs{
		Instant: now,
		Markets: []*MarketSlice{
			testSlice(1, 10, now, []float64{100, 101, 99.5, 100.5, 101.2}),
			testSlice(2, 11, now, []float64{50, 50.4, 50.1, 49.8, 50.6}),
		},
		Hedge: &models.PerpState{
			InstrumentID:          1,
			Timestamp:             now,
			InitialMarginFraction: decimal.NewFromFloat(0.05),
			OraclePrice:           decimal.NewFromInt(100),
		},
		Instrument:  &models.HedgeInstrument{ID: 1, Ticker: "ETH-USD"},
		PrevWeights: map[int64]float64{},
		CapitalUSD:  decimal.NewFromInt(100_000),
	}
}

func TestOptimizerRunDeterministic(t *testing.T) {
	optimizer := NewOptimizer(testStrategyConfig(), testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first, err := optimizer.Run(testInputs(now))
	require.NoError(t, err)
	second, err := optimizer.Run(testInputs(now))
	require.NoError(t, err)

	assert.Equal(t, first.Weights, second.Weights)
	assert.True(t, first.Run.TotalWeight.Equal(second.Run.TotalWeight))
	assert.True(t, first.Run.ExpectedReturnBps.Equal(second.Run.ExpectedReturnBps))
	assert.True(t, first.Run.VolatilityBps.Equal(second.Run.VolatilityBps))
}

func TestOptimizerTotalWeightMatchesTargets(t *testing.T) {
	cfg := testStrategyConfig()
	optimizer := NewOptimizer(cfg, testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	plan, err := optimizer.Run(testInputs(now))
	require.NoError(t, err)
	require.Len(t, plan.Targets, 2)

	sum := decimal.Zero
	for _, target := range plan.Targets {
		sum = sum.Add(target.TargetWeight)
	}
	assert.InDelta(t, plan.Run.TotalWeight.InexactFloat64(), sum.InexactFloat64(), WeightSumTolerance)
	assert.InDelta(t, 1-cfg.HedgeReserve, sum.InexactFloat64(), WeightSumTolerance)
}

func TestOptimizerSharpeUndefinedOnZeroVolatility(t *testing.T) {
	optimizer := NewOptimizer(testStrategyConfig(), testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Flat prices carry zero variance; Sharpe is undefined, never Inf
	inputs := testInputs(now)
	inputs.Markets = []*MarketSlice{
		testSlice(1, 10, now, []float64{100, 100, 100, 100, 100}),
		testSlice(2, 11, now, []float64{50, 50, 50, 50, 50}),
	}

	plan, err := optimizer.Run(inputs)
	require.NoError(t, err)
	assert.True(t, plan.Run.VolatilityBps.IsZero())
	assert.Nil(t, plan.Run.Sharpe)
}

func TestOptimizerSharpeDefinedWithVolatility(t *testing.T) {
	optimizer := NewOptimizer(testStrategyConfig(), testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	plan, err := optimizer.Run(testInputs(now))
	require.NoError(t, err)
	require.NotNil(t, plan.Run.Sharpe)

	expected := plan.Run.ExpectedReturnBps.InexactFloat64() / plan.Run.VolatilityBps.InexactFloat64()
	assert.InDelta(t, expected, plan.Run.Sharpe.InexactFloat64(), 1e-9)
}

func TestOptimizerDustOnlyRerun(t *testing.T) {
	optimizer := NewOptimizer(testStrategyConfig(), testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first, err := optimizer.Run(testInputs(now))
	require.NoError(t, err)
	assert.False(t, first.DustOnly)

	// Rerunning the unchanged problem from its own optimum moves nothing
	inputs := testInputs(now)
	inputs.PrevWeights = first.Weights
	second, err := optimizer.Run(inputs)
	require.NoError(t, err)

	assert.True(t, second.DustOnly)
	for marketID, w := range second.Weights {
		assert.InDelta(t, first.Weights[marketID], w, 0.005)
	}
}

func TestOptimizerTargetsCarryModelOutputs(t *testing.T) {
	optimizer := NewOptimizer(testStrategyConfig(), testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	plan, err := optimizer.Run(testInputs(now))
	require.NoError(t, err)

	// Targets come back sorted by market id with per-market estimates
	require.Len(t, plan.Targets, 2)
	assert.Equal(t, int64(1), plan.Targets[0].MarketID)
	assert.Equal(t, int64(2), plan.Targets[1].MarketID)
	for _, target := range plan.Targets {
		assert.True(t, target.VarianceBps.Sign() >= 0)
	}
}

func TestOptimizerValidation(t *testing.T) {
	optimizer := NewOptimizer(testStrategyConfig(), testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no markets", func(t *testing.T) {
		inputs := testInputs(now)
		inputs.Markets = nil
		_, err := optimizer.Run(inputs)
		require.Error(t, err)
		assert.Equal(t, cycleerr.KindDataUnavailable, cycleerr.KindOf(err))
	})

	t.Run("missing hedge state", func(t *testing.T) {
		inputs := testInputs(now)
		inputs.Hedge = nil
		_, err := optimizer.Run(inputs)
		require.Error(t, err)
		assert.Equal(t, cycleerr.KindDataUnavailable, cycleerr.KindOf(err))
	})

	t.Run("insufficient price history", func(t *testing.T) {
		inputs := testInputs(now)
		inputs.Markets[0].IndexPrices = inputs.Markets[0].IndexPrices[:1]
		_, err := optimizer.Run(inputs)
		require.Error(t, err)
		assert.Equal(t, cycleerr.KindDataUnavailable, cycleerr.KindOf(err))
	})
}
