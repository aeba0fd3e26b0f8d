package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeHedgeOffsetsNetExposure(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	inputs := testInputs(now)

	// Both markets carry net exposure 0.2 of pool value; weights 0.2 each
	// leave 0.08 of capital exposed, so the hedge carries $8,000 notional
	weights := map[int64]float64{1: 0.2, 2: 0.2}
	instruction := SizeHedge(inputs, weights, 0.15)

	require.NotNil(t, instruction)
	assert.Equal(t, int64(1), instruction.InstrumentID)
	assert.Equal(t, "ETH-USD", instruction.Ticker)
	assert.InDelta(t, 8000, instruction.NotionalUSD.InexactFloat64(), 1e-6)
	assert.InDelta(t, 80, instruction.Size.InexactFloat64(), 1e-6)
}

func TestSizeHedgeClampedByMargin(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	inputs := testInputs(now)

	// IMF 0.5 with a 2% reserve supports at most $4,000 notional on
	// $100,000 capital
	inputs.Hedge.InitialMarginFraction = decimal.NewFromFloat(0.5)
	weights := map[int64]float64{1: 0.2, 2: 0.2}

	instruction := SizeHedge(inputs, weights, 0.02)
	assert.InDelta(t, 4000, instruction.NotionalUSD.InexactFloat64(), 1e-6)
}

func TestSizeHedgeShortWhenTradersNetShort(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	inputs := testInputs(now)

	// Flip the trader book: net short makes the pool long the index, so
	// the hedge sells
	for _, slice := range inputs.Markets {
		slice.State.OpenInterestLongViaTokens = decimal.NewFromInt(100_000)
		slice.State.OpenInterestShortViaTokens = decimal.NewFromInt(300_000)
	}

	instruction := SizeHedge(inputs, map[int64]float64{1: 0.2, 2: 0.2}, 0.15)
	assert.True(t, instruction.NotionalUSD.Sign() < 0)
	assert.True(t, instruction.Size.Sign() < 0)
}

func TestSizeHedgeZeroWithoutPerpState(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("nil perp state", func(t *testing.T) {
		inputs := testInputs(now)
		inputs.Hedge = nil
		instruction := SizeHedge(inputs, map[int64]float64{1: 0.2, 2: 0.2}, 0.15)
		assert.True(t, instruction.NotionalUSD.IsZero())
		assert.True(t, instruction.Size.IsZero())
	})

	t.Run("non-positive oracle price", func(t *testing.T) {
		inputs := testInputs(now)
		inputs.Hedge.OraclePrice = decimal.Zero
		instruction := SizeHedge(inputs, map[int64]float64{1: 0.2, 2: 0.2}, 0.15)
		assert.True(t, instruction.NotionalUSD.IsZero())
	})
}

func TestMaxHedgeNotional(t *testing.T) {
	capital := decimal.NewFromInt(100_000)

	// 100000 * 0.15 / 0.5 = 30000
	bound := MaxHedgeNotional(capital, 0.15, decimal.NewFromFloat(0.5))
	assert.InDelta(t, 30_000, bound.InexactFloat64(), 1e-6)

	// No reported margin requirement means no bound
	assert.True(t, MaxHedgeNotional(capital, 0.15, decimal.Zero).IsZero())
	assert.True(t, MaxHedgeNotional(capital, 0.15, decimal.NewFromInt(-1)).IsZero())
}
