package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

func feeState(marketID int64, ts time.Time, fees float64) *models.MarketState {
	state := testMarketState(marketID, ts, 0)
	state.FeesTotal = decimal.NewFromFloat(fees)
	return state
}

func TestBucketHourly(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Two observations inside 10:00 and one inside 11:00, appended out of
	// order; buckets come back aggregated and ascending
	buckets := bucketHourly([]*models.MarketState{
		feeState(1, base.Add(61*time.Minute), 30),
		feeState(1, base.Add(10*time.Minute), 100),
		feeState(1, base.Add(40*time.Minute), 50),
	})

	require.Len(t, buckets, 2)
	assert.True(t, buckets[0].Equal(decimal.NewFromInt(150)), "10:00 bucket = %s", buckets[0])
	assert.True(t, buckets[1].Equal(decimal.NewFromInt(30)), "11:00 bucket = %s", buckets[1])
}

func TestComputeEWMA(t *testing.T) {
	values := []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(20)}
	ewma := computeEWMA(values, 0.5)
	assert.True(t, ewma.Equal(decimal.NewFromInt(15)), "got %s", ewma)

	// Recent observations dominate older ones
	rising := []decimal.Decimal{
		decimal.NewFromInt(0), decimal.NewFromInt(0), decimal.NewFromInt(0), decimal.NewFromInt(100),
	}
	falling := []decimal.Decimal{
		decimal.NewFromInt(100), decimal.NewFromInt(0), decimal.NewFromInt(0), decimal.NewFromInt(0),
	}
	assert.True(t, computeEWMA(rising, 0.3).GreaterThan(computeEWMA(falling, 0.3)))
}

func TestExpectedReturnBpsScalesWithHorizon(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	slice := testSlice(1, 10, now, []float64{100, 100, 100, 100, 100})

	short := &ReturnModel{HorizonHours: 24}
	long := &ReturnModel{HorizonHours: 72}

	shortRet, err := short.ExpectedReturnBps(slice)
	require.NoError(t, err)
	longRet, err := long.ExpectedReturnBps(slice)
	require.NoError(t, err)

	assert.InDelta(t, 3*shortRet, longRet, 1e-6)
	assert.Greater(t, shortRet, 0.0)
}

func TestPnlDriftRewardsFallingTraderPnl(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	model := &ReturnModel{HorizonHours: 24}

	// testSlice builds a window where trader pnl falls; flat pnl drops the
	// drift term and nothing else
	drifting := testSlice(1, 10, now, []float64{100, 100, 100})

	flat := testSlice(1, 10, now, []float64{100, 100, 100})
	for _, state := range flat.History {
		state.PnlNet = decimal.Zero
	}

	driftRet, err := model.ExpectedReturnBps(drifting)
	require.NoError(t, err)
	flatRet, err := model.ExpectedReturnBps(flat)
	require.NoError(t, err)

	assert.Greater(t, driftRet, flatRet)
}

func TestExpectedReturnBpsErrors(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	model := &ReturnModel{HorizonHours: 24}

	t.Run("non-positive pool value", func(t *testing.T) {
		slice := testSlice(1, 10, now, []float64{100, 100, 100})
		slice.State.PoolLongUSD = decimal.Zero
		slice.State.PoolShortUSD = decimal.Zero
		_, err := model.ExpectedReturnBps(slice)
		assert.Error(t, err)
	})

	t.Run("no fee history", func(t *testing.T) {
		slice := testSlice(1, 10, now, []float64{100, 100, 100})
		slice.History = nil
		_, err := model.ExpectedReturnBps(slice)
		assert.Error(t, err)
	})
}
