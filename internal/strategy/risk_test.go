package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCovarianceMatrixShape(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	slices := []*MarketSlice{
		testSlice(1, 10, now, []float64{100, 102, 99, 101, 103}),
		testSlice(2, 11, now, []float64{50, 50.5, 49.8, 50.2, 50.9}),
	}

	cov, err := CovarianceMatrix(slices)
	require.NoError(t, err)
	require.Len(t, cov, 2)

	// Symmetric with non-negative diagonal
	assert.InDelta(t, cov[0][1], cov[1][0], 1e-12)
	assert.GreaterOrEqual(t, cov[0][0], 0.0)
	assert.GreaterOrEqual(t, cov[1][1], 0.0)
}

func TestCovarianceScaledByExposure(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prices := []float64{100, 102, 99, 101, 103}

	exposed := testSlice(1, 10, now, prices)

	// A balanced trader book passes no price risk through to depositors
	balanced := testSlice(2, 11, now, prices)
	balanced.State.OpenInterestLongViaTokens = decimal.NewFromInt(200_000)
	balanced.State.OpenInterestShortViaTokens = decimal.NewFromInt(200_000)

	cov, err := CovarianceMatrix([]*MarketSlice{exposed, balanced})
	require.NoError(t, err)

	assert.Greater(t, cov[0][0], 0.0)
	assert.InDelta(t, 0.0, cov[1][1], 1e-12)
	assert.InDelta(t, 0.0, cov[0][1], 1e-12)
}

func TestCovarianceUtilizationTilt(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prices := []float64{100, 102, 99, 101, 103}

	calm := testSlice(1, 10, now, prices)
	calm.State.Utilization = decimal.Zero

	stressed := testSlice(2, 11, now, prices)
	stressed.State.Utilization = decimal.NewFromInt(1)

	cov, err := CovarianceMatrix([]*MarketSlice{calm, stressed})
	require.NoError(t, err)

	// Same prices and exposure; the stressed pool's variance is tilted up
	// by exactly the utilization factor
	assert.InDelta(t, 2.0, cov[1][1]/cov[0][0], 1e-9)
}

func TestCovarianceTruncatesToShortestSeries(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	long := testSlice(1, 10, now, []float64{100, 102, 99, 101, 103, 104})
	short := testSlice(2, 11, now, []float64{50, 50.5, 49.8})

	cov, err := CovarianceMatrix([]*MarketSlice{long, short})
	require.NoError(t, err)
	require.Len(t, cov, 2)
	assert.False(t, math.IsNaN(cov[0][1]))
}

func TestCovarianceInsufficientHistory(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("single price observation", func(t *testing.T) {
		slice := testSlice(1, 10, now, []float64{100, 101})
		slice.IndexPrices = slice.IndexPrices[:1]
		_, err := CovarianceMatrix([]*MarketSlice{slice})
		assert.Error(t, err)
	})

	t.Run("single return", func(t *testing.T) {
		// Two prices yield one return; covariance needs two
		slice := testSlice(1, 10, now, []float64{100, 101})
		_, err := CovarianceMatrix([]*MarketSlice{slice})
		assert.Error(t, err)
	})
}

func TestSampleCovariance(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}

	// var(x) with n-1 denominator is 5/3; cov(x, 2x) doubles it
	assert.InDelta(t, 5.0/3.0, sampleCovariance(x, x), 1e-12)
	assert.InDelta(t, 10.0/3.0, sampleCovariance(x, y), 1e-12)
	assert.Equal(t, 0.0, sampleCovariance(x, y[:2]))
}
