package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// EWMA smoothing factor for hourly fee buckets. Corresponds to a half life
// of roughly 24 hours on hourly data.
const ewmaAlpha = 0.0286

var bpsScale = decimal.NewFromInt(10000)

// ReturnModel estimates the expected return of depositing into a pool
// market over the configured horizon, expressed in basis points of pool
// value. Three sources contribute: fee income, borrowing paid by open
// positions, and the drift of trader pnl (the pool is the counterparty).
type ReturnModel struct {
	HorizonHours float64
}

// ExpectedReturnBps returns the expected return of the market over the
// horizon in basis points of pool value
func (m *ReturnModel) ExpectedReturnBps(slice *MarketSlice) (float64, error) {
	poolValue := slice.State.PoolValueUSD()
	if poolValue.Sign() <= 0 {
		return 0, fmt.Errorf("market %d has non-positive pool value", slice.Market.ID)
	}

	feeBps, err := m.feeReturnBps(slice, poolValue)
	if err != nil {
		return 0, err
	}

	borrowBps := m.borrowingReturnBps(slice.State, poolValue)
	driftBps := m.pnlDriftBps(slice, poolValue)

	total := feeBps.Add(borrowBps).Add(driftBps)
	return total.InexactFloat64(), nil
}

// feeReturnBps smooths observed fee income into an hourly EWMA and scales
// it across the horizon
func (m *ReturnModel) feeReturnBps(slice *MarketSlice, poolValue decimal.Decimal) (decimal.Decimal, error) {
	hourlyFees := bucketHourly(slice.History)
	if len(hourlyFees) == 0 {
		return decimal.Zero, fmt.Errorf("market %d has no fee history", slice.Market.ID)
	}

	hourlyEWMA := computeEWMA(hourlyFees, ewmaAlpha)
	hourlyReturn := hourlyEWMA.Div(poolValue)

	horizon := decimal.NewFromFloat(m.HorizonHours)
	return hourlyReturn.Mul(horizon).Mul(bpsScale), nil
}

// borrowingReturnBps projects borrowing paid by open positions to the pool
// over the horizon. Borrowing factors are hourly rates applied to open
// interest.
func (m *ReturnModel) borrowingReturnBps(state *models.MarketState, poolValue decimal.Decimal) decimal.Decimal {
	hourly := state.BorrowingFactorLong.Mul(state.OpenInterestLong).
		Add(state.BorrowingFactorShort.Mul(state.OpenInterestShort)).
		Div(poolValue)

	horizon := decimal.NewFromFloat(m.HorizonHours)
	return hourly.Mul(horizon).Mul(bpsScale)
}

// pnlDriftBps measures the realized drift of net trader pnl across the
// lookback window. The pool takes the opposite side, so falling trader
// pnl is pool return.
func (m *ReturnModel) pnlDriftBps(slice *MarketSlice, poolValue decimal.Decimal) decimal.Decimal {
	if len(slice.History) < 2 {
		return decimal.Zero
	}

	first := slice.History[0]
	last := slice.History[len(slice.History)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp)
	if elapsed <= 0 {
		return decimal.Zero
	}

	poolGain := first.PnlNet.Sub(last.PnlNet)
	hourlyDrift := poolGain.Div(poolValue).Div(decimal.NewFromFloat(elapsed.Hours()))

	horizon := decimal.NewFromFloat(m.HorizonHours)
	return hourlyDrift.Mul(horizon).Mul(bpsScale)
}

// bucketHourly aggregates per-observation fee totals into hourly buckets,
// ascending by hour
func bucketHourly(history []*models.MarketState) []decimal.Decimal {
	buckets := make(map[time.Time]decimal.Decimal)
	for _, state := range history {
		hour := state.Timestamp.Truncate(time.Hour)
		buckets[hour] = buckets[hour].Add(state.FeesTotal)
	}

	hours := make([]time.Time, 0, len(buckets))
	for hour := range buckets {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	values := make([]decimal.Decimal, 0, len(hours))
	for _, hour := range hours {
		values = append(values, buckets[hour])
	}
	return values
}

// computeEWMA runs a standard exponentially weighted moving average over
// the values, oldest first
func computeEWMA(values []decimal.Decimal, alpha float64) decimal.Decimal {
	a := decimal.NewFromFloat(alpha)
	oneMinusA := decimal.NewFromInt(1).Sub(a)

	ewma := values[0]
	for _, value := range values[1:] {
		ewma = a.Mul(value).Add(oneMinusA.Mul(ewma))
	}
	return ewma
}
