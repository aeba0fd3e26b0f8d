package strategy

import (
	"fmt"
	"math"
)

// CovarianceMatrix builds the portfolio covariance matrix in bps² from
// index price dispersion, scaled by each pool's net open-interest exposure
// and tilted upward by utilization. A pool whose traders are balanced
// passes price variance through at near zero; a one-sided pool inherits it
// in full.
func CovarianceMatrix(slices []*MarketSlice) ([][]float64, error) {
	n := len(slices)

	returnsMatrix := make([][]float64, n)
	minLength := math.MaxInt
	for i, slice := range slices {
		returns, err := priceReturnsBps(slice)
		if err != nil {
			return nil, err
		}
		if len(returns) < minLength {
			minLength = len(returns)
		}
		returnsMatrix[i] = returns
	}
	if minLength < 2 {
		return nil, fmt.Errorf("need at least 2 return observations per market, have %d", minLength)
	}
	for i := range returnsMatrix {
		returnsMatrix[i] = returnsMatrix[i][:minLength]
	}

	exposures := make([]float64, n)
	tailTilt := make([]float64, n)
	for i, slice := range slices {
		exposures[i] = slice.NetOIExposure().InexactFloat64()
		tailTilt[i] = math.Sqrt(1 + slice.State.Utilization.InexactFloat64())
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := range cov[i] {
			c := sampleCovariance(returnsMatrix[i], returnsMatrix[j])
			cov[i][j] = c * exposures[i] * exposures[j] * tailTilt[i] * tailTilt[j]
		}
	}
	return cov, nil
}

// priceReturnsBps computes period-over-period index price returns in bps
func priceReturnsBps(slice *MarketSlice) ([]float64, error) {
	prices := slice.IndexPrices
	if len(prices) < 2 {
		return nil, fmt.Errorf("market %d has %d price observations, need at least 2", slice.Market.ID, len(prices))
	}

	var returns []float64
	for i := 1; i < len(prices); i++ {
		p0 := prices[i-1].MidPrice
		p1 := prices[i].MidPrice
		if p0.Sign() > 0 && p1.Sign() > 0 {
			r := p1.Sub(p0).Div(p0)
			returns = append(returns, r.InexactFloat64()*10000)
		}
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("market %d has no usable price returns", slice.Market.ID)
	}
	return returns, nil
}

// sampleCovariance computes the sample covariance (n−1 denominator)
// between two equal-length return series
func sampleCovariance(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}

	n := float64(len(x))
	var meanX, meanY float64
	for i := range x {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= n
	meanY /= n

	var cov float64
	for i := range x {
		cov += (x[i] - meanX) * (y[i] - meanY)
	}
	return cov / (n - 1)
}
