package strategy

import (
	"math"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
)

const (
	// WeightSumTolerance bounds the allowed deviation of the solved weight
	// sum from the budget
	WeightSumTolerance = 1e-6
	// convergenceTolerance is the per-weight step change below which the
	// iteration is considered converged
	convergenceTolerance = 1e-10
	// bisectionIterations bounds the dual search inside each projection
	bisectionIterations = 200
)

// Problem is a constrained mean-variance allocation: maximize
// wᵀμ − λ·wᵀΣw subject to w ≥ 0, Σw = Budget, wᵢ ≤ ConcentrationCap and
// |wᵢ − PrevWeights[i]| ≤ TurnoverCap. All caps are hard constraints;
// an infeasible constraint set is a non-convergence, never a relaxed
// result.
type Problem struct {
	ExpectedReturns  []float64   // μ, bps
	Covariance       [][]float64 // Σ, bps²
	PrevWeights      []float64   // zero vector on cold start
	Budget           float64     // 1 − hedge reserve
	ConcentrationCap float64
	TurnoverCap      float64
	RiskAversion     float64 // λ
	MaxIterations    int
}

// Solve runs projected gradient ascent on the problem and returns the
// optimal weights. The equality constraint holds within
// WeightSumTolerance on success.
func Solve(p *Problem) ([]float64, error) {
	n := len(p.ExpectedReturns)
	if n == 0 {
		return nil, cycleerr.NewSolverNonConvergence("no markets to allocate", nil)
	}
	if len(p.Covariance) != n || len(p.PrevWeights) != n {
		return nil, cycleerr.NewSolverNonConvergence("dimension mismatch between returns, covariance, and previous weights", map[string]interface{}{
			"markets": n,
		})
	}

	lower := make([]float64, n)
	upper := make([]float64, n)
	var sumLower, sumUpper float64
	for i := 0; i < n; i++ {
		lower[i] = math.Max(0, p.PrevWeights[i]-p.TurnoverCap)
		upper[i] = math.Min(p.ConcentrationCap, p.PrevWeights[i]+p.TurnoverCap)
		if lower[i] > upper[i] {
			return nil, cycleerr.NewSolverNonConvergence("turnover and concentration caps conflict", map[string]interface{}{
				"market_index": i,
			})
		}
		sumLower += lower[i]
		sumUpper += upper[i]
	}
	if sumLower > p.Budget+WeightSumTolerance || sumUpper < p.Budget-WeightSumTolerance {
		return nil, cycleerr.NewSolverNonConvergence("constraint set is infeasible for the budget", map[string]interface{}{
			"budget":     p.Budget,
			"boundsMin":  sumLower,
			"boundsMax":  sumUpper,
		})
	}

	// Start from the previous weights projected onto the feasible set
	weights := projectBoxSimplex(p.PrevWeights, lower, upper, p.Budget)

	step := stepSize(p)
	maxIterations := p.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 5000
	}

	converged := false
	for iter := 0; iter < maxIterations; iter++ {
		gradient := make([]float64, n)
		for i := 0; i < n; i++ {
			sigmaW := 0.0
			for j := 0; j < n; j++ {
				sigmaW += p.Covariance[i][j] * weights[j]
			}
			gradient[i] = p.ExpectedReturns[i] - 2*p.RiskAversion*sigmaW
		}

		candidate := make([]float64, n)
		for i := 0; i < n; i++ {
			candidate[i] = weights[i] + step*gradient[i]
		}
		candidate = projectBoxSimplex(candidate, lower, upper, p.Budget)

		maxChange := 0.0
		for i := 0; i < n; i++ {
			change := math.Abs(candidate[i] - weights[i])
			if change > maxChange {
				maxChange = change
			}
		}
		weights = candidate

		if maxChange < convergenceTolerance {
			converged = true
			break
		}
	}

	var sum float64
	for _, w := range weights {
		sum += w
	}
	if !converged || math.Abs(sum-p.Budget) > WeightSumTolerance {
		return nil, cycleerr.NewSolverNonConvergence("iteration budget exhausted before convergence", map[string]interface{}{
			"weightSum": sum,
			"budget":    p.Budget,
		})
	}
	return weights, nil
}

// stepSize picks a gradient step from the Lipschitz constant of the
// quadratic term
func stepSize(p *Problem) float64 {
	var rowMax float64
	for i := range p.Covariance {
		var rowSum float64
		for j := range p.Covariance[i] {
			rowSum += math.Abs(p.Covariance[i][j])
		}
		if rowSum > rowMax {
			rowMax = rowSum
		}
	}

	lipschitz := 2 * p.RiskAversion * rowMax
	if lipschitz < 1e-9 {
		// Linear objective; any moderate step reaches a vertex
		return 1e-3
	}
	return 1.0 / lipschitz
}

// projectBoxSimplex projects v onto {w : lower ≤ w ≤ upper, Σw = target}
// by bisecting on the dual variable of the equality constraint. The
// clamped sum is monotone in the dual, so bisection converges well past
// the weight-sum tolerance.
func projectBoxSimplex(v, lower, upper []float64, target float64) []float64 {
	n := len(v)

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		if v[i]-upper[i] < lo {
			lo = v[i] - upper[i]
		}
		if v[i]-lower[i] > hi {
			hi = v[i] - lower[i]
		}
	}

	clampedSum := func(theta float64) float64 {
		var sum float64
		for i := 0; i < n; i++ {
			sum += clamp(v[i]-theta, lower[i], upper[i])
		}
		return sum
	}

	theta := 0.0
	for iter := 0; iter < bisectionIterations; iter++ {
		theta = (lo + hi) / 2
		if clampedSum(theta) > target {
			lo = theta
		} else {
			hi = theta
		}
	}

	projected := make([]float64, n)
	for i := 0; i < n; i++ {
		projected[i] = clamp(v[i]-theta, lower[i], upper[i])
	}
	return projected
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
