package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/config"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// Volatility below this many bps is treated as zero and Sharpe is
// reported as undefined
const zeroVolatilityBps = 1e-9

// Optimizer converts an aligned observation set plus the previous run's
// weights into a strategy plan. The computation is pure: identical inputs
// always produce an identical plan.
type Optimizer struct {
	cfg    config.StrategyConfig
	logger *logging.Logger
}

// NewOptimizer creates a new optimizer
func NewOptimizer(cfg config.StrategyConfig, logger *logging.Logger) *Optimizer {
	return &Optimizer{
		cfg:    cfg,
		logger: logger.WithField("component", "optimizer"),
	}
}

// Run executes one optimization over the inputs and returns the plan.
// Nothing is persisted here; committing the run is the caller's job so a
// failed solve leaves no ledger trace.
func (o *Optimizer) Run(inputs *Inputs) (*Plan, error) {
	if err := o.validate(inputs); err != nil {
		return nil, err
	}

	// A stable market order makes the solve reproducible
	slices := make([]*MarketSlice, len(inputs.Markets))
	copy(slices, inputs.Markets)
	sort.Slice(slices, func(i, j int) bool { return slices[i].Market.ID < slices[j].Market.ID })

	returnModel := &ReturnModel{HorizonHours: o.cfg.LookbackWindow.Hours()}
	mu := make([]float64, len(slices))
	for i, slice := range slices {
		ret, err := returnModel.ExpectedReturnBps(slice)
		if err != nil {
			return nil, cycleerr.NewDataUnavailable(fmt.Sprintf("pool_market:%d", slice.Market.ID), err.Error())
		}
		mu[i] = ret
	}

	sigma, err := CovarianceMatrix(slices)
	if err != nil {
		return nil, cycleerr.NewDataUnavailable("covariance", err.Error())
	}

	prev := make([]float64, len(slices))
	for i, slice := range slices {
		prev[i] = inputs.PrevWeights[slice.Market.ID]
	}

	weights, err := Solve(&Problem{
		ExpectedReturns:  mu,
		Covariance:       sigma,
		PrevWeights:      prev,
		Budget:           1 - o.cfg.HedgeReserve,
		ConcentrationCap: o.cfg.ConcentrationCap,
		TurnoverCap:      o.cfg.TurnoverCap,
		RiskAversion:     o.cfg.RiskAversion,
		MaxIterations:    o.cfg.MaxIterations,
	})
	if err != nil {
		return nil, err
	}

	plan := o.assemble(inputs, slices, mu, sigma, weights, prev)

	o.logger.WithFields(map[string]interface{}{
		"markets":           len(slices),
		"totalWeight":       plan.Run.TotalWeight.String(),
		"expectedReturnBps": plan.Run.ExpectedReturnBps.String(),
		"volatilityBps":     plan.Run.VolatilityBps.String(),
		"dustOnly":          plan.DustOnly,
	}).Info("Optimizer run complete")

	return plan, nil
}

func (o *Optimizer) validate(inputs *Inputs) error {
	if len(inputs.Markets) == 0 {
		return cycleerr.NewDataUnavailable("markets", "no markets in aligned observation set")
	}
	if inputs.Instrument == nil || inputs.Hedge == nil {
		return cycleerr.NewDataUnavailable("hedge_instrument", "hedge instrument state missing from aligned set")
	}
	for _, slice := range inputs.Markets {
		if slice.State == nil {
			return cycleerr.NewDataUnavailable(fmt.Sprintf("pool_market:%d", slice.Market.ID), "market state missing")
		}
		if len(slice.IndexPrices) < 2 {
			return cycleerr.NewDataUnavailable(fmt.Sprintf("asset_token:%d", slice.Market.IndexTokenID), "insufficient price history")
		}
	}
	return nil
}

func (o *Optimizer) assemble(inputs *Inputs, slices []*MarketSlice, mu []float64, sigma [][]float64, weights, prev []float64) *Plan {
	var totalWeight, portfolioReturn float64
	var portfolioVariance float64
	for i, w := range weights {
		totalWeight += w
		portfolioReturn += w * mu[i]
		for j, wj := range weights {
			portfolioVariance += w * wj * sigma[i][j]
		}
	}
	volatility := math.Sqrt(math.Max(portfolioVariance, 0))

	run := &models.StrategyRun{
		Timestamp:         inputs.Instant,
		StrategyVersion:   o.cfg.Version,
		TotalWeight:       decimal.NewFromFloat(totalWeight),
		ExpectedReturnBps: decimal.NewFromFloat(portfolioReturn),
		VolatilityBps:     decimal.NewFromFloat(volatility),
	}
	if volatility >= zeroVolatilityBps {
		sharpe := decimal.NewFromFloat(portfolioReturn / volatility)
		run.Sharpe = &sharpe
	}

	targets := make([]*models.StrategyTarget, len(slices))
	weightsByMarket := make(map[int64]float64, len(slices))
	dustOnly := true
	for i, slice := range slices {
		targets[i] = &models.StrategyTarget{
			MarketID:          slice.Market.ID,
			TargetWeight:      decimal.NewFromFloat(weights[i]),
			ExpectedReturnBps: decimal.NewFromFloat(mu[i]),
			VarianceBps:       decimal.NewFromFloat(sigma[i][i]),
		}
		weightsByMarket[slice.Market.ID] = weights[i]
		if math.Abs(weights[i]-prev[i]) >= o.cfg.DustWeightDelta {
			dustOnly = false
		}
	}

	return &Plan{
		Run:      run,
		Targets:  targets,
		Hedge:    SizeHedge(inputs, weightsByMarket, o.cfg.HedgeReserve),
		Weights:  weightsByMarket,
		DustOnly: dustOnly,
	}
}
