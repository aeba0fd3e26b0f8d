// Package worker runs the rebalancing cycle on a fixed cadence: align
// observations, optimize, commit the run, execute, snapshot.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/config"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/execution"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/observation"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/retry"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/storage"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/strategy"
)

// HistorySource provides the lookback series feeding the return and risk
// models
type HistorySource interface {
	TokenPriceHistory(ctx context.Context, tokenID int64, from, to time.Time) ([]*models.TokenPrice, error)
	MarketStateHistory(ctx context.Context, marketID int64, from, to time.Time) ([]*models.MarketState, error)
}

// CycleWorker drives the rebalancing pipeline. Cycles never overlap: the
// loop is synchronous, so a new alignment request is not issued until the
// previous cycle's trades have all reached terminal state.
type CycleWorker struct {
	aligner     *observation.Aligner
	history     HistorySource
	refRepo     *storage.ReferenceRepository
	runRepo     *storage.RunRepository
	snapRepo    *storage.SnapshotRepository
	optimizer   *strategy.Optimizer
	coordinator *execution.Coordinator
	cfg         *config.Config
	logger      *logging.Logger

	mu          sync.RWMutex
	running     bool
	halted      bool
	lastCycleAt time.Time
	lastRunID   int64
	lastErr     error

	stopCh chan struct{}
	doneCh chan struct{}
}

// CycleWorkerConfig holds the collaborators of a cycle worker
type CycleWorkerConfig struct {
	Source      observation.Source
	History     HistorySource
	RefRepo     *storage.ReferenceRepository
	RunRepo     *storage.RunRepository
	SnapRepo    *storage.SnapshotRepository
	Optimizer   *strategy.Optimizer
	Coordinator *execution.Coordinator
	Config      *config.Config
	Logger      *logging.Logger
}

// NewCycleWorker creates a cycle worker
func NewCycleWorker(cfg *CycleWorkerConfig) (*CycleWorker, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("observation source cannot be nil")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history source cannot be nil")
	}
	if cfg.RefRepo == nil || cfg.RunRepo == nil || cfg.SnapRepo == nil {
		return nil, fmt.Errorf("ledger repositories cannot be nil")
	}
	if cfg.Optimizer == nil || cfg.Coordinator == nil {
		return nil, fmt.Errorf("optimizer and coordinator cannot be nil")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Config.Worker.FetchRateLimit), cfg.Config.Worker.FetchBurst)

	return &CycleWorker{
		aligner:     observation.NewAligner(cfg.Source, limiter),
		history:     cfg.History,
		refRepo:     cfg.RefRepo,
		runRepo:     cfg.RunRepo,
		snapRepo:    cfg.SnapRepo,
		optimizer:   cfg.Optimizer,
		coordinator: cfg.Coordinator,
		cfg:         cfg.Config,
		logger:      cfg.Logger.WithField("component", "cycle_worker"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start runs the cycle loop until Stop is called or a fatal error halts
// the worker for external review
func (w *CycleWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for the in-flight cycle to
// settle
func (w *CycleWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// Status is a point-in-time view of the worker for the ops surface
type Status struct {
	Running     bool      `json:"running"`
	Halted      bool      `json:"halted"`
	LastCycleAt time.Time `json:"lastCycleAt"`
	LastRunID   int64     `json:"lastRunId,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Status returns the worker's current status
func (w *CycleWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := Status{
		Running:     w.running,
		Halted:      w.halted,
		LastCycleAt: w.lastCycleAt,
		LastRunID:   w.lastRunID,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}

func (w *CycleWorker) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.cfg.Worker.CycleInterval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			if w.Status().Halted {
				continue
			}
			w.runOnce(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *CycleWorker) runOnce(ctx context.Context) {
	runID, err := w.RunCycle(ctx)

	w.mu.Lock()
	w.lastCycleAt = time.Now()
	w.lastErr = err
	if runID != 0 {
		w.lastRunID = runID
	}
	if err != nil && cycleerr.IsFatal(err) {
		// Fatal taxonomy kinds require external review before the next
		// cycle proceeds
		w.halted = true
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.WithError(err).WithField("fatal", cycleerr.IsFatal(err)).Error("Cycle failed")
	}
}

// RunCycle executes one full rebalancing cycle and returns the committed
// run id, or 0 when nothing was committed
func (w *CycleWorker) RunCycle(ctx context.Context) (int64, error) {
	instant := time.Now().UTC()
	logger := w.logger.WithField("instant", instant.Format(time.RFC3339))
	ctx = logging.WithLogger(ctx, logger)

	markets, err := w.refRepo.ListMarkets(ctx)
	if err != nil {
		return 0, err
	}
	if len(markets) == 0 {
		return 0, fmt.Errorf("no markets registered")
	}
	instruments, err := w.refRepo.ListInstruments(ctx)
	if err != nil {
		return 0, err
	}
	if len(instruments) == 0 {
		return 0, fmt.Errorf("no hedge instruments registered")
	}
	instrument := instruments[0]

	// The holdings baseline is read once per cycle and mutated only by
	// this cycle's own final snapshot write
	base, err := w.loadBaseline(ctx)
	if err != nil {
		return 0, err
	}

	set, err := w.alignWithRetry(ctx, instant, requirementsFor(markets, instrument))
	if err != nil {
		return 0, err
	}

	inputs, exposures, err := w.buildInputs(ctx, instant, markets, instrument, set, base)
	if err != nil {
		return 0, err
	}

	plan, err := w.solve(ctx, inputs)
	if err != nil {
		return 0, err
	}

	// Commit the run and its targets atomically before anything executes
	runID, err := w.runRepo.CreateRunWithTargets(ctx, plan.Run, plan.Targets)
	if err != nil {
		return 0, err
	}
	logger = logger.WithRun(runID)
	logger.WithFields(map[string]interface{}{
		"hedgeTicker":   plan.Hedge.Ticker,
		"hedgeNotional": plan.Hedge.NotionalUSD.String(),
	}).Info("Run committed")

	// The executed hedge reacts to realized holdings, but it honors the
	// same margin bound the optimizer sized against
	outcome, err := w.coordinator.ExecuteRun(ctx, &execution.Request{
		RunID:            runID,
		Instant:          instant,
		Targets:          plan.Targets,
		Markets:          marketsByID(markets),
		Holdings:         base.holdings,
		Exposures:        exposures,
		HedgeNotional:    base.hedgeNotional,
		CapitalUSD:       base.capitalUSD,
		PrevTotalUSD:     base.prevTotalUSD,
		Instrument:       instrument,
		OraclePrice:      inputs.Hedge.OraclePrice,
		MaxHedgeNotional: strategy.MaxHedgeNotional(base.capitalUSD, w.cfg.Strategy.HedgeReserve, inputs.Hedge.InitialMarginFraction),
	})
	if err != nil {
		return runID, err
	}

	logger.WithFields(map[string]interface{}{
		"trades":    len(outcome.Trades),
		"confirmed": outcome.Confirmed,
		"failed":    outcome.Failed,
		"dustOnly":  plan.DustOnly,
	}).Info("Cycle complete")

	return runID, nil
}

// baseline is the previous cycle's durable output seeding this cycle
type baseline struct {
	prevWeights   map[int64]float64
	holdings      map[int64]decimal.Decimal
	hedgeNotional decimal.Decimal
	capitalUSD    decimal.Decimal
	prevTotalUSD  decimal.Decimal
}

func (w *CycleWorker) loadBaseline(ctx context.Context) (*baseline, error) {
	base := &baseline{
		prevWeights:   make(map[int64]float64),
		holdings:      make(map[int64]decimal.Decimal),
		hedgeNotional: decimal.Zero,
		capitalUSD:    decimal.NewFromFloat(w.cfg.Execution.InitialCapitalUSD),
	}

	lastRun, err := w.runRepo.LatestRun(ctx)
	if err != nil {
		return nil, err
	}
	if lastRun != nil {
		targets, err := w.runRepo.TargetsForRun(ctx, lastRun.ID)
		if err != nil {
			return nil, err
		}
		for _, target := range targets {
			base.prevWeights[target.MarketID] = target.TargetWeight.InexactFloat64()
		}
	}

	snapshot, err := w.snapRepo.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		// Cold start: no holdings, initial capital from configuration
		return base, nil
	}

	base.capitalUSD = snapshot.TotalValueUSD
	base.prevTotalUSD = snapshot.TotalValueUSD
	base.hedgeNotional = snapshot.HedgeValueUSD

	positions, err := w.snapRepo.PositionsForSnapshot(ctx, snapshot.ID)
	if err != nil {
		return nil, err
	}
	for _, position := range positions {
		if position.PositionType == models.PositionPool && position.MarketID != nil {
			base.holdings[*position.MarketID] = position.USDValue
		}
	}
	return base, nil
}

// alignWithRetry waits out DataUnavailable within the fetch deadline.
// Ingestion sources poll independently, so the earliest observation after
// the reference instant may simply not exist yet.
func (w *CycleWorker) alignWithRetry(ctx context.Context, instant time.Time, req observation.Requirements) (*observation.AlignedSet, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.Worker.FetchDeadline)
	defer cancel()

	machine := retry.NewMachine(&retry.Config{
		MaxAttempts:  20,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	})

	for {
		set, err := w.aligner.Align(fetchCtx, instant, req)
		if err == nil {
			return set, nil
		}
		if !cycleerr.IsRetryable(err) {
			return nil, err
		}

		delay, ok := machine.RecordFailure(err)
		if !ok {
			return nil, err
		}
		select {
		case <-time.After(delay):
		case <-fetchCtx.Done():
			// Past the deadline the whole snapshot fails rather than
			// silently omitting an entity
			return nil, err
		}
	}
}

func (w *CycleWorker) buildInputs(ctx context.Context, instant time.Time, markets []*models.Market, instrument *models.HedgeInstrument, set *observation.AlignedSet, base *baseline) (*strategy.Inputs, map[int64]decimal.Decimal, error) {
	from := instant.Add(-w.cfg.Strategy.LookbackWindow)

	slices := make([]*strategy.MarketSlice, 0, len(markets))
	exposures := make(map[int64]decimal.Decimal, len(markets))
	for _, market := range markets {
		stateObs, ok := set.MarketStates[market.ID]
		if !ok {
			return nil, nil, cycleerr.NewDataInconsistent(fmt.Sprintf("pool_market:%d", market.ID), "aligned set missing required market")
		}

		prices, err := w.history.TokenPriceHistory(ctx, market.IndexTokenID, from, instant)
		if err != nil {
			return nil, nil, err
		}
		states, err := w.history.MarketStateHistory(ctx, market.ID, from, instant)
		if err != nil {
			return nil, nil, err
		}

		slice := &strategy.MarketSlice{
			Market:      market,
			State:       stateObs.MarketState,
			IndexPrices: prices,
			History:     states,
		}
		slices = append(slices, slice)
		exposures[market.ID] = slice.NetOIExposure()
	}

	perpObs, ok := set.PerpStates[instrument.ID]
	if !ok {
		return nil, nil, cycleerr.NewDataInconsistent(fmt.Sprintf("hedge_instrument:%d", instrument.ID), "aligned set missing hedge instrument")
	}

	return &strategy.Inputs{
		Instant:     instant,
		Markets:     slices,
		Hedge:       perpObs.PerpState,
		Instrument:  instrument,
		PrevWeights: base.prevWeights,
		CapitalUSD:  base.capitalUSD,
	}, exposures, nil
}

// solve runs the CPU-bound optimization on its own goroutine so the loop
// stays responsive to cancellation
func (w *CycleWorker) solve(ctx context.Context, inputs *strategy.Inputs) (*strategy.Plan, error) {
	type result struct {
		plan *strategy.Plan
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		plan, err := w.optimizer.Run(inputs)
		ch <- result{plan: plan, err: err}
	}()

	select {
	case res := <-ch:
		return res.plan, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func requirementsFor(markets []*models.Market, instrument *models.HedgeInstrument) observation.Requirements {
	req := observation.Requirements{InstrumentIDs: []int64{instrument.ID}}
	seen := make(map[int64]bool)
	for _, market := range markets {
		req.MarketIDs = append(req.MarketIDs, market.ID)
		if !seen[market.IndexTokenID] {
			req.TokenIDs = append(req.TokenIDs, market.IndexTokenID)
			seen[market.IndexTokenID] = true
		}
	}
	return req
}

func marketsByID(markets []*models.Market) map[int64]*models.Market {
	byID := make(map[int64]*models.Market, len(markets))
	for _, market := range markets {
		byID[market.ID] = market
	}
	return byID
}
