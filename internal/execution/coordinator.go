package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/config"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/retry"
)

// TradeStore is the slice of the run ledger the coordinator writes trades
// through
type TradeStore interface {
	Insert(ctx context.Context, trade *models.Trade) (int64, error)
	UpdateStatus(ctx context.Context, tradeID int64, from, to models.TradeStatus, txRef *string, amountOut *string) error
}

// SnapshotStore records the realized holdings once a run settles
type SnapshotStore interface {
	CreateWithPositions(ctx context.Context, snapshot *models.PortfolioSnapshot, positions []*models.PositionSnapshot) (int64, error)
}

// Request carries everything the coordinator needs to realize one run
type Request struct {
	RunID         int64
	Instant       time.Time
	Targets       []*models.StrategyTarget
	Markets       map[int64]*models.Market
	Holdings      map[int64]decimal.Decimal // pool USD value per market at baseline
	Exposures     map[int64]decimal.Decimal // net OI exposure per market
	HedgeNotional decimal.Decimal           // hedge notional held at baseline
	CapitalUSD    decimal.Decimal
	PrevTotalUSD  decimal.Decimal
	Instrument    *models.HedgeInstrument
	OraclePrice   decimal.Decimal

	// MaxHedgeNotional bounds the executed hedge to what the reserved
	// margin supports; non-positive means unbounded (paper venues)
	MaxHedgeNotional decimal.Decimal
}

// Outcome is the realized result of a run. Partial execution is a visible,
// recorded outcome, never rolled back.
type Outcome struct {
	Trades     []*models.Trade
	Confirmed  int
	Failed     int
	SnapshotID int64
}

// Coordinator submits trades through a venue and drives each one to a
// terminal state. Submission is serialized per slot; ordering phases
// (withdrawals, deposits, hedge) never overlap.
type Coordinator struct {
	venue     Venue
	trades    TradeStore
	snapshots SnapshotStore
	cfg       config.ExecutionConfig
	logger    *logging.Logger
}

// NewCoordinator creates a new execution coordinator
func NewCoordinator(venue Venue, trades TradeStore, snapshots SnapshotStore, cfg config.ExecutionConfig, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		venue:     venue,
		trades:    trades,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger.WithField("component", "coordinator"),
	}
}

// ExecuteRun realizes a committed run. The context may cancel the run only
// before the first submission; once any trade is submitted the run is
// driven to terminal completion for every trade on a detached context.
// Terminal failure of one trade never rolls back confirmed siblings.
func (c *Coordinator) ExecuteRun(ctx context.Context, req *Request) (*Outcome, error) {
	logger := c.logger.WithRun(req.RunID)

	minTrade := decimal.NewFromFloat(c.cfg.MinTradeUSD)
	poolTrades := PlanPoolTrades(req.RunID, req.Instant, req.Targets, req.Holdings, req.CapitalUSD, minTrade)

	for _, trade := range poolTrades {
		if _, err := c.trades.Insert(ctx, trade); err != nil {
			return nil, err
		}
	}

	// Abort is still possible here: nothing has been submitted
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %d aborted before submission: %w", req.RunID, err)
	}

	// Past this point the run must settle completely
	execCtx := context.WithoutCancel(ctx)

	outcome := &Outcome{Trades: poolTrades}
	realized := make(map[int64]decimal.Decimal, len(req.Holdings))
	for marketID, held := range req.Holdings {
		realized[marketID] = held
	}

	withdrawals, deposits := splitByAction(poolTrades)
	c.executePhase(execCtx, logger, withdrawals, outcome)
	c.executePhase(execCtx, logger, deposits, outcome)

	for _, trade := range poolTrades {
		if trade.Status != models.TradeConfirmed {
			continue
		}
		held := realized[*trade.MarketID]
		if trade.ActionType == models.ActionWithdrawal {
			realized[*trade.MarketID] = held.Sub(trade.USDValue)
		} else {
			realized[*trade.MarketID] = held.Add(trade.USDValue)
		}
	}

	// The hedge reacts to realized holdings, not the pre-execution target
	hedgeNotional := req.HedgeNotional
	hedgeTrade, desired := PlanHedgeTrade(req.RunID, req.Instant, realized, req.Exposures, req.HedgeNotional, minTrade, req.MaxHedgeNotional, req.Instrument)
	if hedgeTrade != nil {
		if _, err := c.trades.Insert(execCtx, hedgeTrade); err != nil {
			return nil, err
		}
		outcome.Trades = append(outcome.Trades, hedgeTrade)
		c.executePhase(execCtx, logger, []*models.Trade{hedgeTrade}, outcome)
		if hedgeTrade.Status == models.TradeConfirmed {
			hedgeNotional = desired
		}
	}

	snapshotID, err := c.recordSnapshot(execCtx, req, realized, hedgeNotional)
	if err != nil {
		return nil, err
	}
	outcome.SnapshotID = snapshotID

	logger.WithFields(map[string]interface{}{
		"trades":    len(outcome.Trades),
		"confirmed": outcome.Confirmed,
		"failed":    outcome.Failed,
	}).Info("Run execution settled")

	return outcome, nil
}

// executePhase drives a group of trades to terminal state, at most
// SubmissionSlots concurrently. One slot never carries two trades at once;
// the phase returns only when every trade is terminal.
func (c *Coordinator) executePhase(ctx context.Context, logger *logging.Logger, trades []*models.Trade, outcome *Outcome) {
	if len(trades) == 0 {
		return
	}

	slots := c.cfg.SubmissionSlots
	if slots < 1 {
		slots = 1
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	queue := make(chan *models.Trade, len(trades))
	for _, trade := range trades {
		queue <- trade
	}
	close(queue)

	for i := 0; i < slots; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trade := range queue {
				err := c.executeTrade(ctx, logger, trade)
				mu.Lock()
				if err != nil {
					outcome.Failed++
				} else {
					outcome.Confirmed++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// executeTrade drives one trade through planned -> submitted ->
// confirmed | failed, retrying failed settlement up to the attempt budget
// with exponential backoff
func (c *Coordinator) executeTrade(ctx context.Context, logger *logging.Logger, trade *models.Trade) error {
	tradeLogger := logger.WithFields(map[string]interface{}{
		"tradeId": trade.ID,
		"action":  string(trade.ActionType),
	})

	machine := retry.NewMachine(&retry.Config{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.InitialBackoff,
		MaxDelay:     c.cfg.MaxBackoff,
		Multiplier:   2.0,
		Jitter:       0.2,
	})

	submitted := false
	for {
		status, attemptErr := c.attempt(ctx, trade, &submitted)
		if attemptErr == nil && status.State == VenueConfirmed {
			amountOut := status.AmountOut.String()
			if err := c.trades.UpdateStatus(ctx, trade.ID, models.TradeSubmitted, models.TradeConfirmed, &status.TxRef, &amountOut); err != nil {
				return err
			}
			trade.Status = models.TradeConfirmed
			trade.TxRef = &status.TxRef
			trade.AmountOut = status.AmountOut
			machine.RecordSuccess()
			return nil
		}

		if attemptErr == nil {
			attemptErr = fmt.Errorf("venue rejected trade: %s", status.Reason)
		}

		delay, ok := machine.RecordFailure(attemptErr)
		if !ok {
			from := models.TradePlanned
			if submitted {
				from = models.TradeSubmitted
			}
			if err := c.trades.UpdateStatus(ctx, trade.ID, from, models.TradeFailed, nil, nil); err != nil {
				tradeLogger.WithError(err).Error("Failed to record terminal trade failure")
			}
			trade.Status = models.TradeFailed
			failure := cycleerr.NewExecutionFailure(trade.ID, attemptErr)
			tradeLogger.WithError(failure).WithField("attempts", machine.Attempts()).Error("Trade terminally failed")
			return failure
		}

		tradeLogger.WithFields(map[string]interface{}{
			"attempt": machine.Attempts(),
			"delay":   delay.String(),
			"error":   attemptErr.Error(),
		}).Warn("Trade attempt failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Detached context; only reached if the process is dying
			return ctx.Err()
		}
	}
}

// attempt submits the trade once and polls the handle until the venue
// reports a terminal state or the settle timeout passes
func (c *Coordinator) attempt(ctx context.Context, trade *models.Trade, submitted *bool) (VenueStatus, error) {
	handle, err := c.venue.Submit(ctx, trade)
	if err != nil {
		return VenueStatus{}, fmt.Errorf("submit failed: %w", err)
	}

	if !*submitted {
		if err := c.trades.UpdateStatus(ctx, trade.ID, models.TradePlanned, models.TradeSubmitted, nil, nil); err != nil {
			return VenueStatus{}, err
		}
		trade.Status = models.TradeSubmitted
		*submitted = true
	}

	deadline := time.Now().Add(c.cfg.SettleTimeout)
	for {
		status, err := c.venue.Poll(ctx, handle)
		if err != nil {
			return VenueStatus{}, fmt.Errorf("poll failed: %w", err)
		}
		if status.State != VenuePending {
			return status, nil
		}
		if time.Now().After(deadline) {
			return VenueStatus{}, fmt.Errorf("trade did not settle within %s", c.cfg.SettleTimeout)
		}

		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return VenueStatus{}, ctx.Err()
		}
	}
}

// recordSnapshot writes the realized portfolio state. Values come from
// what actually confirmed, not from targets.
func (c *Coordinator) recordSnapshot(ctx context.Context, req *Request, realized map[int64]decimal.Decimal, hedgeNotional decimal.Decimal) (int64, error) {
	marketValue := decimal.Zero
	var positions []*models.PositionSnapshot

	for _, target := range req.Targets {
		held := realized[target.MarketID]
		if held.Sign() <= 0 {
			continue
		}
		marketValue = marketValue.Add(held)

		marketID := target.MarketID
		symbol := fmt.Sprintf("market:%d", marketID)
		if market, ok := req.Markets[marketID]; ok {
			symbol = market.DisplayName
		}
		positions = append(positions, &models.PositionSnapshot{
			PositionType: models.PositionPool,
			MarketID:     &marketID,
			Symbol:       symbol,
			Size:         held,
			USDValue:     held,
		})
	}

	assetValue := req.CapitalUSD.Sub(marketValue)
	if hedgeNotional.Sign() != 0 && req.Instrument != nil {
		instrumentID := req.Instrument.ID
		size := decimal.Zero
		if req.OraclePrice.Sign() > 0 {
			size = hedgeNotional.Div(req.OraclePrice)
		}
		positions = append(positions, &models.PositionSnapshot{
			PositionType: models.PositionHedge,
			InstrumentID: &instrumentID,
			Symbol:       req.Instrument.Ticker,
			Size:         size,
			USDValue:     hedgeNotional,
		})
	}
	if assetValue.Sign() > 0 {
		positions = append(positions, &models.PositionSnapshot{
			PositionType: models.PositionAsset,
			Symbol:       "USDC",
			Size:         assetValue,
			USDValue:     assetValue,
		})
	}

	pnl := decimal.Zero
	if req.PrevTotalUSD.Sign() > 0 {
		pnl = req.CapitalUSD.Sub(req.PrevTotalUSD)
	}

	runID := req.RunID
	snapshot := &models.PortfolioSnapshot{
		RunID:          &runID,
		Timestamp:      req.Instant,
		TotalValueUSD:  req.CapitalUSD,
		MarketValueUSD: marketValue,
		AssetValueUSD:  assetValue,
		HedgeValueUSD:  hedgeNotional,
		PnlUSD:         pnl,
	}

	return c.snapshots.CreateWithPositions(ctx, snapshot, positions)
}

// splitByAction separates capital-freeing withdrawals from
// capital-deploying deposits, preserving planner order
func splitByAction(trades []*models.Trade) (withdrawals, deposits []*models.Trade) {
	for _, trade := range trades {
		if trade.ActionType == models.ActionWithdrawal {
			withdrawals = append(withdrawals, trade)
		} else {
			deposits = append(deposits, trade)
		}
	}
	return withdrawals, deposits
}
