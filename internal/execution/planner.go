package execution

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// PlanPoolTrades computes the minimal ordered trade list moving current
// pool holdings toward the run's targets. Capital-freeing withdrawals come
// before capital-deploying deposits so freed capital funds the deposits;
// within each group ordering is deterministic by market id. Deltas below
// minTradeUSD are skipped as dust. The hedge adjustment is planned
// separately, after pool trades settle.
func PlanPoolTrades(runID int64, instant time.Time, targets []*models.StrategyTarget, holdings map[int64]decimal.Decimal, capitalUSD, minTradeUSD decimal.Decimal) []*models.Trade {
	type delta struct {
		marketID int64
		usd      decimal.Decimal // positive = deposit, negative = withdrawal
	}

	deltas := make([]delta, 0, len(targets))
	targeted := make(map[int64]bool, len(targets))
	for _, target := range targets {
		targeted[target.MarketID] = true
		targetUSD := target.TargetWeight.Mul(capitalUSD)
		held := holdings[target.MarketID]
		deltas = append(deltas, delta{marketID: target.MarketID, usd: targetUSD.Sub(held)})
	}
	// Markets held but absent from the run's targets unwind fully
	for marketID, held := range holdings {
		if !targeted[marketID] && held.Sign() > 0 {
			deltas = append(deltas, delta{marketID: marketID, usd: held.Neg()})
		}
	}

	sort.Slice(deltas, func(i, j int) bool {
		// Withdrawals (negative) first, then by market id
		if (deltas[i].usd.Sign() < 0) != (deltas[j].usd.Sign() < 0) {
			return deltas[i].usd.Sign() < 0
		}
		return deltas[i].marketID < deltas[j].marketID
	})

	var trades []*models.Trade
	for _, d := range deltas {
		size := d.usd.Abs()
		if size.LessThan(minTradeUSD) {
			continue
		}

		action := models.ActionDeposit
		if d.usd.Sign() < 0 {
			action = models.ActionWithdrawal
		}

		marketID := d.marketID
		trades = append(trades, &models.Trade{
			Timestamp:  instant,
			RunID:      &runID,
			MarketID:   &marketID,
			ActionType: action,
			AmountIn:   size,
			USDValue:   size,
			FeeUSD:     decimal.Zero,
			Status:     models.TradePlanned,
		})
	}
	return trades
}

// PlanHedgeTrade sizes the hedge adjustment from realized pool holdings
// rather than the pre-execution target, so a partially executed run hedges
// what it actually holds. The desired notional is clamped to maxNotional,
// the largest position the reserved margin supports (non-positive means
// unbounded). Returns a nil trade when the adjustment is dust; desired is
// the notional the hedge should hold after the trade.
func PlanHedgeTrade(runID int64, instant time.Time, realized map[int64]decimal.Decimal, exposures map[int64]decimal.Decimal, currentHedgeNotional, minTradeUSD, maxNotional decimal.Decimal, instrument *models.HedgeInstrument) (trade *models.Trade, desired decimal.Decimal) {
	desired = decimal.Zero
	for marketID, held := range realized {
		desired = desired.Add(held.Mul(exposures[marketID]))
	}
	if maxNotional.Sign() > 0 && desired.Abs().GreaterThan(maxNotional) {
		if desired.Sign() < 0 {
			desired = maxNotional.Neg()
		} else {
			desired = maxNotional
		}
	}

	adjustment := desired.Sub(currentHedgeNotional)
	if adjustment.Abs().LessThan(minTradeUSD) {
		return nil, currentHedgeNotional
	}

	side := "buy"
	if adjustment.Sign() < 0 {
		side = "sell"
	}
	details := "hedge " + instrument.Ticker + " " + side

	return &models.Trade{
		Timestamp:  instant,
		RunID:      &runID,
		ActionType: models.ActionHedge,
		AmountIn:   adjustment.Abs(),
		USDValue:   adjustment.Abs(),
		FeeUSD:     decimal.Zero,
		Status:     models.TradePlanned,
		Details:    &details,
	}, desired
}
