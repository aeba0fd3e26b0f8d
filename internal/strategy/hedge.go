package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// SizeHedge sizes the perp position that offsets the net directional
// exposure left by the chosen market weights. A net-long trader book makes
// the pool short the index, so the hedge goes long, and vice versa. The
// notional is bounded by what the reserved margin supports at the
// instrument's initial margin fraction.
func SizeHedge(inputs *Inputs, weights map[int64]float64, hedgeReserve float64) *models.HedgeInstruction {
	instruction := &models.HedgeInstruction{
		InstrumentID: inputs.Instrument.ID,
		Ticker:       inputs.Instrument.Ticker,
		NotionalUSD:  decimal.Zero,
		Size:         decimal.Zero,
	}

	if inputs.Hedge == nil || inputs.Hedge.OraclePrice.Sign() <= 0 {
		return instruction
	}

	exposure := decimal.Zero
	for _, slice := range inputs.Markets {
		w := decimal.NewFromFloat(weights[slice.Market.ID])
		exposure = exposure.Add(w.Mul(slice.NetOIExposure()))
	}

	notional := exposure.Mul(inputs.CapitalUSD)

	// Clamp to the notional the reserved margin can carry
	maxNotional := MaxHedgeNotional(inputs.CapitalUSD, hedgeReserve, inputs.Hedge.InitialMarginFraction)
	if maxNotional.Sign() > 0 && notional.Abs().GreaterThan(maxNotional) {
		if notional.Sign() < 0 {
			notional = maxNotional.Neg()
		} else {
			notional = maxNotional
		}
	}

	instruction.NotionalUSD = notional
	instruction.Size = notional.Div(inputs.Hedge.OraclePrice)
	return instruction
}

// MaxHedgeNotional is the largest hedge notional the reserved margin
// fraction of capital supports at the instrument's initial margin
// fraction. Zero means unbounded (no margin requirement reported).
func MaxHedgeNotional(capitalUSD decimal.Decimal, hedgeReserve float64, initialMarginFraction decimal.Decimal) decimal.Decimal {
	if initialMarginFraction.Sign() <= 0 {
		return decimal.Zero
	}
	return capitalUSD.Mul(decimal.NewFromFloat(hedgeReserve)).Div(initialMarginFraction)
}
