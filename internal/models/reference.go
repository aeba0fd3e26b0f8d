// Package models defines the domain entities persisted by the run ledger
// and read from the observation store.
package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// Token is immutable reference data for an asset token
type Token struct {
	ID       int64          `json:"id" db:"id"`
	Address  common.Address `json:"address" db:"address"`
	Symbol   string         `json:"symbol" db:"symbol"`
	Decimals int            `json:"decimals" db:"decimals"`
}

// Market is a liquidity pool backing synthetic perpetual trading. Identity
// is the globally unique pool address; the token triple is immutable.
type Market struct {
	ID           int64          `json:"id" db:"id"`
	Address      common.Address `json:"address" db:"address"`
	IndexTokenID int64          `json:"indexTokenId" db:"index_token_id"`
	LongTokenID  int64          `json:"longTokenId" db:"long_token_id"`
	ShortTokenID int64          `json:"shortTokenId" db:"short_token_id"`
	DisplayName  string         `json:"displayName" db:"display_name"`
}

// HedgeInstrument is an exchange-traded perpetual contract used to offset
// directional exposure from pool deposits
type HedgeInstrument struct {
	ID     int64  `json:"id" db:"id"`
	Ticker string `json:"ticker" db:"ticker"`
}

// Hedge tickers quote against USD; wrapped and staked variants map to the
// underlying.
var hedgeTickerMap = map[string]string{
	"WETH":   "ETH",
	"wstETH": "ETH",
	"WBTC.b": "BTC",
	"tBTC":   "BTC",
}

// StableSymbols lists collateral symbols treated as cash-equivalent
var StableSymbols = []string{"USDC", "USDT", "USDC.e", "USDe", "DAI"}

// IsStable reports whether a token symbol is cash-equivalent collateral
func IsStable(symbol string) bool {
	for _, s := range StableSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// HedgeTicker maps a token symbol to its perp ticker, e.g. WETH -> ETH-USD
func HedgeTicker(tokenSymbol string) string {
	base := tokenSymbol
	if mapped, ok := hedgeTickerMap[tokenSymbol]; ok {
		base = mapped
	}
	return base + "-USD"
}
