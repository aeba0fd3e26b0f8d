package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

func TestRequirementsForDeduplicatesIndexTokens(t *testing.T) {
	// Two markets share WETH as index token; the snapshot needs it once
	markets := []*models.Market{
		{ID: 1, IndexTokenID: 10},
		{ID: 2, IndexTokenID: 10},
		{ID: 3, IndexTokenID: 11},
	}
	instrument := &models.HedgeInstrument{ID: 5}

	req := requirementsFor(markets, instrument)

	assert.Equal(t, []int64{10, 11}, req.TokenIDs)
	assert.Equal(t, []int64{1, 2, 3}, req.MarketIDs)
	assert.Equal(t, []int64{5}, req.InstrumentIDs)
}

func TestMarketsByID(t *testing.T) {
	markets := []*models.Market{
		{ID: 1, DisplayName: "ETH/USD"},
		{ID: 2, DisplayName: "BTC/USD"},
	}

	byID := marketsByID(markets)
	require.Len(t, byID, 2)
	assert.Equal(t, "ETH/USD", byID[1].DisplayName)
	assert.Equal(t, "BTC/USD", byID[2].DisplayName)
}

func TestNewCycleWorkerRejectsMissingCollaborators(t *testing.T) {
	_, err := NewCycleWorker(&CycleWorkerConfig{})
	assert.Error(t, err)
}
