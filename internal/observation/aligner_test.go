package observation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// fakeSource serves observations from memory, honoring the earliest
// strictly-after contract
type fakeSource struct {
	mu  sync.Mutex
	obs map[EntityRef][]*Observation

	// override, when set, replaces the lookup for one entity
	override map[EntityRef]func() (*Observation, error)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		obs:      make(map[EntityRef][]*Observation),
		override: make(map[EntityRef]func() (*Observation, error)),
	}
}

func (s *fakeSource) add(ref EntityRef, ts time.Time) {
	obs := &Observation{Entity: ref, Timestamp: ts}
	switch ref.Kind {
	case KindAssetToken:
		obs.TokenPrice = &models.TokenPrice{TokenID: ref.ID, Timestamp: ts, MidPrice: decimal.NewFromInt(100)}
	case KindPoolMarket:
		obs.MarketState = &models.MarketState{MarketID: ref.ID, Timestamp: ts}
	case KindHedgeInstrument:
		obs.PerpState = &models.PerpState{InstrumentID: ref.ID, Timestamp: ts}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs[ref] = append(s.obs[ref], obs)
}

func (s *fakeSource) LatestOrAfter(ctx context.Context, entity EntityRef, ts time.Time) (*Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fn, ok := s.override[entity]; ok {
		return fn()
	}

	var earliest *Observation
	for _, obs := range s.obs[entity] {
		if !obs.Timestamp.After(ts) {
			continue
		}
		if earliest == nil || obs.Timestamp.Before(earliest.Timestamp) {
			earliest = obs
		}
	}
	if earliest == nil {
		return nil, ErrNotYetAvailable
	}
	return earliest, nil
}

func TestAlignPicksEarliestStrictlyAfter(t *testing.T) {
	instant := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	ref := EntityRef{Kind: KindAssetToken, ID: 1}

	// T-5m is stale, T+3m and T+9m qualify; the earliest qualifying wins
	source.add(ref, instant.Add(-5*time.Minute))
	source.add(ref, instant.Add(9*time.Minute))
	source.add(ref, instant.Add(3*time.Minute))

	aligner := NewAligner(source, nil)
	set, err := aligner.Align(context.Background(), instant, Requirements{TokenIDs: []int64{1}})
	require.NoError(t, err)

	obs := set.TokenPrices[1]
	require.NotNil(t, obs)
	assert.Equal(t, instant.Add(3*time.Minute), obs.Timestamp)
}

func TestAlignWholeBatchFailsWhenAnyEntityLags(t *testing.T) {
	instant := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	source.add(EntityRef{Kind: KindPoolMarket, ID: 1}, instant.Add(time.Minute))
	// Market 2 has only a stale observation
	source.add(EntityRef{Kind: KindPoolMarket, ID: 2}, instant.Add(-time.Minute))

	aligner := NewAligner(source, nil)
	set, err := aligner.Align(context.Background(), instant, Requirements{MarketIDs: []int64{1, 2}})

	require.Error(t, err)
	assert.Nil(t, set, "no partial snapshot is ever returned")
	assert.Equal(t, cycleerr.KindDataUnavailable, cycleerr.KindOf(err))
}

func TestAlignRejectsNonStrictlyAfterObservation(t *testing.T) {
	instant := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	ref := EntityRef{Kind: KindPoolMarket, ID: 1}

	// A source handing back an observation at exactly the instant violates
	// the ordering contract
	source.override[ref] = func() (*Observation, error) {
		return &Observation{
			Entity:      ref,
			Timestamp:   instant,
			MarketState: &models.MarketState{MarketID: 1, Timestamp: instant},
		}, nil
	}

	aligner := NewAligner(source, nil)
	_, err := aligner.Align(context.Background(), instant, Requirements{MarketIDs: []int64{1}})

	require.Error(t, err)
	assert.Equal(t, cycleerr.KindDataInconsistent, cycleerr.KindOf(err))
}

func TestAlignRejectsMissingPayload(t *testing.T) {
	instant := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	ref := EntityRef{Kind: KindPoolMarket, ID: 1}

	source.override[ref] = func() (*Observation, error) {
		// Tagged as a market but missing the market state variant
		return &Observation{Entity: ref, Timestamp: instant.Add(time.Minute)}, nil
	}

	aligner := NewAligner(source, nil)
	_, err := aligner.Align(context.Background(), instant, Requirements{MarketIDs: []int64{1}})

	require.Error(t, err)
	assert.Equal(t, cycleerr.KindDataInconsistent, cycleerr.KindOf(err))
}

func TestAlignOrderDeterministic(t *testing.T) {
	instant := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	refs := []EntityRef{
		{Kind: KindAssetToken, ID: 2},
		{Kind: KindAssetToken, ID: 7},
		{Kind: KindPoolMarket, ID: 1},
		{Kind: KindPoolMarket, ID: 5},
		{Kind: KindHedgeInstrument, ID: 3},
	}
	for _, ref := range refs {
		source.add(ref, instant.Add(time.Minute))
	}

	aligner := NewAligner(source, nil)

	// Requirements listed out of order still come back tokens, markets,
	// instrument, each ascending by id
	set, err := aligner.Align(context.Background(), instant, Requirements{
		TokenIDs:      []int64{7, 2},
		MarketIDs:     []int64{5, 1},
		InstrumentIDs: []int64{3},
	})
	require.NoError(t, err)
	assert.Equal(t, refs, set.Order)
}

func TestAlignEarliestAfterProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	instant := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ref := EntityRef{Kind: KindAssetToken, ID: 1}

	properties.Property("align returns the minimal strictly-after offset or fails", prop.ForAll(
		func(offsets []int64) bool {
			source := newFakeSource()
			var minPositive int64
			for _, offset := range offsets {
				if offset == 0 {
					continue
				}
				source.add(ref, instant.Add(time.Duration(offset)*time.Second))
				if offset > 0 && (minPositive == 0 || offset < minPositive) {
					minPositive = offset
				}
			}

			aligner := NewAligner(source, nil)
			set, err := aligner.Align(context.Background(), instant, Requirements{TokenIDs: []int64{1}})

			if minPositive == 0 {
				return err != nil && cycleerr.KindOf(err) == cycleerr.KindDataUnavailable
			}
			if err != nil {
				return false
			}
			return set.TokenPrices[1].Timestamp.Equal(instant.Add(time.Duration(minPositive) * time.Second))
		},
		gen.SliceOf(gen.Int64Range(-600, 600)),
	))

	properties.TestingRun(t)
}
