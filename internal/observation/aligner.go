package observation

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/cycleerr"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
)

// Requirements names the entities a snapshot must cover
type Requirements struct {
	TokenIDs      []int64
	MarketIDs     []int64
	InstrumentIDs []int64
}

// entities returns the required refs in deterministic order
func (r Requirements) entities() []EntityRef {
	refs := make([]EntityRef, 0, len(r.TokenIDs)+len(r.MarketIDs)+len(r.InstrumentIDs))
	for _, id := range r.TokenIDs {
		refs = append(refs, EntityRef{Kind: KindAssetToken, ID: id})
	}
	for _, id := range r.MarketIDs {
		refs = append(refs, EntityRef{Kind: KindPoolMarket, ID: id})
	}
	for _, id := range r.InstrumentIDs {
		refs = append(refs, EntityRef{Kind: KindHedgeInstrument, ID: id})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	return refs
}

// AlignedSet is one temporally coherent cross-market observation: for every
// required entity, the earliest observation strictly after the reference
// instant
type AlignedSet struct {
	Instant      time.Time
	TokenPrices  map[int64]*Observation
	MarketStates map[int64]*Observation
	PerpStates   map[int64]*Observation
	Order        []EntityRef
}

// Aligner produces aligned observation sets from a Source. The operation is
// read-only and side-effect free.
type Aligner struct {
	source  Source
	limiter *rate.Limiter
}

// NewAligner creates an aligner. The limiter bounds concurrent fetch rate
// across entities; pass nil to fetch unthrottled.
func NewAligner(source Source, limiter *rate.Limiter) *Aligner {
	return &Aligner{source: source, limiter: limiter}
}

type fetchResult struct {
	ref EntityRef
	obs *Observation
	err error
}

// Align returns, per required entity, the earliest observation with
// timestamp strictly greater than instant. If any entity lacks a qualifying
// observation the whole batch fails with DataUnavailable; no partial or
// stale-filled snapshot is ever returned.
func (a *Aligner) Align(ctx context.Context, instant time.Time, req Requirements) (*AlignedSet, error) {
	logger := logging.FromContext(ctx)
	refs := req.entities()

	results := make(chan fetchResult, len(refs))
	var wg sync.WaitGroup

	for _, ref := range refs {
		wg.Add(1)
		go func(ref EntityRef) {
			defer wg.Done()
			if a.limiter != nil {
				if err := a.limiter.Wait(ctx); err != nil {
					results <- fetchResult{ref: ref, err: err}
					return
				}
			}
			obs, err := a.source.LatestOrAfter(ctx, ref, instant)
			results <- fetchResult{ref: ref, obs: obs, err: err}
		}(ref)
	}

	wg.Wait()
	close(results)

	byRef := make(map[EntityRef]*Observation, len(refs))
	for res := range results {
		if res.err != nil {
			if res.err == ErrNotYetAvailable {
				logger.WithField("entity", res.ref.String()).Debug("No qualifying observation yet")
				return nil, cycleerr.NewDataUnavailable(res.ref.String(),
					"no observation strictly after reference instant")
			}
			return nil, res.err
		}
		if err := a.validate(instant, res.ref, res.obs); err != nil {
			return nil, err
		}
		byRef[res.ref] = res.obs
	}

	set := &AlignedSet{
		Instant:      instant,
		TokenPrices:  make(map[int64]*Observation),
		MarketStates: make(map[int64]*Observation),
		PerpStates:   make(map[int64]*Observation),
		Order:        refs,
	}
	for _, ref := range refs {
		obs := byRef[ref]
		switch ref.Kind {
		case KindAssetToken:
			set.TokenPrices[ref.ID] = obs
		case KindPoolMarket:
			set.MarketStates[ref.ID] = obs
		case KindHedgeInstrument:
			set.PerpStates[ref.ID] = obs
		}
	}

	return set, nil
}

// validate enforces the strictly-after invariant and the variant tag.
// A source handing back an observation at or before the instant is a
// consistency violation, never silently patched.
func (a *Aligner) validate(instant time.Time, ref EntityRef, obs *Observation) error {
	if obs == nil {
		return cycleerr.NewDataInconsistent(ref.String(), "source returned nil observation without error")
	}
	if !obs.Timestamp.After(instant) {
		return cycleerr.NewDataInconsistent(ref.String(),
			"observation timestamp not strictly after reference instant")
	}
	if obs.Entity != ref {
		return cycleerr.NewDataInconsistent(ref.String(), "observation entity does not match request")
	}
	switch ref.Kind {
	case KindAssetToken:
		if obs.TokenPrice == nil {
			return cycleerr.NewDataInconsistent(ref.String(), "missing token price payload")
		}
	case KindPoolMarket:
		if obs.MarketState == nil {
			return cycleerr.NewDataInconsistent(ref.String(), "missing market state payload")
		}
	case KindHedgeInstrument:
		if obs.PerpState == nil {
			return cycleerr.NewDataInconsistent(ref.String(), "missing perp state payload")
		}
	}
	return nil
}
