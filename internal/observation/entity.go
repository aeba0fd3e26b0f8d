// Package observation provides temporally coherent cross-market snapshots.
// Ingestion collaborators append observations; this package only reads.
package observation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// ErrNotYetAvailable is returned by a Source when an entity has no
// observation at or after the requested instant
var ErrNotYetAvailable = errors.New("observation not yet available")

// EntityKind is the closed set of observable entity kinds
type EntityKind string

const (
	KindAssetToken      EntityKind = "asset_token"
	KindPoolMarket      EntityKind = "pool_market"
	KindHedgeInstrument EntityKind = "hedge_instrument"
)

// kindOrder fixes the deterministic iteration order across kinds
var kindOrder = map[EntityKind]int{
	KindAssetToken:      0,
	KindPoolMarket:      1,
	KindHedgeInstrument: 2,
}

// EntityRef identifies one observable entity
type EntityRef struct {
	Kind EntityKind
	ID   int64
}

// String returns a stable key, e.g. "pool_market:3"
func (e EntityRef) String() string {
	return fmt.Sprintf("%s:%d", e.Kind, e.ID)
}

// Less orders refs by kind then id ascending; ties on equal observation
// timestamps resolve in this order
func (e EntityRef) Less(other EntityRef) bool {
	if e.Kind != other.Kind {
		return kindOrder[e.Kind] < kindOrder[other.Kind]
	}
	return e.ID < other.ID
}

// Observation is a tagged variant over the entity kinds. Exactly one of
// the payload fields is set, matching Entity.Kind.
type Observation struct {
	Entity      EntityRef
	Timestamp   time.Time
	TokenPrice  *models.TokenPrice
	MarketState *models.MarketState
	PerpState   *models.PerpState
}

// Source is the read contract implemented by observation storage.
// LatestOrAfter returns the earliest observation with timestamp strictly
// greater than ts, or ErrNotYetAvailable.
type Source interface {
	LatestOrAfter(ctx context.Context, entity EntityRef, ts time.Time) (*Observation, error)
}
