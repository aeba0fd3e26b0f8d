// Package execution turns a committed run's targets into ordered trades,
// drives them to terminal state, and records the realized outcome.
package execution

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
)

// PendingHandle identifies a submitted trade at the venue
type PendingHandle struct {
	TradeID int64
	Ref     string
}

// VenueState is the settlement state of a submitted trade
type VenueState string

const (
	VenuePending   VenueState = "pending"
	VenueConfirmed VenueState = "confirmed"
	VenueFailed    VenueState = "failed"
)

// VenueStatus is a poll result. TxRef is set on confirmation, Reason on
// failure.
type VenueStatus struct {
	State     VenueState
	TxRef     string
	AmountOut decimal.Decimal
	Reason    string
}

// Venue is the execution collaborator contract: submit a trade, then poll
// its handle until it confirms or fails
type Venue interface {
	Submit(ctx context.Context, trade *models.Trade) (PendingHandle, error)
	Poll(ctx context.Context, handle PendingHandle) (VenueStatus, error)
}

// PaperVenue simulates execution for paper-trading mode. Every submission
// is accepted and confirms on the first poll at full size with a synthetic
// transaction reference. FailFunc can be set to inject failures.
type PaperVenue struct {
	mu      sync.Mutex
	pending map[string]*models.Trade

	// FailFunc, when set, is consulted per poll; returning a non-empty
	// reason fails the trade
	FailFunc func(trade *models.Trade) string
}

// NewPaperVenue creates a paper venue
func NewPaperVenue() *PaperVenue {
	return &PaperVenue{pending: make(map[string]*models.Trade)}
}

// Submit accepts the trade and returns a handle
func (v *PaperVenue) Submit(ctx context.Context, trade *models.Trade) (PendingHandle, error) {
	ref := uuid.New().String()

	v.mu.Lock()
	v.pending[ref] = trade
	v.mu.Unlock()

	return PendingHandle{TradeID: trade.ID, Ref: ref}, nil
}

// Poll resolves the handle. Paper fills settle immediately at the planned
// size with zero slippage.
func (v *PaperVenue) Poll(ctx context.Context, handle PendingHandle) (VenueStatus, error) {
	v.mu.Lock()
	trade, ok := v.pending[handle.Ref]
	if ok {
		delete(v.pending, handle.Ref)
	}
	v.mu.Unlock()

	if !ok {
		return VenueStatus{State: VenueFailed, Reason: "unknown handle"}, nil
	}

	if v.FailFunc != nil {
		if reason := v.FailFunc(trade); reason != "" {
			return VenueStatus{State: VenueFailed, Reason: reason}, nil
		}
	}

	return VenueStatus{
		State:     VenueConfirmed,
		TxRef:     "paper-" + handle.Ref,
		AmountOut: trade.AmountIn,
	}, nil
}
