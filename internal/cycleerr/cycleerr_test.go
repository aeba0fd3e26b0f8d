package cycleerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindDataUnavailable, KindOf(NewDataUnavailable("pool_market:1", "not yet")))
	assert.Equal(t, KindDataInconsistent, KindOf(NewDataInconsistent("pool_market:1", "stale")))
	assert.Equal(t, KindSolverNonConvergence, KindOf(NewSolverNonConvergence("infeasible", nil)))
	assert.Equal(t, KindExecutionFailure, KindOf(NewExecutionFailure(42, errors.New("rejected"))))
	assert.Equal(t, KindPersistenceFailure, KindOf(NewPersistenceFailure("insert trade", errors.New("down"))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindOfWrapped(t *testing.T) {
	inner := NewDataUnavailable("asset_token:3", "not yet")
	wrapped := fmt.Errorf("align failed: %w", inner)
	assert.Equal(t, KindDataUnavailable, KindOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewDataUnavailable("pool_market:1", "not yet")))
	assert.False(t, IsRetryable(NewDataInconsistent("pool_market:1", "stale")))
	assert.False(t, IsRetryable(NewExecutionFailure(1, errors.New("rejected"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewDataInconsistent("pool_market:1", "stale")))
	assert.True(t, IsFatal(NewSolverNonConvergence("infeasible", nil)))
	assert.True(t, IsFatal(NewPersistenceFailure("insert run", errors.New("down"))))

	// Waiting out ingestion and single-trade failures are not review-worthy
	assert.False(t, IsFatal(NewDataUnavailable("pool_market:1", "not yet")))
	assert.False(t, IsFatal(NewExecutionFailure(1, errors.New("rejected"))))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewPersistenceFailure("insert trade", cause)

	assert.Contains(t, err.Error(), "persistence_failure")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)

	bare := NewDataUnavailable("pool_market:1", "not yet")
	assert.Contains(t, bare.Error(), "data_unavailable")
	require.NotNil(t, bare.Details)
	assert.Equal(t, "pool_market:1", bare.Details["entity"])
}
