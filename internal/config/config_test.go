package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Execution.Mode)
	assert.Equal(t, 100000.0, cfg.Execution.InitialCapitalUSD)
	assert.Equal(t, 2.0, cfg.Strategy.RiskAversion)
	assert.Equal(t, 0.15, cfg.Strategy.HedgeReserve)
	assert.Equal(t, 72*time.Hour, cfg.Strategy.LookbackWindow)
	assert.Equal(t, time.Hour, cfg.Worker.CycleInterval)
	assert.Equal(t, "8080", cfg.Ops.Port)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STRATEGY_RISK_AVERSION", "3.5")
	t.Setenv("STRATEGY_LOOKBACK_WINDOW", "24h")
	t.Setenv("EXECUTION_MODE", "live")
	t.Setenv("WORKER_CYCLE_INTERVAL", "30m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3.5, cfg.Strategy.RiskAversion)
	assert.Equal(t, 24*time.Hour, cfg.Strategy.LookbackWindow)
	assert.Equal(t, "live", cfg.Execution.Mode)
	assert.Equal(t, 30*time.Minute, cfg.Worker.CycleInterval)
}

func TestLoadConfigMalformedValuesFallBack(t *testing.T) {
	t.Setenv("STRATEGY_MAX_ITERATIONS", "not-a-number")
	t.Setenv("WORKER_FETCH_DEADLINE", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Strategy.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.Worker.FetchDeadline)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("hedge reserve out of range", func(t *testing.T) {
		t.Setenv("STRATEGY_HEDGE_RESERVE", "1.0")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("concentration cap out of range", func(t *testing.T) {
		t.Setenv("STRATEGY_CONCENTRATION_CAP", "1.5")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("non-positive turnover cap", func(t *testing.T) {
		t.Setenv("STRATEGY_TURNOVER_CAP", "0")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("negative risk aversion", func(t *testing.T) {
		t.Setenv("STRATEGY_RISK_AVERSION", "-1")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("unknown execution mode", func(t *testing.T) {
		t.Setenv("EXECUTION_MODE", "dry-run")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("max attempts below one", func(t *testing.T) {
		t.Setenv("EXECUTION_MAX_ATTEMPTS", "0")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
