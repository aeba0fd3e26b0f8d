package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/observation"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCacheFromClient(client), mr
}

func TestRedisCacheSetGet(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	got, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	// Expired keys miss with redis.Nil
	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "key")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisCacheDel(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, cache.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, cache.Del(ctx, "a", "b"))

	_, err := cache.Get(ctx, "a")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestObservationCacheRoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	repo := NewObservationRepository(nil, cache)
	ctx := context.Background()

	ref := observation.EntityRef{Kind: observation.KindAssetToken, ID: 7}
	ts := time.Date(2026, 8, 1, 12, 3, 0, 0, time.UTC)
	obs := &observation.Observation{
		Entity:    ref,
		Timestamp: ts,
		TokenPrice: &models.TokenPrice{
			TokenID:   7,
			Timestamp: ts,
			MidPrice:  decimal.NewFromFloat(1234.56),
		},
	}

	key := "obs:asset_token:7:1"
	_, ok := repo.cacheGet(ctx, key)
	assert.False(t, ok, "cold cache misses")

	repo.cacheSet(ctx, key, obs)

	cached, ok := repo.cacheGet(ctx, key)
	require.True(t, ok)
	assert.Equal(t, ref, cached.Entity)
	assert.True(t, cached.Timestamp.Equal(ts))
	require.NotNil(t, cached.TokenPrice)
	assert.True(t, cached.TokenPrice.MidPrice.Equal(decimal.NewFromFloat(1234.56)))
	assert.Nil(t, cached.MarketState)
}

func TestObservationCacheDisabled(t *testing.T) {
	// A nil cache degrades to direct reads without panicking
	repo := NewObservationRepository(nil, nil)
	ctx := context.Background()

	_, ok := repo.cacheGet(ctx, "obs:asset_token:1:1")
	assert.False(t, ok)
	repo.cacheSet(ctx, "obs:asset_token:1:1", &observation.Observation{})
}
