package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingStore struct {
	Store
	listings atomic.Int32
}

func (c *countingStore) AvailableUnits(ctx context.Context, size string) ([]Unit, error) {
	c.listings.Add(1)
	return c.Store.AvailableUnits(ctx, size)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

func TestCachedStoreServesRepeatListingsFromRedis(t *testing.T) {
	mr, rdb := setupRedis(t)
	inner := &countingStore{Store: NewSeededStore()}
	s := NewCachedStore(inner, rdb, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := s.AvailableUnits(ctx, "10x10")
	require.NoError(t, err)
	second, err := s.AvailableUnits(ctx, "10X10")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.listings.Load())
	assert.True(t, mr.Exists("units:available:10x10"))

	_, err = s.AvailableUnits(ctx, "")
	require.NoError(t, err)
	assert.True(t, mr.Exists("units:available:all"))
	assert.Equal(t, int32(2), inner.listings.Load())
}

func TestCachedStoreEntriesExpire(t *testing.T) {
	mr, rdb := setupRedis(t)
	inner := &countingStore{Store: NewSeededStore()}
	s := NewCachedStore(inner, rdb, 30*time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := s.AvailableUnits(ctx, "5x5")
	require.NoError(t, err)
	mr.FastForward(31 * time.Second)
	_, err = s.AvailableUnits(ctx, "5x5")
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.listings.Load())
}

func TestCachedStoreTransitionInvalidatesListings(t *testing.T) {
	mr, rdb := setupRedis(t)
	s := NewCachedStore(NewSeededStore(), rdb, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	before, err := s.AvailableUnits(ctx, "")
	require.NoError(t, err)
	require.Len(t, before, 2)
	_, err = s.AvailableUnits(ctx, "10x10")
	require.NoError(t, err)

	r, err := s.CreateReservation(ctx, ReservationRequest{UnitID: "B202", CustomerPhone: "+15550100", DurationMonths: 2})
	require.NoError(t, err)
	_, err = s.TransitionReservation(ctx, r.ReservationID, ActionConfirm)
	require.NoError(t, err)

	assert.False(t, mr.Exists("units:available:all"))
	assert.False(t, mr.Exists("units:available:10x10"))

	after, err := s.AvailableUnits(ctx, "")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "A101", after[0].UnitID)
}

func TestCachedStoreFallsThroughWhenRedisIsDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	inner := &countingStore{Store: NewSeededStore()}
	s := NewCachedStore(inner, rdb, time.Minute, zaptest.NewLogger(t))
	mr.Close()

	units, err := s.AvailableUnits(context.Background(), "5x5")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "A101", units[0].UnitID)
	assert.Error(t, s.Ping(context.Background()))
}

func TestCachedStoreConcurrentMisses(t *testing.T) {
	_, rdb := setupRedis(t)
	inner := &countingStore{Store: NewSeededStore()}
	s := NewCachedStore(inner, rdb, time.Minute, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			units, err := s.AvailableUnits(context.Background(), "")
			assert.NoError(t, err)
			assert.Len(t, units, 2)
		}()
	}
	wg.Wait()

	// Misses that overlap are collapsed; later ones are served from Redis.
	assert.LessOrEqual(t, inner.listings.Load(), int32(16))
	assert.GreaterOrEqual(t, inner.listings.Load(), int32(1))
}

func TestUnitCacheKey(t *testing.T) {
	assert.Equal(t, "units:available:all", unitCacheKey("  "))
	assert.Equal(t, "units:available:10x15", unitCacheKey(" 10X15"))
}
