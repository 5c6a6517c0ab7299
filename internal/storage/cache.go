package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	unitCachePrefix     = "units:available:"
	defaultUnitCacheTTL = 30 * time.Second
)

// CachedStore is a cache-aside decorator that keeps available-unit listings
// in Redis. Reservation transitions change availability, so they drop every
// cached listing. Redis failures fall through to the wrapped store.
type CachedStore struct {
	Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = defaultUnitCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		Store:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.Named("unit_cache"),
	}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func unitCacheKey(size string) string {
	size = strings.ToLower(strings.TrimSpace(size))
	if size == "" {
		size = "all"
	}
	return unitCachePrefix + size
}

func (s *CachedStore) AvailableUnits(ctx context.Context, size string) ([]Unit, error) {
	key := unitCacheKey(size)

	cached, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var units []Unit
		if jerr := json.Unmarshal([]byte(cached), &units); jerr == nil {
			return units, nil
		}
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("unit cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		units, err := s.Store.AvailableUnits(ctx, size)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(units)
		if err == nil {
			if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
				s.logger.Warn("unit cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return units, nil
	})
	if err != nil {
		return nil, err
	}
	units := v.([]Unit)
	out := make([]Unit, len(units))
	for i, u := range units {
		out[i] = cloneUnit(u)
	}
	return out, nil
}

func (s *CachedStore) TransitionReservation(ctx context.Context, reservationID string, a Action) (Reservation, error) {
	r, err := s.Store.TransitionReservation(ctx, reservationID, a)
	if err != nil {
		return Reservation{}, err
	}
	s.invalidate(ctx)
	return r, nil
}

// invalidate drops every cached listing.
func (s *CachedStore) invalidate(ctx context.Context) {
	iter := s.rdb.Scan(ctx, 0, unitCachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("unit cache scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("unit cache invalidate failed", zap.Error(err))
	}
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return err
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *CachedStore) Close() error {
	return errors.Join(s.Store.Close(), s.rdb.Close())
}
