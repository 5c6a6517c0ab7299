package storage

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options selects and tunes the backing store.
type Options struct {
	DatabaseURL  string
	Migrate      bool
	RedisURL     string
	UnitCacheTTL time.Duration
}

// NewStore creates a postgres-backed store when configured, otherwise the
// seeded in-memory store. A Redis URL adds the unit listing cache on top.
func NewStore(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	var (
		base Store
		err  error
	)
	if strings.TrimSpace(opts.DatabaseURL) == "" {
		base = NewSeededStore()
	} else {
		base, err = NewPostgresStore(ctx, opts.DatabaseURL, opts.Migrate, logger)
		if err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(opts.RedisURL) == "" {
		return base, nil
	}
	rdb, err := NewRedisClient(ctx, opts.RedisURL)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	return NewCachedStore(base, rdb, opts.UnitCacheTTL, logger), nil
}
