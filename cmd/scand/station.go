package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/cache"
	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/code"
	"github.com/storeline/scan-station/internal/config"
	"github.com/storeline/scan-station/internal/database"
	"github.com/storeline/scan-station/internal/hid"
	"github.com/storeline/scan-station/internal/redis"
	"github.com/storeline/scan-station/internal/repository"
	"github.com/storeline/scan-station/internal/scanner"
)

// openCache builds the offline cache on the configured backend and loads its
// persisted snapshot. The returned closer releases the backend.
func openCache(ctx context.Context, cfg *config.Config, clk clock.Clock, redisClient *redis.Client) (*cache.Cache, io.Closer, error) {
	var (
		store  cache.Store
		closer io.Closer = nopCloser{}
	)

	switch cfg.CacheBackend {
	case config.CacheBackendSQLite:
		db, err := database.OpenSQLite(ctx, cfg.CachePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache database: %w", err)
		}
		store, closer = repository.NewKVStore(db.DB), db
	case config.CacheBackendRedis:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("cache backend redis needs a redis client")
		}
		store = redis.NewCacheStore(redisClient)
	}

	offline := cache.New(cache.Options{
		MaxEntries: cfg.CacheMaxEntries,
		TTL:        cfg.CacheTTL(),
		Clock:      clk,
		Store:      store,
		FlushDelay: config.CacheFlushDelay,
	})
	if err := offline.Load(ctx); err != nil {
		log.Warn().Err(err).Str("backend", cfg.CacheBackend).Msg("failed to load offline cache, starting empty")
	}

	log.Info().
		Str("backend", cfg.CacheBackend).
		Int("entries", offline.Len()).
		Msg("offline cache ready")
	return offline, closer, nil
}

// controllerOptions maps configuration onto the scan session controller.
func controllerOptions(cfg *config.Config, clk clock.Clock) scanner.Options {
	return scanner.Options{
		Clock:    clk,
		Hardware: hid.NewChannel(clk, cfg.HardwareTimeout()),
		Parser:   code.NewParser(cfg.PayloadPrefix),
		Timings: scanner.Timings{
			DuplicateWindow: cfg.DuplicateWindow(),
			SuccessDelay:    cfg.SuccessDelay(),
			HintDelay:       cfg.HintDelay(),
		},
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
