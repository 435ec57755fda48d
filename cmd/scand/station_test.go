package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/config"
	"github.com/storeline/scan-station/internal/hid"
	"github.com/storeline/scan-station/internal/model"
	"github.com/storeline/scan-station/internal/scanner"
)

func testConfig(backend string, path string) *config.Config {
	return &config.Config{
		CacheBackend:      backend,
		CachePath:         path,
		CacheMaxEntries:   50,
		CacheTTLHours:     24,
		HardwareTimeoutMS: 100,
		DuplicateWindowMS: 500,
		SuccessDelayMS:    200,
		HintDelayMS:       8000,
		PayloadPrefix:     "SCN",
	}
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 8, 3, 7, 0, 0, 0, time.UTC))

	t.Run("sqlite snapshot survives reopen", func(t *testing.T) {
		cfg := testConfig(config.CacheBackendSQLite, filepath.Join(t.TempDir(), "cache", "scanner.sqlite"))

		offline, closer, err := openCache(ctx, cfg, clk, nil)
		require.NoError(t, err)
		offline.Put("4006381333931", "prod-5")
		require.NoError(t, offline.Flush(ctx))
		require.NoError(t, closer.Close())

		reopened, closer, err := openCache(ctx, cfg, clk, nil)
		require.NoError(t, err)
		defer closer.Close()
		entry, ok := reopened.Get("4006381333931")
		require.True(t, ok)
		assert.Equal(t, "prod-5", entry.ResolvedID)
	})

	t.Run("sqlite writes are flushed without an explicit flush", func(t *testing.T) {
		cfg := testConfig(config.CacheBackendSQLite, filepath.Join(t.TempDir(), "scanner.sqlite"))

		offline, closer, err := openCache(ctx, cfg, clk, nil)
		require.NoError(t, err)
		offline.Put("012345678905", "prod-9")
		clk.Advance(config.CacheFlushDelay)
		require.NoError(t, closer.Close())

		reopened, closer, err := openCache(ctx, cfg, clk, nil)
		require.NoError(t, err)
		defer closer.Close()
		entry, ok := reopened.Get("012345678905")
		require.True(t, ok)
		assert.Equal(t, "prod-9", entry.ResolvedID)
	})

	t.Run("memory backend", func(t *testing.T) {
		offline, closer, err := openCache(ctx, testConfig(config.CacheBackendMemory, ""), clk, nil)
		require.NoError(t, err)
		defer closer.Close()
		assert.Equal(t, 0, offline.Len())
	})

	t.Run("redis backend needs a client", func(t *testing.T) {
		_, _, err := openCache(ctx, testConfig(config.CacheBackendRedis, ""), clk, nil)
		assert.Error(t, err)
	})
}

func TestScanResult(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 3, 7, 0, 0, 0, time.UTC))
	opts := controllerOptions(testConfig(config.CacheBackendMemory, ""), clk)
	result := &scanResult{done: make(chan struct{})}
	opts.Listener = result

	ctrl := scanner.New(opts)
	defer ctrl.Close()
	_, err := ctrl.Open(scanner.Config{EnableHardwareInput: true})
	require.NoError(t, err)

	feed := keyFeed{ctrl}
	for _, r := range "SCN:1|type:bin|id:B-14" {
		feed.HandleKey(hid.KeyEvent{Key: string(r)})
	}
	feed.HandleKey(hid.KeyEvent{Key: hid.KeyEnter})
	clk.Advance(200 * time.Millisecond)

	select {
	case <-result.done:
	default:
		t.Fatal("session did not close after detection")
	}
	code, ok := result.code()
	require.True(t, ok)
	assert.Equal(t, model.CodeTypeQR, code.CodeType)
	assert.Equal(t, "B-14", code.StructuredPayload["id"])

	feed.HandleKey(hid.KeyEvent{Key: "x"})
}
