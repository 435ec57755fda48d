package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("durations convert their units", func(t *testing.T) {
		cfg := &Config{
			CacheTTLHours:        168,
			HardwareTimeoutMS:    100,
			DuplicateWindowMS:    500,
			SuccessDelayMS:       200,
			HintDelayMS:          8000,
			HistoryRetentionDays: 30,
		}
		assert.Equal(t, 7*24*time.Hour, cfg.CacheTTL())
		assert.Equal(t, 100*time.Millisecond, cfg.HardwareTimeout())
		assert.Equal(t, 500*time.Millisecond, cfg.DuplicateWindow())
		assert.Equal(t, 200*time.Millisecond, cfg.SuccessDelay())
		assert.Equal(t, 8*time.Second, cfg.HintDelay())
		assert.Equal(t, 30*24*time.Hour, cfg.HistoryRetention())
	})

	t.Run("HistoryEnabled follows DATABASE_URL", func(t *testing.T) {
		assert.False(t, (&Config{}).HistoryEnabled())
		assert.True(t, (&Config{DatabaseURL: "postgres://localhost/scans"}).HistoryEnabled())
	})
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		for _, name := range []string{"PORT", "STATION_ID", "DATABASE_URL", "REDIS_URL", "CACHE_BACKEND", "CAMERA_DEVICES", "LOG_LEVEL"} {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "scanner-cache.sqlite", cfg.CachePath)
		assert.Equal(t, 500, cfg.CacheMaxEntries)
		assert.Equal(t, 168, cfg.CacheTTLHours)
		assert.Equal(t, 100, cfg.HardwareTimeoutMS)
		assert.Equal(t, 500, cfg.DuplicateWindowMS)
		assert.Equal(t, 200, cfg.SuccessDelayMS)
		assert.Equal(t, 8000, cfg.HintDelayMS)
		assert.Equal(t, "SCN", cfg.PayloadPrefix)
		assert.Equal(t, 30, cfg.HistoryRetentionDays)
		assert.Equal(t, 1200, cfg.DecodeRateLimit)
		assert.Empty(t, cfg.CameraDevices)
	})

	t.Run("loads custom values", func(t *testing.T) {
		t.Setenv("PORT", "3000")
		t.Setenv("STATION_ID", "till-4")
		t.Setenv("CACHE_BACKEND", "redis")
		t.Setenv("REDIS_URL", "redis://localhost:6379")
		t.Setenv("CAMERA_DEVICES", "usb-1=Counter,usb-2=Back Camera")
		t.Setenv("DUPLICATE_WINDOW_MS", "750")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "till-4", cfg.StationID)
		assert.Equal(t, "redis", cfg.CacheBackend)
		assert.Equal(t, []string{"usb-1=Counter", "usb-2=Back Camera"}, cfg.CameraDevices)
		assert.Equal(t, 750*time.Millisecond, cfg.DuplicateWindow())
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("rejects malformed numbers", func(t *testing.T) {
		t.Setenv("CACHE_MAX_ENTRIES", "lots")

		_, err := Load()
		assert.Error(t, err)
	})
}

func validConfig() *Config {
	return &Config{
		StationID:         "default",
		CacheBackend:      CacheBackendSQLite,
		CachePath:         "scanner-cache.sqlite",
		CacheMaxEntries:   500,
		CacheTTLHours:     168,
		HardwareTimeoutMS: 100,
		DuplicateWindowMS: 500,
		SuccessDelayMS:    200,
		HintDelayMS:       8000,
		DecodeRateLimit:   1200,
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("normalizes backend case", func(t *testing.T) {
		cfg := validConfig()
		cfg.CacheBackend = " Memory "
		require.NoError(t, cfg.Validate())
		assert.Equal(t, CacheBackendMemory, cfg.CacheBackend)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.CacheBackend = "etcd" }},
		{"redis backend without url", func(c *Config) { c.CacheBackend = CacheBackendRedis }},
		{"sqlite backend without path", func(c *Config) { c.CachePath = "" }},
		{"empty station", func(c *Config) { c.StationID = "" }},
		{"zero duplicate window", func(c *Config) { c.DuplicateWindowMS = 0 }},
		{"negative cache size", func(c *Config) { c.CacheMaxEntries = -1 }},
		{"zero decode rate limit", func(c *Config) { c.DecodeRateLimit = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
