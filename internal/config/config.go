package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/util"
)

const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

var cacheBackends = []string{CacheBackendSQLite, CacheBackendRedis, CacheBackendMemory}

type Config struct {
	Port                 int      `env:"PORT" envDefault:"8080"`
	StationID            string   `env:"STATION_ID" envDefault:"default"`
	DatabaseURL          string   `env:"DATABASE_URL"`
	RedisURL             string   `env:"REDIS_URL"`
	CacheBackend         string   `env:"CACHE_BACKEND" envDefault:"sqlite"`
	CachePath            string   `env:"CACHE_PATH" envDefault:"scanner-cache.sqlite"`
	CacheMaxEntries      int      `env:"CACHE_MAX_ENTRIES" envDefault:"500"`
	CacheTTLHours        int      `env:"CACHE_TTL_HOURS" envDefault:"168"`
	HardwareTimeoutMS    int      `env:"HARDWARE_TIMEOUT_MS" envDefault:"100"`
	DuplicateWindowMS    int      `env:"DUPLICATE_WINDOW_MS" envDefault:"500"`
	SuccessDelayMS       int      `env:"SUCCESS_DELAY_MS" envDefault:"200"`
	HintDelayMS          int      `env:"HINT_DELAY_MS" envDefault:"8000"`
	PayloadPrefix        string   `env:"PAYLOAD_PREFIX" envDefault:"SCN"`
	CameraDevices        []string `env:"CAMERA_DEVICES" envSeparator:","`
	HistoryRetentionDays int      `env:"HISTORY_RETENTION_DAYS" envDefault:"30"`
	DecodeRateLimit      int      `env:"DECODE_RATE_LIMIT_PER_MIN" envDefault:"1200"`
	LogLevel             string   `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c *Config) HardwareTimeout() time.Duration {
	return time.Duration(c.HardwareTimeoutMS) * time.Millisecond
}

func (c *Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowMS) * time.Millisecond
}

func (c *Config) SuccessDelay() time.Duration {
	return time.Duration(c.SuccessDelayMS) * time.Millisecond
}

func (c *Config) HintDelay() time.Duration {
	return time.Duration(c.HintDelayMS) * time.Millisecond
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

// HistoryEnabled reports whether scan events are written to Postgres.
func (c *Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}

func (c *Config) Validate() error {
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	if c.CacheBackend == "" || !util.IsValidEnum(c.CacheBackend, cacheBackends) {
		return fmt.Errorf("CACHE_BACKEND must be one of %s", strings.Join(cacheBackends, ", "))
	}
	if c.CacheBackend == CacheBackendRedis && c.RedisURL == "" {
		return fmt.Errorf("CACHE_BACKEND=redis requires REDIS_URL")
	}
	if c.CacheBackend == CacheBackendSQLite && c.CachePath == "" {
		return fmt.Errorf("CACHE_BACKEND=sqlite requires CACHE_PATH")
	}
	if c.StationID == "" {
		return fmt.Errorf("STATION_ID must not be empty")
	}

	positive := map[string]int{
		"CACHE_MAX_ENTRIES":         c.CacheMaxEntries,
		"CACHE_TTL_HOURS":           c.CacheTTLHours,
		"HARDWARE_TIMEOUT_MS":       c.HardwareTimeoutMS,
		"DUPLICATE_WINDOW_MS":       c.DuplicateWindowMS,
		"SUCCESS_DELAY_MS":          c.SuccessDelayMS,
		"HINT_DELAY_MS":             c.HintDelayMS,
		"DECODE_RATE_LIMIT_PER_MIN": c.DecodeRateLimit,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.HardwareTimeoutMS > 1000 {
		log.Warn().Int("timeoutMs", c.HardwareTimeoutMS).Msg("HARDWARE_TIMEOUT_MS above 1s will treat slow human typing as scans")
	}
	if c.RedisURL == "" {
		log.Info().Msg("REDIS_URL is empty: scanner events are only delivered to local subscribers")
	}
	if !c.HistoryEnabled() {
		log.Info().Msg("DATABASE_URL is empty: scan history disabled")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
