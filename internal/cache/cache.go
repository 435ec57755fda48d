// Package cache is the offline correlation cache: a bounded, time-expiring
// map from raw scanned text to the identifier the host last resolved it to.
// It is advisory only and never consulted in place of a live scan.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/model"
)

const (
	DefaultMaxEntries = 500
	DefaultTTL        = 7 * 24 * time.Hour

	// StorageKey namespaces the persisted snapshot in every Store backend.
	StorageKey = "scanner:offline-cache"

	flushTimeout = 5 * time.Second
)

// Store persists the opaque cache snapshot under a single key.
// Load returns nil data and no error when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

type Options struct {
	MaxEntries int
	TTL        time.Duration
	Clock      clock.Clock
	Store      Store
	// FlushDelay, when positive, writes the snapshot this long after the
	// first unsaved Put instead of waiting for an explicit Flush.
	FlushDelay time.Duration
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]model.CacheEntry
	maxEntries int
	ttl        time.Duration
	clock      clock.Clock
	store      Store
	dirty      bool
	flushDelay time.Duration
	flushTimer clock.Timer
}

type snapshotEntry struct {
	ResolvedID string `json:"resolvedId"`
	Timestamp  int64  `json:"timestamp"`
}

func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Cache{
		entries:    make(map[string]model.CacheEntry),
		maxEntries: opts.MaxEntries,
		ttl:        opts.TTL,
		clock:      opts.Clock,
		store:      opts.Store,
		flushDelay: opts.FlushDelay,
	}
}

// Get returns the entry for code unless it is missing or older than the TTL.
// Expired entries stay stored until PurgeExpired runs.
func (c *Cache) Get(code string) (model.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[code]
	if !ok {
		return model.CacheEntry{}, false
	}
	if c.expiredLocked(entry, c.clock.Now()) {
		return model.CacheEntry{}, false
	}
	return entry, true
}

func (c *Cache) Put(code, resolvedID string) {
	code = strings.TrimSpace(code)
	resolvedID = strings.TrimSpace(resolvedID)
	if code == "" || resolvedID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[code] = model.CacheEntry{
		Code:       code,
		ResolvedID: resolvedID,
		CachedAt:   c.clock.Now(),
	}
	c.dirty = true
	c.evictLocked()
	c.scheduleFlushLocked()
}

// Len counts stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, entry := range c.entries {
		if c.expiredLocked(entry, now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Load merges the persisted snapshot into memory. Entries already in memory
// win over older persisted ones.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	data, err := c.store.Load(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("load cache snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var snapshot map[string]snapshotEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable cache snapshot")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for code, item := range snapshot {
		if code == "" || item.ResolvedID == "" {
			continue
		}
		loaded := model.CacheEntry{
			Code:       code,
			ResolvedID: item.ResolvedID,
			CachedAt:   time.UnixMilli(item.Timestamp),
		}
		if existing, ok := c.entries[code]; ok && !existing.CachedAt.Before(loaded.CachedAt) {
			continue
		}
		c.entries[code] = loaded
	}
	c.evictLocked()

	log.Debug().Int("entries", len(c.entries)).Msg("offline cache loaded")
	return nil
}

// Flush writes the snapshot if anything changed since the last flush.
func (c *Cache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]snapshotEntry, len(c.entries))
	for code, entry := range c.entries {
		snapshot[code] = snapshotEntry{
			ResolvedID: entry.ResolvedID,
			Timestamp:  entry.CachedAt.UnixMilli(),
		}
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	if err := c.store.Save(ctx, StorageKey, data); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return fmt.Errorf("save cache snapshot: %w", err)
	}
	return nil
}

func (c *Cache) scheduleFlushLocked() {
	if c.store == nil || c.flushDelay <= 0 || c.flushTimer != nil {
		return
	}
	c.flushTimer = c.clock.AfterFunc(c.flushDelay, c.flushPending)
}

func (c *Cache) flushPending() {
	c.mu.Lock()
	c.flushTimer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to persist offline cache")
	}
}

func (c *Cache) expiredLocked(entry model.CacheEntry, now time.Time) bool {
	return now.Sub(entry.CachedAt) > c.ttl
}

// evictLocked drops the oldest fifth of the entries once the bound is exceeded.
func (c *Cache) evictLocked() {
	if len(c.entries) <= c.maxEntries {
		return
	}

	ordered := make([]model.CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CachedAt.Before(ordered[j].CachedAt)
	})

	n := len(ordered) / 5
	if n == 0 {
		n = 1
	}
	if excess := len(ordered) - c.maxEntries; n < excess {
		n = excess
	}
	for _, entry := range ordered[:n] {
		delete(c.entries, entry.Code)
	}

	log.Debug().Int("evicted", n).Int("remaining", len(c.entries)).Msg("offline cache evicted oldest entries")
}
