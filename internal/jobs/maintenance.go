package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/cache"
	"github.com/storeline/scan-station/internal/repository"
)

// MaintenanceJob keeps the offline cache and the scan history bounded: it
// purges expired cache entries, persists the cache snapshot and drops
// history past its retention.
type MaintenanceJob struct {
	cache     *cache.Cache
	scanRepo  repository.ScanEventRepository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	stopped   chan struct{}
}

// NewMaintenanceJob accepts a nil scanRepo when scan history is disabled.
func NewMaintenanceJob(
	offlineCache *cache.Cache,
	scanRepo repository.ScanEventRepository,
	retention time.Duration,
	interval time.Duration,
) *MaintenanceJob {
	return &MaintenanceJob{
		cache:     offlineCache,
		scanRepo:  scanRepo,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *MaintenanceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("maintenance job started")
}

// Stop ends the loop and runs one last pass so the cache snapshot written
// at shutdown is current.
func (j *MaintenanceJob) Stop() {
	close(j.done)
	<-j.stopped
	j.RunOnce()
	log.Info().Msg("maintenance job stopped")
}

func (j *MaintenanceJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

func (j *MaintenanceJob) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.cache != nil {
		if purged := j.cache.PurgeExpired(); purged > 0 {
			log.Info().Int("count", purged).Msg("purged expired offline cache entries")
		}
		if err := j.cache.Flush(ctx); err != nil {
			log.Error().Err(err).Msg("failed to flush offline cache")
		}
	}

	if j.scanRepo != nil && j.retention > 0 {
		j.runCleanup(ctx, "scan events", func(ctx context.Context) (int64, error) {
			return j.scanRepo.DeleteOlderThan(ctx, j.now().Add(-j.retention))
		})
	}
}

func (j *MaintenanceJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
