package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/storeline/scan-station/internal/cache"
	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/model"
)

type mockScanEventRepo struct {
	mock.Mock
}

func (m *mockScanEventRepo) Create(ctx context.Context, params model.CreateScanEventParams) (*model.ScanEvent, error) {
	args := m.Called(ctx, params)
	event, _ := args.Get(0).(*model.ScanEvent)
	return event, args.Error(1)
}

func (m *mockScanEventRepo) FindByID(ctx context.Context, id string) (*model.ScanEvent, error) {
	args := m.Called(ctx, id)
	event, _ := args.Get(0).(*model.ScanEvent)
	return event, args.Error(1)
}

func (m *mockScanEventRepo) FindRecent(ctx context.Context, stationID string, limit int) ([]model.ScanEvent, error) {
	args := m.Called(ctx, stationID, limit)
	events, _ := args.Get(0).([]model.ScanEvent)
	return events, args.Error(1)
}

func (m *mockScanEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type memoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func (s *memoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memoryStore) Save(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[key] = data
	s.saves++
	return nil
}

func TestMaintenanceJob_RunOnce(t *testing.T) {
	t.Run("purges, flushes and trims history", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
		store := &memoryStore{}
		offline := cache.New(cache.Options{Clock: clk, Store: store, TTL: time.Hour})
		offline.Put("old-code", "prod-1")
		clk.Advance(2 * time.Hour)
		offline.Put("4006381333931", "prod-77")

		now := clk.Now()
		repo := &mockScanEventRepo{}
		repo.On("DeleteOlderThan", mock.Anything, now.Add(-30*24*time.Hour)).Return(int64(3), nil).Once()

		job := NewMaintenanceJob(offline, repo, 30*24*time.Hour, time.Hour)
		job.now = clk.Now
		job.RunOnce()

		assert.Equal(t, 1, offline.Len())
		assert.Contains(t, string(store.data[cache.StorageKey]), "4006381333931")
		assert.NotContains(t, string(store.data[cache.StorageKey]), "old-code")
		repo.AssertExpectations(t)
	})

	t.Run("history disabled", func(t *testing.T) {
		store := &memoryStore{}
		job := NewMaintenanceJob(cache.New(cache.Options{Store: store}), nil, 30*24*time.Hour, time.Hour)

		assert.NotPanics(t, job.RunOnce)
		assert.Equal(t, 0, store.saves, "clean cache is not rewritten")
	})

	t.Run("history errors are logged, not fatal", func(t *testing.T) {
		repo := &mockScanEventRepo{}
		repo.On("DeleteOlderThan", mock.Anything, mock.Anything).Return(int64(0), errors.New("connection refused"))

		job := NewMaintenanceJob(nil, repo, time.Hour, time.Hour)
		assert.NotPanics(t, job.RunOnce)
		repo.AssertNumberOfCalls(t, "DeleteOlderThan", 1)
	})
}

func TestMaintenanceJob_StartStop(t *testing.T) {
	store := &memoryStore{}
	offline := cache.New(cache.Options{Store: store})
	job := NewMaintenanceJob(offline, nil, 0, time.Hour)

	job.Start()
	offline.Put("012345678905", "prod-5")
	job.Stop()

	require.NotNil(t, store.data[cache.StorageKey])
	assert.Contains(t, string(store.data[cache.StorageKey]), "012345678905")
}
