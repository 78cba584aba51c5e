package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"blogdash/config"
	"blogdash/logger"
	"blogdash/models"
)

func init() {
	logger.Initialize("debug", true)
}

// MockSyncer is a mock implementation of the entity synchronizer
type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) Sync(ctx context.Context, source string) error {
	args := m.Called(ctx, source)
	return args.Error(0)
}

func (m *MockSyncer) BackfillMonths(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockSyncLog is a mock implementation of the staleness tracker
type MockSyncLog struct {
	mock.Mock
}

func (m *MockSyncLog) LastSyncTime(ctx context.Context, source string) (time.Time, error) {
	args := m.Called(ctx, source)
	return args.Get(0).(time.Time), args.Error(1)
}

func TestRefresh(t *testing.T) {
	synced := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	syncErr := errors.New("remote down")

	testCases := []struct {
		name          string
		now           time.Time
		setupMocks    func(*MockSyncer, *MockSyncLog)
		expected      Report
		expectedError error
		backfill      bool
	}{
		{
			name: "fresh sources are skipped",
			now:  synced.Add(23 * time.Hour),
			setupMocks: func(s *MockSyncer, l *MockSyncLog) {
				l.On("LastSyncTime", mock.Anything, mock.Anything).Return(synced, nil)
			},
			expected: Report{Skipped: models.Sources},
		},
		{
			name: "stale sources run in order",
			now:  synced.Add(25 * time.Hour),
			setupMocks: func(s *MockSyncer, l *MockSyncLog) {
				l.On("LastSyncTime", mock.Anything, mock.Anything).Return(synced, nil)
				s.On("Sync", mock.Anything, models.SourceRoster).Return(nil).Once()
				s.On("Sync", mock.Anything, models.SourcePosts).Return(nil).Once()
				s.On("Sync", mock.Anything, models.SourceIssues).Return(nil).Once()
				s.On("BackfillMonths", mock.Anything).Return(2, nil).Once()
			},
			expected: Report{Ran: models.Sources},
			backfill: true,
		},
		{
			name: "only the stale source runs",
			now:  synced.Add(25 * time.Hour),
			setupMocks: func(s *MockSyncer, l *MockSyncLog) {
				l.On("LastSyncTime", mock.Anything, models.SourceRoster).Return(synced.Add(10*time.Hour), nil)
				l.On("LastSyncTime", mock.Anything, models.SourcePosts).Return(synced.Add(10*time.Hour), nil)
				l.On("LastSyncTime", mock.Anything, models.SourceIssues).Return(synced, nil)
				s.On("Sync", mock.Anything, models.SourceIssues).Return(nil).Once()
				s.On("BackfillMonths", mock.Anything).Return(0, nil).Once()
			},
			expected: Report{
				Ran:     []string{models.SourceIssues},
				Skipped: []string{models.SourceRoster, models.SourcePosts},
			},
			backfill: true,
		},
		{
			name: "failure does not stop later sources",
			now:  synced.Add(25 * time.Hour),
			setupMocks: func(s *MockSyncer, l *MockSyncLog) {
				l.On("LastSyncTime", mock.Anything, mock.Anything).Return(synced, nil)
				s.On("Sync", mock.Anything, models.SourceRoster).Return(syncErr).Once()
				s.On("Sync", mock.Anything, models.SourcePosts).Return(nil).Once()
				s.On("Sync", mock.Anything, models.SourceIssues).Return(nil).Once()
				s.On("BackfillMonths", mock.Anything).Return(0, nil).Once()
			},
			expected: Report{
				Ran:    []string{models.SourcePosts, models.SourceIssues},
				Failed: []string{models.SourceRoster},
			},
			expectedError: syncErr,
			backfill:      true,
		},
		{
			name: "never synced sources are stale",
			now:  synced,
			setupMocks: func(s *MockSyncer, l *MockSyncLog) {
				l.On("LastSyncTime", mock.Anything, mock.Anything).Return(time.Unix(0, 0).UTC(), nil)
				s.On("Sync", mock.Anything, mock.Anything).Return(nil).Times(3)
				s.On("BackfillMonths", mock.Anything).Return(0, nil).Once()
			},
			expected: Report{Ran: models.Sources},
			backfill: true,
		},
		{
			name: "sync log error counts as failure without backfill",
			now:  synced.Add(time.Hour),
			setupMocks: func(s *MockSyncer, l *MockSyncLog) {
				l.On("LastSyncTime", mock.Anything, models.SourceRoster).Return(time.Time{}, syncErr)
				l.On("LastSyncTime", mock.Anything, mock.Anything).Return(synced, nil)
			},
			expected: Report{
				Skipped: []string{models.SourcePosts, models.SourceIssues},
				Failed:  []string{models.SourceRoster},
			},
			expectedError: syncErr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			syncer := new(MockSyncer)
			syncLog := new(MockSyncLog)
			tc.setupMocks(syncer, syncLog)

			now := tc.now
			refresher := NewRefresher(syncer, syncLog, func() time.Time { return now })

			report, err := refresher.Refresh(context.Background(), 24*time.Hour)
			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expected, report)

			syncer.AssertExpectations(t)
			syncLog.AssertExpectations(t)
			if !tc.backfill {
				syncer.AssertNotCalled(t, "BackfillMonths", mock.Anything)
			}
		})
	}
}

func TestRefreshCombinesErrors(t *testing.T) {
	syncer := new(MockSyncer)
	syncLog := new(MockSyncLog)
	syncLog.On("LastSyncTime", mock.Anything, mock.Anything).Return(time.Unix(0, 0).UTC(), nil)
	syncer.On("Sync", mock.Anything, models.SourceRoster).Return(errors.New("roster down"))
	syncer.On("Sync", mock.Anything, models.SourcePosts).Return(nil)
	syncer.On("Sync", mock.Anything, models.SourceIssues).Return(errors.New("issues down"))
	syncer.On("BackfillMonths", mock.Anything).Return(0, errors.New("months down"))

	report, err := NewRefresher(syncer, syncLog, nil).Refresh(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	assert.Equal(t, []string{models.SourceRoster, models.SourceIssues}, report.Failed)
	assert.Equal(t, []string{models.SourcePosts}, report.Ran)
}

func TestRefreshLookupFailuresSkipBackfill(t *testing.T) {
	syncer := new(MockSyncer)
	syncLog := new(MockSyncLog)
	syncLog.On("LastSyncTime", mock.Anything, mock.Anything).Return(time.Time{}, errors.New("table locked"))

	report, err := NewRefresher(syncer, syncLog, nil).Refresh(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), len(models.Sources))
	assert.Equal(t, models.Sources, report.Failed)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
	syncer.AssertNotCalled(t, "BackfillMonths", mock.Anything)
}

func TestRefreshLogsUnderComponentName(t *testing.T) {
	saved := logger.Logger
	t.Cleanup(func() { logger.Logger = saved })
	core, logs := observer.New(zap.DebugLevel)
	logger.Logger = zap.New(core)

	syncer := new(MockSyncer)
	syncLog := new(MockSyncLog)
	syncLog.On("LastSyncTime", mock.Anything, mock.Anything).Return(time.Unix(0, 0).UTC(), nil)
	syncer.On("Sync", mock.Anything, models.SourceRoster).Return(errors.New("roster down"))
	syncer.On("Sync", mock.Anything, mock.Anything).Return(nil)
	syncer.On("BackfillMonths", mock.Anything).Return(0, nil)

	_, err := NewRefresher(syncer, syncLog, nil).Refresh(context.Background(), time.Hour)
	require.Error(t, err)

	failures := logs.FilterMessage("Sync failed, serving stored data").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "refresh", failures[0].LoggerName)
	assert.Equal(t, models.SourceRoster, failures[0].ContextMap()["source"])
}

func TestForce(t *testing.T) {
	syncer := new(MockSyncer)
	syncLog := new(MockSyncLog)
	syncer.On("Sync", mock.Anything, mock.Anything).Return(nil).Times(3)
	syncer.On("BackfillMonths", mock.Anything).Return(0, nil).Once()

	report, err := NewRefresher(syncer, syncLog, nil).Force(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Ran: models.Sources}, report)
	syncLog.AssertNotCalled(t, "LastSyncTime", mock.Anything, mock.Anything)
	syncer.AssertExpectations(t)
}

func TestRefreshStopsWhenCancelled(t *testing.T) {
	syncer := new(MockSyncer)
	syncLog := new(MockSyncLog)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewRefresher(syncer, syncLog, nil).Refresh(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Ran)
	syncer.AssertNotCalled(t, "BackfillMonths", mock.Anything)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

// countingLog reports every source as fresh and counts lookups
type countingLog struct {
	calls atomic.Int32
}

func (c *countingLog) LastSyncTime(context.Context, string) (time.Time, error) {
	c.calls.Add(1)
	return time.Now(), nil
}

func TestMonitor(t *testing.T) {
	syncLog := &countingLog{}
	refresher := NewRefresher(new(MockSyncer), syncLog, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	refresher.Monitor(ctx, 10*time.Millisecond, time.Hour)

	assert.Eventually(t, func() bool {
		return syncLog.calls.Load() >= int32(2*len(models.Sources))
	}, time.Second, 5*time.Millisecond)
}

func TestNewServiceRejectsBadDatabase(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "mysql", URL: "nowhere"},
	}
	_, err := NewService(cfg)
	assert.ErrorIs(t, err, ErrServiceInit)
}
