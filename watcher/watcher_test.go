package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/cloud"
	"github.com/cooodecat/otto-handler/domain"
)

// scriptedSource returns the scripted statuses in order, then repeats the last one
type scriptedSource struct {
	mu       sync.Mutex
	statuses []cloud.BuildStatus
	errs     []error
	calls    int
}

func (s *scriptedSource) GetBuild(_ context.Context, buildID string) (cloud.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.statuses)-1)
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return cloud.Build{ID: buildID, Status: s.statuses[i]}, err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type MockStateChangeHandler struct {
	mock.Mock
}

func (m *MockStateChangeHandler) HandleBuildStateChange(ctx context.Context, ev build.BuildStateChange) (*domain.Execution, error) {
	args := m.Called(ctx, ev)
	execution, _ := args.Get(0).(*domain.Execution)
	return execution, args.Error(1)
}

func fastSettings(maxAttempts int) Settings {
	return Settings{Interval: 5 * time.Millisecond, MaxAttempts: maxAttempts, PollTimeout: time.Second}
}

func withStatus(status cloud.BuildStatus) interface{} {
	return mock.MatchedBy(func(ev build.BuildStateChange) bool { return ev.Status == status })
}

func TestNewBuildWatcher_Defaults(t *testing.T) {
	w := NewBuildWatcher(&scriptedSource{}, &MockStateChangeHandler{}, Settings{})

	assert.Equal(t, DefaultInterval, w.interval)
	assert.Equal(t, DefaultMaxAttempts, w.maxAttempts)
	assert.Equal(t, DefaultPollTimeout, w.pollTimeout)
}

func TestBuildWatcher_StopsAtTerminalStatus(t *testing.T) {
	source := &scriptedSource{
		statuses: []cloud.BuildStatus{"QUEUED", cloud.BuildStatusInProgress, cloud.BuildStatusInProgress, cloud.BuildStatusSucceeded},
		errs:     []error{errors.New("throttled")},
	}
	handler := &MockStateChangeHandler{}
	handler.On("HandleBuildStateChange", mock.Anything, withStatus(cloud.BuildStatusInProgress)).Return(nil, nil)
	handler.On("HandleBuildStateChange", mock.Anything, withStatus(cloud.BuildStatusSucceeded)).Return(nil, nil).Once()

	w := NewBuildWatcher(source, handler, fastSettings(50))
	require.True(t, w.Watch("exec-1", "proj:exec-1"))

	require.Eventually(t, func() bool { return w.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, source.Calls())
	handler.AssertNumberOfCalls(t, "HandleBuildStateChange", 3)
	handler.AssertExpectations(t)

	require.NoError(t, w.Shutdown(context.Background()))
}

func TestBuildWatcher_GivesUpAtCeiling(t *testing.T) {
	source := &scriptedSource{statuses: []cloud.BuildStatus{cloud.BuildStatusInProgress}}
	handler := &MockStateChangeHandler{}
	handler.On("HandleBuildStateChange", mock.Anything, mock.Anything).Return(nil, nil)

	w := NewBuildWatcher(source, handler, fastSettings(3))
	require.True(t, w.Watch("exec-1", "proj:exec-1"))

	require.Eventually(t, func() bool { return w.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, source.Calls())
	for _, call := range handler.Calls {
		ev := call.Arguments.Get(1).(build.BuildStateChange)
		assert.False(t, ev.Status.IsTerminal(), "nothing is failed at the ceiling")
	}
}

func TestBuildWatcher_HandlerErrorDoesNotStopWatch(t *testing.T) {
	source := &scriptedSource{statuses: []cloud.BuildStatus{cloud.BuildStatusInProgress, cloud.BuildStatusFailed}}
	handler := &MockStateChangeHandler{}
	handler.On("HandleBuildStateChange", mock.Anything, withStatus(cloud.BuildStatusInProgress)).
		Return(nil, errors.New("database is locked")).Once()
	handler.On("HandleBuildStateChange", mock.Anything, withStatus(cloud.BuildStatusFailed)).Return(nil, nil).Once()

	w := NewBuildWatcher(source, handler, fastSettings(10))
	w.Watch("exec-1", "proj:exec-1")

	require.Eventually(t, func() bool { return w.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
	handler.AssertExpectations(t)
}

func TestBuildWatcher_WatchIsDeduplicated(t *testing.T) {
	source := &scriptedSource{statuses: []cloud.BuildStatus{cloud.BuildStatusInProgress}}
	handler := &MockStateChangeHandler{}
	handler.On("HandleBuildStateChange", mock.Anything, mock.Anything).Return(nil, nil)

	w := NewBuildWatcher(source, handler, Settings{Interval: time.Hour, MaxAttempts: 1})
	assert.True(t, w.Watch("exec-1", "proj:exec-1"))
	assert.False(t, w.Watch("exec-1", "proj:exec-1"))
	assert.True(t, w.Watch("exec-2", "proj:exec-2"))
	assert.Equal(t, 2, w.Active())

	require.NoError(t, w.Shutdown(context.Background()))
	assert.Equal(t, 0, w.Active())
	assert.Zero(t, source.Calls())
	assert.False(t, w.Watch("exec-3", "proj:exec-3"), "no new watches after shutdown")
}

func TestBuildWatcher_ShutdownRespectsDeadline(t *testing.T) {
	blocked := make(chan struct{})
	handler := &MockStateChangeHandler{}
	handler.On("HandleBuildStateChange", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-blocked }).
		Return(nil, nil)

	source := &scriptedSource{statuses: []cloud.BuildStatus{cloud.BuildStatusSucceeded}}
	w := NewBuildWatcher(source, handler, fastSettings(5))
	w.Watch("exec-1", "proj:exec-1")
	require.Eventually(t, func() bool { return source.Calls() > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Shutdown(ctx), context.DeadlineExceeded)

	close(blocked)
	require.Eventually(t, func() bool { return w.Active() == 0 }, time.Second, time.Millisecond)
}
