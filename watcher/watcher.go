// Package watcher waits for remote builds to finish when no completion event arrives.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/cloud"
	"github.com/cooodecat/otto-handler/domain"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultMaxAttempts = 90
	DefaultPollTimeout = 15 * time.Second
)

// BuildSource reports the current state of a remote build
type BuildSource interface {
	GetBuild(ctx context.Context, buildID string) (cloud.Build, error)
}

// StateChangeHandler mirrors an observed build state onto its execution
type StateChangeHandler interface {
	HandleBuildStateChange(ctx context.Context, ev build.BuildStateChange) (*domain.Execution, error)
}

type Settings struct {
	Interval    time.Duration
	MaxAttempts int
	PollTimeout time.Duration
}

// BuildWatcher polls builds on a fixed interval up to a hard attempt ceiling.
// Hitting the ceiling only logs: a slow build is never failed from here.
type BuildWatcher struct {
	builds  BuildSource
	handler StateChangeHandler

	interval    time.Duration
	maxAttempts int
	pollTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watches map[string]struct{}
	closed  bool
}

func NewBuildWatcher(builds BuildSource, handler StateChangeHandler, settings Settings) *BuildWatcher {
	if settings.Interval <= 0 {
		settings.Interval = DefaultInterval
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = DefaultMaxAttempts
	}
	if settings.PollTimeout <= 0 {
		settings.PollTimeout = DefaultPollTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BuildWatcher{
		builds:      builds,
		handler:     handler,
		interval:    settings.Interval,
		maxAttempts: settings.MaxAttempts,
		pollTimeout: settings.PollTimeout,
		ctx:         ctx,
		cancel:      cancel,
		watches:     make(map[string]struct{}),
	}
}

// Watch starts following buildID in the background and returns immediately.
// It returns false when the build is already watched or the watcher is shut down.
func (w *BuildWatcher) Watch(executionID, buildID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	if _, ok := w.watches[buildID]; ok {
		return false
	}
	w.watches[buildID] = struct{}{}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.forget(buildID)
		w.run(executionID, buildID)
	}()
	return true
}

// Active returns the number of builds being watched
func (w *BuildWatcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// Shutdown stops every watch and waits for them to exit or ctx to expire
func (w *BuildWatcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Build watcher stopped", "layer", "watcher")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *BuildWatcher) forget(buildID string) {
	w.mu.Lock()
	delete(w.watches, buildID)
	w.mu.Unlock()
}

func (w *BuildWatcher) run(executionID, buildID string) {
	logger := slog.With("layer", "watcher", "execution_id", executionID, "build_id", buildID)
	logger.Debug("Watching build", "interval", w.interval, "max_attempts", w.maxAttempts)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		select {
		case <-w.ctx.Done():
			logger.Debug("Build watch cancelled", "attempt", attempt)
			return
		case <-ticker.C:
		}

		if w.poll(logger, buildID, attempt) {
			return
		}
	}

	logger.Warn("Build still not finished, giving up waiting",
		"attempts", w.maxAttempts,
		"waited", w.interval*time.Duration(w.maxAttempts))
}

// poll returns true once the build reached a terminal state
func (w *BuildWatcher) poll(logger *slog.Logger, buildID string, attempt int) bool {
	ctx, cancel := context.WithTimeout(w.ctx, w.pollTimeout)
	defer cancel()

	b, err := w.builds.GetBuild(ctx, buildID)
	if err != nil {
		logger.Debug("Build poll failed", "attempt", attempt, "error", err)
		return false
	}
	if b.Status != cloud.BuildStatusInProgress && !b.Status.IsTerminal() {
		return false
	}

	_, err = w.handler.HandleBuildStateChange(w.ctx, build.BuildStateChange{
		BuildID:     buildID,
		ProjectName: b.ProjectName,
		Status:      b.Status,
	})
	if err != nil {
		logger.Error("Failed to record build state",
			"operation", "poll_build",
			"build_status", b.Status,
			"error", err)
	}

	if b.Status.IsTerminal() {
		logger.Info("Build finished", "build_status", b.Status, "attempt", attempt)
		return true
	}
	return false
}
