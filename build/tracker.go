package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cooodecat/otto-handler/cloud"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
)

// ErrCorrelationMiss is returned when a build event matches no execution
var ErrCorrelationMiss = errors.New("build event matches no execution")

// BuildStateChange is the normalized completion signal of a remote build
type BuildStateChange struct {
	EventID     string
	BuildID     string
	ProjectName string
	Status      cloud.BuildStatus
	OccurredAt  time.Time
}

// DeployInitiator hands a successful build over to the deploy stage
type DeployInitiator interface {
	InitiateDeploy(ctx context.Context, execution *domain.Execution) error
}

// Tracker mirrors remote build status onto executions
type Tracker struct {
	executions repository.ExecutionRepository
	initiator  DeployInitiator
	clock      func() time.Time
}

// NewTracker creates a tracker. initiator may be nil.
func NewTracker(executions repository.ExecutionRepository, initiator DeployInitiator) *Tracker {
	return &Tracker{
		executions: executions,
		initiator:  initiator,
		clock:      time.Now,
	}
}

// ExecutionStatusFor maps a remote build status onto an execution status
func ExecutionStatusFor(status cloud.BuildStatus) (domain.ExecutionStatus, bool) {
	switch status {
	case cloud.BuildStatusInProgress:
		return domain.ExecutionStatusRunning, true
	case cloud.BuildStatusSucceeded:
		return domain.ExecutionStatusSuccess, true
	case cloud.BuildStatusFailed, cloud.BuildStatusFault, cloud.BuildStatusStopped, cloud.BuildStatusTimedOut:
		return domain.ExecutionStatusFailed, true
	default:
		return domain.ExecutionStatusUnknown, false
	}
}

// HandleBuildStateChange applies ev to its execution. Only the call that
// moves the execution to success hands it to the deploy initiator.
func (t *Tracker) HandleBuildStateChange(ctx context.Context, ev BuildStateChange) (*domain.Execution, error) {
	executionID := domain.ExecutionIDFromBuildID(ev.BuildID)
	logger := slog.With("layer", "build", "operation", "build_state_change", "execution_id", executionID)

	next, ok := ExecutionStatusFor(ev.Status)
	if !ok {
		logger.Debug("Ignoring unknown build status", "build_status", ev.Status)
		return nil, nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = t.clock()
	}

	patch := map[string]any{MetaBuildStatus: string(ev.Status)}
	if ev.EventID != "" {
		patch["last_event_id"] = ev.EventID
	}

	execution, applied, err := t.executions.AdvanceStatus(executionID, next, at.UTC(), patch)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("Build event matches no execution, dropping", "build_id", ev.BuildID)
		return nil, fmt.Errorf("%w: %s", ErrCorrelationMiss, ev.BuildID)
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.Debug("Execution already at or past status",
			"status", execution.Status.String(),
			"event_status", next.String())
		return execution, nil
	}

	logger.Info("Execution status updated", "status", execution.Status.String())

	if execution.Status == domain.ExecutionStatusSuccess && t.initiator != nil {
		if err := t.initiator.InitiateDeploy(ctx, execution); err != nil {
			logger.Error("Failed to hand build over to deploy", "error", err)
			return execution, err
		}
	}
	return execution, nil
}
