package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
)

const (
	DefaultMaxAttempts = 8

	// MetaLoadBalancerDNS is the Extra key holding the load balancer address
	MetaLoadBalancerDNS = "load_balancer_dns"
)

// CompletionNotifier is told once about every deployment that reaches SUCCESS
type CompletionNotifier interface {
	DeploymentSucceeded(ctx context.Context, deployment *domain.Deployment) error
}

// Machine applies events and explicit actions to persisted deployments.
// Every write is a compare-and-swap on the deployment version; a lost race
// re-reads the row and evaluates the event again.
type Machine struct {
	deployments repository.DeploymentRepository
	correlator  *Correlator
	notifier    CompletionNotifier
	clock       func() time.Time
	maxAttempts int
}

// NewMachine creates a machine. notifier may be nil.
func NewMachine(deployments repository.DeploymentRepository, notifier CompletionNotifier) *Machine {
	return &Machine{
		deployments: deployments,
		correlator:  NewCorrelator(deployments),
		notifier:    notifier,
		clock:       time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Handle correlates ev and applies it. A correlation miss is returned as
// ErrCorrelationMiss and has already been logged.
func (m *Machine) Handle(ctx context.Context, ev Event) (*domain.Deployment, error) {
	logger := slog.With("layer", "deploy", "operation", ev.Kind(), "event_id", ev.ID())

	if th, ok := ev.(TargetHealthChanged); ok && (th.State == TargetDraining || th.State == TargetUnavailable) {
		logger.Info("Target left service", "target_group", th.TargetGroupRef, "target_id", th.TargetID, "state", th.State)
		return nil, nil
	}

	current, err := m.correlator.Correlate(ev)
	if err != nil {
		if errors.Is(err, ErrCorrelationMiss) {
			logger.Warn("Dropping event", "reason", err.Error())
		}
		return nil, err
	}
	logger = logger.With("deployment_id", current.ID, "pipeline_id", current.PipelineID)

	var outcome Outcome
	updated, err := m.update(current, ev.Kind(), func(d domain.Deployment) (domain.Deployment, bool, error) {
		outcome = Transition(d, ev, m.clock())
		if outcome.Noop(d) {
			return d, false, nil
		}
		return outcome.Apply(d), true, nil
	})
	if err != nil {
		logger.Error("Failed to persist transition", "error", err)
		return nil, err
	}

	if updated.Status != current.Status {
		logger.Info("Deployment status changed",
			"from", current.Status.String(),
			"to", updated.Status.String())
	}

	if outcome.Completed && updated.Status == domain.DeploymentStatusSuccess {
		m.notifySucceeded(ctx, updated)
	}
	return updated, nil
}

// Start records that the external deploy collaborator began rolling out
func (m *Machine) Start(ctx context.Context, id uuid.UUID, serviceRef, imageURI string) (*domain.Deployment, error) {
	return m.act(ctx, id, "start", func(d domain.Deployment) (domain.Deployment, error) {
		if d.Status != domain.DeploymentStatusPending {
			return d, invalid("start", d.Status)
		}
		d.Status = domain.DeploymentStatusInProgress
		if serviceRef != "" {
			d.OrchestratorServiceRef = serviceRef
		}
		if imageURI != "" {
			d.ImageURI = imageURI
		}
		return d, nil
	})
}

// AwaitHealthCheck records the load balancer wiring and waits for a healthy target
func (m *Machine) AwaitHealthCheck(ctx context.Context, id uuid.UUID, targetGroupRef, loadBalancerRef, loadBalancerDNS string) (*domain.Deployment, error) {
	return m.act(ctx, id, "await_health_check", func(d domain.Deployment) (domain.Deployment, error) {
		if d.Status != domain.DeploymentStatusConfiguringALB {
			return d, invalid("await health check", d.Status)
		}
		if targetGroupRef == "" {
			return d, fmt.Errorf("%w: target group is required", ErrInvalidTransition)
		}
		d.Status = domain.DeploymentStatusWaitingHealthCheck
		d.TargetGroupRef = targetGroupRef
		if loadBalancerRef != "" {
			d.LoadBalancerRef = loadBalancerRef
		}
		if loadBalancerDNS != "" {
			d.Metadata = d.Metadata.Merge(domain.DeploymentMetadata{
				Extra: map[string]any{MetaLoadBalancerDNS: loadBalancerDNS},
			})
		}
		return d, nil
	})
}

// Fail moves an active deployment to FAILED. Events never do this.
func (m *Machine) Fail(ctx context.Context, id uuid.UUID, reason string) (*domain.Deployment, error) {
	return m.act(ctx, id, "fail", func(d domain.Deployment) (domain.Deployment, error) {
		if !d.Status.IsActive() {
			return d, invalid("fail", d.Status)
		}
		now := m.clock().UTC()
		d.Status = domain.DeploymentStatusFailed
		d.ErrorMessage = reason
		d.CompletedAt = &now
		return d, nil
	})
}

// RollBack marks a finished deployment as rolled back
func (m *Machine) RollBack(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	return m.act(ctx, id, "rollback", func(d domain.Deployment) (domain.Deployment, error) {
		if d.Status != domain.DeploymentStatusSuccess && d.Status != domain.DeploymentStatusFailed {
			return d, invalid("roll back", d.Status)
		}
		now := m.clock().UTC()
		d.Status = domain.DeploymentStatusRolledBack
		d.CompletedAt = &now
		return d, nil
	})
}

func (m *Machine) act(
	_ context.Context,
	id uuid.UUID,
	action string,
	mutate func(domain.Deployment) (domain.Deployment, error),
) (*domain.Deployment, error) {
	logger := slog.With("layer", "deploy", "operation", action, "deployment_id", id)

	current, err := m.deployments.FindByID(id)
	if err != nil {
		return nil, err
	}

	updated, err := m.update(current, action, func(d domain.Deployment) (domain.Deployment, bool, error) {
		next, err := mutate(d)
		return next, err == nil, err
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			logger.Error("Failed to persist action", "error", err)
		}
		return nil, err
	}

	logger.Info("Deployment status changed",
		"from", current.Status.String(),
		"to", updated.Status.String())
	return updated, nil
}

// update runs compute against the latest stored version until its result is
// written or compute declines to write
func (m *Machine) update(
	current *domain.Deployment,
	event string,
	compute func(domain.Deployment) (domain.Deployment, bool, error),
) (*domain.Deployment, error) {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		next, write, err := compute(*current)
		if err != nil {
			return nil, err
		}
		if !write {
			return current, nil
		}

		err = m.deployments.CompareAndSwap(&next)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, &TransitionError{DeploymentID: current.ID, Event: event, Err: err}
		}

		lastErr = err
		slog.Debug("Deployment changed concurrently, retrying",
			"layer", "deploy",
			"deployment_id", current.ID,
			"attempt", attempt)

		current, err = m.deployments.FindByID(current.ID)
		if err != nil {
			return nil, &TransitionError{DeploymentID: next.ID, Event: event, Err: err}
		}
	}
	return nil, &TransitionError{DeploymentID: current.ID, Event: event, Err: lastErr}
}

func (m *Machine) notifySucceeded(ctx context.Context, deployment *domain.Deployment) {
	slog.Info("Deployment succeeded",
		"layer", "deploy",
		"deployment_id", deployment.ID,
		"pipeline_id", deployment.PipelineID,
		"deploy_url", deployment.DeployURL)
	if m.notifier == nil {
		return
	}
	if err := m.notifier.DeploymentSucceeded(ctx, deployment); err != nil {
		slog.Error("Completion notification failed",
			"layer", "deploy",
			"deployment_id", deployment.ID,
			"error", err)
	}
}

func invalid(action string, status domain.DeploymentStatus) error {
	return fmt.Errorf("%w: cannot %s a %s deployment", ErrInvalidTransition, action, status)
}
