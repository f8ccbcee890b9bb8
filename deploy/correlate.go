package deploy

import (
	"fmt"
	"strings"

	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
)

const (
	serviceNamePrefix = "service-"
	taskGroupPrefix   = "service:"
)

// Correlator finds the deployment an event belongs to. Events carry no
// deployment id, so matching goes through service and target group names.
type Correlator struct {
	deployments repository.DeploymentRepository
}

func NewCorrelator(deployments repository.DeploymentRepository) *Correlator {
	return &Correlator{deployments: deployments}
}

// Correlate resolves the deployment for any supported event
func (c *Correlator) Correlate(ev Event) (*domain.Deployment, error) {
	switch e := ev.(type) {
	case ServiceUpdated:
		return c.ForService(e.ServiceName)
	case ServiceSteadyState:
		return c.ForService(e.ServiceName)
	case TaskRunning:
		return c.ForTaskGroup(e.Group)
	case TaskStopped:
		return c.ForTaskGroup(e.Group)
	case TargetHealthChanged:
		return c.ForTargetGroup(e.TargetGroupRef)
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrCorrelationMiss, ev)
	}
}

// ForService returns the most recently created active deployment whose
// pipeline or stored service reference matches serviceName
func (c *Correlator) ForService(serviceName string) (*domain.Deployment, error) {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		return nil, fmt.Errorf("%w: empty service name", ErrCorrelationMiss)
	}

	candidates, err := c.deployments.ListByStatus(domain.ActiveDeploymentStatuses()...)
	if err != nil {
		return nil, err
	}
	for _, d := range candidates {
		if matchesService(d, serviceName) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: service %s", ErrCorrelationMiss, serviceName)
}

// ForTaskGroup resolves a task group label of the form "service:<name>"
func (c *Correlator) ForTaskGroup(group string) (*domain.Deployment, error) {
	name, ok := strings.CutPrefix(strings.TrimSpace(group), taskGroupPrefix)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: task group %q is not a service group", ErrCorrelationMiss, group)
	}
	return c.ForService(name)
}

// ForTargetGroup returns the most recent deployment waiting on targetGroupRef
func (c *Correlator) ForTargetGroup(targetGroupRef string) (*domain.Deployment, error) {
	if targetGroupRef == "" {
		return nil, fmt.Errorf("%w: empty target group", ErrCorrelationMiss)
	}
	candidates, err := c.deployments.ListByTargetGroup(targetGroupRef,
		domain.DeploymentStatusConfiguringALB,
		domain.DeploymentStatusWaitingHealthCheck,
	)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: target group %s", ErrCorrelationMiss, targetGroupRef)
	}
	return candidates[0], nil
}

// matchesService compares whole service names. Full ARNs are reduced to
// their last path segment on both sides.
func matchesService(d *domain.Deployment, serviceName string) bool {
	name := serviceNameOf(serviceName)
	if d.PipelineID != "" && name == serviceNamePrefix+d.PipelineID {
		return true
	}
	ref := serviceNameOf(d.OrchestratorServiceRef)
	return ref != "" && ref == name
}

func serviceNameOf(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
