package deploy

import (
	"time"

	"github.com/cooodecat/otto-handler/domain"
)

// Outcome is the effect of one event on one deployment
type Outcome struct {
	Status    domain.DeploymentStatus
	Patch     domain.DeploymentMetadata
	DeployURL string
	// Completed is set only on the move to SUCCESS
	Completed bool
	At        time.Time
}

// Noop reports whether the outcome leaves the deployment untouched
func (o Outcome) Noop(current domain.Deployment) bool {
	return o.Status == current.Status && o.Patch.IsEmpty() && o.DeployURL == ""
}

// Apply returns current with the outcome folded in
func (o Outcome) Apply(current domain.Deployment) domain.Deployment {
	next := current
	next.Status = o.Status
	next.Metadata = current.Metadata.Merge(o.Patch)
	if o.DeployURL != "" {
		next.DeployURL = o.DeployURL
	}
	if o.Completed {
		at := o.At
		next.DeployedAt = &at
		next.CompletedAt = &at
	}
	return next
}

// Transition computes what ev does to current. It is pure: the status only
// ever moves forward along the happy path, and terminal deployments only
// take metadata.
func Transition(current domain.Deployment, ev Event, now time.Time) Outcome {
	out := Outcome{Status: current.Status, At: now.UTC()}

	switch e := ev.(type) {
	case ServiceUpdated:
		out.Status = advance(current.Status, domain.DeploymentStatusDeployingECS)
		out.Patch = domain.DeploymentMetadata{
			TaskDefinition: e.TaskDefinition,
			DesiredCount:   e.DesiredCount,
			RunningCount:   e.RunningCount,
			PendingCount:   e.PendingCount,
		}

	case ServiceSteadyState:
		out.Status = advance(current.Status, domain.DeploymentStatusConfiguringALB)
		at := observedAt(e.OccurredAt, now)
		out.Patch = domain.DeploymentMetadata{SteadyStateAt: &at}

	case TaskRunning:
		out.Patch = domain.DeploymentMetadata{RunningTasks: []domain.TaskAudit{{
			EventID:        e.EventID,
			TaskRef:        e.TaskRef,
			TaskDefinition: e.TaskDefinition,
			ObservedAt:     observedAt(e.OccurredAt, now),
		}}}

	case TaskStopped:
		// a stopped task never fails the deployment on its own
		if e.ExitCode == nil || *e.ExitCode == 0 {
			return out
		}
		out.Patch = domain.DeploymentMetadata{StoppedTasks: []domain.TaskAudit{{
			EventID:        e.EventID,
			TaskRef:        e.TaskRef,
			TaskDefinition: e.TaskDefinition,
			ExitCode:       e.ExitCode,
			Reason:         e.Reason,
			ObservedAt:     observedAt(e.OccurredAt, now),
		}}}

	case TargetHealthChanged:
		audit := domain.TargetAudit{
			EventID:    e.EventID,
			TargetID:   e.TargetID,
			Port:       e.Port,
			State:      string(e.State),
			Reason:     e.Reason,
			ObservedAt: observedAt(e.OccurredAt, now),
		}
		switch e.State {
		case TargetHealthy:
			out.Patch = domain.DeploymentMetadata{HealthyTargets: []domain.TargetAudit{audit}}
			if current.Status == domain.DeploymentStatusWaitingHealthCheck {
				out.Status = domain.DeploymentStatusSuccess
				out.DeployURL = DeployURL(current, e)
				out.Completed = true
			}
		case TargetUnhealthy:
			out.Patch = domain.DeploymentMetadata{UnhealthyTargets: []domain.TargetAudit{audit}}
		}
	}

	return out
}

// advance returns target when it lies ahead of current on the happy path
func advance(current, target domain.DeploymentStatus) domain.DeploymentStatus {
	if !current.IsActive() || target <= current {
		return current
	}
	return target
}

func observedAt(at, now time.Time) time.Time {
	if at.IsZero() {
		return now.UTC()
	}
	return at.UTC()
}

// DeployURL is the public address a successful deployment is reachable at.
// The load balancer name from the event wins over the one recorded at start.
func DeployURL(d domain.Deployment, ev TargetHealthChanged) string {
	if ev.LoadBalancerDNS != "" {
		return "http://" + ev.LoadBalancerDNS
	}
	if dns, ok := d.Metadata.Extra[MetaLoadBalancerDNS].(string); ok && dns != "" {
		return "http://" + dns
	}
	return d.DeployURL
}
