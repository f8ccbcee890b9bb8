package deploy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cooodecat/otto-handler/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

func deploymentAt(status domain.DeploymentStatus) domain.Deployment {
	d := domain.NewDeployment("pipe-1", "proj-1", "user-1", domain.DeploymentTypeInitial)
	d.Status = status
	return d
}

func allEvents() []Event {
	return []Event{
		ServiceUpdated{EventID: "e1", ServiceName: "service-pipe-1", TaskDefinition: "td:3", DesiredCount: intPtr(2)},
		ServiceSteadyState{EventID: "e2", ServiceName: "service-pipe-1"},
		TaskRunning{EventID: "e3", Group: "service:service-pipe-1", TaskRef: "task/1"},
		TaskStopped{EventID: "e4", Group: "service:service-pipe-1", TaskRef: "task/2", ExitCode: intPtr(137)},
		TargetHealthChanged{EventID: "e5", TargetGroupRef: "tg", TargetID: "10.0.0.1", State: TargetHealthy},
		TargetHealthChanged{EventID: "e6", TargetGroupRef: "tg", TargetID: "10.0.0.2", State: TargetUnhealthy},
		TargetHealthChanged{EventID: "e7", TargetGroupRef: "tg", TargetID: "10.0.0.3", State: TargetDraining},
	}
}

func allStatuses() []domain.DeploymentStatus {
	return []domain.DeploymentStatus{
		domain.DeploymentStatusPending,
		domain.DeploymentStatusInProgress,
		domain.DeploymentStatusDeployingECS,
		domain.DeploymentStatusConfiguringALB,
		domain.DeploymentStatusWaitingHealthCheck,
		domain.DeploymentStatusSuccess,
		domain.DeploymentStatusFailed,
		domain.DeploymentStatusRolledBack,
	}
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name      string
		from      domain.DeploymentStatus
		event     Event
		want      domain.DeploymentStatus
		completed bool
	}{
		{"service update starts rollout", domain.DeploymentStatusInProgress, allEvents()[0], domain.DeploymentStatusDeployingECS, false},
		{"service update from pending", domain.DeploymentStatusPending, allEvents()[0], domain.DeploymentStatusDeployingECS, false},
		{"steady state", domain.DeploymentStatusDeployingECS, allEvents()[1], domain.DeploymentStatusConfiguringALB, false},
		{"late service update", domain.DeploymentStatusConfiguringALB, allEvents()[0], domain.DeploymentStatusConfiguringALB, false},
		{"task running keeps status", domain.DeploymentStatusDeployingECS, allEvents()[2], domain.DeploymentStatusDeployingECS, false},
		{"crashed task does not fail", domain.DeploymentStatusDeployingECS, allEvents()[3], domain.DeploymentStatusDeployingECS, false},
		{"healthy target completes", domain.DeploymentStatusWaitingHealthCheck, allEvents()[4], domain.DeploymentStatusSuccess, true},
		{"healthy target too early", domain.DeploymentStatusConfiguringALB, allEvents()[4], domain.DeploymentStatusConfiguringALB, false},
		{"healthy target after success", domain.DeploymentStatusSuccess, allEvents()[4], domain.DeploymentStatusSuccess, false},
		{"unhealthy target", domain.DeploymentStatusWaitingHealthCheck, allEvents()[5], domain.DeploymentStatusWaitingHealthCheck, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Transition(deploymentAt(tt.from), tt.event, testNow)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, tt.completed, out.Completed)
		})
	}
}

func TestTransition_NeverMovesBackward(t *testing.T) {
	for _, status := range allStatuses() {
		for _, ev := range allEvents() {
			out := Transition(deploymentAt(status), ev, testNow)

			if status.IsTerminal() {
				assert.Equal(t, status, out.Status, "%s changed terminal %s", ev.Kind(), status)
				continue
			}
			assert.GreaterOrEqual(t, int(out.Status), int(status), "%s moved %s backward", ev.Kind(), status)
			assert.NotEqual(t, domain.DeploymentStatusFailed, out.Status, "events never fail a deployment")
			assert.NotEqual(t, domain.DeploymentStatusRolledBack, out.Status)
		}
	}
}

func TestTransition_MetadataPatches(t *testing.T) {
	current := deploymentAt(domain.DeploymentStatusDeployingECS)

	out := Transition(current, allEvents()[0], testNow)
	assert.Equal(t, "td:3", out.Patch.TaskDefinition)
	assert.Equal(t, 2, *out.Patch.DesiredCount)

	out = Transition(current, allEvents()[1], testNow)
	assert.Equal(t, testNow, *out.Patch.SteadyStateAt)

	out = Transition(current, allEvents()[3], testNow)
	if assert.Len(t, out.Patch.StoppedTasks, 1) {
		assert.Equal(t, 137, *out.Patch.StoppedTasks[0].ExitCode)
		assert.Equal(t, "e4", out.Patch.StoppedTasks[0].EventID)
	}

	clean := TaskStopped{EventID: "e9", Group: "service:x", ExitCode: intPtr(0)}
	assert.True(t, Transition(current, clean, testNow).Noop(current))

	draining := allEvents()[6]
	assert.True(t, Transition(current, draining, testNow).Noop(current))
}

func TestTransition_DeployURL(t *testing.T) {
	waiting := deploymentAt(domain.DeploymentStatusWaitingHealthCheck)
	ev := TargetHealthChanged{EventID: "e1", TargetGroupRef: "tg", State: TargetHealthy}

	assert.Empty(t, Transition(waiting, ev, testNow).DeployURL)

	waiting.Metadata.Extra = map[string]any{MetaLoadBalancerDNS: "otto-alb-123.elb.amazonaws.com"}
	assert.Equal(t, "http://otto-alb-123.elb.amazonaws.com", Transition(waiting, ev, testNow).DeployURL)

	ev.LoadBalancerDNS = "other.elb.amazonaws.com"
	out := Transition(waiting, ev, testNow)
	assert.Equal(t, "http://other.elb.amazonaws.com", out.DeployURL)

	applied := out.Apply(waiting)
	assert.Equal(t, domain.DeploymentStatusSuccess, applied.Status)
	assert.Equal(t, testNow, *applied.DeployedAt)
	assert.Equal(t, testNow, *applied.CompletedAt)
	assert.Len(t, applied.Metadata.HealthyTargets, 1)
}
