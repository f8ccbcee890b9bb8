// Package deploy follows deployments through orchestrator and load balancer
// events and owns every status change after the initial PENDING row.
package deploy

import "time"

// Event is an inbound infrastructure signal that may move a deployment
type Event interface {
	// Kind names the event for logging
	Kind() string
	ID() string
}

// ServiceUpdated is emitted when the orchestrator service definition changes
type ServiceUpdated struct {
	EventID        string
	ServiceName    string
	TaskDefinition string
	DesiredCount   *int
	RunningCount   *int
	PendingCount   *int
	OccurredAt     time.Time
}

// ServiceSteadyState is emitted when the service reaches its desired task count
type ServiceSteadyState struct {
	EventID     string
	ServiceName string
	OccurredAt  time.Time
}

// TaskRunning is emitted when a task of the service starts running
type TaskRunning struct {
	EventID        string
	Group          string
	TaskRef        string
	TaskDefinition string
	OccurredAt     time.Time
}

// TaskStopped is emitted when a task of the service stops
type TaskStopped struct {
	EventID        string
	Group          string
	TaskRef        string
	TaskDefinition string
	ExitCode       *int
	Reason         string
	OccurredAt     time.Time
}

type TargetState string

const (
	TargetHealthy     TargetState = "healthy"
	TargetUnhealthy   TargetState = "unhealthy"
	TargetDraining    TargetState = "draining"
	TargetUnavailable TargetState = "unavailable"
	TargetInitial     TargetState = "initial"
	TargetUnused      TargetState = "unused"
)

// TargetHealthChanged is emitted when a load balancer target changes health
type TargetHealthChanged struct {
	EventID         string
	TargetGroupRef  string
	TargetID        string
	Port            int
	State           TargetState
	Reason          string
	LoadBalancerDNS string
	OccurredAt      time.Time
}

func (e ServiceUpdated) Kind() string      { return "service_updated" }
func (e ServiceSteadyState) Kind() string  { return "service_steady_state" }
func (e TaskRunning) Kind() string         { return "task_running" }
func (e TaskStopped) Kind() string         { return "task_stopped" }
func (e TargetHealthChanged) Kind() string { return "target_health_changed" }

func (e ServiceUpdated) ID() string      { return e.EventID }
func (e ServiceSteadyState) ID() string  { return e.EventID }
func (e TaskRunning) ID() string         { return e.EventID }
func (e TaskStopped) ID() string         { return e.EventID }
func (e TargetHealthChanged) ID() string { return e.EventID }
