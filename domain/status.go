package domain

import "fmt"

// ExecutionStatus represents the status of a build or deploy execution
type ExecutionStatus int

const (
	ExecutionStatusUnknown ExecutionStatus = iota
	ExecutionStatusPending
	ExecutionStatusRunning
	ExecutionStatusSuccess
	ExecutionStatusFailed
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionStatusPending:
		return "pending"
	case ExecutionStatusRunning:
		return "running"
	case ExecutionStatusSuccess:
		return "success"
	case ExecutionStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further status change is expected
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	switch s {
	case "pending":
		return ExecutionStatusPending, nil
	case "running":
		return ExecutionStatusRunning, nil
	case "success":
		return ExecutionStatusSuccess, nil
	case "failed":
		return ExecutionStatusFailed, nil
	case "unknown":
		return ExecutionStatusUnknown, nil
	default:
		return ExecutionStatusUnknown, fmt.Errorf("invalid execution status: %q", s)
	}
}

// ExecutionType distinguishes build executions from deploy executions
type ExecutionType int

const (
	ExecutionTypeUnknown ExecutionType = iota
	ExecutionTypeBuild
	ExecutionTypeDeploy
)

func (t ExecutionType) String() string {
	switch t {
	case ExecutionTypeBuild:
		return "build"
	case ExecutionTypeDeploy:
		return "deploy"
	default:
		return "unknown"
	}
}

func ParseExecutionType(s string) (ExecutionType, error) {
	switch s {
	case "build":
		return ExecutionTypeBuild, nil
	case "deploy":
		return ExecutionTypeDeploy, nil
	case "unknown":
		return ExecutionTypeUnknown, nil
	default:
		return ExecutionTypeUnknown, fmt.Errorf("invalid execution type: %q", s)
	}
}

// DeploymentStatus represents the status of a deployment.
//
// The declaration order is the forward order of the happy path; FAILED and
// ROLLED_BACK sit outside of it and are only reached through explicit actions.
type DeploymentStatus int

const (
	DeploymentStatusUnknown DeploymentStatus = iota
	DeploymentStatusPending
	DeploymentStatusInProgress
	DeploymentStatusDeployingECS
	DeploymentStatusConfiguringALB
	DeploymentStatusWaitingHealthCheck
	DeploymentStatusSuccess
	DeploymentStatusFailed
	DeploymentStatusRolledBack
)

func (s DeploymentStatus) String() string {
	switch s {
	case DeploymentStatusPending:
		return "PENDING"
	case DeploymentStatusInProgress:
		return "IN_PROGRESS"
	case DeploymentStatusDeployingECS:
		return "DEPLOYING_ECS"
	case DeploymentStatusConfiguringALB:
		return "CONFIGURING_ALB"
	case DeploymentStatusWaitingHealthCheck:
		return "WAITING_HEALTH_CHECK"
	case DeploymentStatusSuccess:
		return "SUCCESS"
	case DeploymentStatusFailed:
		return "FAILED"
	case DeploymentStatusRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	switch s {
	case "PENDING":
		return DeploymentStatusPending, nil
	case "IN_PROGRESS":
		return DeploymentStatusInProgress, nil
	case "DEPLOYING_ECS":
		return DeploymentStatusDeployingECS, nil
	case "CONFIGURING_ALB":
		return DeploymentStatusConfiguringALB, nil
	case "WAITING_HEALTH_CHECK":
		return DeploymentStatusWaitingHealthCheck, nil
	case "SUCCESS":
		return DeploymentStatusSuccess, nil
	case "FAILED":
		return DeploymentStatusFailed, nil
	case "ROLLED_BACK":
		return DeploymentStatusRolledBack, nil
	case "UNKNOWN":
		return DeploymentStatusUnknown, nil
	default:
		return DeploymentStatusUnknown, fmt.Errorf("invalid deployment status: %q", s)
	}
}

// IsTerminal reports whether the status is SUCCESS, FAILED or ROLLED_BACK
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentStatusSuccess, DeploymentStatusFailed, DeploymentStatusRolledBack:
		return true
	default:
		return false
	}
}

// IsActive reports whether the deployment is still in flight
func (s DeploymentStatus) IsActive() bool {
	return s != DeploymentStatusUnknown && !s.IsTerminal()
}

// ActiveDeploymentStatuses lists every non-terminal status
func ActiveDeploymentStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		DeploymentStatusPending,
		DeploymentStatusInProgress,
		DeploymentStatusDeployingECS,
		DeploymentStatusConfiguringALB,
		DeploymentStatusWaitingHealthCheck,
	}
}

// DeploymentType describes why a deployment was started
type DeploymentType int

const (
	DeploymentTypeUnknown DeploymentType = iota
	DeploymentTypeInitial
	DeploymentTypeUpdate
	DeploymentTypeRollback
)

func (t DeploymentType) String() string {
	switch t {
	case DeploymentTypeInitial:
		return "initial"
	case DeploymentTypeUpdate:
		return "update"
	case DeploymentTypeRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

func ParseDeploymentType(s string) (DeploymentType, error) {
	switch s {
	case "initial":
		return DeploymentTypeInitial, nil
	case "update":
		return DeploymentTypeUpdate, nil
	case "rollback":
		return DeploymentTypeRollback, nil
	case "unknown":
		return DeploymentTypeUnknown, nil
	default:
		return DeploymentTypeUnknown, fmt.Errorf("invalid deployment type: %q", s)
	}
}
