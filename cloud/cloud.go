// Package cloud defines the cloud collaborators the orchestration core talks to.
package cloud

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a resource does not exist. Deletions treat it as success.
var ErrNotFound = errors.New("cloud resource not found")

// Repository is a container image repository
type Repository struct {
	Name string
	URI  string
	ARN  string
}

// ContainerRegistry manages image repositories
type ContainerRegistry interface {
	CreateRepository(ctx context.Context, name string) (Repository, error)
	DeleteRepository(ctx context.Context, name string) error
}

// LogDestinations manages log groups that build output is written to
type LogDestinations interface {
	CreateLogGroup(ctx context.Context, name string) error
	DeleteLogGroup(ctx context.Context, name string) error
}

// BuildProjectSpec describes a build project definition
type BuildProjectSpec struct {
	Name         string
	Description  string
	SourceType   string
	SourceURL    string
	BuildSpec    string
	Image        string
	ComputeType  string
	ServiceRole  string
	LogGroupName string
	Environment  map[string]string
}

// BuildProject is a created build project
type BuildProject struct {
	Name string
	ARN  string
}

// BuildStatus is the remote build status as reported by the build service
type BuildStatus string

const (
	BuildStatusInProgress BuildStatus = "IN_PROGRESS"
	BuildStatusSucceeded  BuildStatus = "SUCCEEDED"
	BuildStatusFailed     BuildStatus = "FAILED"
	BuildStatusFault      BuildStatus = "FAULT"
	BuildStatusStopped    BuildStatus = "STOPPED"
	BuildStatusTimedOut   BuildStatus = "TIMED_OUT"
)

// IsTerminal reports whether the build has finished
func (s BuildStatus) IsTerminal() bool {
	return s != "" && s != BuildStatusInProgress
}

// Succeeded reports whether the build finished successfully
func (s BuildStatus) Succeeded() bool {
	return s == BuildStatusSucceeded
}

// Build is a single run of a build project
type Build struct {
	ID          string
	ARN         string
	ProjectName string
	// BuildNumber is zero when the service did not report one
	BuildNumber   int64
	Status        BuildStatus
	LogGroupName  string
	LogStreamName string
	LogDeepLink   string
}

// StartBuildRequest starts a build, optionally overriding the stored build script
type StartBuildRequest struct {
	ProjectName       string
	BuildSpecOverride string
	SourceVersion     string
	Environment       map[string]string
}

// BuildService manages build projects and runs
type BuildService interface {
	CreateProject(ctx context.Context, spec BuildProjectSpec) (BuildProject, error)
	DeleteProject(ctx context.Context, name string) error
	StartBuild(ctx context.Context, req StartBuildRequest) (Build, error)
	GetBuild(ctx context.Context, id string) (Build, error)
}

// RuleSpec describes an event subscription rule
type RuleSpec struct {
	Name         string
	Description  string
	EventPattern string
}

// Rule is a created event subscription rule
type Rule struct {
	Name string
	ARN  string
}

// Target is a downstream processor wired to a rule
type Target struct {
	ID      string
	ARN     string
	RoleARN string
}

// EventBus manages subscription rules and their targets
type EventBus interface {
	PutRule(ctx context.Context, spec RuleSpec) (Rule, error)
	PutTarget(ctx context.Context, rule string, target Target) error
	// DeleteRule removes the rule together with any targets attached to it
	DeleteRule(ctx context.Context, name string) error
}
