// Package build starts remote builds and follows them to completion.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/cooodecat/otto-handler/buildspec"
	"github.com/cooodecat/otto-handler/cloud"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
)

// Where the build number of a run came from
const (
	BuildNumberFromResponse  = "response"
	BuildNumberFromQuery     = "query"
	BuildNumberFromTimestamp = "timestamp"
)

// Execution metadata keys written by the trigger
const (
	MetaBuildNumber       = "build_number"
	MetaBuildNumberSource = "build_number_source"
	MetaImageTag          = "image_tag"
	MetaBuildProject      = "build_project"
	MetaBuildSpecOverride = "buildspec_override"
	MetaLogGroup          = "log_group"
	MetaLogDeepLink       = "log_deep_link"
	MetaBuildStatus       = "build_status"
)

const defaultCallTimeout = 30 * time.Second

// TriggerError is returned when a build cannot be started or recorded
type TriggerError struct {
	Op  string
	Err error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("build trigger %s failed: %v", e.Op, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// SpecArchiver stores the build script a run was started with
type SpecArchiver interface {
	Archive(ctx context.Context, executionID string, script []byte) (string, error)
}

type StartRequest struct {
	ProjectName string
	PipelineID  string
	ProjectID   string
	UserID      string
	// Nodes, when non-nil, are compiled and override the stored build script for this run only
	Nodes         []domain.PipelineNode
	SourceVersion string
	Environment   map[string]string
}

type StartResult struct {
	ExecutionID       string
	ExternalBuildID   string
	BuildNumber       int64
	BuildNumberSource string
	ImageTag          string
	Execution         *domain.Execution
}

type Trigger struct {
	builds      cloud.BuildService
	executions  repository.ExecutionRepository
	archiver    SpecArchiver
	callTimeout time.Duration
	clock       func() time.Time
}

// NewTrigger creates a trigger. archiver may be nil.
func NewTrigger(
	builds cloud.BuildService,
	executions repository.ExecutionRepository,
	archiver SpecArchiver,
	callTimeout time.Duration,
) *Trigger {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Trigger{
		builds:      builds,
		executions:  executions,
		archiver:    archiver,
		callTimeout: callTimeout,
		clock:       time.Now,
	}
}

// ImageTag derives the image tag of a run
func ImageTag(userID, projectID string, buildNumber int64) string {
	return buildspec.TagPrefix(userID, projectID) + "-" + strconv.FormatInt(buildNumber, 10)
}

// StartBuild starts a run of req.ProjectName and records it as an Execution
// before returning, so completion signals always find their record.
func (t *Trigger) StartBuild(ctx context.Context, req StartRequest) (*StartResult, error) {
	logger := slog.With("layer", "build", "pipeline_id", req.PipelineID, "project_id", req.ProjectID)

	var script []byte
	if req.Nodes != nil {
		var err error
		script, err = buildspec.Compile(req.Nodes).JSON()
		if err != nil {
			return nil, &TriggerError{Op: "compile", Err: err}
		}
	}

	env := maps.Clone(req.Environment)
	if env == nil {
		env = make(map[string]string, 1)
	}
	env[buildspec.EnvTagPrefix] = buildspec.TagPrefix(req.UserID, req.ProjectID)

	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	started, err := t.builds.StartBuild(callCtx, cloud.StartBuildRequest{
		ProjectName:       req.ProjectName,
		BuildSpecOverride: string(script),
		SourceVersion:     req.SourceVersion,
		Environment:       env,
	})
	cancel()
	if err != nil {
		logger.Error("Failed to start build",
			"operation", "start_build",
			"build_project", req.ProjectName,
			"error", err)
		return nil, &TriggerError{Op: "start_build", Err: err}
	}
	if started.ID == "" {
		return nil, &TriggerError{Op: "start_build", Err: errors.New("build service returned no build id")}
	}

	number, source := t.resolveBuildNumber(ctx, started)
	if source == BuildNumberFromTimestamp {
		logger.Warn("Build number unavailable, falling back to timestamp; deploys will use the latest tag",
			"operation", "start_build",
			"build_id", started.ID,
			"build_number", number)
	}
	tag := ImageTag(req.UserID, req.ProjectID, number)

	status := domain.ExecutionStatusPending
	if started.Status == cloud.BuildStatusInProgress {
		status = domain.ExecutionStatusRunning
	}

	metadata := map[string]any{
		MetaBuildNumber:       number,
		MetaBuildNumberSource: source,
		MetaImageTag:          tag,
		MetaBuildProject:      req.ProjectName,
		MetaBuildSpecOverride: script != nil,
	}
	if started.LogGroupName != "" {
		metadata[MetaLogGroup] = started.LogGroupName
	}
	if started.LogDeepLink != "" {
		metadata[MetaLogDeepLink] = started.LogDeepLink
	}

	execution := &domain.Execution{
		ID:              domain.ExecutionIDFromBuildID(started.ID),
		PipelineID:      req.PipelineID,
		ProjectID:       req.ProjectID,
		UserID:          req.UserID,
		Type:            domain.ExecutionTypeBuild,
		Status:          status,
		ExternalBuildID: started.ID,
		LogStreamRef:    started.LogStreamName,
		Metadata:        metadata,
		StartedAt:       t.clock().UTC(),
	}
	if err := t.executions.Create(execution); err != nil {
		return nil, &TriggerError{Op: "persist_execution", Err: err}
	}

	if t.archiver != nil && script != nil {
		key, err := t.archiver.Archive(ctx, execution.ID, script)
		if err != nil {
			logger.Warn("Failed to archive build script",
				"operation", "archive_buildspec",
				"execution_id", execution.ID,
				"error", err)
		} else {
			logger.Debug("Build script archived", "execution_id", execution.ID, "object", key)
		}
	}

	logger.Info("Build started",
		"operation", "start_build",
		"execution_id", execution.ID,
		"build_id", started.ID,
		"image_tag", tag)

	return &StartResult{
		ExecutionID:       execution.ID,
		ExternalBuildID:   started.ID,
		BuildNumber:       number,
		BuildNumberSource: source,
		ImageTag:          tag,
		Execution:         execution,
	}, nil
}

// resolveBuildNumber reads the number from the start response, then from a
// fresh query, then falls back to the current Unix time
func (t *Trigger) resolveBuildNumber(ctx context.Context, started cloud.Build) (int64, string) {
	if started.BuildNumber > 0 {
		return started.BuildNumber, BuildNumberFromResponse
	}

	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()
	queried, err := t.builds.GetBuild(callCtx, started.ID)
	if err == nil && queried.BuildNumber > 0 {
		return queried.BuildNumber, BuildNumberFromQuery
	}
	if err != nil {
		slog.Debug("Build number query failed",
			"layer", "build",
			"build_id", started.ID,
			"error", err)
	}
	return t.clock().Unix(), BuildNumberFromTimestamp
}
