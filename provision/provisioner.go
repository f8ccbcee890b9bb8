// Package provision creates and destroys the cloud resources a project's builds need.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cooodecat/otto-handler/buildspec"
	"github.com/cooodecat/otto-handler/cloud"
	"github.com/cooodecat/otto-handler/domain"
)

const (
	DefaultSourceType  = "NO_SOURCE"
	DefaultBuildImage  = "aws/codebuild/standard:7.0"
	DefaultComputeType = "BUILD_GENERAL1_SMALL"

	// EventTargetID names the downstream processor attached to every build rule
	EventTargetID = "otto-event-processor"

	defaultCallTimeout = 30 * time.Second
)

// Settings are the account wide values every provisioned project shares
type Settings struct {
	ServiceRole        string
	BuildImage         string
	ComputeType        string
	EventTargetARN     string
	EventTargetRoleARN string
	// CallTimeout bounds every cloud call, including compensations
	CallTimeout time.Duration
}

// ProjectConfig describes the project to provision
type ProjectConfig struct {
	ProjectID   string
	UserID      string
	SourceType  string
	SourceURL   string
	Nodes       []domain.PipelineNode
	Environment map[string]string
}

type Provisioner struct {
	registry cloud.ContainerRegistry
	logs     cloud.LogDestinations
	builds   cloud.BuildService
	events   cloud.EventBus
	settings Settings
}

func NewProvisioner(
	registry cloud.ContainerRegistry,
	logs cloud.LogDestinations,
	builds cloud.BuildService,
	events cloud.EventBus,
	settings Settings,
) *Provisioner {
	if settings.BuildImage == "" {
		settings.BuildImage = DefaultBuildImage
	}
	if settings.ComputeType == "" {
		settings.ComputeType = DefaultComputeType
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = defaultCallTimeout
	}
	return &Provisioner{
		registry: registry,
		logs:     logs,
		builds:   builds,
		events:   events,
		settings: settings,
	}
}

// Provision creates the registry repository, log group, build project and
// event rule in that order. When a step fails every resource created so far
// is deleted again, newest first, and a *ProvisioningError is returned.
func (p *Provisioner) Provision(ctx context.Context, cfg ProjectConfig) (*domain.ProvisionedResourceSet, error) {
	names := NamesFor(cfg.UserID, cfg.ProjectID)
	set := &domain.ProvisionedResourceSet{
		ProjectID: cfg.ProjectID,
		UserID:    cfg.UserID,
	}
	logger := slog.With("layer", "provision", "project_id", cfg.ProjectID, "user_id", cfg.UserID)
	comp := &compensations{logger: logger, timeout: p.settings.CallTimeout}

	fail := func(step Step, err error) (*domain.ProvisionedResourceSet, error) {
		logger.Error("Provisioning step failed, rolling back",
			"operation", "provision",
			"step", step,
			"error", err)
		comp.unwind(ctx)
		return nil, &ProvisioningError{Step: step, Err: err}
	}

	var repo cloud.Repository
	err := p.call(ctx, func(ctx context.Context) error {
		var err error
		repo, err = p.registry.CreateRepository(ctx, names.Repository)
		return err
	})
	if err != nil {
		return fail(StepRegistry, err)
	}
	set.RegistryRepoName = repo.Name
	set.RegistryURI = repo.URI
	comp.push(StepRegistry, func(ctx context.Context) error {
		return p.registry.DeleteRepository(ctx, repo.Name)
	})

	err = p.call(ctx, func(ctx context.Context) error {
		return p.logs.CreateLogGroup(ctx, names.LogGroup)
	})
	if err != nil {
		return fail(StepLogDestination, err)
	}
	set.LogDestinationName = names.LogGroup
	comp.push(StepLogDestination, func(ctx context.Context) error {
		return p.logs.DeleteLogGroup(ctx, names.LogGroup)
	})

	script, err := buildspec.Compile(cfg.Nodes).JSON()
	if err != nil {
		return fail(StepBuildProject, fmt.Errorf("failed to serialize build script: %w", err))
	}

	var project cloud.BuildProject
	err = p.call(ctx, func(ctx context.Context) error {
		var err error
		project, err = p.builds.CreateProject(ctx, p.projectSpec(cfg, names, repo.URI, string(script)))
		return err
	})
	if err != nil {
		return fail(StepBuildProject, err)
	}
	set.BuildProjectName = project.Name
	set.BuildProjectARN = project.ARN
	comp.push(StepBuildProject, func(ctx context.Context) error {
		return p.builds.DeleteProject(ctx, project.Name)
	})

	rule, err := p.createRule(ctx, names, project.Name)
	if err != nil {
		return fail(StepEventRule, err)
	}
	set.EventSubscriptionID = rule.Name

	logger.Info("Project resources provisioned",
		"operation", "provision",
		"repository", set.RegistryRepoName,
		"build_project", set.BuildProjectName,
		"rule", set.EventSubscriptionID)
	return set, nil
}

// createRule puts the build state rule and attaches the event processor.
// Attaching the target is optional configuration, so its failure only logs.
func (p *Provisioner) createRule(ctx context.Context, names ResourceNames, projectName string) (cloud.Rule, error) {
	pattern, err := buildEventPattern(projectName)
	if err != nil {
		return cloud.Rule{}, err
	}

	var rule cloud.Rule
	err = p.call(ctx, func(ctx context.Context) error {
		var err error
		rule, err = p.events.PutRule(ctx, cloud.RuleSpec{
			Name:         names.Rule,
			Description:  "Otto build state changes for " + projectName,
			EventPattern: pattern,
		})
		return err
	})
	if err != nil {
		return cloud.Rule{}, err
	}

	if p.settings.EventTargetARN == "" {
		slog.Debug("No event target configured, rule left without target",
			"layer", "provision",
			"rule", rule.Name)
		return rule, nil
	}

	err = p.call(ctx, func(ctx context.Context) error {
		return p.events.PutTarget(ctx, rule.Name, cloud.Target{
			ID:      EventTargetID,
			ARN:     p.settings.EventTargetARN,
			RoleARN: p.settings.EventTargetRoleARN,
		})
	})
	if err != nil {
		slog.Warn("Failed to attach event target, continuing without it",
			"layer", "provision",
			"operation", "attach_target",
			"rule", rule.Name,
			"target_arn", p.settings.EventTargetARN,
			"error", err)
	}
	return rule, nil
}

func (p *Provisioner) projectSpec(cfg ProjectConfig, names ResourceNames, registryURI, script string) cloud.BuildProjectSpec {
	env := make(map[string]string, len(cfg.Environment)+3)
	for k, v := range cfg.Environment {
		env[k] = v
	}
	env[buildspec.EnvRegistryURI] = registryURI
	env[buildspec.EnvTagPrefix] = buildspec.TagPrefix(cfg.UserID, cfg.ProjectID)
	if _, ok := env[buildspec.EnvContainerName]; !ok {
		env[buildspec.EnvContainerName] = "app"
	}

	sourceType := cfg.SourceType
	if sourceType == "" {
		sourceType = DefaultSourceType
	}

	return cloud.BuildProjectSpec{
		Name:         names.BuildProject,
		Description:  "Otto build project for " + cfg.ProjectID,
		SourceType:   sourceType,
		SourceURL:    cfg.SourceURL,
		BuildSpec:    script,
		Image:        p.settings.BuildImage,
		ComputeType:  p.settings.ComputeType,
		ServiceRole:  p.settings.ServiceRole,
		LogGroupName: names.LogGroup,
		Environment:  env,
	}
}

// Teardown deletes every resource in set, newest first. Each deletion runs
// regardless of the others and a missing resource counts as deleted. A log
// group that cannot be deleted is only logged.
func (p *Provisioner) Teardown(ctx context.Context, set *domain.ProvisionedResourceSet) error {
	logger := slog.With("layer", "provision", "operation", "teardown", "project_id", set.ProjectID)

	type deletion struct {
		kind     string
		name     string
		critical bool
		fn       func(ctx context.Context, name string) error
	}
	deletions := []deletion{
		{"event_rule", set.EventSubscriptionID, true, p.events.DeleteRule},
		{"build_project", set.BuildProjectName, true, p.builds.DeleteProject},
		{"log_group", set.LogDestinationName, false, p.logs.DeleteLogGroup},
		{"repository", set.RegistryRepoName, true, p.registry.DeleteRepository},
	}

	var errs []error
	for _, d := range deletions {
		if d.name == "" {
			continue
		}
		err := p.call(ctx, func(ctx context.Context) error {
			return d.fn(ctx, d.name)
		})
		switch {
		case err == nil:
			logger.Debug("Resource deleted", "resource", d.kind, "name", d.name)
		case errors.Is(err, cloud.ErrNotFound):
			logger.Debug("Resource already absent", "resource", d.kind, "name", d.name)
		case !d.critical:
			logger.Warn("Failed to delete non-critical resource", "resource", d.kind, "name", d.name, "error", err)
		default:
			logger.Error("Failed to delete resource", "resource", d.kind, "name", d.name, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", d.kind, d.name, err))
		}
	}

	if len(errs) > 0 {
		return &TeardownError{Errs: errs}
	}
	return nil
}

// call runs fn with the per-call timeout
func (p *Provisioner) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.settings.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func buildEventPattern(projectName string) (string, error) {
	pattern := map[string]any{
		"source":      []string{"aws.codebuild"},
		"detail-type": []string{"CodeBuild Build State Change"},
		"detail": map[string]any{
			"project-name": []string{projectName},
		},
	}
	b, err := json.Marshal(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to encode event pattern: %w", err)
	}
	return string(b), nil
}

// compensations is the undo stack of a running Provision
type compensations struct {
	logger  *slog.Logger
	timeout time.Duration
	undo    []compensation
}

type compensation struct {
	step Step
	fn   func(ctx context.Context) error
}

func (c *compensations) push(step Step, fn func(ctx context.Context) error) {
	c.undo = append(c.undo, compensation{step: step, fn: fn})
}

// unwind runs every compensation newest first. They run detached from ctx
// so a cancelled request still cleans up after itself.
func (c *compensations) unwind(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	for i := len(c.undo) - 1; i >= 0; i-- {
		u := c.undo[i]
		undoCtx, cancel := context.WithTimeout(detached, c.timeout)
		err := u.fn(undoCtx)
		cancel()

		switch {
		case err == nil:
			c.logger.Info("Rolled back provisioning step", "operation", "rollback", "step", u.step)
		case errors.Is(err, cloud.ErrNotFound):
			c.logger.Debug("Rollback target already absent", "operation", "rollback", "step", u.step)
		default:
			c.logger.Warn("Failed to roll back provisioning step", "operation", "rollback", "step", u.step, "error", err)
		}
	}
	c.undo = nil
}
