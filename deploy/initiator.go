package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
)

// Deployment Extra keys written by the build hand-off
const (
	MetaExecutionID       = "execution_id"
	MetaImageTag          = "image_tag"
	MetaBuildNumberSource = "build_number_source"
)

// PendingInitiator opens a PENDING deployment for every successful build.
// The external deploy collaborator picks it up from there.
type PendingInitiator struct {
	deployments repository.DeploymentRepository
	resources   repository.ResourceSetRepository
}

var _ build.DeployInitiator = (*PendingInitiator)(nil)

func NewPendingInitiator(deployments repository.DeploymentRepository, resources repository.ResourceSetRepository) *PendingInitiator {
	return &PendingInitiator{deployments: deployments, resources: resources}
}

func (p *PendingInitiator) InitiateDeploy(_ context.Context, execution *domain.Execution) error {
	logger := slog.With("layer", "deploy",
		"operation", "initiate_deploy",
		"execution_id", execution.ID,
		"pipeline_id", execution.PipelineID)

	if execution.Type != domain.ExecutionTypeBuild || execution.Status != domain.ExecutionStatusSuccess {
		return fmt.Errorf("execution %s is not a successful build", execution.ID)
	}

	previous, err := p.deployments.List(execution.PipelineID, 1)
	if err != nil {
		return err
	}
	deploymentType := domain.DeploymentTypeInitial
	if len(previous) > 0 {
		deploymentType = domain.DeploymentTypeUpdate
	}

	deployment := domain.NewDeployment(execution.PipelineID, execution.ProjectID, execution.UserID, deploymentType)
	tag := imageTag(execution)
	deployment.ImageURI = p.imageURI(execution, tag)
	deployment.Metadata = domain.DeploymentMetadata{Extra: map[string]any{
		MetaExecutionID:       execution.ID,
		MetaImageTag:          tag,
		MetaBuildNumberSource: execution.MetadataString(build.MetaBuildNumberSource),
	}}

	if err := p.deployments.Create(&deployment); err != nil {
		if errors.Is(err, repository.ErrActiveDeploymentExists) {
			logger.Warn("Pipeline already has an active deployment, not starting another")
		}
		return err
	}

	logger.Info("Deployment created",
		"deployment_id", deployment.ID,
		"deployment_type", deploymentType.String(),
		"image_uri", deployment.ImageURI)
	return nil
}

// imageTag is the tag the build pushed. A timestamp build number never
// reached the build itself, so only the latest tag is known to exist.
func imageTag(execution *domain.Execution) string {
	tag := execution.MetadataString(build.MetaImageTag)
	if tag == "" || execution.MetadataString(build.MetaBuildNumberSource) == build.BuildNumberFromTimestamp {
		return "latest"
	}
	return tag
}

func (p *PendingInitiator) imageURI(execution *domain.Execution, tag string) string {
	set, err := p.resources.FindByProjectID(execution.ProjectID)
	if err != nil || set.RegistryURI == "" {
		slog.Warn("No registry recorded for project, image left unset",
			"layer", "deploy",
			"project_id", execution.ProjectID)
		return ""
	}
	return set.RegistryURI + ":" + tag
}
