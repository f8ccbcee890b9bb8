package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
)

// Execution metadata written when the deployment of a build succeeds
const (
	MetaDeploymentID = "deployment_id"
	MetaDeployURL    = "deploy_url"
	MetaDeployedAt   = "deployed_at"
)

// ExecutionRecorder marks the build execution that produced a deployment
// once that deployment reaches SUCCESS.
type ExecutionRecorder struct {
	executions repository.ExecutionRepository
}

var _ CompletionNotifier = (*ExecutionRecorder)(nil)

func NewExecutionRecorder(executions repository.ExecutionRepository) *ExecutionRecorder {
	return &ExecutionRecorder{executions: executions}
}

func (r *ExecutionRecorder) DeploymentSucceeded(_ context.Context, deployment *domain.Deployment) error {
	executionID, _ := deployment.Metadata.Extra[MetaExecutionID].(string)
	if executionID == "" {
		// deployments created outside the build hand-off have no execution
		return nil
	}

	deployedAt := time.Now().UTC()
	if deployment.DeployedAt != nil {
		deployedAt = deployment.DeployedAt.UTC()
	}
	_, err := r.executions.MergeMetadata(executionID, map[string]any{
		MetaDeploymentID: deployment.ID.String(),
		MetaDeployURL:    deployment.DeployURL,
		MetaDeployedAt:   deployedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("recording deployment on execution %s: %w", executionID, err)
	}
	return nil
}
