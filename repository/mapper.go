// Package repository provides the data access layer for executions, deployments and provisioned resources.
package repository

import (
	"encoding/json"
	"log/slog"

	"github.com/cooodecat/otto-handler/db"
	"github.com/cooodecat/otto-handler/domain"
)

type ExecutionMapper struct{}

func (m *ExecutionMapper) ToDomain(e *db.ExecutionModel) *domain.Execution {
	status, err := domain.ParseExecutionStatus(e.Status)
	if err != nil {
		status = domain.ExecutionStatusUnknown
	}
	execType, err := domain.ParseExecutionType(e.Type)
	if err != nil {
		execType = domain.ExecutionTypeUnknown
	}

	return &domain.Execution{
		ID:              e.ID,
		PipelineID:      e.PipelineID,
		ProjectID:       e.ProjectID,
		UserID:          e.UserID,
		Type:            execType,
		Status:          status,
		ExternalBuildID: e.ExternalBuildID,
		LogStreamRef:    e.LogStreamRef,
		Metadata:        e.Metadata,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func (m *ExecutionMapper) ToModel(e *domain.Execution) *db.ExecutionModel {
	return &db.ExecutionModel{
		ID:              e.ID,
		PipelineID:      e.PipelineID,
		ProjectID:       e.ProjectID,
		UserID:          e.UserID,
		Type:            e.Type.String(),
		Status:          e.Status.String(),
		ExternalBuildID: e.ExternalBuildID,
		LogStreamRef:    e.LogStreamRef,
		Metadata:        e.Metadata,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

type DeploymentMapper struct{}

func (m *DeploymentMapper) ToDomain(d *db.DeploymentModel) *domain.Deployment {
	status, err := domain.ParseDeploymentStatus(d.Status)
	if err != nil {
		status = domain.DeploymentStatusUnknown
	}
	deploymentType, err := domain.ParseDeploymentType(d.DeploymentType)
	if err != nil {
		deploymentType = domain.DeploymentTypeUnknown
	}

	var metadata domain.DeploymentMetadata
	if d.Metadata != "" {
		if err := json.Unmarshal([]byte(d.Metadata), &metadata); err != nil {
			// The row stays usable, the next merge starts from an empty bag
			slog.Error("Failed to decode deployment metadata",
				"layer", "repository",
				"deployment_id", d.ID,
				"error", err)
			metadata = domain.DeploymentMetadata{}
		}
	}

	return &domain.Deployment{
		ID:                     d.ID,
		PipelineID:             d.PipelineID,
		UserID:                 d.UserID,
		ProjectID:              d.ProjectID,
		Status:                 status,
		DeploymentType:         deploymentType,
		DeployURL:              d.DeployURL,
		OrchestratorServiceRef: d.OrchestratorServiceRef,
		TargetGroupRef:         d.TargetGroupRef,
		LoadBalancerRef:        d.LoadBalancerRef,
		ImageURI:               d.ImageURI,
		ErrorMessage:           d.ErrorMessage,
		Metadata:               metadata,
		Version:                d.Version,
		StartedAt:              d.StartedAt,
		DeployedAt:             d.DeployedAt,
		CompletedAt:            d.CompletedAt,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

func (m *DeploymentMapper) ToModel(d *domain.Deployment) (*db.DeploymentModel, error) {
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return nil, err
	}

	return &db.DeploymentModel{
		BaseModel: db.BaseModel{
			ID:        d.ID,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		},
		PipelineID:             d.PipelineID,
		UserID:                 d.UserID,
		ProjectID:              d.ProjectID,
		Status:                 d.Status.String(),
		DeploymentType:         d.DeploymentType.String(),
		DeployURL:              d.DeployURL,
		OrchestratorServiceRef: d.OrchestratorServiceRef,
		TargetGroupRef:         d.TargetGroupRef,
		LoadBalancerRef:        d.LoadBalancerRef,
		ImageURI:               d.ImageURI,
		ErrorMessage:           d.ErrorMessage,
		Metadata:               string(metadata),
		Version:                d.Version,
		StartedAt:              d.StartedAt,
		DeployedAt:             d.DeployedAt,
		CompletedAt:            d.CompletedAt,
	}, nil
}

type ResourceSetMapper struct{}

func (m *ResourceSetMapper) ToDomain(r *db.ResourceSetModel) *domain.ProvisionedResourceSet {
	return &domain.ProvisionedResourceSet{
		ProjectID:           r.ProjectID,
		UserID:              r.UserID,
		RegistryRepoName:    r.RegistryRepoName,
		RegistryURI:         r.RegistryURI,
		BuildProjectName:    r.BuildProjectName,
		BuildProjectARN:     r.BuildProjectARN,
		LogDestinationName:  r.LogDestinationName,
		EventSubscriptionID: r.EventSubscriptionID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func (m *ResourceSetMapper) ToModel(r *domain.ProvisionedResourceSet) *db.ResourceSetModel {
	return &db.ResourceSetModel{
		ProjectID:           r.ProjectID,
		UserID:              r.UserID,
		RegistryRepoName:    r.RegistryRepoName,
		RegistryURI:         r.RegistryURI,
		BuildProjectName:    r.BuildProjectName,
		BuildProjectARN:     r.BuildProjectARN,
		LogDestinationName:  r.LogDestinationName,
		EventSubscriptionID: r.EventSubscriptionID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}
