package api

import (
	"time"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type EventResponse struct {
	Kind    string `json:"kind,omitempty"`
	Ignored bool   `json:"ignored"`
	Reason  string `json:"reason,omitempty"`
}

// CompileRequest accepts a flow graph either wrapped or as a bare array
type CompileRequest struct {
	Nodes []domain.PipelineNode `json:"nodes"`
}

type ProvisionRequest struct {
	SourceType  string                `json:"sourceType,omitempty"`
	SourceURL   string                `json:"sourceUrl,omitempty"`
	Nodes       []domain.PipelineNode `json:"nodes,omitempty"`
	Environment map[string]string     `json:"environment,omitempty"`
}

type StartBuildRequest struct {
	ProjectID     string                `json:"projectId"`
	Nodes         []domain.PipelineNode `json:"nodes,omitempty"`
	SourceVersion string                `json:"sourceVersion,omitempty"`
	Environment   map[string]string     `json:"environment,omitempty"`
}

type StartDeploymentRequest struct {
	ServiceRef string `json:"serviceRef"`
	ImageURI   string `json:"imageUri,omitempty"`
}

type HealthCheckRequest struct {
	TargetGroupRef  string `json:"targetGroupRef"`
	LoadBalancerRef string `json:"loadBalancerRef,omitempty"`
	LoadBalancerDNS string `json:"loadBalancerDns,omitempty"`
}

type FailRequest struct {
	Reason string `json:"reason"`
}

type ResourceSetResponse struct {
	ProjectID           string    `json:"projectId"`
	UserID              string    `json:"userId"`
	RegistryRepoName    string    `json:"registryRepoName,omitempty"`
	RegistryURI         string    `json:"registryUri,omitempty"`
	BuildProjectName    string    `json:"buildProjectName,omitempty"`
	BuildProjectARN     string    `json:"buildProjectArn,omitempty"`
	LogDestinationName  string    `json:"logDestinationName,omitempty"`
	EventSubscriptionID string    `json:"eventSubscriptionId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

func toResourceSetResponse(set *domain.ProvisionedResourceSet) ResourceSetResponse {
	return ResourceSetResponse{
		ProjectID:           set.ProjectID,
		UserID:              set.UserID,
		RegistryRepoName:    set.RegistryRepoName,
		RegistryURI:         set.RegistryURI,
		BuildProjectName:    set.BuildProjectName,
		BuildProjectARN:     set.BuildProjectARN,
		LogDestinationName:  set.LogDestinationName,
		EventSubscriptionID: set.EventSubscriptionID,
		CreatedAt:           set.CreatedAt,
	}
}

type StartBuildResponse struct {
	ExecutionID       string `json:"executionId"`
	ExternalBuildID   string `json:"externalBuildId"`
	BuildNumber       int64  `json:"buildNumber"`
	BuildNumberSource string `json:"buildNumberSource"`
	ImageTag          string `json:"imageTag"`
	Status            string `json:"status"`
	Watched           bool   `json:"watched"`
}

func toStartBuildResponse(res *build.StartResult, watched bool) StartBuildResponse {
	out := StartBuildResponse{
		ExecutionID:       res.ExecutionID,
		ExternalBuildID:   res.ExternalBuildID,
		BuildNumber:       res.BuildNumber,
		BuildNumberSource: res.BuildNumberSource,
		ImageTag:          res.ImageTag,
		Watched:           watched,
	}
	if res.Execution != nil {
		out.Status = res.Execution.Status.String()
	}
	return out
}

type ExecutionResponse struct {
	ID              string         `json:"id"`
	PipelineID      string         `json:"pipelineId"`
	ProjectID       string         `json:"projectId"`
	UserID          string         `json:"userId"`
	Type            string         `json:"type"`
	Status          string         `json:"status"`
	ExternalBuildID string         `json:"externalBuildId,omitempty"`
	LogStreamRef    string         `json:"logStreamRef,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func toExecutionResponse(e *domain.Execution) ExecutionResponse {
	return ExecutionResponse{
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
		UpdatedAt:       e.UpdatedAt,
	}
}

type DeploymentResponse struct {
	ID                     string                    `json:"id"`
	PipelineID             string                    `json:"pipelineId"`
	ProjectID              string                    `json:"projectId"`
	UserID                 string                    `json:"userId"`
	Status                 string                    `json:"status"`
	DeploymentType         string                    `json:"deploymentType"`
	DeployURL              string                    `json:"deployUrl,omitempty"`
	OrchestratorServiceRef string                    `json:"orchestratorServiceRef,omitempty"`
	TargetGroupRef         string                    `json:"targetGroupRef,omitempty"`
	LoadBalancerRef        string                    `json:"loadBalancerRef,omitempty"`
	ImageURI               string                    `json:"imageUri,omitempty"`
	ErrorMessage           string                    `json:"errorMessage,omitempty"`
	Metadata               domain.DeploymentMetadata `json:"metadata"`
	Version                int64                     `json:"version"`
	StartedAt              time.Time                 `json:"startedAt"`
	DeployedAt             *time.Time                `json:"deployedAt,omitempty"`
	CompletedAt            *time.Time                `json:"completedAt,omitempty"`
	UpdatedAt              time.Time                 `json:"updatedAt"`
}

func toDeploymentResponse(d *domain.Deployment) DeploymentResponse {
	return DeploymentResponse{
		ID:                     d.ID.String(),
		PipelineID:             d.PipelineID,
		ProjectID:              d.ProjectID,
		UserID:                 d.UserID,
		Status:                 d.Status.String(),
		DeploymentType:         d.DeploymentType.String(),
		DeployURL:              d.DeployURL,
		OrchestratorServiceRef: d.OrchestratorServiceRef,
		TargetGroupRef:         d.TargetGroupRef,
		LoadBalancerRef:        d.LoadBalancerRef,
		ImageURI:               d.ImageURI,
		ErrorMessage:           d.ErrorMessage,
		Metadata:               d.Metadata,
		Version:                d.Version,
		StartedAt:              d.StartedAt,
		DeployedAt:             d.DeployedAt,
		CompletedAt:            d.CompletedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}
