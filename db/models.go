// Package db provides database models and utilities for Otto.
package db

import (
	"time"

	"github.com/google/uuid"
)

type BaseModel struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MigrationModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"not null;uniqueIndex"`
	AppliedAt time.Time `gorm:"not null"`
}

func (MigrationModel) TableName() string {
	return "migrations"
}

// ExecutionModel is keyed by the unique suffix of the external build id
type ExecutionModel struct {
	ID              string         `gorm:"type:varchar(128);primaryKey"`
	PipelineID      string         `gorm:"not null;index"`
	ProjectID       string         `gorm:"not null;index"`
	UserID          string         `gorm:"not null"`
	Type            string         `gorm:"not null"`                    // build, deploy
	Status          string         `gorm:"not null;check:status <> ''"` // pending, running, success, failed
	ExternalBuildID string         `gorm:"not null;uniqueIndex"`
	LogStreamRef    string
	Metadata        map[string]any `gorm:"serializer:json;type:text"`
	StartedAt       time.Time      `gorm:"not null"`
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ExecutionModel) TableName() string {
	return "executions"
}

type DeploymentModel struct {
	BaseModel
	PipelineID             string `gorm:"not null;index:idx_deployments_pipeline_status,priority:1"`
	UserID                 string `gorm:"not null"`
	ProjectID              string `gorm:"not null;index"`
	Status                 string `gorm:"not null;index:idx_deployments_pipeline_status,priority:2;check:status <> ''"`
	DeploymentType         string `gorm:"not null"` // initial, update, rollback
	DeployURL              string
	OrchestratorServiceRef string
	TargetGroupRef         string `gorm:"index"`
	LoadBalancerRef        string
	ImageURI               string
	ErrorMessage           string `gorm:"type:text"`
	Metadata               string `gorm:"type:text;not null;default:'{}'"` // JSON encoded DeploymentMetadata
	Version                int64  `gorm:"not null;default:1"`              // optimistic lock, bumped on every update
	StartedAt              time.Time
	DeployedAt             *time.Time
	CompletedAt            *time.Time
}

func (DeploymentModel) TableName() string {
	return "deployments"
}

// ResourceSetModel records the cloud resources provisioned for a project
type ResourceSetModel struct {
	ProjectID           string `gorm:"type:varchar(128);primaryKey"`
	UserID              string `gorm:"not null"`
	RegistryRepoName    string
	RegistryURI         string
	BuildProjectName    string
	BuildProjectARN     string
	LogDestinationName  string
	EventSubscriptionID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (ResourceSetModel) TableName() string {
	return "resource_sets"
}
