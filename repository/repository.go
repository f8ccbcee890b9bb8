package repository

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cooodecat/otto-handler/db"
	"github.com/cooodecat/otto-handler/domain"
)

var (
	// ErrNotFound is returned when no row matches the lookup
	ErrNotFound = gorm.ErrRecordNotFound
	// ErrVersionConflict is returned when a conditional update lost the race
	ErrVersionConflict = errors.New("deployment was modified concurrently")
	// ErrActiveDeploymentExists is returned when a pipeline already has a non-terminal deployment
	ErrActiveDeploymentExists = errors.New("pipeline already has an active deployment")
)

type ExecutionRepository interface {
	Create(execution *domain.Execution) error
	FindByID(id string) (*domain.Execution, error)
	// AdvanceStatus moves the execution forward to next and merges patch into its metadata.
	// The returned bool is false when the row was already at or past next.
	AdvanceStatus(id string, next domain.ExecutionStatus, at time.Time, patch map[string]any) (*domain.Execution, bool, error)
	List(pipelineID string, limit int) ([]*domain.Execution, error)
	// ListUnfinished returns executions still pending or running, oldest first
	ListUnfinished() ([]*domain.Execution, error)
	// MergeMetadata adds patch to the execution's metadata without touching its status
	MergeMetadata(id string, patch map[string]any) (*domain.Execution, error)
}

type executionRepository struct {
	db     *gorm.DB
	mapper *ExecutionMapper
}

// executionPredecessors lists the statuses an execution may move out of to reach the key
var executionPredecessors = map[domain.ExecutionStatus][]string{
	domain.ExecutionStatusRunning: {domain.ExecutionStatusPending.String()},
	domain.ExecutionStatusSuccess: {domain.ExecutionStatusPending.String(), domain.ExecutionStatusRunning.String()},
	domain.ExecutionStatusFailed:  {domain.ExecutionStatusPending.String(), domain.ExecutionStatusRunning.String()},
}

func (r *executionRepository) Create(execution *domain.Execution) error {
	m := r.mapper.ToModel(execution)
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_execution",
			"execution_id", execution.ID,
			"error", err)
		return err
	}
	*execution = *r.mapper.ToDomain(m)
	return nil
}

func (r *executionRepository) FindByID(id string) (*domain.Execution, error) {
	var m db.ExecutionModel
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *executionRepository) AdvanceStatus(
	id string,
	next domain.ExecutionStatus,
	at time.Time,
	patch map[string]any,
) (*domain.Execution, bool, error) {
	from, ok := executionPredecessors[next]
	if !ok {
		return nil, false, fmt.Errorf("cannot advance execution to %s", next)
	}

	var m db.ExecutionModel
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		if !slices.Contains(from, m.Status) {
			return nil
		}

		current := m.Status
		m.Status = next.String()
		if next.IsTerminal() {
			m.CompletedAt = &at
		}
		if len(patch) > 0 {
			merged := maps.Clone(m.Metadata)
			if merged == nil {
				merged = make(map[string]any, len(patch))
			}
			maps.Copy(merged, patch)
			m.Metadata = merged
		}

		res := tx.Model(&db.ExecutionModel{}).
			Where("id = ? AND status = ?", id, current).
			Select("status", "completed_at", "metadata", "updated_at").
			Updates(&m)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "advance_execution",
			"execution_id", id,
			"status", next.String(),
			"error", err)
		return nil, false, err
	}
	return r.mapper.ToDomain(&m), applied, nil
}

func (r *executionRepository) List(pipelineID string, limit int) ([]*domain.Execution, error) {
	query := r.db.Order("created_at DESC")
	if pipelineID != "" {
		query = query.Where("pipeline_id = ?", pipelineID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []db.ExecutionModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	executions := make([]*domain.Execution, len(models))
	for i, m := range models {
		executions[i] = r.mapper.ToDomain(&m)
	}
	return executions, nil
}

func (r *executionRepository) ListUnfinished() ([]*domain.Execution, error) {
	var models []db.ExecutionModel
	if err := r.db.
		Where("status IN ?", executionPredecessors[domain.ExecutionStatusSuccess]).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	executions := make([]*domain.Execution, len(models))
	for i, m := range models {
		executions[i] = r.mapper.ToDomain(&m)
	}
	return executions, nil
}

func (r *executionRepository) MergeMetadata(id string, patch map[string]any) (*domain.Execution, error) {
	var m db.ExecutionModel
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		merged := maps.Clone(m.Metadata)
		if merged == nil {
			merged = make(map[string]any, len(patch))
		}
		maps.Copy(merged, patch)
		m.Metadata = merged
		return tx.Model(&db.ExecutionModel{}).
			Where("id = ?", id).
			Select("metadata", "updated_at").
			Updates(&m).Error
	})
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "merge_execution_metadata",
			"execution_id", id,
			"error", err)
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &executionRepository{
		db:     db,
		mapper: &ExecutionMapper{},
	}
}

type ResourceSetRepository interface {
	// Save inserts or replaces the set stored for its project
	Save(set *domain.ProvisionedResourceSet) error
	FindByProjectID(projectID string) (*domain.ProvisionedResourceSet, error)
	Delete(projectID string) error
}

type resourceSetRepository struct {
	db     *gorm.DB
	mapper *ResourceSetMapper
}

func (r *resourceSetRepository) Save(set *domain.ProvisionedResourceSet) error {
	m := r.mapper.ToModel(set)
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "registry_repo_name", "registry_uri", "build_project_name",
			"build_project_arn", "log_destination_name", "event_subscription_id", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "save_resource_set",
			"project_id", set.ProjectID,
			"error", err)
		return err
	}
	*set = *r.mapper.ToDomain(m)
	return nil
}

func (r *resourceSetRepository) FindByProjectID(projectID string) (*domain.ProvisionedResourceSet, error) {
	var m db.ResourceSetModel
	if err := r.db.First(&m, "project_id = ?", projectID).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *resourceSetRepository) Delete(projectID string) error {
	err := r.db.Where("project_id = ?", projectID).Delete(&db.ResourceSetModel{}).Error
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "delete_resource_set",
			"project_id", projectID,
			"error", err)
	}
	return err
}

func NewResourceSetRepository(db *gorm.DB) ResourceSetRepository {
	return &resourceSetRepository{
		db:     db,
		mapper: &ResourceSetMapper{},
	}
}
