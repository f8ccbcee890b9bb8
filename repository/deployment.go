package repository

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cooodecat/otto-handler/db"
	"github.com/cooodecat/otto-handler/domain"
)

type DeploymentRepository interface {
	// Create inserts a new deployment. An active deployment is rejected with
	// ErrActiveDeploymentExists while its pipeline already has one.
	Create(deployment *domain.Deployment) error
	FindByID(id uuid.UUID) (*domain.Deployment, error)
	// ListByStatus returns matching deployments, most recently created first
	ListByStatus(statuses ...domain.DeploymentStatus) ([]*domain.Deployment, error)
	// ListByTargetGroup returns deployments with an exact target group match, most recently created first
	ListByTargetGroup(targetGroupRef string, statuses ...domain.DeploymentStatus) ([]*domain.Deployment, error)
	List(pipelineID string, limit int) ([]*domain.Deployment, error)
	// CompareAndSwap persists deployment only if the stored version still equals
	// deployment.Version, then bumps the version. A lost race returns ErrVersionConflict.
	CompareAndSwap(deployment *domain.Deployment) error
}

type deploymentRepository struct {
	db     *gorm.DB
	mapper *DeploymentMapper
}

func (r *deploymentRepository) Create(deployment *domain.Deployment) error {
	if deployment.ID == uuid.Nil {
		deployment.ID = uuid.New()
	}
	if deployment.Version == 0 {
		deployment.Version = 1
	}

	m, err := r.mapper.ToModel(deployment)
	if err != nil {
		return err
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if deployment.Status.IsActive() {
			var count int64
			if err := tx.Model(&db.DeploymentModel{}).
				Where("pipeline_id = ? AND status IN ?", deployment.PipelineID, statusNames(domain.ActiveDeploymentStatuses())).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrActiveDeploymentExists
			}
		}
		return tx.Create(m).Error
	})
	if err != nil {
		if !errors.Is(err, ErrActiveDeploymentExists) {
			slog.Error("Database operation failed",
				"layer", "repository",
				"operation", "create_deployment",
				"deployment_id", deployment.ID,
				"pipeline_id", deployment.PipelineID,
				"error", err)
		}
		return err
	}

	// Update the domain object with the timestamps that GORM populated
	*deployment = *r.mapper.ToDomain(m)
	return nil
}

func (r *deploymentRepository) FindByID(id uuid.UUID) (*domain.Deployment, error) {
	var m db.DeploymentModel
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *deploymentRepository) ListByStatus(statuses ...domain.DeploymentStatus) ([]*domain.Deployment, error) {
	var models []db.DeploymentModel
	if err := r.db.Where("status IN ?", statusNames(statuses)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *deploymentRepository) ListByTargetGroup(
	targetGroupRef string,
	statuses ...domain.DeploymentStatus,
) ([]*domain.Deployment, error) {
	var models []db.DeploymentModel
	if err := r.db.Where("target_group_ref = ? AND status IN ?", targetGroupRef, statusNames(statuses)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *deploymentRepository) List(pipelineID string, limit int) ([]*domain.Deployment, error) {
	query := r.db.Order("created_at DESC")
	if pipelineID != "" {
		query = query.Where("pipeline_id = ?", pipelineID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []db.DeploymentModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *deploymentRepository) CompareAndSwap(deployment *domain.Deployment) error {
	m, err := r.mapper.ToModel(deployment)
	if err != nil {
		return err
	}
	expected := deployment.Version
	m.Version = expected + 1
	m.UpdatedAt = time.Now().UTC()

	// CreatedAt should never be updated after initial creation
	res := r.db.Model(&db.DeploymentModel{}).
		Where("id = ? AND version = ?", deployment.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(m)
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "update_deployment",
			"deployment_id", deployment.ID,
			"error", res.Error)
		return res.Error
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.Model(&db.DeploymentModel{}).Where("id = ?", deployment.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	deployment.Version = m.Version
	deployment.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *deploymentRepository) toDomainList(models []db.DeploymentModel) []*domain.Deployment {
	deployments := make([]*domain.Deployment, len(models))
	for i, m := range models {
		deployments[i] = r.mapper.ToDomain(&m)
	}
	return deployments
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{
		db:     db,
		mapper: &DeploymentMapper{},
	}
}

func statusNames(statuses []domain.DeploymentStatus) []string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = s.String()
	}
	return names
}
