package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
)

// Service provisions projects and remembers what was created so teardown is precise
type Service struct {
	provisioner *Provisioner
	resources   repository.ResourceSetRepository
}

func NewService(provisioner *Provisioner, resources repository.ResourceSetRepository) *Service {
	return &Service{
		provisioner: provisioner,
		resources:   resources,
	}
}

func (s *Service) Provision(ctx context.Context, cfg ProjectConfig) (*domain.ProvisionedResourceSet, error) {
	if _, err := s.resources.FindByProjectID(cfg.ProjectID); err == nil {
		return nil, ErrAlreadyProvisioned
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	set, err := s.provisioner.Provision(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := s.resources.Save(set); err != nil {
		// Unrecorded resources could never be torn down, so remove them now
		slog.Error("Failed to record provisioned resources, tearing them down",
			"layer", "provision",
			"operation", "save_resource_set",
			"project_id", cfg.ProjectID,
			"error", err)
		if tdErr := s.provisioner.Teardown(context.WithoutCancel(ctx), set); tdErr != nil {
			return nil, errors.Join(fmt.Errorf("failed to record provisioned resources: %w", err), tdErr)
		}
		return nil, fmt.Errorf("failed to record provisioned resources: %w", err)
	}
	return set, nil
}

// Teardown destroys the project's resources. The record is kept when any
// deletion failed, so the teardown can be retried.
func (s *Service) Teardown(ctx context.Context, projectID string) error {
	set, err := s.Get(projectID)
	if err != nil {
		return err
	}

	if err := s.provisioner.Teardown(ctx, set); err != nil {
		return err
	}
	return s.resources.Delete(projectID)
}

func (s *Service) Get(projectID string) (*domain.ProvisionedResourceSet, error) {
	set, err := s.resources.FindByProjectID(projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotProvisioned
	}
	return set, err
}
