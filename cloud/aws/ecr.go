package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/cooodecat/otto-handler/cloud"
)

type Registry struct {
	client *ecr.Client
}

func (r *Registry) CreateRepository(ctx context.Context, name string) (cloud.Repository, error) {
	out, err := r.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		ImageTagMutability: ecrtypes.ImageTagMutabilityMutable,
	})
	if err != nil {
		return cloud.Repository{}, fmt.Errorf("failed to create repository %s: %w", name, translate(err))
	}
	return cloud.Repository{
		Name: aws.ToString(out.Repository.RepositoryName),
		URI:  aws.ToString(out.Repository.RepositoryUri),
		ARN:  aws.ToString(out.Repository.RepositoryArn),
	}, nil
}

// DeleteRepository removes the repository and every image in it
func (r *Registry) DeleteRepository(ctx context.Context, name string) error {
	_, err := r.client.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: aws.String(name),
		Force:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to delete repository %s: %w", name, translate(err))
	}
	return nil
}
