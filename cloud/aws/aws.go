// Package aws implements the cloud collaborators on top of the AWS SDK.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/smithy-go"

	"github.com/cooodecat/otto-handler/cloud"
)

// Clients bundles the collaborator implementations that share one AWS configuration
type Clients struct {
	Registry *Registry
	Logs     *LogGroups
	Builds   *BuildProjects
	Events   *EventRules
}

// NewClients loads the default credential chain for region and builds all collaborators
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return NewClientsFromConfig(cfg), nil
}

func NewClientsFromConfig(cfg aws.Config) *Clients {
	return &Clients{
		Registry: &Registry{client: ecr.NewFromConfig(cfg)},
		Logs:     &LogGroups{client: cloudwatchlogs.NewFromConfig(cfg)},
		Builds:   &BuildProjects{client: codebuild.NewFromConfig(cfg)},
		Events:   &EventRules{client: eventbridge.NewFromConfig(cfg)},
	}
}

var (
	_ cloud.ContainerRegistry = (*Registry)(nil)
	_ cloud.LogDestinations   = (*LogGroups)(nil)
	_ cloud.BuildService      = (*BuildProjects)(nil)
	_ cloud.EventBus          = (*EventRules)(nil)
)

var notFoundCodes = map[string]struct{}{
	"RepositoryNotFoundException": {},
	"ResourceNotFoundException":   {},
}

// translate maps AWS "does not exist" errors onto cloud.ErrNotFound
func translate(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := notFoundCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %s", cloud.ErrNotFound, apiErr.ErrorMessage())
		}
	}
	return err
}
