package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"

	"github.com/cooodecat/otto-handler/cloud"
)

type BuildProjects struct {
	client *codebuild.Client
}

func (b *BuildProjects) CreateProject(ctx context.Context, spec cloud.BuildProjectSpec) (cloud.BuildProject, error) {
	source := &cbtypes.ProjectSource{
		Type:      cbtypes.SourceType(spec.SourceType),
		Buildspec: aws.String(spec.BuildSpec),
	}
	if spec.SourceURL != "" {
		source.Location = aws.String(spec.SourceURL)
	}

	out, err := b.client.CreateProject(ctx, &codebuild.CreateProjectInput{
		Name:        aws.String(spec.Name),
		Description: aws.String(spec.Description),
		Source:      source,
		Artifacts: &cbtypes.ProjectArtifacts{
			Type: cbtypes.ArtifactsTypeNoArtifacts,
		},
		Environment: &cbtypes.ProjectEnvironment{
			Type:                 cbtypes.EnvironmentTypeLinuxContainer,
			Image:                aws.String(spec.Image),
			ComputeType:          cbtypes.ComputeType(spec.ComputeType),
			PrivilegedMode:       aws.Bool(true),
			EnvironmentVariables: environmentVariables(spec.Environment),
		},
		ServiceRole: aws.String(spec.ServiceRole),
		LogsConfig: &cbtypes.LogsConfig{
			CloudWatchLogs: &cbtypes.CloudWatchLogsConfig{
				Status:    cbtypes.LogsConfigStatusTypeEnabled,
				GroupName: aws.String(spec.LogGroupName),
			},
		},
	})
	if err != nil {
		return cloud.BuildProject{}, fmt.Errorf("failed to create build project %s: %w", spec.Name, translate(err))
	}
	return cloud.BuildProject{
		Name: aws.ToString(out.Project.Name),
		ARN:  aws.ToString(out.Project.Arn),
	}, nil
}

func (b *BuildProjects) DeleteProject(ctx context.Context, name string) error {
	if _, err := b.client.DeleteProject(ctx, &codebuild.DeleteProjectInput{
		Name: aws.String(name),
	}); err != nil {
		return fmt.Errorf("failed to delete build project %s: %w", name, translate(err))
	}
	return nil
}

func (b *BuildProjects) StartBuild(ctx context.Context, req cloud.StartBuildRequest) (cloud.Build, error) {
	input := &codebuild.StartBuildInput{
		ProjectName:                  aws.String(req.ProjectName),
		EnvironmentVariablesOverride: environmentVariables(req.Environment),
	}
	if req.BuildSpecOverride != "" {
		input.BuildspecOverride = aws.String(req.BuildSpecOverride)
	}
	if req.SourceVersion != "" {
		input.SourceVersion = aws.String(req.SourceVersion)
	}

	out, err := b.client.StartBuild(ctx, input)
	if err != nil {
		return cloud.Build{}, fmt.Errorf("failed to start build for %s: %w", req.ProjectName, translate(err))
	}
	return toBuild(out.Build), nil
}

func (b *BuildProjects) GetBuild(ctx context.Context, id string) (cloud.Build, error) {
	out, err := b.client.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{
		Ids: []string{id},
	})
	if err != nil {
		return cloud.Build{}, fmt.Errorf("failed to query build %s: %w", id, translate(err))
	}
	if len(out.Builds) == 0 {
		return cloud.Build{}, fmt.Errorf("build %s: %w", id, cloud.ErrNotFound)
	}
	return toBuild(&out.Builds[0]), nil
}

func toBuild(b *cbtypes.Build) cloud.Build {
	if b == nil {
		return cloud.Build{}
	}
	build := cloud.Build{
		ID:          aws.ToString(b.Id),
		ARN:         aws.ToString(b.Arn),
		ProjectName: aws.ToString(b.ProjectName),
		BuildNumber: aws.ToInt64(b.BuildNumber),
		Status:      cloud.BuildStatus(b.BuildStatus),
	}
	if b.Logs != nil {
		build.LogGroupName = aws.ToString(b.Logs.GroupName)
		build.LogStreamName = aws.ToString(b.Logs.StreamName)
		build.LogDeepLink = aws.ToString(b.Logs.DeepLink)
	}
	return build
}

// environmentVariables converts env into plaintext variables sorted by name
func environmentVariables(env map[string]string) []cbtypes.EnvironmentVariable {
	if len(env) == 0 {
		return nil
	}
	names := make([]string, 0, len(env))
	for name := range env {
		if strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]cbtypes.EnvironmentVariable, 0, len(names))
	for _, name := range names {
		vars = append(vars, cbtypes.EnvironmentVariable{
			Name:  aws.String(name),
			Value: aws.String(env[name]),
			Type:  cbtypes.EnvironmentVariableTypePlaintext,
		})
	}
	return vars
}
