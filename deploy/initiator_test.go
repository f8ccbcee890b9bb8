package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
	"github.com/cooodecat/otto-handler/testing/testdb"
)

func successfulBuild(tag string) *domain.Execution {
	return &domain.Execution{
		ID:         "exec-1",
		PipelineID: "pipe-1",
		ProjectID:  "proj-1",
		UserID:     "user-1",
		Type:       domain.ExecutionTypeBuild,
		Status:     domain.ExecutionStatusSuccess,
		Metadata:   map[string]any{build.MetaImageTag: tag},
	}
}

func TestPendingInitiator(t *testing.T) {
	database := testdb.New(t)
	deployments := repository.NewDeploymentRepository(database)
	resources := repository.NewResourceSetRepository(database)
	require.NoError(t, resources.Save(&domain.ProvisionedResourceSet{
		ProjectID:   "proj-1",
		UserID:      "user-1",
		RegistryURI: "123.dkr.ecr.eu-west-1.amazonaws.com/otto/user-1/proj-1",
	}))

	initiator := NewPendingInitiator(deployments, resources)
	ctx := context.Background()

	require.NoError(t, initiator.InitiateDeploy(ctx, successfulBuild("user-1-proj-1-1")))

	created, err := deployments.List("pipe-1", 0)
	require.NoError(t, err)
	require.Len(t, created, 1)
	first := created[0]
	assert.Equal(t, domain.DeploymentStatusPending, first.Status)
	assert.Equal(t, domain.DeploymentTypeInitial, first.DeploymentType)
	assert.Equal(t, "123.dkr.ecr.eu-west-1.amazonaws.com/otto/user-1/proj-1:user-1-proj-1-1", first.ImageURI)
	assert.Equal(t, "exec-1", first.Metadata.Extra["execution_id"])

	// a second build while the first deployment is in flight is refused
	err = initiator.InitiateDeploy(ctx, successfulBuild("user-1-proj-1-2"))
	assert.ErrorIs(t, err, repository.ErrActiveDeploymentExists)

	m := NewMachine(deployments, nil)
	_, err = m.Fail(ctx, first.ID, "superseded")
	require.NoError(t, err)

	require.NoError(t, initiator.InitiateDeploy(ctx, successfulBuild("user-1-proj-1-2")))
	created, err = deployments.List("pipe-1", 1)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, domain.DeploymentTypeUpdate, created[0].DeploymentType)
}

func TestPendingInitiator_ImageTag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		source  string
		wantURI string
	}{
		{"build number from response", "user-1-proj-1-7", build.BuildNumberFromResponse, "registry/otto:user-1-proj-1-7"},
		{"build number from query", "user-1-proj-1-7", build.BuildNumberFromQuery, "registry/otto:user-1-proj-1-7"},
		{"timestamp build number was never pushed", "user-1-proj-1-1741953600", build.BuildNumberFromTimestamp, "registry/otto:latest"},
		{"no tag recorded", "", "", "registry/otto:latest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database := testdb.New(t)
			deployments := repository.NewDeploymentRepository(database)
			resources := repository.NewResourceSetRepository(database)
			require.NoError(t, resources.Save(&domain.ProvisionedResourceSet{
				ProjectID:   "proj-1",
				UserID:      "user-1",
				RegistryURI: "registry/otto",
			}))

			execution := successfulBuild(tt.tag)
			if tt.source != "" {
				execution.Metadata[build.MetaBuildNumberSource] = tt.source
			}
			require.NoError(t, NewPendingInitiator(deployments, resources).InitiateDeploy(context.Background(), execution))

			created, err := deployments.List("pipe-1", 1)
			require.NoError(t, err)
			require.Len(t, created, 1)
			assert.Equal(t, tt.wantURI, created[0].ImageURI)
			assert.Equal(t, tt.source, created[0].Metadata.Extra[MetaBuildNumberSource])
		})
	}
}

func TestPendingInitiator_RejectsUnfinishedBuilds(t *testing.T) {
	database := testdb.New(t)
	initiator := NewPendingInitiator(repository.NewDeploymentRepository(database), repository.NewResourceSetRepository(database))

	running := successfulBuild("t")
	running.Status = domain.ExecutionStatusRunning
	assert.Error(t, initiator.InitiateDeploy(context.Background(), running))
}
