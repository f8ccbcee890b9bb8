// Package app provides the main application context for Otto, wiring the database, cloud collaborators and services.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"github.com/cooodecat/otto-handler/archive"
	"github.com/cooodecat/otto-handler/build"
	awscloud "github.com/cooodecat/otto-handler/cloud/aws"
	"github.com/cooodecat/otto-handler/config"
	"github.com/cooodecat/otto-handler/db"
	"github.com/cooodecat/otto-handler/deploy"
	"github.com/cooodecat/otto-handler/ingest"
	"github.com/cooodecat/otto-handler/provision"
	"github.com/cooodecat/otto-handler/repository"
	"github.com/cooodecat/otto-handler/watcher"
)

var (
	// Version is set at build time via -ldflags
	Version = "dev"

	appConfig *config.Config
	database  *gorm.DB

	executionRepo   repository.ExecutionRepository
	deploymentRepo  repository.DeploymentRepository
	resourceSetRepo repository.ResourceSetRepository

	provisionService *provision.Service
	buildTrigger     *build.Trigger
	buildTracker     *build.Tracker
	deployMachine    *deploy.Machine
	eventDispatcher  *ingest.Dispatcher
	buildWatcher     *watcher.BuildWatcher
)

// InitializeStorage opens and migrates the database. Commands that only read
// records need nothing more.
func InitializeStorage(cfg *config.Config) error {
	appConfig = cfg

	if cfg.DatabaseDriver == db.DriverSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
	}

	var err error
	database, err = db.InitDB(cfg.DatabaseDriver, cfg.DataDir, cfg.DatabaseTarget())
	if err != nil {
		return err
	}
	if err := db.AutoMigrateAll(database); err != nil {
		return err
	}

	executionRepo = repository.NewExecutionRepository(database)
	deploymentRepo = repository.NewDeploymentRepository(database)
	resourceSetRepo = repository.NewResourceSetRepository(database)
	return nil
}

// InitializeWithConfig initializes storage, the AWS collaborators and every service
func InitializeWithConfig(ctx context.Context, cfg *config.Config) error {
	if err := InitializeStorage(cfg); err != nil {
		return err
	}

	clients, err := awscloud.NewClients(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	provisioner := provision.NewProvisioner(clients.Registry, clients.Logs, clients.Builds, clients.Events, provision.Settings{
		ServiceRole:        cfg.BuildServiceRole,
		BuildImage:         cfg.BuildImage,
		ComputeType:        cfg.BuildComputeType,
		EventTargetARN:     cfg.EventTargetARN,
		EventTargetRoleARN: cfg.EventTargetRoleARN,
		CallTimeout:        cfg.CloudTimeout,
	})
	provisionService = provision.NewService(provisioner, resourceSetRepo)

	var archiver build.SpecArchiver
	if cfg.ArchiveEnabled() {
		a, err := archive.New(ctx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Region:    cfg.AWSRegion,
			UseSSL:    cfg.ArchiveUseSSL,
			Bucket:    cfg.ArchiveBucket,
		})
		if err != nil {
			return err
		}
		archiver = a
	}

	buildTrigger = build.NewTrigger(clients.Builds, executionRepo, archiver, cfg.CloudTimeout)
	buildTracker = build.NewTracker(executionRepo, deploy.NewPendingInitiator(deploymentRepo, resourceSetRepo))
	deployMachine = deploy.NewMachine(deploymentRepo, deploy.NewExecutionRecorder(executionRepo))
	eventDispatcher = ingest.NewDispatcher(buildTracker, deployMachine)
	buildWatcher = watcher.NewBuildWatcher(clients.Builds, buildTracker, watcher.Settings{
		Interval:    cfg.BuildWaitInterval,
		MaxAttempts: cfg.BuildWaitMaxAttempts,
		PollTimeout: cfg.CloudTimeout,
	})

	slog.Debug("Application initialized",
		"layer", "app",
		"region", cfg.AWSRegion,
		"database_driver", cfg.DatabaseDriver,
		"archive_enabled", archiver != nil)
	return nil
}

// Shutdown stops background work and closes the database. Calling it again is a no-op.
func Shutdown(ctx context.Context) error {
	var errs []error
	if buildWatcher != nil {
		errs = append(errs, buildWatcher.Shutdown(ctx))
		buildWatcher = nil
	}
	if database != nil {
		if sqlDB, err := database.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
		database = nil
	}
	return errors.Join(errs...)
}

func GetConfig() *config.Config {
	return appConfig
}

func GetExecutionRepository() repository.ExecutionRepository {
	return executionRepo
}

func GetDeploymentRepository() repository.DeploymentRepository {
	return deploymentRepo
}

func GetResourceSetRepository() repository.ResourceSetRepository {
	return resourceSetRepo
}

func GetProvisionService() *provision.Service {
	return provisionService
}

func GetBuildTrigger() *build.Trigger {
	return buildTrigger
}

func GetDeployMachine() *deploy.Machine {
	return deployMachine
}

func GetEventDispatcher() *ingest.Dispatcher {
	return eventDispatcher
}

func GetBuildWatcher() *watcher.BuildWatcher {
	return buildWatcher
}
