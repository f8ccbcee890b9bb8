package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Migration represents a single database migration
type Migration struct {
	ID   int
	Name string
	Up   func(*gorm.DB) error
}

// allMigrations is the ordered list of all migrations
// Each migration has a unique ID and is applied in order
var allMigrations = []Migration{
	{
		ID:   1,
		Name: "0001_rename_ecs_columns_to_refs",
		Up:   migration0001RenameECSColumnsToRefs,
	},
	{
		ID:   2,
		Name: "0002_add_deployment_version",
		Up:   migration0002AddDeploymentVersion,
	},
}

// AllModels returns all the models that need to be migrated
// This is the single source of truth for database migrations
func AllModels() []any {
	return []any{
		&MigrationModel{},
		&ExecutionModel{},
		&DeploymentModel{},
		&ResourceSetModel{},
	}
}

// AutoMigrateAll runs auto-migration for all application models
func AutoMigrateAll(db *gorm.DB) error {
	// First, ensure migrations table exists
	if err := db.AutoMigrate(&MigrationModel{}); err != nil {
		return err
	}

	// Run all manual migrations in order
	if err := RunMigrations(db, len(allMigrations)); err != nil {
		return err
	}

	// Now run AutoMigrate for all models
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}

	return nil
}

// RunMigrations runs all migrations up to and including the specified ID
// If targetID is 0 or negative, all migrations are run
func RunMigrations(db *gorm.DB, targetID int) error {
	if targetID <= 0 {
		targetID = len(allMigrations)
	}

	for _, migration := range allMigrations {
		if migration.ID > targetID {
			break
		}

		// Check if migration has already been applied
		applied, err := migrationApplied(db, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", migration.Name, err)
		}
		if applied {
			continue
		}

		// Run the migration
		if err := migration.Up(db); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}

		// Record that migration was applied
		if err := recordMigration(db, migration.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
		}
	}

	return nil
}

// migrationApplied checks if a migration has already been applied
func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var count int64
	err := db.Model(&MigrationModel{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// recordMigration records that a migration has been applied
func recordMigration(db *gorm.DB, name string) error {
	migration := MigrationModel{
		Name:      name,
		AppliedAt: time.Now(),
	}
	return db.Create(&migration).Error
}

// Schema snapshots represent the database state at each migration point
// These are used by tests to create databases at specific migration versions

// CreateSchemaAtMigration creates the database schema as it existed at a specific migration version
// migrationID 0 = initial schema before any migrations
// migrationID N = schema after applying migrations 1 through N
func CreateSchemaAtMigration(db *gorm.DB, migrationID int) error {
	// First ensure migrations table exists
	if err := db.AutoMigrate(&MigrationModel{}); err != nil {
		return err
	}

	// Create initial schema (before any migrations)
	if err := createInitialSchema(db); err != nil {
		return err
	}

	// Apply migrations up to the target
	if migrationID > 0 {
		return RunMigrations(db, migrationID)
	}

	return nil
}

// createInitialSchema creates the schema as it existed before any migrations (migration 0)
func createInitialSchema(db *gorm.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			external_build_id TEXT NOT NULL UNIQUE,
			log_stream_ref TEXT,
			metadata TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			deployment_type TEXT NOT NULL,
			deploy_url TEXT,
			ecs_service_arn TEXT,
			target_group_arn TEXT,
			alb_arn TEXT,
			image_uri TEXT,
			error_message TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			started_at DATETIME,
			deployed_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS resource_sets (
			project_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			registry_repo_name TEXT,
			registry_uri TEXT,
			build_project_name TEXT,
			build_project_arn TEXT,
			log_destination_name TEXT,
			event_subscription_id TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// migration0001RenameECSColumnsToRefs renames the provider specific deployment columns
func migration0001RenameECSColumnsToRefs(db *gorm.DB) error {
	renames := [][2]string{
		{"ecs_service_arn", "orchestrator_service_ref"},
		{"target_group_arn", "target_group_ref"},
		{"alb_arn", "load_balancer_ref"},
	}

	for _, r := range renames {
		// Fresh databases never had the old columns
		if !db.Migrator().HasColumn(&DeploymentModel{}, r[0]) {
			continue
		}
		if err := db.Exec("ALTER TABLE deployments RENAME COLUMN " + r[0] + " TO " + r[1]).Error; err != nil {
			return err
		}
	}
	return nil
}

// migration0002AddDeploymentVersion adds the optimistic lock column. Existing rows start at version 1.
func migration0002AddDeploymentVersion(db *gorm.DB) error {
	if !db.Migrator().HasTable(&DeploymentModel{}) {
		return nil // Nothing to migrate
	}
	if db.Migrator().HasColumn(&DeploymentModel{}, "version") {
		return nil
	}
	return db.Exec("ALTER TABLE deployments ADD COLUMN version INTEGER NOT NULL DEFAULT 1").Error
}
