package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DBConfig holds configuration options for database initialization
type DBConfig struct {
	// Driver is either "sqlite" (default) or "postgres"
	Driver string
	// Path specifies the SQLite database file path. Use ":memory:" for in-memory database
	Path string
	// DSN is the PostgreSQL connection string
	DSN string
	// LogLevel specifies the GORM logging level
	LogLevel logger.LogLevel
}

// InitDatabase opens a database with the given configuration.
// The caller is responsible for running migrations after getting the DB instance
func InitDatabase(config DBConfig) (*gorm.DB, error) {
	switch config.Driver {
	case "", DriverSQLite:
		return initSQLite(config)
	case DriverPostgres:
		return initPostgres(config)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}
}

func initSQLite(config DBConfig) (*gorm.DB, error) {
	var dsn string

	if config.Path == ":memory:" {
		dsn = ":memory:"
		slog.Debug("Initializing in-memory database")
	} else {
		dir := filepath.Dir(config.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create data directory", "dir", dir, "error", err)
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}

		dsn = config.Path
		slog.Debug("Initializing file-based database", "path", config.Path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(config.LogLevel),
	})
	if err != nil {
		slog.Error("Failed to connect to database", "dsn", dsn, "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection serializes writers, so conditional updates never
	// hit SQLITE_BUSY and in-memory databases are shared by every caller
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := "PRAGMA foreign_keys = ON;"

	if config.Path != ":memory:" {
		pragmas += `
		PRAGMA legacy_alter_table = OFF;
		PRAGMA journal_mode       = WAL;
		PRAGMA synchronous        = NORMAL;
		PRAGMA busy_timeout       = 5000;
		PRAGMA journal_size_limit = 27103364;
		PRAGMA cache_size         = 2000;`
	}

	if err := db.Exec(pragmas).Error; err != nil {
		slog.Error("Failed to configure database", "error", err)
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if config.Path == ":memory:" {
		slog.Debug("Database initialized successfully (in-memory)")
	} else {
		slog.Debug("Database initialized successfully", "path", config.Path)
	}

	return db, nil
}

func initPostgres(config DBConfig) (*gorm.DB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres driver requires a DSN")
	}

	db, err := gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(config.LogLevel),
	})
	if err != nil {
		slog.Error("Failed to connect to database", "driver", DriverPostgres, "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Debug("Database initialized successfully", "driver", DriverPostgres)
	return db, nil
}
