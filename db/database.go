package db

import (
	"context"
	"log/slog"
	"path/filepath"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseFile is the SQLite file name inside the data directory
const DatabaseFile = "otto.db"

// InitDB opens the application database. For SQLite an empty path
// defaults to the data directory.
func InitDB(driver, dataDir, pathOrDSN string) (*gorm.DB, error) {
	slog.Debug("Initializing database", "driver", driver, "data_dir", dataDir)

	gormLogLevel := getGormLogLevel()

	if driver == DriverPostgres {
		return InitDatabase(DBConfig{
			Driver:   DriverPostgres,
			DSN:      pathOrDSN,
			LogLevel: gormLogLevel,
		})
	}

	dbPath := pathOrDSN
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, DatabaseFile)
	}

	db, err := InitDatabase(DBConfig{
		Driver:   DriverSQLite,
		Path:     dbPath,
		LogLevel: gormLogLevel,
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Database initialized successfully", "path", dbPath)
	return db, nil
}

// getGormLogLevel maps application log level to corresponding GORM log level
func getGormLogLevel() logger.LogLevel {
	ctx := slog.Default()

	if ctx.Enabled(context.TODO(), slog.LevelDebug) {
		return logger.Info // Show SQL queries only when debug logging is enabled
	} else if ctx.Enabled(context.TODO(), slog.LevelInfo) {
		return logger.Warn
	} else if ctx.Enabled(context.TODO(), slog.LevelWarn) {
		return logger.Warn
	} else if ctx.Enabled(context.TODO(), slog.LevelError) {
		return logger.Error
	} else {
		return logger.Silent
	}
}
