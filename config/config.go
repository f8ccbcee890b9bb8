// Package config loads Otto settings from defaults, an optional YAML file and OTTO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cooodecat/otto-handler/db"
	"github.com/cooodecat/otto-handler/logging"
)

// EnvProvider abstracts environment variable access for testing
type EnvProvider interface {
	Getenv(key string) string
	UserHomeDir() (string, error)
}

// DefaultEnvProvider implements EnvProvider using real OS functions
type DefaultEnvProvider struct{}

func (p *DefaultEnvProvider) Getenv(key string) string {
	return os.Getenv(key)
}

func (p *DefaultEnvProvider) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

// GetDefaultDataDir returns the default data directory following the XDG Base Directory specification
func GetDefaultDataDir() string {
	return getDefaultDataDirWithEnv(&DefaultEnvProvider{})
}

func getDefaultDataDirWithEnv(env EnvProvider) string {
	if xdgDataHome := env.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "otto")
	}
	homeDir, _ := env.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "otto")
}

type Config struct {
	// Storage
	DataDir        string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	// Logging
	LogLevel     string
	LogFormat    string
	ColorEnabled bool

	// HTTP server
	HTTPHost string
	HTTPPort int

	// AWS
	AWSRegion          string
	BuildServiceRole   string
	BuildImage         string
	BuildComputeType   string
	EventTargetARN     string
	EventTargetRoleARN string
	CloudTimeout       time.Duration

	// Build wait
	BuildWaitInterval    time.Duration
	BuildWaitMaxAttempts int

	// Buildspec archive, disabled without an endpoint
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool

	env EnvProvider
}

// fileConfig is the YAML layout of the config file
type fileConfig struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	Log      struct {
		Format string `yaml:"format"`
		Color  *bool  `yaml:"color"`
	} `yaml:"log"`
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	HTTP struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"http"`
	AWS struct {
		Region             string        `yaml:"region"`
		ServiceRole        string        `yaml:"service_role"`
		BuildImage         string        `yaml:"build_image"`
		ComputeType        string        `yaml:"compute_type"`
		EventTargetARN     string        `yaml:"event_target_arn"`
		EventTargetRoleARN string        `yaml:"event_target_role_arn"`
		Timeout            time.Duration `yaml:"timeout"`
	} `yaml:"aws"`
	BuildWait struct {
		Interval    time.Duration `yaml:"interval"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"build_wait"`
	Archive struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    *bool  `yaml:"use_ssl"`
	} `yaml:"archive"`
}

// NewConfig loads configuration from configPath (optional) and the process environment
func NewConfig(configPath string) (*Config, error) {
	return NewConfigWithEnv(configPath, &DefaultEnvProvider{})
}

// NewConfigWithEnv creates a configuration with a custom environment provider (for testing)
func NewConfigWithEnv(configPath string, env EnvProvider) (*Config, error) {
	c := &Config{env: env}

	c.setDefaults()

	if configPath != "" {
		if err := c.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	c.loadFromEnv()
	c.derivePaths()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	c.DataDir = getDefaultDataDirWithEnv(c.env)
	c.DatabaseDriver = db.DriverSQLite
	c.LogLevel = "info"
	c.LogFormat = logging.FormatText
	c.ColorEnabled = true
	c.HTTPHost = "127.0.0.1"
	c.HTTPPort = 8080
	c.AWSRegion = "ap-northeast-2"
	c.BuildImage = "aws/codebuild/standard:7.0"
	c.BuildComputeType = "BUILD_GENERAL1_SMALL"
	c.CloudTimeout = 30 * time.Second
	c.BuildWaitInterval = 10 * time.Second
	c.BuildWaitMaxAttempts = 90
	c.ArchiveBucket = "otto-buildspecs"
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.DataDir, f.DataDir)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.Log.Format)
	if f.Log.Color != nil {
		c.ColorEnabled = *f.Log.Color
	}
	setString(&c.DatabaseDriver, f.Database.Driver)
	setString(&c.DatabasePath, f.Database.Path)
	setString(&c.DatabaseDSN, f.Database.DSN)
	setString(&c.HTTPHost, f.HTTP.Host)
	if f.HTTP.Port != 0 {
		c.HTTPPort = f.HTTP.Port
	}
	setString(&c.AWSRegion, f.AWS.Region)
	setString(&c.BuildServiceRole, f.AWS.ServiceRole)
	setString(&c.BuildImage, f.AWS.BuildImage)
	setString(&c.BuildComputeType, f.AWS.ComputeType)
	setString(&c.EventTargetARN, f.AWS.EventTargetARN)
	setString(&c.EventTargetRoleARN, f.AWS.EventTargetRoleARN)
	if f.AWS.Timeout != 0 {
		c.CloudTimeout = f.AWS.Timeout
	}
	if f.BuildWait.Interval != 0 {
		c.BuildWaitInterval = f.BuildWait.Interval
	}
	if f.BuildWait.MaxAttempts != 0 {
		c.BuildWaitMaxAttempts = f.BuildWait.MaxAttempts
	}
	setString(&c.ArchiveEndpoint, f.Archive.Endpoint)
	setString(&c.ArchiveAccessKey, f.Archive.AccessKey)
	setString(&c.ArchiveSecretKey, f.Archive.SecretKey)
	setString(&c.ArchiveBucket, f.Archive.Bucket)
	if f.Archive.UseSSL != nil {
		c.ArchiveUseSSL = *f.Archive.UseSSL
	}
	return nil
}

func (c *Config) loadFromEnv() {
	setString(&c.DataDir, c.env.Getenv("OTTO_DATA_DIR"))
	setString(&c.DatabaseDriver, c.env.Getenv("OTTO_DATABASE_DRIVER"))
	setString(&c.DatabasePath, c.env.Getenv("OTTO_DATABASE_PATH"))
	setString(&c.DatabaseDSN, c.env.Getenv("OTTO_DATABASE_DSN"))
	setString(&c.LogLevel, c.env.Getenv("OTTO_LOG_LEVEL"))
	setString(&c.LogFormat, c.env.Getenv("OTTO_LOG_FORMAT"))
	if v := c.env.Getenv("OTTO_COLOR_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.ColorEnabled = enabled
		}
	}
	setString(&c.HTTPHost, c.env.Getenv("OTTO_HTTP_HOST"))
	if v := c.env.Getenv("OTTO_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}

	// the SDK's own variable applies when ours is unset
	setString(&c.AWSRegion, c.env.Getenv("AWS_REGION"))
	setString(&c.AWSRegion, c.env.Getenv("OTTO_AWS_REGION"))
	setString(&c.BuildServiceRole, c.env.Getenv("OTTO_BUILD_SERVICE_ROLE"))
	setString(&c.BuildImage, c.env.Getenv("OTTO_BUILD_IMAGE"))
	setString(&c.BuildComputeType, c.env.Getenv("OTTO_BUILD_COMPUTE_TYPE"))
	setString(&c.EventTargetARN, c.env.Getenv("OTTO_EVENT_TARGET_ARN"))
	setString(&c.EventTargetRoleARN, c.env.Getenv("OTTO_EVENT_TARGET_ROLE_ARN"))
	if v := c.env.Getenv("OTTO_CLOUD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CloudTimeout = d
		}
	}
	if v := c.env.Getenv("OTTO_BUILD_WAIT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BuildWaitInterval = d
		}
	}
	if v := c.env.Getenv("OTTO_BUILD_WAIT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BuildWaitMaxAttempts = n
		}
	}

	setString(&c.ArchiveEndpoint, c.env.Getenv("OTTO_ARCHIVE_ENDPOINT"))
	setString(&c.ArchiveAccessKey, c.env.Getenv("OTTO_ARCHIVE_ACCESS_KEY"))
	setString(&c.ArchiveSecretKey, c.env.Getenv("OTTO_ARCHIVE_SECRET_KEY"))
	setString(&c.ArchiveBucket, c.env.Getenv("OTTO_ARCHIVE_BUCKET"))
	if v := c.env.Getenv("OTTO_ARCHIVE_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			c.ArchiveUseSSL = useSSL
		}
	}
}

func (c *Config) derivePaths() {
	if c.DatabaseDriver == db.DriverSQLite && c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, db.DatabaseFile)
	}
}

func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of %s)",
			c.LogLevel, strings.Join(logging.ValidLogLevels(), ", "))
	}
	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}

	switch c.DatabaseDriver {
	case db.DriverSQLite:
	case db.DriverPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("database dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or postgres)", c.DatabaseDriver)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d (must be 1-65535)", c.HTTPPort)
	}
	if c.CloudTimeout <= 0 {
		return fmt.Errorf("cloud timeout must be positive, got: %v", c.CloudTimeout)
	}
	if c.BuildWaitInterval <= 0 {
		return fmt.Errorf("build wait interval must be positive, got: %v", c.BuildWaitInterval)
	}
	if c.BuildWaitMaxAttempts < 1 {
		return fmt.Errorf("build wait max attempts must be at least 1, got: %d", c.BuildWaitMaxAttempts)
	}
	if c.ArchiveEndpoint != "" && c.ArchiveBucket == "" {
		return errors.New("archive bucket is required when an archive endpoint is set")
	}
	return nil
}

// DatabaseTarget returns the sqlite path or postgres DSN for the configured driver
func (c *Config) DatabaseTarget() string {
	if c.DatabaseDriver == db.DriverPostgres {
		return c.DatabaseDSN
	}
	return c.DatabasePath
}

// ArchiveEnabled reports whether compiled build scripts are archived
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != ""
}

// HTTPAddr returns the listen address of the HTTP server
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

func isValidLogLevel(level string) bool {
	for _, l := range logging.ValidLogLevels() {
		if l == level {
			return true
		}
	}
	return false
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
