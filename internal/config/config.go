// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// Visitor identity settings.
	// SessionMemorySeconds is the identity-cache TTL: how long a visitor
	// fingerprint stays associated with an open session without new hits.
	SessionMemorySeconds int `mapstructure:"sessionmemoryseconds"`
	// HeartbeatSeconds is the interval the tracking script pings at; a
	// session counts as "currently online" within twice this interval.
	HeartbeatSeconds int `mapstructure:"heartbeatseconds"`
	// AggressiveSalting mixes the service id and the current UTC date into
	// the association fingerprint, trading cross-day session continuity for
	// reduced linkability.
	AggressiveSalting bool `mapstructure:"aggressivesalting"`
	// BlockAllIPs overrides per-service IP collection globally.
	BlockAllIPs bool `mapstructure:"blockallips"`

	// Ingestion dispatcher sizing. When the queue is full deliveries are
	// dropped rather than blocking the tracking endpoints.
	IngestWorkers   int `mapstructure:"ingestworkers"`
	IngestQueueSize int `mapstructure:"ingestqueuesize"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings
	GeoCityDB    string `mapstructure:"geocitydb"`
	GeoASNDB     string `mapstructure:"geoasndb"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings; 0 keeps sessions and hits forever.
	RetentionDays int `mapstructure:"retentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "beaconly")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("sessionmemoryseconds", 1800)
		v.SetDefault("heartbeatseconds", 10)
		v.SetDefault("aggressivesalting", true)
		v.SetDefault("blockallips", false)
		v.SetDefault("ingestworkers", 4)
		v.SetDefault("ingestqueuesize", 4096)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geocitydb", "storage/GeoLite2-City.mmdb")
		v.SetDefault("geoasndb", "storage/GeoLite2-ASN.mmdb")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("retentiondays", 0)

		v.BindEnv("appname", "BEACONLY_APP_NAME")
		v.BindEnv("appport", "BEACONLY_APP_PORT")
		v.BindEnv("environment", "BEACONLY_ENV")
		v.BindEnv("loglevel", "BEACONLY_LOG_LEVEL")
		v.BindEnv("privatekey", "BEACONLY_PRIVATE_KEY")
		v.BindEnv("sessionmemoryseconds", "BEACONLY_SESSION_MEMORY_SECONDS")
		v.BindEnv("heartbeatseconds", "BEACONLY_HEARTBEAT_SECONDS")
		v.BindEnv("aggressivesalting", "BEACONLY_AGGRESSIVE_SALTING")
		v.BindEnv("blockallips", "BEACONLY_BLOCK_ALL_IPS")
		v.BindEnv("ingestworkers", "BEACONLY_INGEST_WORKERS")
		v.BindEnv("ingestqueuesize", "BEACONLY_INGEST_QUEUE_SIZE")
		v.BindEnv("storagepath", "BEACONLY_STORAGE_PATH")
		v.BindEnv("geocitydb", "BEACONLY_GEO_CITY_DB")
		v.BindEnv("geoasndb", "BEACONLY_GEO_ASN_DB")
		v.BindEnv("logsdir", "BEACONLY_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "BEACONLY_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "BEACONLY_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "BEACONLY_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "BEACONLY_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "BEACONLY_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "BEACONLY_DB_MAX_IDLE_CONNS")
		v.BindEnv("jobintervalseconds", "BEACONLY_JOB_INTERVAL_SECONDS")
		v.BindEnv("retentiondays", "BEACONLY_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		// The private key salts visitor fingerprints; production must not run
		// with the well-known default.
		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique BEACONLY_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.SessionMemorySeconds <= 0 {
		return fmt.Errorf("sessionmemoryseconds must be positive, got %d", c.SessionMemorySeconds)
	}
	if c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("heartbeatseconds must be positive, got %d", c.HeartbeatSeconds)
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("ingestworkers must be positive, got %d", c.IngestWorkers)
	}
	if c.IngestQueueSize <= 0 {
		return fmt.Errorf("ingestqueuesize must be positive, got %d", c.IngestQueueSize)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// SessionMemoryTTL returns the identity-cache TTL as a duration.
func (c *Config) SessionMemoryTTL() time.Duration {
	return time.Duration(c.SessionMemorySeconds) * time.Second
}

// OnlineThreshold returns the window within which a session's last_seen
// counts as currently online.
func (c *Config) OnlineThreshold() time.Duration {
	return 2 * time.Duration(c.HeartbeatSeconds) * time.Second
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements
// cartridge.Config interface). Beaconly serves no static assets, so this is
// empty, which disables static serving in cartridge.
func (c *Config) GetPublicDirectory() string {
	return ""
}

// GetAssetsPrefix returns the URL prefix for static assets (implements
// cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return "/assets"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for test stability)
// - Development/Production: 10 (allows concurrent reads for parallel stats queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
