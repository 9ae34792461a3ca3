package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. HMML_SERVER_PORT.
	EnvPrefix = "HMML"

	DefaultConfigPath = "config/server.toml"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Prefix      string `mapstructure:"prefix"`
	AllowSubnet string `mapstructure:"allow_subnet"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggerConfig controls log level and file rotation.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig locates the token and audit files.
type SecurityConfig struct {
	TokenFile   string   `mapstructure:"token_file"`
	AuditFile   string   `mapstructure:"audit_file"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig holds defaults for discovered databases.
type DatabaseConfig struct {
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	AllowCrossThreadUse bool   `mapstructure:"allow_cross_thread_use"`
	MaintenanceSchedule string `mapstructure:"maintenance_schedule"`
}

// PathsConfig locates the path cache file.
type PathsConfig struct {
	CacheFile string `mapstructure:"cache_file"`
}

// Config is the server configuration file.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Security SecurityConfig `mapstructure:"security"`
	Database DatabaseConfig `mapstructure:"database"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to apply on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7999)
	v.SetDefault("server.prefix", "")
	v.SetDefault("server.allow_subnet", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.dir", "logs")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("security.token_file", "data/token.json")
	v.SetDefault("security.audit_file", "data/token_audit.log")
	v.SetDefault("security.cors_origins", []string{"*"})

	v.SetDefault("database.timeout_seconds", 30)
	v.SetDefault("database.allow_cross_thread_use", true)
	v.SetDefault("database.maintenance_schedule", "@every 6h")

	v.SetDefault("paths.cache_file", "data/pathCache.json")

	v.SetDefault("timeouts.http_request", "60s")
	v.SetDefault("timeouts.shutdown", "10s")
}

// New returns a viper instance with defaults and HMML_* environment
// overrides configured.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path into v. A missing file is created with the defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := writeDefaults(v, path); err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Msg("Created default configuration file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.Prefix != "" && !strings.HasPrefix(c.Server.Prefix, "/") {
		return fmt.Errorf("server prefix must start with '/': %q", c.Server.Prefix)
	}
	if c.Database.TimeoutSeconds < 1 {
		return fmt.Errorf("database timeout must be positive, got %d", c.Database.TimeoutSeconds)
	}
	return nil
}

func writeDefaults(v *viper.Viper, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return fmt.Errorf("failed to write default config: %w", err)
		}
	}
	return nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
