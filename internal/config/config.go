// Package config provides configuration management for the schema registry.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the schema registry configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Compatibility CompatibilityConfig `yaml:"compatibility"`
	Registry      RegistryConfig      `yaml:"registry"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
}

// StorageConfig represents storage backend configuration. Only two backends
// are supported: the Postgres primary and an in-memory double for tests.
type StorageConfig struct {
	Type       string           `yaml:"type"` // memory, postgresql
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// PostgreSQLConfig represents PostgreSQL connection configuration. URL, when
// set, is the complete connection string and takes precedence over the
// individual host/port/database fields.
type PostgreSQLConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CompatibilityConfig represents the default compatibility policy.
type CompatibilityConfig struct {
	DefaultLevel string `yaml:"default_level"`
}

// RegistryConfig carries registration-service options left to the deployer.
type RegistryConfig struct {
	// AutoCreateSubjects: when true, registering against an unknown subject
	// creates it instead of returning SubjectNotFound. Defaults to false,
	// matching the source.
	AutoCreateSubjects bool `yaml:"auto_create_subjects"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8888,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Storage: StorageConfig{
			Type: "memory",
			PostgreSQL: PostgreSQLConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "schema_registry",
				User:            "postgres",
				SSLMode:         "disable",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Compatibility: CompatibilityConfig{
			DefaultLevel: "BACKWARD",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from an optional YAML file and environment
// variables. Environment variables always win over file configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- path is from command-line argument, user-controlled input is expected
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCHEMA_REGISTRY_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SCHEMA_REGISTRY_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_COMPATIBILITY_LEVEL"); v != "" {
		c.Compatibility.DefaultLevel = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_AUTO_CREATE_SUBJECTS"); v != "" {
		c.Registry.AutoCreateSubjects = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SCHEMA_REGISTRY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("SCHEMA_REGISTRY_PG_HOST"); v != "" {
		c.Storage.PostgreSQL.Host = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_PG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Storage.PostgreSQL.Port = port
		}
	}
	if v := os.Getenv("SCHEMA_REGISTRY_PG_DATABASE"); v != "" {
		c.Storage.PostgreSQL.Database = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_PG_USER"); v != "" {
		c.Storage.PostgreSQL.User = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_PG_PASSWORD"); v != "" {
		c.Storage.PostgreSQL.Password = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_PG_SSLMODE"); v != "" {
		c.Storage.PostgreSQL.SSLMode = v
	}

	// DATABASE_URL implies the PostgreSQL backend; DATABASE_CONNECTIONS
	// bounds its pool.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.Type = "postgresql"
		c.Storage.PostgreSQL.URL = v
	}
	if v := os.Getenv("DATABASE_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Storage.PostgreSQL.MaxOpenConns = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validStorageTypes := map[string]bool{"memory": true, "postgresql": true}
	if !validStorageTypes[c.Storage.Type] {
		return fmt.Errorf("invalid storage type: %s", c.Storage.Type)
	}

	validCompatibility := map[string]bool{
		"NONE":                true,
		"BACKWARD":            true,
		"BACKWARD_TRANSITIVE": true,
		"FORWARD":             true,
		"FORWARD_TRANSITIVE":  true,
		"FULL":                true,
		"FULL_TRANSITIVE":     true,
	}
	level := strings.ToUpper(c.Compatibility.DefaultLevel)
	if !validCompatibility[level] {
		return fmt.Errorf("invalid compatibility level: %s", c.Compatibility.DefaultLevel)
	}

	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
