package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for histograph-sink.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Relational bookkeeping store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Document index (Elasticsearch)
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`

	// Mutation queue (Redis list)
	Redis RedisConfig `yaml:"redis"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"histograph"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"histograph"`
	Schema         string `yaml:"schema" env:"PGSCHEMA" env-default:"public"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ElasticsearchConfig holds document index configuration.
type ElasticsearchConfig struct {
	Host      string `yaml:"host" env:"ES_HOST" env-default:"localhost"`
	Port      int    `yaml:"port" env:"ES_PORT" env-default:"9200"`
	Index     string `yaml:"index" env:"ES_INDEX" env-default:"histograph"`
	SchemaDir string `yaml:"schema_dir" env:"SCHEMA_DIR" env-default:"schema"`
	User      string `yaml:"user" env:"ES_USER" env-default:""`
	Password  string `yaml:"-" env:"ES_PASSWORD"` // Secret - not in YAML

	// Refresh is sent with index and delete requests: "", "true" or "wait_for".
	Refresh string `yaml:"refresh" env:"ES_REFRESH" env-default:""`
}

// RedisConfig holds the mutation queue configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Queue    string `yaml:"queue" env:"REDIS_QUEUE" env-default:"histograph"`
}

// Load reads configuration from path with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.resolveDockerHosts()

	return cfg, nil
}

// LoadEnv builds the configuration from environment variables only.
func LoadEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.resolveDockerHosts()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Elasticsearch.Index == "" {
		return fmt.Errorf("elasticsearch.index must not be empty")
	}
	if c.Elasticsearch.Index != strings.ToLower(c.Elasticsearch.Index) {
		return fmt.Errorf("elasticsearch.index %q must be lowercase", c.Elasticsearch.Index)
	}
	switch c.Elasticsearch.Refresh {
	case "", "true", "false", "wait_for":
	default:
		return fmt.Errorf("elasticsearch.refresh must be one of true, false, wait_for; got %q", c.Elasticsearch.Refresh)
	}
	if c.Redis.Queue == "" {
		return fmt.Errorf("redis.queue must not be empty")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DatasetDoneQueue is the list receiving dataset-done notifications.
func (c *RedisConfig) DatasetDoneQueue() string {
	return c.Queue + "-dataset-done"
}
