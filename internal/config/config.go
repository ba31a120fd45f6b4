package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"teamline/internal/validate"
)

// Config models teamline.yml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Rules     RulesConfig     `yaml:"rules"`
	Directory DirectoryConfig `yaml:"directory"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	BasePath string `yaml:"base_path"`
	// JWTSecret verifies HS256 bearer tokens issued by the identity service.
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
	// AllowLegacyUserHeader trusts X-User-Id without a token. Development only.
	AllowLegacyUserHeader bool          `yaml:"allow_legacy_user_header"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	// MaxBodyBytes caps request bodies. Zero uses the server default of 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=0"`
}

type DatabaseConfig struct {
	BusyTimeoutMS int `yaml:"busy_timeout_ms" validate:"min=0"`
}

type RulesConfig struct {
	// MinDeclineReason is the minimum trimmed length of a decline reason.
	MinDeclineReason int `yaml:"min_decline_reason" validate:"min=1"`
	// MaxApplyRoles caps how many roles one Apply call may target.
	MaxApplyRoles int `yaml:"max_apply_roles" validate:"min=1"`
}

type DirectoryConfig struct {
	Kind    string                 `yaml:"kind" validate:"oneof=none static http"`
	URL     string                 `yaml:"url" validate:"required_if=Kind http"`
	Token   string                 `yaml:"token"`
	Timeout time.Duration          `yaml:"timeout"`
	Users   map[string]UserProfile `yaml:"users"`
	Cache   CacheConfig            `yaml:"cache"`
}

type UserProfile struct {
	FirstName      string `yaml:"first_name"`
	LastName       string `yaml:"last_name"`
	University     string `yaml:"university"`
	ProfilePicture string `yaml:"profile_picture"`
}

// CacheConfig enables the redis profile cache in front of the directory.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"min=0"`
	TTL           time.Duration `yaml:"ttl"`
}

type ReconcileConfig struct {
	// Interval between background reconciliation passes; 0 disables the worker.
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size" validate:"min=1"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json console"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Directory.Kind == "static" && len(c.Directory.Users) == 0 {
		return fmt.Errorf("invalid config: directory.users is required for static directory")
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("invalid config: reconcile.interval must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "teamline.yml")
}

// Load reads and validates the workspace config, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML overlays raw YAML onto the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: ""
  jwt_secret: ""
  jwt_issuer: ""
  allow_legacy_user_header: false
  read_timeout: 15s
  max_body_bytes: 1048576

database:
  busy_timeout_ms: 5000

rules:
  min_decline_reason: 10
  max_apply_roles: 10

directory:
  kind: none
  timeout: 2s
  cache:
    redis_addr: ""
    ttl: 10m

reconcile:
  interval: 1m
  batch_size: 100

log:
  level: info
  format: json
  file: ""
  max_size_mb: 50
  max_backups: 3
  max_age_days: 28

sentry:
  dsn: ""
  environment: development
`
