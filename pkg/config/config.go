// Package config loads engine configuration from config.yaml and
// environment variables. Environment variables always override YAML values;
// secrets only come from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the repair engine.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3460"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // set at load time, not from config

	// Metadata store (PostgreSQL) holding per-column analysis state.
	Database DatabaseConfig `yaml:"database"`

	// Datasource is the analyzed source database.
	Datasource DatasourceConfig `yaml:"datasource"`

	// Repair behavior knobs.
	Repair RepairConfig `yaml:"repair"`

	// Approver token verification.
	Auth AuthConfig `yaml:"auth"`

	// AI endpoint for insight generation (never on the repair path).
	AI AIConfig `yaml:"ai"`
}

// DatabaseConfig holds metadata store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"tablemend"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"tablemend_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL builds the connection string for the metadata store.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// DatasourceConfig holds the analyzed source database configuration.
type DatasourceConfig struct {
	// ID identifies this datasource in analysis state keys. When empty, a
	// stable ID is derived from the connection coordinates.
	ID       string `yaml:"id" env:"DATASOURCE_ID" env-default:""`
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"` // postgres or mssql
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:""`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSLMODE" env-default:"disable"`
}

// DatasourceID returns the configured datasource ID, deriving a stable
// UUID from the connection coordinates when none is set.
func (c *DatasourceConfig) DatasourceID() (uuid.UUID, error) {
	if c.ID != "" {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid DATASOURCE_ID %q: %w", c.ID, err)
		}
		return id, nil
	}
	name := fmt.Sprintf("%s://%s:%d/%s", c.Type, c.Host, c.Port, c.Database)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)), nil
}

// RepairConfig holds repair behavior settings.
type RepairConfig struct {
	// FixingTableSuffix names the cloned apply target: <table><suffix>.
	FixingTableSuffix string `yaml:"fixing_table_suffix" env:"REPAIR_FIXING_TABLE_SUFFIX" env-default:"_fixing"`
	// AuditTableSuffix names the per-table audit table when auditing is on.
	AuditTableSuffix string `yaml:"audit_table_suffix" env:"REPAIR_AUDIT_TABLE_SUFFIX" env-default:"_repair_audit"`
	// SampleSize bounds sampled quality scans.
	SampleSize int64 `yaml:"sample_size" env:"REPAIR_SAMPLE_SIZE" env-default:"10000"`
	// LogFlushIntervalMS is the workflow log buffer flush cadence.
	LogFlushIntervalMS int `yaml:"log_flush_interval_ms" env:"REPAIR_LOG_FLUSH_INTERVAL_MS" env-default:"1200"`
	// CapabilityManifest optionally overrides operation stages.
	CapabilityManifest string `yaml:"capability_manifest" env:"REPAIR_CAPABILITY_MANIFEST" env-default:""`
}

// LogFlushInterval returns the flush cadence as a duration.
func (c *RepairConfig) LogFlushInterval() time.Duration {
	return time.Duration(c.LogFlushIntervalMS) * time.Millisecond
}

// AuthConfig holds approver verification configuration.
type AuthConfig struct {
	// EnableVerification controls whether approver JWTs are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr.
	JWKSEndpoints map[string]string `yaml:"-"`
}

// AIConfig holds the insight-generation endpoint configuration.
type AIConfig struct {
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"` // openai or anthropic
	Endpoint string `yaml:"endpoint" env:"AI_ENDPOINT" env-default:""`
	Model    string `yaml:"model" env:"AI_MODEL" env-default:""`
	APIKey   string `yaml:"-" env:"AI_API_KEY"` // secret - not in YAML
}

// IsAvailable returns true if an insight endpoint is configured.
func (c *AIConfig) IsAvailable() bool {
	return c.Model != "" && (c.Endpoint != "" || c.APIKey != "")
}

// Load reads configuration from config.yaml (if present) and the
// environment, then validates and derives dependent fields.
func Load(version string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	}

	cfg.Version = version

	endpoints, err := parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWKSEndpoints = endpoints

	if cfg.Auth.EnableVerification && len(cfg.Auth.JWKSEndpoints) == 0 {
		return nil, fmt.Errorf("auth verification enabled but no JWKS endpoints configured")
	}

	return &cfg, nil
}

// parseJWKSEndpoints parses "issuer1=url1,issuer2=url2" into a map.
func parseJWKSEndpoints(s string) (map[string]string, error) {
	endpoints := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return endpoints, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		issuer, url, found := strings.Cut(pair, "=")
		if !found || issuer == "" || url == "" {
			return nil, fmt.Errorf("invalid JWKS endpoint pair %q (want issuer=url)", pair)
		}
		endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(url)
	}
	return endpoints, nil
}
