package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
	"github.com/conduit-lang/datasource/internal/orm/sqlexec"
	"github.com/conduit-lang/datasource/internal/web/cache"
	"github.com/conduit-lang/datasource/internal/web/ratelimit"
)

// Config represents the data source configuration
type Config struct {
	Database  DatabaseConfig   `mapstructure:"database"`
	Server    ServerConfig     `mapstructure:"server"`
	Cache     cache.Config     `mapstructure:"cache"`
	Hooks     HooksConfig      `mapstructure:"hooks"`
	Auth      AuthConfig       `mapstructure:"auth"`
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
	Resources []ResourceConfig `mapstructure:"resources"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	Host      string `mapstructure:"host"`
	APIPrefix string `mapstructure:"api_prefix"`

	// ProfilingAddr serves pprof on a separate listener when set
	ProfilingAddr string `mapstructure:"profiling_addr"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig configures bearer token authentication. An empty secret
// leaves the API open.
type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	WriteRoles []string      `mapstructure:"write_roles"`
}

// Enabled returns true when a signing secret is configured
func (a AuthConfig) Enabled() bool {
	return a.Secret != ""
}

// HooksConfig configures the lifecycle hook queue
type HooksConfig struct {
	// Workers run async hooks such as the audit log
	Workers int `mapstructure:"workers"`
}

// ResourceConfig declares one resource and its adapter options
type ResourceConfig struct {
	schema.Definition `mapstructure:",squash"`

	IDField         string                 `mapstructure:"id_field"`
	FieldMap        map[string]interface{} `mapstructure:"field_map"`
	QFields         []string               `mapstructure:"q_fields"`
	ModelFieldNames []string               `mapstructure:"model_field_names"`
	DefaultLimit    int                    `mapstructure:"default_limit"`

	// Audit logs every write to the resource
	Audit bool `mapstructure:"audit"`
}

// ParsedFieldMap returns the resource's field map
func (r ResourceConfig) ParsedFieldMap() (query.FieldMap, error) {
	if len(r.FieldMap) == 0 {
		return nil, nil
	}
	return query.ParseFieldMap(r.FieldMap)
}

// Definitions returns the schema definitions of every resource
func (c *Config) Definitions() []schema.Definition {
	defs := make([]schema.Definition, len(c.Resources))
	for i, r := range c.Resources {
		defs[i] = r.Definition
	}
	return defs
}

// Resource returns the resource named name
func (c *Config) Resource(name string) (ResourceConfig, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceConfig{}, false
}

// configNames are the base names searched for a config file
var configNames = []string{"datasource.yml", "datasource.yaml"}

// Load loads the configuration from path, or from datasource.yml in the
// working directory when path is empty. DATASOURCE_ prefixed environment
// variables override file values (DATASOURCE_DATABASE_URL).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("server.profiling_addr", "")
	v.SetDefault("cache.driver", "")
	v.SetDefault("cache.ttl", cache.DefaultCacheConfig().DefaultTTL)
	v.SetDefault("cache.prefix", cache.DefaultCacheConfig().Prefix)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("hooks.workers", 4)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("rate_limit.driver", "")
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.addr", "localhost:6379")
	v.SetDefault("rate_limit.prefix", "datasource:ratelimit:")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("datasource")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Enable environment variable support
	v.SetEnvPrefix("DATASOURCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetDatabaseURL returns the database URL from the environment or config
func GetDatabaseURL(cfg *Config) string {
	// DATABASE_URL wins over the config file
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return cfg.Database.URL
}

// FindConfigFile walks up from the working directory looking for a config file
func FindConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no datasource.yml found")
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	// Validate API prefix format
	if cfg.Server.APIPrefix != "" {
		if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", cfg.Server.APIPrefix)
		}
		if strings.HasSuffix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", cfg.Server.APIPrefix)
		}
	}

	if _, err := sqlexec.DialectFor(cfg.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}

	switch cfg.RateLimit.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.driver must be memory or redis, got: %s", cfg.RateLimit.Driver)
	}
	if cfg.RateLimit.Driver != "" && (cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.limit and rate_limit.window must be positive")
	}
	if cfg.Auth.Enabled() && cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if cfg.Hooks.Workers < 0 {
		return fmt.Errorf("hooks.workers must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Resources))
	for i, r := range cfg.Resources {
		if r.Name == "" {
			return fmt.Errorf("resources[%d] is missing a name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("resource %s is declared twice", r.Name)
		}
		seen[r.Name] = true
		if r.DefaultLimit < 0 {
			return fmt.Errorf("resource %s: default_limit must not be negative", r.Name)
		}
		if _, err := r.ParsedFieldMap(); err != nil {
			return fmt.Errorf("resource %s: field_map: %w", r.Name, err)
		}
	}
	return nil
}
