// Package config loads service configuration from defaults, an
// optional YAML file and AIDE_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Model        ModelConfig        `mapstructure:"model"`
	Policy       PolicyConfig       `mapstructure:"policy"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

type DatabaseConfig struct {
	// URL is the Postgres connection string. Empty means cache-only
	// operation, with no durable confirmation store.
	URL string `mapstructure:"url"`
}

type ConfirmationConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	CacheSize         int           `mapstructure:"cache_size"`
}

type WorkflowConfig struct {
	MaxIterations int    `mapstructure:"max_iterations"`
	DefaultTenant string `mapstructure:"default_tenant"`
}

// ModelConfig points the workflow evaluators at an OpenAI-compatible
// completion endpoint. An empty base URL disables workflow execution.
type ModelConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PolicyConfig struct {
	// RequireCategories and SkipCategories override the default
	// category rules.
	RequireCategories []string `mapstructure:"require_categories"`
	SkipCategories    []string `mapstructure:"skip_categories"`
	// RequireAgents lists tools that need confirmation whenever
	// classification fails.
	RequireAgents []string `mapstructure:"require_agents"`
	CriticalTools []string `mapstructure:"critical_tools"`
	// DefaultRequire applies when no rule matches; it defaults to true
	// so unknown operations stay behind a confirmation.
	DefaultRequire bool `mapstructure:"default_require"`
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("database.url", "")
	v.SetDefault("confirmation.default_expiration", 30*time.Minute)
	v.SetDefault("confirmation.cleanup_interval", 5*time.Minute)
	v.SetDefault("confirmation.cache_size", 4096)
	v.SetDefault("workflow.max_iterations", 10)
	v.SetDefault("workflow.default_tenant", "default")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.name", "gpt-4o-mini")
	v.SetDefault("model.timeout", 120*time.Second)
	v.SetDefault("policy.default_require", true)
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
