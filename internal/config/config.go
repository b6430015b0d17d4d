package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	return Load("")
}

// Load reads configuration from an explicit file, or searches the default
// locations when path is empty
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mailguard/")
		v.AddConfigPath("$HOME/.mailguard")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("MAILGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// HTTP server defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.webhook_token", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_body_size", "30M")

	// Store defaults
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite_path", "/data/mailguard.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/mailguard")
	v.SetDefault("store.max_open_conns", 25)

	// Cache defaults
	v.SetDefault("cache.type", "redis")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.key_prefix", "")
	v.SetDefault("cache.workers", 4)
	v.SetDefault("cache.queue_size", 1024)
	v.SetDefault("cache.write_timeout", "5s")
	v.SetDefault("cache.resync_timeout", "5m")
	v.SetDefault("cache.resync_interval", "30m")
	v.SetDefault("cache.resync_batch", 500)
	v.SetDefault("cache.resync_parallelism", 8)
	v.SetDefault("cache.cleanup_frequency", "1m")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	// Escalation defaults
	v.SetDefault("escalation.auto_deny_score", 15.0)
	v.SetDefault("escalation.ai_confidence_threshold", 0.7)
	v.SetDefault("escalation.repeat_offender_threshold", 5)
	v.SetDefault("escalation.virus_symbols", []string{"VIRUS", "MALWARE", "CLAM_", "SANE_MALWARE"})
	v.SetDefault("escalation.tenant_fallback", false)

	// Quarantine defaults
	v.SetDefault("quarantine.retention", "720h")
	v.SetDefault("quarantine.purge_interval", "1h")

	// Relay defaults
	v.SetDefault("relay.address", "localhost")
	v.SetDefault("relay.port", 10026)
	v.SetDefault("relay.helo", "")
	v.SetDefault("relay.username", "")
	v.SetDefault("relay.password", "")
	v.SetDefault("relay.starttls", false)
	v.SetDefault("relay.timeout", "30s")

	// Cleanup defaults
	v.SetDefault("cleanup.interval", "24h")
	v.SetDefault("cleanup.deny_max_age", "720h")
	v.SetDefault("cleanup.deny_min_hits", 3)

	// Classifier defaults
	v.SetDefault("classifier.provider", "none")
	v.SetDefault("classifier.timeout", "30s")

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
