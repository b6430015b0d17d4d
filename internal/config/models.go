package config

import (
	"time"
)

// ServerConfig represents the configuration for the admin HTTP server
type ServerConfig struct {
	ListenAddress   string
	AdminToken      string
	WebhookToken    string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     string
}

// StoreConfig represents the configuration for the relational store
type StoreConfig struct {
	Type         string
	SQLitePath   string
	MySQLDSN     string
	MaxOpenConns int
}

// RedisConfig represents the connection settings for Redis
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// CacheConfig represents the configuration for the cache projection
type CacheConfig struct {
	Type              string
	TTL               time.Duration
	KeyPrefix         string
	Workers           int
	QueueSize         int
	WriteTimeout      time.Duration
	ResyncTimeout     time.Duration
	ResyncInterval    time.Duration
	ResyncBatch       int
	ResyncParallelism int
	CleanupFrequency  time.Duration
	Redis             RedisConfig
}

// EscalationConfig represents the auto-deny policy thresholds
type EscalationConfig struct {
	AutoDenyScore           float64
	AIConfidenceThreshold   float64
	RepeatOffenderThreshold int64
	VirusSymbols            []string
	TenantFallback          bool
}

// QuarantineConfig represents quarantine retention settings
type QuarantineConfig struct {
	Retention     time.Duration
	PurgeInterval time.Duration
}

// RelayConfig represents the SMTP relay used to deliver released messages
type RelayConfig struct {
	Address  string
	Port     int
	Helo     string
	Username string
	Password string
	StartTLS bool
	Timeout  time.Duration
}

// CleanupConfig represents the stale deny entry purge job
type CleanupConfig struct {
	Interval    time.Duration
	DenyMaxAge  time.Duration
	DenyMinHits int64
}

// ClassifierConfig represents the AI classifier selection
type ClassifierConfig struct {
	Provider string
	Timeout  time.Duration
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// durations parses several duration keys, stopping at the first error
func (c *Config) durations(keys map[string]*time.Duration) error {
	for key, dst := range keys {
		d, err := c.GetDuration(key)
		if err != nil {
			return err
		}
		*dst = d
	}
	return nil
}

// GetServer returns the HTTP server configuration
func (c *Config) GetServer() (ServerConfig, error) {
	sc := ServerConfig{
		ListenAddress: c.GetString("server.listen_address"),
		AdminToken:    c.GetString("server.admin_token"),
		WebhookToken:  c.GetString("server.webhook_token"),
		MaxBodySize:   c.GetString("server.max_body_size"),
	}
	err := c.durations(map[string]*time.Duration{
		"server.read_timeout":     &sc.ReadTimeout,
		"server.write_timeout":    &sc.WriteTimeout,
		"server.shutdown_timeout": &sc.ShutdownTimeout,
	})
	return sc, err
}

// GetStore returns the relational store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:         c.GetString("store.type"),
		SQLitePath:   c.GetString("store.sqlite_path"),
		MySQLDSN:     c.GetString("store.mysql_dsn"),
		MaxOpenConns: c.GetInt("store.max_open_conns"),
	}
}

// GetCache returns the cache projection configuration
func (c *Config) GetCache() (CacheConfig, error) {
	cc := CacheConfig{
		Type:              c.GetString("cache.type"),
		KeyPrefix:         c.GetString("cache.key_prefix"),
		Workers:           c.GetInt("cache.workers"),
		QueueSize:         c.GetInt("cache.queue_size"),
		ResyncBatch:       c.GetInt("cache.resync_batch"),
		ResyncParallelism: c.GetInt("cache.resync_parallelism"),
		Redis: RedisConfig{
			Address:  c.GetString("cache.redis.address"),
			Password: c.GetString("cache.redis.password"),
			DB:       c.GetInt("cache.redis.db"),
		},
	}
	err := c.durations(map[string]*time.Duration{
		"cache.ttl":               &cc.TTL,
		"cache.write_timeout":     &cc.WriteTimeout,
		"cache.resync_timeout":    &cc.ResyncTimeout,
		"cache.resync_interval":   &cc.ResyncInterval,
		"cache.cleanup_frequency": &cc.CleanupFrequency,
	})
	return cc, err
}

// GetEscalation returns the escalation policy configuration
func (c *Config) GetEscalation() EscalationConfig {
	return EscalationConfig{
		AutoDenyScore:           c.GetFloat64("escalation.auto_deny_score"),
		AIConfidenceThreshold:   c.GetFloat64("escalation.ai_confidence_threshold"),
		RepeatOffenderThreshold: int64(c.GetInt("escalation.repeat_offender_threshold")),
		VirusSymbols:            c.GetStringSlice("escalation.virus_symbols"),
		TenantFallback:          c.GetBool("escalation.tenant_fallback"),
	}
}

// GetQuarantine returns the quarantine retention configuration
func (c *Config) GetQuarantine() (QuarantineConfig, error) {
	var qc QuarantineConfig
	err := c.durations(map[string]*time.Duration{
		"quarantine.retention":      &qc.Retention,
		"quarantine.purge_interval": &qc.PurgeInterval,
	})
	return qc, err
}

// GetRelay returns the SMTP relay configuration
func (c *Config) GetRelay() (RelayConfig, error) {
	rc := RelayConfig{
		Address:  c.GetString("relay.address"),
		Port:     c.GetInt("relay.port"),
		Helo:     c.GetString("relay.helo"),
		Username: c.GetString("relay.username"),
		Password: c.GetString("relay.password"),
		StartTLS: c.GetBool("relay.starttls"),
	}
	var err error
	rc.Timeout, err = c.GetDuration("relay.timeout")
	return rc, err
}

// GetCleanup returns the deny list purge configuration
func (c *Config) GetCleanup() (CleanupConfig, error) {
	cc := CleanupConfig{
		DenyMinHits: int64(c.GetInt("cleanup.deny_min_hits")),
	}
	err := c.durations(map[string]*time.Duration{
		"cleanup.interval":     &cc.Interval,
		"cleanup.deny_max_age": &cc.DenyMaxAge,
	})
	return cc, err
}

// GetClassifier returns the AI classifier selection
func (c *Config) GetClassifier() (ClassifierConfig, error) {
	cc := ClassifierConfig{
		Provider: c.GetString("classifier.provider"),
	}
	var err error
	cc.Timeout, err = c.GetDuration("classifier.timeout")
	return cc, err
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}
