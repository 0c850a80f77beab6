package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/vecroute/internal/usecase/scoring"
)

// Config holds the vecroute service configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Redis       RedisConfig       `yaml:"redis"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Cache       CacheConfig       `yaml:"cache"`
	Search      SearchConfig      `yaml:"search"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Degradation DegradationConfig `yaml:"degradation"`
	Providers   ProvidersConfig   `yaml:"providers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// RedisConfig is the shared Redis/Valkey connection used by the result cache,
// the embedding cache and the redis provider. Empty addrs disables all three.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a Redis connection is configured.
func (r RedisConfig) Enabled() bool { return len(r.Addrs) > 0 }

// EmbeddingConfig holds the OpenAI-compatible embedding provider settings.
// An empty api_key disables query embedding; providers then fall back to keyword search.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// Enabled reports whether query embedding is available.
func (e EmbeddingConfig) Enabled() bool { return e.APIKey != "" }

// CacheTTL returns the embedding cache TTL.
func (e EmbeddingConfig) CacheTTL() time.Duration { return time.Duration(e.CacheTTLSec) * time.Second }

// CacheConfig holds result cache settings.
type CacheConfig struct {
	MaxSize          int  `yaml:"max_size"`
	TTLSec           int  `yaml:"ttl_sec"`
	SweepIntervalSec int  `yaml:"sweep_interval_sec"`
	Shared           bool `yaml:"shared"` // also store responses in Redis
}

// TTL returns the result cache TTL.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// SweepInterval returns the expired-entry sweep interval.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// SearchConfig holds fan-out and scoring settings.
type SearchConfig struct {
	DeadlineMs      int             `yaml:"deadline_ms"`
	TierTimeoutMs   int             `yaml:"tier_timeout_ms"`
	TemporalScoring *bool           `yaml:"temporal_scoring"`
	UserFeedback    *bool           `yaml:"user_feedback"`
	Weights         scoring.Weights `yaml:"weights"`
}

// Deadline returns the shared fan-out deadline.
func (s SearchConfig) Deadline() time.Duration { return time.Duration(s.DeadlineMs) * time.Millisecond }

// TierTimeout returns the per fallback tier timeout.
func (s SearchConfig) TierTimeout() time.Duration {
	return time.Duration(s.TierTimeoutMs) * time.Millisecond
}

// ResilienceConfig holds retry and circuit breaker settings shared by every provider.
type ResilienceConfig struct {
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig caps the classified retry policy.
type RetryConfig struct {
	MaxRetries       int     `yaml:"max_retries"`
	AttemptTimeoutMs int     `yaml:"attempt_timeout_ms"`
	Multiplier       float64 `yaml:"backoff_multiplier"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold   int `yaml:"failure_threshold"`
	SuccessThreshold   int `yaml:"success_threshold"`
	RecoveryTimeoutSec int `yaml:"recovery_timeout_sec"`
	MonitorWindowSec   int `yaml:"monitor_window_sec"`
	MinimumThroughput  int `yaml:"minimum_throughput"`
}

// DegradationConfig bounds the service degradation level.
type DegradationConfig struct {
	MaxLevel int `yaml:"max_level"`
}

// ProvidersConfig holds per-provider connection settings. Providers are
// fanned out in the order memory, pgvector, redis, milvus.
type ProvidersConfig struct {
	Memory   MemoryProviderConfig   `yaml:"memory"`
	PGVector PGVectorProviderConfig `yaml:"pgvector"`
	Redis    RedisProviderConfig    `yaml:"redis"`
	Milvus   MilvusProviderConfig   `yaml:"milvus"`
}

// MemoryProviderConfig configures the in-process provider.
type MemoryProviderConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SeedFile string `yaml:"seed_file"`
}

// PGVectorProviderConfig configures the Postgres provider. Empty dsn disables it.
type PGVectorProviderConfig struct {
	DSN              string `yaml:"dsn"`
	Table            string `yaml:"table"`
	TextSearchConfig string `yaml:"text_search_config"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
}

// RedisProviderConfig configures the Redis vector provider over the shared connection.
type RedisProviderConfig struct {
	Enabled bool `yaml:"enabled"`
	// IndexSeed copies the memory seed documents into Redis at startup.
	IndexSeed bool `yaml:"index_seed"`
}

// MilvusProviderConfig configures the hosted vector DB provider. Empty address disables it.
type MilvusProviderConfig struct {
	Address    string `yaml:"address"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Collection string `yaml:"collection"`
	EF         int    `yaml:"ef"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

func setDefault[T int | float64 | string](v *T, def T) {
	var zero T
	if *v <= zero {
		*v = def
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	setDefault(&c.HTTP.ReadTimeoutSec, 10)
	setDefault(&c.HTTP.WriteTimeoutSec, 10)
	setDefault(&c.HTTP.ShutdownSec, 10)

	setDefault(&c.Tracing.ServiceName, "vecroute")
	if c.Tracing.Enabled && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}

	setDefault(&c.Redis.ReadinessTimeout, 10)

	setDefault(&c.Embedding.Provider, "openai")
	setDefault(&c.Embedding.BaseURL, "https://api.openai.com/v1")
	setDefault(&c.Embedding.Model, "text-embedding-3-small")
	setDefault(&c.Embedding.Dimensions, 1536)
	setDefault(&c.Embedding.CacheTTLSec, 24*3600)

	setDefault(&c.Cache.MaxSize, 1000)
	setDefault(&c.Cache.TTLSec, 300)
	setDefault(&c.Cache.SweepIntervalSec, 60)

	setDefault(&c.Search.DeadlineMs, 3000)
	setDefault(&c.Search.TierTimeoutMs, 2000)
	if c.Search.TemporalScoring == nil {
		on := true
		c.Search.TemporalScoring = &on
	}
	if c.Search.UserFeedback == nil {
		on := true
		c.Search.UserFeedback = &on
	}
	if c.Search.Weights == (scoring.Weights{}) {
		c.Search.Weights = scoring.DefaultWeights()
	}

	setDefault(&c.Resilience.Retry.MaxRetries, 3)
	setDefault(&c.Resilience.Retry.AttemptTimeoutMs, 30000)
	setDefault(&c.Resilience.Retry.Multiplier, 2)
	setDefault(&c.Resilience.Breaker.FailureThreshold, 5)
	setDefault(&c.Resilience.Breaker.SuccessThreshold, 3)
	setDefault(&c.Resilience.Breaker.RecoveryTimeoutSec, 60)
	setDefault(&c.Resilience.Breaker.MonitorWindowSec, 300)
	setDefault(&c.Resilience.Breaker.MinimumThroughput, 10)

	setDefault(&c.Degradation.MaxLevel, 3)

	setDefault(&c.Providers.PGVector.Table, "documents")
	setDefault(&c.Providers.PGVector.TextSearchConfig, "english")
	setDefault(&c.Providers.PGVector.MaxOpenConns, 10)
	setDefault(&c.Providers.Milvus.Collection, "documents")
	setDefault(&c.Providers.Milvus.EF, 128)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Degradation.MaxLevel > 3 {
		return fmt.Errorf("degradation.max_level must be between 1 and 3, got %d", c.Degradation.MaxLevel)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}
	if c.Cache.Shared && !c.Redis.Enabled() {
		return fmt.Errorf("cache.shared requires redis.addrs")
	}
	if c.Providers.Redis.Enabled && !c.Redis.Enabled() {
		return fmt.Errorf("providers.redis requires redis.addrs")
	}
	if c.Providers.Redis.IndexSeed && !c.Providers.Memory.Enabled {
		return fmt.Errorf("providers.redis.index_seed requires the memory provider seed")
	}
	if c.Search.TierTimeoutMs > c.Search.DeadlineMs {
		return fmt.Errorf("search.tier_timeout_ms (%d) must not exceed search.deadline_ms (%d)",
			c.Search.TierTimeoutMs, c.Search.DeadlineMs)
	}
	w := c.Search.Weights
	for name, v := range map[string]float64{
		"similarity": w.Similarity, "recency": w.Recency, "authority": w.Authority,
		"context_relevance": w.ContextRelevance, "keyword_match": w.KeywordMatch,
		"semantic_match": w.SemanticMatch, "user_feedback": w.UserFeedback,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("search.weights.%s must be between 0 and 1, got %v", name, v)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
