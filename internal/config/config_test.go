package config

import (
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/vecroute/internal/usecase/scoring"
)

func validConfig() Config {
	cfg := Config{HTTP: HTTPConfig{Port: 8080}}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_RedisDependents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"shared cache", func(c *Config) { c.Cache.Shared = true }, "cache.shared requires redis.addrs"},
		{"redis provider", func(c *Config) { c.Providers.Redis.Enabled = true }, "providers.redis requires redis.addrs"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || err.Error() != tc.want {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}

			cfg.Redis.Addrs = []string{"localhost:6379"}
			if err := cfg.Validate(); err != nil {
				t.Errorf("unexpected error with redis configured: %v", err)
			}
		})
	}
}

func TestValidate_TierTimeoutWithinDeadline(t *testing.T) {
	cfg := validConfig()
	cfg.Search.TierTimeoutMs = 5000

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "search.tier_timeout_ms") {
		t.Fatalf("expected tier timeout error, got %v", err)
	}
}

func TestValidate_WeightsRange(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Weights.Recency = 1.5

	err := cfg.Validate()
	if err == nil || err.Error() != "search.weights.recency must be between 0 and 1, got 1.5" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_TracingEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for tracing without endpoint")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Search.Deadline() != 3*time.Second {
		t.Errorf("expected 3s deadline, got %v", cfg.Search.Deadline())
	}
	if cfg.Cache.MaxSize != 1000 || cfg.Cache.TTL() != 5*time.Minute {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Resilience.Breaker.FailureThreshold != 5 || cfg.Resilience.Breaker.MinimumThroughput != 10 {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Resilience.Breaker)
	}
	if cfg.Degradation.MaxLevel != 3 {
		t.Errorf("expected MaxLevel=3, got %d", cfg.Degradation.MaxLevel)
	}
	if cfg.Search.Weights != scoring.DefaultWeights() {
		t.Errorf("expected default weights, got %+v", cfg.Search.Weights)
	}
	if !*cfg.Search.TemporalScoring || !*cfg.Search.UserFeedback {
		t.Error("temporal scoring and feedback must default on")
	}
	if cfg.Embedding.Enabled() || cfg.Redis.Enabled() {
		t.Error("embedding and redis must be off without credentials")
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	off := false
	cfg := Config{
		HTTP:      HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Search:    SearchConfig{DeadlineMs: 1500, TemporalScoring: &off},
		Providers: ProvidersConfig{Milvus: MilvusProviderConfig{Collection: "kb", EF: 64}},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Search.DeadlineMs != 1500 || *cfg.Search.TemporalScoring {
		t.Errorf("search overrides lost: %+v", cfg.Search)
	}
	if cfg.Providers.Milvus.Collection != "kb" || cfg.Providers.Milvus.EF != 64 {
		t.Errorf("milvus overrides lost: %+v", cfg.Providers.Milvus)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("VECROUTE_TEST_PORT", "9090")
	t.Setenv("VECROUTE_TEST_KEY", "")

	cfg, err := Parse([]byte(`
http:
  port: ${VECROUTE_TEST_PORT}
embedding:
  api_key: ${VECROUTE_TEST_KEY:-sk-local}
providers:
  memory:
    enabled: true
    seed_file: config/seed.yaml
search:
  weights:
    similarity: 0.5
    keyword_match: 0.5
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Embedding.APIKey != "sk-local" {
		t.Errorf("expected default api key, got %q", cfg.Embedding.APIKey)
	}
	if !cfg.Providers.Memory.Enabled || cfg.Providers.Memory.SeedFile != "config/seed.yaml" {
		t.Errorf("unexpected memory provider: %+v", cfg.Providers.Memory)
	}
	if cfg.Search.Weights.Similarity != 0.5 || cfg.Search.Weights.Recency != 0 {
		t.Errorf("explicit weights must not be merged with defaults: %+v", cfg.Search.Weights)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("http: [")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Parse([]byte("http:\n  port: 70000\n")); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_LocalConfig(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("local config must load: %v", err)
	}
	if cfg.HTTP.Port != 8080 || !cfg.Providers.Memory.Enabled {
		t.Errorf("unexpected local config: %+v", cfg.HTTP)
	}
	if cfg.Embedding.Enabled() {
		t.Error("embedding must stay disabled without an api key")
	}
	if cfg.Search.Weights != scoring.DefaultWeights() {
		t.Errorf("local weights drifted from defaults: %+v", cfg.Search.Weights)
	}
}
