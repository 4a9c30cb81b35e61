package model

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the complete medfuse configuration. It is built once (defaults,
// config file, env, flags) and handed to the pipeline at construction.
type Config struct {
	Graph        GraphConfig        `yaml:"graph" mapstructure:"graph"`
	Vector       VectorConfig       `yaml:"vector" mapstructure:"vector"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Prompt       PromptConfig       `yaml:"prompt" mapstructure:"prompt"`
	FactCheck    FactCheckConfig    `yaml:"factcheck" mapstructure:"factcheck"`
	Safety       SafetyConfig       `yaml:"safety" mapstructure:"safety"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
}

// GraphConfig points at the patient knowledge graph (Neo4j/Bolt)
type GraphConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
}

// VectorConfig points at the research passage index (Weaviate)
type VectorConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	APIKey string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Class  string `yaml:"class" mapstructure:"class"`
	TopK   int    `yaml:"top_k" mapstructure:"top_k"`
}

// LLMConfig selects the generation and embedding providers
type LLMConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // ollama, openai, anthropic
	Model             string        `yaml:"model" mapstructure:"model"`
	BaseURL           string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature"`
	EmbeddingProvider string        `yaml:"embedding_provider" mapstructure:"embedding_provider"` // ollama, openai
	EmbeddingModel    string        `yaml:"embedding_model" mapstructure:"embedding_model"`
	EmbeddingBaseURL  string        `yaml:"embedding_base_url,omitempty" mapstructure:"embedding_base_url"`

	// Proxy settings for the Ollama HTTP client
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// PromptConfig bounds the rendered prompt
type PromptConfig struct {
	MaxChars int `yaml:"max_chars" mapstructure:"max_chars"`
}

// FactCheckConfig tunes claim verification
type FactCheckConfig struct {
	Metric         string   `yaml:"metric" mapstructure:"metric"` // token, embedding
	Threshold      float64  `yaml:"threshold" mapstructure:"threshold"`
	NegationTerms  []string `yaml:"negation_terms" mapstructure:"negation_terms"`
	NegationWindow int      `yaml:"negation_window" mapstructure:"negation_window"`
}

// SafetyConfig locates the reference data for the safety gate
type SafetyConfig struct {
	// ReferencePath is a YAML file with interactions, contraindications and
	// red-flag phrases. Empty uses the built-in table.
	ReferencePath string `yaml:"reference_path" mapstructure:"reference_path"`
}

// RetryConfig bounds retries of connector and generation calls
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff" mapstructure:"backoff"`
}

// RateLimitingConfig throttles outbound calls per service
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// CacheConfig controls the query embedding cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
	RedisAddr string        `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
}

// ConcurrencyConfig sizes the batch worker pool
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultNegationTerms flip the polarity of a nearby statement
var DefaultNegationTerms = []string{
	"no", "not", "never", "none", "without", "cannot", "can't", "don't",
	"doesn't", "isn't", "aren't", "avoid", "contraindicated", "unsafe",
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			URI:  "bolt://localhost:7687",
			User: "neo4j",
		},
		Vector: VectorConfig{
			URL:   "http://localhost:8080",
			Class: "ResearchPassage",
			TopK:  5,
		},
		LLM: LLMConfig{
			Provider:          "ollama",
			Model:             "phi3:mini",
			Timeout:           180 * time.Second,
			MaxTokens:         1024,
			Temperature:       0.3,
			EmbeddingProvider: "ollama",
			EmbeddingModel:    "bge-m3",
		},
		Prompt: PromptConfig{
			MaxChars: 3500,
		},
		FactCheck: FactCheckConfig{
			Metric:         "token",
			Threshold:      0.6,
			NegationTerms:  append([]string(nil), DefaultNegationTerms...),
			NegationWindow: 3,
		},
		Retry: RetryConfig{
			MaxAttempts: 2,
			Backoff:     500 * time.Millisecond,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: time.Hour,
			Dir:       defaultCacheDir(),
			DiskTTL:   7 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Server: ServerConfig{
			Addr: ":8088",
		},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "medfuse")
	}
	return filepath.Join(dir, "medfuse")
}
