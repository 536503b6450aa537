package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Zilliz    ZillizConfig
	SQLite    SQLiteConfig
	LLM       LLMConfig
	Rerank    RerankConfig
	Pipeline  PipelineConfig
	Retrieval RetrievalConfig
	Lexical   LexicalConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxQueryLength int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	TTL            time.Duration
	MemoryItems    int
	EmbeddingItems int
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type LLMConfig struct {
	BaseURL        string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
}

type RerankConfig struct {
	Endpoint       string
	TimeoutSec     int
	OverlapWeight  float64
	PhraseWeight   float64
	CoverageWeight float64
}

type PipelineConfig struct {
	ConfidenceThreshold float64
	MaxExpansions       int
	ExpansionEnabled    bool
	ExpansionSkipHits   int
	ClassifierFallback  bool
	StageTimeout        time.Duration
	LatencyBudget       time.Duration
}

type RetrievalConfig struct {
	MinSimilarity      float64
	SearchTimeout      time.Duration
	DemoteDuplicates   bool
	DuplicateThreshold float64
	DefaultProfile     string
	ExpansionRetrieval bool
}

type LexicalConfig struct {
	CorpusPath string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (if present) and QUERYLIFT_* environment overrides
// on top of the defaults below.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/querylift")

	v.SetEnvPrefix("QUERYLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidenceThreshold must be within [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.MaxExpansions < 0 {
		return fmt.Errorf("pipeline.maxExpansions must not be negative, got %d", c.Pipeline.MaxExpansions)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.minSimilarity must be within [0,1], got %v", c.Retrieval.MinSimilarity)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxQueryLength", 2000)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.memoryItems", 2048)
	v.SetDefault("cache.embeddingItems", 8192)

	v.SetDefault("zilliz.enabled", true)
	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionName", "documents")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/querylift.db")

	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 512)
	v.SetDefault("llm.timeoutSec", 20)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")

	v.SetDefault("rerank.endpoint", "")
	v.SetDefault("rerank.timeoutSec", 10)
	v.SetDefault("rerank.overlapWeight", 0.6)
	v.SetDefault("rerank.phraseWeight", 0.25)
	v.SetDefault("rerank.coverageWeight", 0.15)

	v.SetDefault("pipeline.confidenceThreshold", 0.75)
	v.SetDefault("pipeline.maxExpansions", 3)
	v.SetDefault("pipeline.expansionEnabled", true)
	v.SetDefault("pipeline.expansionSkipHits", 3)
	v.SetDefault("pipeline.classifierFallback", true)
	v.SetDefault("pipeline.stageTimeout", 10*time.Second)
	v.SetDefault("pipeline.latencyBudget", 600*time.Millisecond)

	v.SetDefault("retrieval.minSimilarity", 0.3)
	v.SetDefault("retrieval.searchTimeout", 10*time.Second)
	v.SetDefault("retrieval.demoteDuplicates", false)
	v.SetDefault("retrieval.duplicateThreshold", 0.9)
	v.SetDefault("retrieval.defaultProfile", "")
	v.SetDefault("retrieval.expansionRetrieval", true)

	v.SetDefault("lexical.corpusPath", "./data/corpus.jsonl")

	v.SetDefault("rateLimit.requestsPerMinute", 120)
	v.SetDefault("rateLimit.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
