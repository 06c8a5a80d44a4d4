package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Vertex    VertexConfig    `yaml:"vertex" mapstructure:"vertex"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// VertexConfig holds Vertex AI embedding API settings.
type VertexConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	Model          string  `yaml:"model" mapstructure:"model"`
	MaxBatchSize   int     `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// AnthropicConfig holds Anthropic API settings for the classifier calls.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DedupConfig holds the resolution cascade tunables.
type DedupConfig struct {
	VectorWeight    float64 `yaml:"vector_weight" mapstructure:"vector_weight"`
	KeywordWeight   float64 `yaml:"keyword_weight" mapstructure:"keyword_weight"`
	AcceptThreshold float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	RerankThreshold float64 `yaml:"rerank_threshold" mapstructure:"rerank_threshold"`
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	EmbedBatchSize  int     `yaml:"embed_batch_size" mapstructure:"embed_batch_size"`
	ChunkSize       int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	WorkerCount     int     `yaml:"worker_count" mapstructure:"worker_count"`
	MaxRetries      int     `yaml:"max_retries" mapstructure:"max_retries"`
	EmbeddingDim    int     `yaml:"embedding_dim" mapstructure:"embedding_dim"`

	// AttributesPath points at a YAML file listing the differentiating
	// attributes the rerank step checks. Empty means the built-in defaults.
	AttributesPath string `yaml:"attributes_path" mapstructure:"attributes_path"`
}

// ServerConfig configures the trigger/review HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEDUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("vertex.base_url", "https://us-central1-aiplatform.googleapis.com")
	v.SetDefault("vertex.model", "text-embedding-004")
	v.SetDefault("vertex.max_batch_size", 250)
	v.SetDefault("vertex.timeout_secs", 30)
	v.SetDefault("vertex.requests_per_sec", 5)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("anthropic.timeout_secs", 30)
	v.SetDefault("dedup.vector_weight", 0.7)
	v.SetDefault("dedup.keyword_weight", 0.3)
	v.SetDefault("dedup.accept_threshold", 0.90)
	v.SetDefault("dedup.rerank_threshold", 0.95)
	v.SetDefault("dedup.review_threshold", 0.8)
	v.SetDefault("dedup.embed_batch_size", 250)
	v.SetDefault("dedup.chunk_size", 5000)
	v.SetDefault("dedup.worker_count", 4)
	v.SetDefault("dedup.max_retries", 3)
	v.SetDefault("dedup.embedding_dim", 768)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
