package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the bookchat service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	RAG       RAGConfig       `mapstructure:"rag"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	AdminAPIKey       string        `mapstructure:"admin_api_key"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	RateLimitPerMin   int           `mapstructure:"rate_limit_per_minute"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// ProvidersConfig selects and configures the embedding/completion backends.
// Thresholds never live here: provider choice and retrieval policy are
// independent knobs (see RAGConfig).
type ProvidersConfig struct {
	Active string         `mapstructure:"active"` // openai or gemini
	OpenAI ProviderConfig `mapstructure:"openai"`
	Gemini ProviderConfig `mapstructure:"gemini"`
}

// ProviderConfig describes a single embedding/completion provider.
type ProviderConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// QdrantConfig contains vector index settings
type QdrantConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (q QdrantConfig) Validate() error {
	if strings.TrimSpace(q.URL) == "" {
		return fmt.Errorf("qdrant.url required")
	}
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("qdrant.collection required")
	}
	if q.Dimensions <= 0 {
		return fmt.Errorf("qdrant.dimensions must be > 0")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RAGConfig contains the retrieval and grounding policy. Similarity thresholds are
// deployment tunables: embedding providers produce very different score
// distributions, so the values ship in config rather than code.
type RAGConfig struct {
	TopK                   int           `mapstructure:"top_k"`
	SimilarityThreshold    float64       `mapstructure:"similarity_threshold"`
	OutOfScopeThreshold    float64       `mapstructure:"out_of_scope_threshold"`
	GroundingMinSimilarity float64       `mapstructure:"grounding_min_similarity"`
	ContextCharLimit       int           `mapstructure:"context_char_limit"`
	ChunkTargetTokens      int           `mapstructure:"chunk_target_tokens"`
	ChunkOverlapTokens     int           `mapstructure:"chunk_overlap_tokens"`
	SessionTTL             time.Duration `mapstructure:"session_ttl"`
	MaxConversationMsgs    int           `mapstructure:"max_conversation_messages"`
}

// Normalize applies defaults for unset RAG values.
func (r RAGConfig) Normalize() RAGConfig {
	if r.TopK <= 0 {
		r.TopK = 5
	}
	if r.GroundingMinSimilarity <= 0 {
		r.GroundingMinSimilarity = 0.7
	}
	if r.ContextCharLimit <= 0 {
		r.ContextCharLimit = 8000
	}
	if r.ChunkTargetTokens <= 0 {
		r.ChunkTargetTokens = 800
	}
	if r.ChunkOverlapTokens < 0 {
		r.ChunkOverlapTokens = 0
	}
	if r.SessionTTL <= 0 {
		r.SessionTTL = 30 * time.Minute
	}
	if r.MaxConversationMsgs <= 0 {
		r.MaxConversationMsgs = 10
	}
	return r
}

func (r RAGConfig) Validate() error {
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("rag.similarity_threshold must be within [0,1]")
	}
	if r.OutOfScopeThreshold < 0 || r.OutOfScopeThreshold > 1 {
		return fmt.Errorf("rag.out_of_scope_threshold must be within [0,1]")
	}
	if r.ChunkOverlapTokens >= r.ChunkTargetTokens {
		return fmt.Errorf("rag.chunk_overlap_tokens must be smaller than rag.chunk_target_tokens")
	}
	return nil
}

// ActiveProvider resolves the configured provider block.
func (p ProvidersConfig) ActiveProvider() (ProviderConfig, error) {
	switch strings.ToLower(strings.TrimSpace(p.Active)) {
	case "", "openai":
		return p.OpenAI, nil
	case "gemini":
		return p.Gemini, nil
	default:
		return ProviderConfig{}, fmt.Errorf("unsupported provider: %s", p.Active)
	}
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.rate_limit_per_minute", 100)
	viper.SetDefault("providers.active", "openai")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.gemini.completion_model", "gemini-2.0-flash")
	viper.SetDefault("providers.gemini.embedding_model", "text-embedding-004")
	viper.SetDefault("qdrant.collection", "book_chunks")
	viper.SetDefault("qdrant.dimensions", 1536)
	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.similarity_threshold", 0.25)
	viper.SetDefault("rag.out_of_scope_threshold", 0.25)
	viper.SetDefault("rag.grounding_min_similarity", 0.7)
	viper.SetDefault("rag.session_ttl", "30m")
	viper.SetDefault("rag.max_conversation_messages", 10)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("BOOKCHAT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.RAG = config.RAG.Normalize()

	if err := config.Qdrant.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.RAG.Validate(); err != nil {
		panic(err)
	}
	return &config
}
