// Package config loads ragpipe configuration from a YAML file and the
// environment. Values are read once at startup; changing them requires a
// restart of the affected process.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
	"github.com/fyrsmithlabs/ragpipe/internal/telemetry"
)

// Config holds the complete ragpipe configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Remote      RemoteConfig      `koanf:"remote"`
	Services    ServicesConfig    `koanf:"services"`
	Logging     logging.Config    `koanf:"logging"`
	Telemetry   telemetry.Config  `koanf:"telemetry"`
}

// ServerConfig holds the HTTP gateway configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	Mode            string   `koanf:"mode"` // local | remote
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// PipelineConfig holds the knobs shared by both orchestrators.
type PipelineConfig struct {
	TopK             int     `koanf:"top_k"`
	MaxContextLength int     `koanf:"max_context_length"`
	ChunkSize        int     `koanf:"chunk_size"`
	ChunkOverlap     int     `koanf:"chunk_overlap"`
	Extension        string  `koanf:"extension"`
	Temperature      float64 `koanf:"temperature"`
}

// EmbeddingsConfig selects and configures the embedding backend.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"` // fastembed | ollama | openai
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// GenerationConfig selects and configures the text-generation backend.
type GenerationConfig struct {
	Provider string   `koanf:"provider"` // ollama | openai
	Model    string   `koanf:"model"`
	BaseURL  string   `koanf:"base_url"`
	APIKey   Secret   `koanf:"api_key"`
	Timeout  Duration `koanf:"timeout"`
}

// VectorStoreConfig selects and configures the vector store.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider"` // chromem | qdrant
	Path         string `koanf:"path"`
	Collection   string `koanf:"collection"`
	Compress     bool   `koanf:"compress"`
	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantTLS    bool   `koanf:"qdrant_tls"`

	// Dimension sizes the collection when no embedder is available to
	// probe, as in the standalone vector service. Zero means discover it.
	Dimension int `koanf:"dimension"`
}

// RemoteConfig tells the gateway where the stage services live.
type RemoteConfig struct {
	EmbeddingAddr   string   `koanf:"embedding_addr"`
	VectorAddr      string   `koanf:"vector_addr"`
	GenerationAddr  string   `koanf:"generation_addr"`
	EmbedTimeout    Duration `koanf:"embed_timeout"`
	SearchTimeout   Duration `koanf:"search_timeout"`
	GenerateTimeout Duration `koanf:"generate_timeout"`
	MaxReadRetries  int      `koanf:"max_read_retries"`
	BreakerFailures int      `koanf:"breaker_failures"`
	BreakerCooldown Duration `koanf:"breaker_cooldown"`
}

// ServicesConfig holds listen addresses for the stage services.
type ServicesConfig struct {
	EmbeddingListen  string  `koanf:"embedding_listen"`
	VectorListen     string  `koanf:"vector_listen"`
	GenerationListen string  `koanf:"generation_listen"`
	RateLimit        float64 `koanf:"rate_limit"`
	RateBurst        int     `koanf:"rate_burst"`
	// HealthInterval is how often a stage server checks its backend.
	HealthInterval Duration `koanf:"health_interval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
	cfg.VectorStore.Compress = true
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8001
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = string(rag.ModeLocal)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = rag.DefaultTopK
	}
	if cfg.Pipeline.MaxContextLength == 0 {
		cfg.Pipeline.MaxContextLength = 2000
	}
	if cfg.Pipeline.ChunkSize == 0 {
		cfg.Pipeline.ChunkSize = 500
		if cfg.Pipeline.ChunkOverlap == 0 {
			cfg.Pipeline.ChunkOverlap = 50
		}
	}
	if cfg.Pipeline.Extension == "" {
		cfg.Pipeline.Extension = ".txt"
	}
	if cfg.Pipeline.Temperature == 0 {
		cfg.Pipeline.Temperature = 0.7
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" && cfg.Embeddings.Provider == "ollama" {
		cfg.Embeddings.BaseURL = "http://localhost:11434"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/ragpipe/models"
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "ollama"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.2:3b"
	}
	if cfg.Generation.BaseURL == "" && cfg.Generation.Provider == "ollama" {
		cfg.Generation.BaseURL = "http://localhost:11434"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(120 * time.Second)
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "~/.local/share/ragpipe/vectorstore"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "onboarding_docs"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}

	if cfg.Remote.EmbeddingAddr == "" {
		cfg.Remote.EmbeddingAddr = "localhost:50051"
	}
	if cfg.Remote.VectorAddr == "" {
		cfg.Remote.VectorAddr = "localhost:50052"
	}
	if cfg.Remote.GenerationAddr == "" {
		cfg.Remote.GenerationAddr = "localhost:50053"
	}
	if cfg.Remote.EmbedTimeout == 0 {
		cfg.Remote.EmbedTimeout = Duration(30 * time.Second)
	}
	if cfg.Remote.SearchTimeout == 0 {
		cfg.Remote.SearchTimeout = Duration(30 * time.Second)
	}
	if cfg.Remote.GenerateTimeout == 0 {
		cfg.Remote.GenerateTimeout = Duration(150 * time.Second)
	}
	if cfg.Remote.MaxReadRetries == 0 {
		cfg.Remote.MaxReadRetries = 3
	}
	if cfg.Remote.BreakerFailures == 0 {
		cfg.Remote.BreakerFailures = 5
	}
	if cfg.Remote.BreakerCooldown == 0 {
		cfg.Remote.BreakerCooldown = Duration(30 * time.Second)
	}

	if cfg.Services.EmbeddingListen == "" {
		cfg.Services.EmbeddingListen = ":50051"
	}
	if cfg.Services.VectorListen == "" {
		cfg.Services.VectorListen = ":50052"
	}
	if cfg.Services.GenerationListen == "" {
		cfg.Services.GenerationListen = ":50053"
	}
	if cfg.Services.RateLimit == 0 {
		cfg.Services.RateLimit = 200
	}
	if cfg.Services.RateBurst == 0 {
		cfg.Services.RateBurst = 50
	}
	if cfg.Services.HealthInterval == 0 {
		cfg.Services.HealthInterval = Duration(10 * time.Second)
	}
}

// Validate returns a rag configuration error describing the first problem.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return rag.Configf(rag.StageConfig, "%v", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if _, err := rag.ParseMode(c.Server.Mode); err != nil {
		return fmt.Errorf("server.mode: %q must be local or remote", c.Server.Mode)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	p := c.Pipeline
	if p.TopK < 1 {
		return fmt.Errorf("pipeline.top_k must be positive, got %d", p.TopK)
	}
	if p.MaxContextLength < 1 {
		return fmt.Errorf("pipeline.max_context_length must be positive, got %d", p.MaxContextLength)
	}
	if p.ChunkSize < 1 {
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			p.ChunkOverlap, p.ChunkSize)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "ollama", "openai":
	default:
		return fmt.Errorf("unsupported embeddings provider: %q", c.Embeddings.Provider)
	}
	switch c.Generation.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unsupported generation provider: %q", c.Generation.Provider)
	}
	if c.Generation.Timeout <= 0 {
		return errors.New("generation.timeout must be positive")
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported vectorstore provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.Collection == "" {
		return errors.New("vectorstore.collection is required")
	}
	if c.VectorStore.Dimension < 0 {
		return fmt.Errorf("vectorstore.dimension must not be negative, got %d", c.VectorStore.Dimension)
	}

	if c.Remote.MaxReadRetries < 1 {
		return fmt.Errorf("remote.max_read_retries must be positive, got %d", c.Remote.MaxReadRetries)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
