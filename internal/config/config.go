// Package config loads and validates server configuration from YAML with
// KNOWLEDGE_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use "__",
// e.g. KNOWLEDGE_MCP__PORT=3100.
const EnvPrefix = "KNOWLEDGE"

// Config is the full server configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	Chunking   ChunkingConfig   `mapstructure:"chunking" yaml:"chunking"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	MCP        MCPConfig        `mapstructure:"mcp" yaml:"mcp"`
	OCR        OCRConfig        `mapstructure:"ocr" yaml:"ocr"`
}

// StorageConfig names the on-disk locations the server manages.
type StorageConfig struct {
	DocumentsPath  string `mapstructure:"documents_path" yaml:"documents_path"`
	VectorDBURL    string `mapstructure:"vector_db_url" yaml:"vector_db_url"`
	ModelCachePath string `mapstructure:"model_cache_path" yaml:"model_cache_path"`
}

// EmbeddingConfig configures the embedding encoder.
type EmbeddingConfig struct {
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
	Device    string `mapstructure:"device" yaml:"device"`
	Dimension int    `mapstructure:"dimension" yaml:"dimension"`
}

// ChunkingConfig selects the chunking strategy and sizing.
type ChunkingConfig struct {
	ChunkSize    int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	Strategy     string `mapstructure:"strategy" yaml:"strategy"`
}

// ProcessingConfig bounds the ingest pipeline.
type ProcessingConfig struct {
	MaxConcurrentTasks     int     `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	OCRConfidenceThreshold float64 `mapstructure:"ocr_confidence_threshold" yaml:"ocr_confidence_threshold"`
	MaxFileSizeMB          int     `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
}

// MCPConfig configures the MCP transport.
type MCPConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Transport string `mapstructure:"transport" yaml:"transport"`
	// StrictSessions rejects unknown session ids with 404 instead of
	// creating them on demand.
	StrictSessions bool `mapstructure:"strict_sessions" yaml:"strict_sessions"`
	// RateLimitRPS throttles non-loopback clients; zero disables.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// OCRConfig configures tesseract.
type OCRConfig struct {
	Language string `mapstructure:"language" yaml:"language"`
	ForceOCR bool   `mapstructure:"force_ocr" yaml:"force_ocr"`
}

// Default returns the built-in configuration used when no config file is
// present.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DocumentsPath:  "./data/documents",
			VectorDBURL:    "localhost:6334",
			ModelCachePath: "./data/models",
		},
		Embedding: EmbeddingConfig{
			ModelName: "all-minilm",
			BaseURL:   "http://localhost:11434",
			BatchSize: 32,
			Device:    "cpu",
			Dimension: 384,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    500,
			ChunkOverlap: 50,
			Strategy:     "sentence",
		},
		Processing: ProcessingConfig{
			MaxConcurrentTasks:     3,
			OCRConfidenceThreshold: 0.6,
			MaxFileSizeMB:          100,
		},
		MCP: MCPConfig{
			Host:      "0.0.0.0",
			Port:      3000,
			Transport: "http-streamable",
		},
		OCR: OCRConfig{
			Language: "eng",
		},
	}
}

// Load reads configuration from the given path, or ./config.yaml when path
// is empty, falling back to built-in defaults when neither exists.
// Environment variables override file values. A local .env file, if present,
// is loaded first.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("storage.documents_path", def.Storage.DocumentsPath)
	v.SetDefault("storage.vector_db_url", def.Storage.VectorDBURL)
	v.SetDefault("storage.model_cache_path", def.Storage.ModelCachePath)
	v.SetDefault("embedding.model_name", def.Embedding.ModelName)
	v.SetDefault("embedding.base_url", def.Embedding.BaseURL)
	v.SetDefault("embedding.batch_size", def.Embedding.BatchSize)
	v.SetDefault("embedding.device", def.Embedding.Device)
	v.SetDefault("embedding.dimension", def.Embedding.Dimension)
	v.SetDefault("chunking.chunk_size", def.Chunking.ChunkSize)
	v.SetDefault("chunking.chunk_overlap", def.Chunking.ChunkOverlap)
	v.SetDefault("chunking.strategy", def.Chunking.Strategy)
	v.SetDefault("processing.max_concurrent_tasks", def.Processing.MaxConcurrentTasks)
	v.SetDefault("processing.ocr_confidence_threshold", def.Processing.OCRConfidenceThreshold)
	v.SetDefault("processing.max_file_size_mb", def.Processing.MaxFileSizeMB)
	v.SetDefault("mcp.host", def.MCP.Host)
	v.SetDefault("mcp.port", def.MCP.Port)
	v.SetDefault("mcp.transport", def.MCP.Transport)
	v.SetDefault("mcp.strict_sessions", def.MCP.StrictSessions)
	v.SetDefault("mcp.rate_limit_rps", def.MCP.RateLimitRPS)
	v.SetDefault("mcp.rate_limit_burst", def.MCP.RateLimitBurst)
	v.SetDefault("ocr.language", def.OCR.Language)
	v.SetDefault("ocr.force_ocr", def.OCR.ForceOCR)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if _, err := os.Stat("config.yaml"); err == nil {
		v.SetConfigFile("config.yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the documented ranges.
func (c *Config) Validate() error {
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 128 {
		return fmt.Errorf("embedding.batch_size must be in [1,128], got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.Device != "cpu" && c.Embedding.Device != "cuda" {
		return fmt.Errorf("embedding.device must be cpu or cuda, got %q", c.Embedding.Device)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Chunking.ChunkSize < 100 || c.Chunking.ChunkSize > 2000 {
		return fmt.Errorf("chunking.chunk_size must be in [100,2000], got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap > 500 {
		return fmt.Errorf("chunking.chunk_overlap must be in [0,500], got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap (%d) must be less than chunk_size (%d)", c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	switch c.Chunking.Strategy {
	case "sentence", "paragraph", "fixed":
	default:
		return fmt.Errorf("chunking.strategy must be sentence, paragraph or fixed, got %q", c.Chunking.Strategy)
	}
	if c.Processing.MaxConcurrentTasks < 1 || c.Processing.MaxConcurrentTasks > 10 {
		return fmt.Errorf("processing.max_concurrent_tasks must be in [1,10], got %d", c.Processing.MaxConcurrentTasks)
	}
	if c.Processing.OCRConfidenceThreshold < 0 || c.Processing.OCRConfidenceThreshold > 1 {
		return fmt.Errorf("processing.ocr_confidence_threshold must be in [0,1], got %g", c.Processing.OCRConfidenceThreshold)
	}
	if c.Processing.MaxFileSizeMB < 1 || c.Processing.MaxFileSizeMB > 1000 {
		return fmt.Errorf("processing.max_file_size_mb must be in [1,1000], got %d", c.Processing.MaxFileSizeMB)
	}
	if c.MCP.Port < 1024 || c.MCP.Port > 65535 {
		return fmt.Errorf("mcp.port must be in [1024,65535], got %d", c.MCP.Port)
	}
	switch c.MCP.Transport {
	case "http", "websocket", "http-streamable", "stdio":
	default:
		return fmt.Errorf("mcp.transport must be http, websocket, http-streamable or stdio, got %q", c.MCP.Transport)
	}
	if c.OCR.Language == "" {
		return fmt.Errorf("ocr.language must not be empty")
	}
	return nil
}

// expandPaths resolves the storage paths to absolute form.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Storage.DocumentsPath, &c.Storage.ModelCachePath} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// EnsureDirectories creates the directories the server writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DocumentsPath, c.Storage.ModelCachePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// MaxFileSizeBytes converts the configured MB limit to bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Processing.MaxFileSizeMB) * 1024 * 1024
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", p, err)
	}
	return abs, nil
}
