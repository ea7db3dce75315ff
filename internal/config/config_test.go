package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	// Run from a directory without a config.yaml.
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.MCP.Port)
	assert.Equal(t, "sentence", cfg.Chunking.Strategy)
	assert.Equal(t, "all-minilm", cfg.Embedding.ModelName)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "custom.yaml")
	content := `
mcp:
  port: 3100
  transport: stdio
chunking:
  chunk_size: 800
  chunk_overlap: 100
  strategy: paragraph
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3100, cfg.MCP.Port)
	assert.Equal(t, "stdio", cfg.MCP.Transport)
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, "paragraph", cfg.Chunking.Strategy)
	// Untouched sections keep their defaults.
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
}

func TestEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KNOWLEDGE_MCP__PORT", "4242")
	t.Setenv("KNOWLEDGE_EMBEDDING__MODEL_NAME", "nomic-embed-text")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.MCP.Port)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.ModelName)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch size", func(c *Config) { c.Embedding.BatchSize = 129 }},
		{"device", func(c *Config) { c.Embedding.Device = "tpu" }},
		{"chunk size low", func(c *Config) { c.Chunking.ChunkSize = 99 }},
		{"chunk size high", func(c *Config) { c.Chunking.ChunkSize = 2001 }},
		{"overlap high", func(c *Config) { c.Chunking.ChunkOverlap = 501 }},
		{"overlap ge size", func(c *Config) { c.Chunking.ChunkSize = 100; c.Chunking.ChunkOverlap = 100 }},
		{"strategy", func(c *Config) { c.Chunking.Strategy = "semantic" }},
		{"tasks", func(c *Config) { c.Processing.MaxConcurrentTasks = 11 }},
		{"confidence", func(c *Config) { c.Processing.OCRConfidenceThreshold = 1.5 }},
		{"file size", func(c *Config) { c.Processing.MaxFileSizeMB = 0 }},
		{"port low", func(c *Config) { c.MCP.Port = 80 }},
		{"transport", func(c *Config) { c.MCP.Transport = "grpc" }},
		{"ocr language", func(c *Config) { c.OCR.Language = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMaxFileSizeBytes(t *testing.T) {
	cfg := Default()
	cfg.Processing.MaxFileSizeMB = 2
	assert.Equal(t, int64(2*1024*1024), cfg.MaxFileSizeBytes())
}

func TestWriteTemplate(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, WriteTemplate(path))

	// The starter file must load and validate as-is.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http-streamable", cfg.MCP.Transport)

	// Refuse to clobber an existing file.
	assert.Error(t, WriteTemplate(path))
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
