package config

import (
	"fmt"
	"os"
)

// Template is the starter config written by `knowledge-server config init`.
const Template = `# knowledge-server configuration
storage:
  documents_path: ./data/documents
  vector_db_url: localhost:6334
  model_cache_path: ./data/models

embedding:
  model_name: all-minilm
  base_url: http://localhost:11434
  batch_size: 32
  device: cpu
  dimension: 384

chunking:
  chunk_size: 500
  chunk_overlap: 50
  strategy: sentence

processing:
  max_concurrent_tasks: 3
  ocr_confidence_threshold: 0.6
  max_file_size_mb: 100

mcp:
  host: 0.0.0.0
  port: 3000
  transport: http-streamable
  strict_sessions: false
  rate_limit_rps: 0
  rate_limit_burst: 0

ocr:
  language: eng
  force_ocr: false
`

// WriteTemplate writes the starter config to path, refusing to overwrite an
// existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(Template), 0o644)
}
