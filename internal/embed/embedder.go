// Package embed turns text into L2-normalized dense vectors via an
// Ollama-compatible HTTP endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder encodes batches of texts into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

const queryCacheSize = 512

// Client is an Embedder backed by POST /api/embed. Vectors are normalized to
// unit length so cosine similarity equals the dot product.
type Client struct {
	baseURL   string
	model     string
	batchSize int
	dimension int
	http      *http.Client
	cache     *lru.Cache[string, []float32]
}

// NewClient builds an embedding client. batchSize bounds the number of texts
// per request; dimension is the encoder's declared output width.
func NewClient(baseURL, model string, batchSize, dimension int) (*Client, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	cache, err := lru.New[string, []float32](queryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Client{
		baseURL:   baseURL,
		model:     model,
		batchSize: batchSize,
		dimension: dimension,
		http:      &http.Client{Timeout: 120 * time.Second},
		cache:     cache,
	}, nil
}

// Dimension returns the declared vector width.
func (c *Client) Dimension() int { return c.dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed encodes texts in configured-size batches, preserving order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery encodes a single text, consulting the LRU cache first. Search
// queries repeat far more often than document chunks.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		return cached, nil
	}
	vectors, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, vectors[0])
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embed request: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response: got %d vectors for %d texts", len(parsed.Embeddings), len(texts))
	}
	for i, vector := range parsed.Embeddings {
		if len(vector) != c.dimension {
			return nil, fmt.Errorf("embed response: vector %d has dimension %d, want %d", i, len(vector), c.dimension)
		}
		Normalize(vector)
	}
	return parsed.Embeddings, nil
}

// Normalize scales a vector to unit L2 norm in place. Zero vectors are left
// unchanged.
func Normalize(vector []float32) {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
}
