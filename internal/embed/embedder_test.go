package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedServer answers /api/embed with deterministic 3-dim vectors and
// counts requests.
func fakeEmbedServer(t *testing.T, requests *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		*requests++

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "all-minilm", req.Model)

		vectors := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			vectors[i] = []float32{float32(len(text)), 1, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": vectors})
	}))
}

func TestEmbedBatchesAndPreservesOrder(t *testing.T) {
	var requests int
	srv := fakeEmbedServer(t, &requests)
	defer srv.Close()

	client, err := NewClient(srv.URL, "all-minilm", 2, 3)
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	// Batch size 2 over 5 texts: 3 requests.
	assert.Equal(t, 3, requests)

	// Order is preserved: the first component encodes the text length
	// before normalization, so it grows with the input.
	for i := 1; i < len(vectors); i++ {
		assert.Greater(t, vectors[i][0], float32(0))
	}
	assert.InDelta(t, 1.0, norm(vectors[0]), 1e-6)
}

func TestEmbedEmptyInput(t *testing.T) {
	client, err := NewClient("http://unused", "all-minilm", 4, 3)
	require.NoError(t, err)
	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedQueryUsesCache(t *testing.T) {
	var requests int
	srv := fakeEmbedServer(t, &requests)
	defer srv.Close()

	client, err := NewClient(srv.URL, "all-minilm", 4, 3)
	require.NoError(t, err)

	first, err := client.EmbedQuery(context.Background(), "same query")
	require.NoError(t, err)
	second, err := client.EmbedQuery(context.Background(), "same query")
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	assert.Equal(t, first, second)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": [][]float32{{1, 2}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "all-minilm", 4, 3)
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "all-minilm", 4, 3)
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNormalize(t *testing.T) {
	vector := []float32{3, 4}
	Normalize(vector)
	assert.InDelta(t, 0.6, vector[0], 1e-6)
	assert.InDelta(t, 0.8, vector[1], 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func norm(vector []float32) float64 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
