package vertex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-dedup/internal/resilience"
)

func testVector(fill float32) []float32 {
	v := make([]float32, EmbeddingDim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestEmbed_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/text-embedding-004:predict"))

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instances, 2)
		assert.Equal(t, "cola 330ml", req.Instances[0].Content)
		assert.Equal(t, "RETRIEVAL_DOCUMENT", req.Instances[0].TaskType)

		resp := predictResponse{Predictions: []prediction{
			{Embeddings: embeddings{Values: testVector(0.1)}},
			{Embeddings: embeddings{Values: testVector(0.2)}},
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "text-embedding-004", WithBaseURL(srv.URL))
	got, err := client.Embed(context.Background(), []string{"cola 330ml", "orange juice 1l"})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0], EmbeddingDim)
	assert.InDelta(t, 0.2, got[1][0], 1e-6)
}

func TestEmbed_EmptyInput(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key", "text-embedding-004")
	got, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEmbed_BatchTooLarge(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key", "text-embedding-004", WithMaxBatchSize(2))
	_, err := client.Embed(context.Background(), []string{"a", "b", "c"})

	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestEmbed_EmptyText(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key", "text-embedding-004")
	_, err := client.Embed(context.Background(), []string{"cola", ""})

	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestEmbed_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "text-embedding-004", WithBaseURL(srv.URL))
	_, err := client.Embed(context.Background(), []string{"cola"})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "429")
}

func TestEmbed_BadRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid input"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "text-embedding-004", WithBaseURL(srv.URL))
	_, err := client.Embed(context.Background(), []string{"cola"})

	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := predictResponse{Predictions: []prediction{
			{Embeddings: embeddings{Values: []float32{0.1, 0.2, 0.3}}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "text-embedding-004", WithBaseURL(srv.URL))
	_, err := client.Embed(context.Background(), []string{"cola"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbed_ConfiguredDimension(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := predictResponse{Predictions: []prediction{
			{Embeddings: embeddings{Values: []float32{0.1, 0.2, 0.3, 0.4}}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "text-embedding-004", WithBaseURL(srv.URL), WithEmbeddingDim(4))
	got, err := client.Embed(context.Background(), []string{"cola"})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 4)
}

func TestEmbed_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(predictResponse{})
	}))
	defer srv.Close()

	client := NewClient("test-key", "text-embedding-004",
		WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond))
	_, err := client.Embed(context.Background(), []string{"cola"})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err), "a timed-out call must be retryable")
}

func TestEmbed_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := predictResponse{Predictions: []prediction{
			{Embeddings: embeddings{Values: testVector(0.5)}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "text-embedding-004", WithBaseURL(srv.URL))
	_, err := client.Embed(context.Background(), []string{"cola", "juice"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 embeddings for 2 inputs")
}
