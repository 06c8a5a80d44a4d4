// Package vertex provides a client for the Vertex AI text embedding API.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-dedup/internal/resilience"
)

// EmbeddingDim is the output dimensionality of the embedding model.
const EmbeddingDim = 768

// DefaultMaxBatchSize is the provider's per-request instance limit.
const DefaultMaxBatchSize = 250

// Client defines the Vertex AI embedding operations.
type Client interface {
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type predictRequest struct {
	Instances []instance `json:"instances"`
}

type instance struct {
	Content  string `json:"content"`
	TaskType string `json:"task_type"`
}

type predictResponse struct {
	Predictions []prediction `json:"predictions"`
}

type prediction struct {
	Embeddings embeddings `json:"embeddings"`
}

type embeddings struct {
	Values []float32 `json:"values"`
}

// Option configures the Vertex client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimiter throttles outgoing requests.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// WithMaxBatchSize overrides the per-request instance limit.
func WithMaxBatchSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxBatchSize = n
		}
	}
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithEmbeddingDim overrides the expected output dimensionality, for models
// that emit something other than EmbeddingDim values.
func WithEmbeddingDim(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.dim = n
		}
	}
}

type httpClient struct {
	apiKey       string
	baseURL      string
	model        string
	maxBatchSize int
	dim          int
	limiter      *rate.Limiter
	http         *http.Client
}

// NewClient creates a new Vertex AI embedding client.
func NewClient(apiKey, model string, opts ...Option) Client {
	c := &httpClient{
		apiKey:       apiKey,
		baseURL:      "https://us-central1-aiplatform.googleapis.com",
		model:        model,
		maxBatchSize: DefaultMaxBatchSize,
		dim:          EmbeddingDim,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.maxBatchSize {
		return nil, resilience.NewPermanentError(
			eris.Errorf("vertex: batch of %d exceeds limit %d", len(texts), c.maxBatchSize))
	}
	for i, text := range texts {
		if text == "" {
			return nil, resilience.NewPermanentError(
				eris.Errorf("vertex: empty input at index %d", i))
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "vertex: rate limit wait")
		}
	}

	reqBody := predictRequest{Instances: make([]instance, len(texts))}
	for i, text := range texts {
		reqBody.Instances[i] = instance{Content: text, TaskType: "RETRIEVAL_DOCUMENT"}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "vertex: marshal request")
	}

	reqURL := fmt.Sprintf("%s/v1/publishers/google/models/%s:predict", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "vertex: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "vertex: request failed"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "vertex: read response body"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("vertex: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, resilience.NewPermanentError(apiErr)
	}

	var result predictResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "vertex: unmarshal response")
	}

	if len(result.Predictions) != len(texts) {
		return nil, eris.Errorf("vertex: got %d embeddings for %d inputs",
			len(result.Predictions), len(texts))
	}

	vectors := make([][]float32, len(result.Predictions))
	for i, p := range result.Predictions {
		if len(p.Embeddings.Values) != c.dim {
			return nil, eris.Errorf("vertex: embedding %d has dimension %d, want %d",
				i, len(p.Embeddings.Values), c.dim)
		}
		vectors[i] = p.Embeddings.Values
	}
	return vectors, nil
}
