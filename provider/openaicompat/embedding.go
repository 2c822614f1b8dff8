package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/nuagent"
)

// EmbeddingProvider implements nuagent.EmbeddingProvider against the
// OpenAI /embeddings endpoint.
type EmbeddingProvider struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	name       string
	dimensions int
}

// EmbeddingOption configures an EmbeddingProvider.
type EmbeddingOption func(*EmbeddingProvider)

// WithEmbeddingName overrides the provider name (default "openai").
func WithEmbeddingName(name string) EmbeddingOption {
	return func(p *EmbeddingProvider) { p.name = name }
}

// WithEmbeddingHTTPClient replaces the default HTTP client.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(p *EmbeddingProvider) { p.client = c }
}

// NewEmbeddingProvider creates an OpenAI-compatible embedding provider.
// dimensions is the vector size the model produces (1536 for
// text-embedding-3-small).
func NewEmbeddingProvider(apiKey, model, baseURL string, dimensions int, opts ...EmbeddingOption) *EmbeddingProvider {
	p := &EmbeddingProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		client:     &http.Client{},
		name:       "openai",
		dimensions: dimensions,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *EmbeddingProvider) Name() string { return p.name }

// Dimensions returns the embedding vector size.
func (p *EmbeddingProvider) Dimensions() int { return p.dimensions }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (p *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embeddingRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, &nuagent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &nuagent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &nuagent.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: nuagent.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, &nuagent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(embResp.Data) != len(texts) {
		return nil, &nuagent.ErrLLM{
			Provider: p.name,
			Message:  fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(texts), len(embResp.Data)),
		}
	}

	// The API documents index-annotated results; order by index rather
	// than trusting response order.
	out := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &nuagent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var _ nuagent.EmbeddingProvider = (*EmbeddingProvider)(nil)
