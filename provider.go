package nuagent

import "context"

// Provider abstracts an LLM backend. Implementations live under
// provider/ (openaicompat, anthropic); compose with WithRetry for
// transient-error handling.
type Provider interface {
	// Chat sends a request and returns a complete response. When
	// req.Tools is non-empty the response may contain ToolCalls.
	// Transport and provider errors are returned as *ErrHTTP / *ErrLLM;
	// the caller decides whether they fail the exchange.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string
	// Model returns the configured model identifier.
	Model() string
	// MaxContext returns the model's context window in tokens.
	MaxContext() int
	// Cost returns the USD cost for the given token counts. Never
	// negative; 0 for models without configured pricing.
	Cost(inputTokens, outputTokens int) float64
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
