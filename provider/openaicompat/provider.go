package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nevindra/nuagent"
)

// defaultMaxContext is assumed when no context window is configured.
const defaultMaxContext = 128_000

// Provider implements nuagent.Provider for any OpenAI-compatible API.
// It uses the shared helpers in this package (BuildBody, ParseResponse)
// to handle body building and response parsing.
//
// Works with OpenAI, OpenRouter, Groq, Together, DeepSeek, Mistral,
// Ollama, vLLM, LM Studio, and any other backend that implements the
// OpenAI chat completions API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	name       string
	opts       []Option
	logger     *slog.Logger
	maxContext int
	inPerMTok  float64
	outPerMTok float64
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name (default "openai"). Useful when
// the same adapter fronts OpenRouter, Groq, or a local server.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithMaxContext sets the model's context window in tokens.
func WithMaxContext(n int) ProviderOption {
	return func(p *Provider) { p.maxContext = n }
}

// WithPricing sets USD pricing per million input and output tokens.
// Without pricing, Cost always reports 0.
func WithPricing(inPerMTok, outPerMTok float64) ProviderOption {
	return func(p *Provider) {
		p.inPerMTok = inPerMTok
		p.outPerMTok = outPerMTok
	}
}

// WithRequestOptions applies body options (temperature, max tokens) to
// every request.
func WithRequestOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		client:     &http.Client{},
		name:       "openai",
		maxContext: defaultMaxContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

// MaxContext returns the model's context window in tokens.
func (p *Provider) MaxContext() int { return p.maxContext }

// Cost returns the USD cost for the given token counts, 0 without
// configured pricing.
func (p *Provider) Cost(inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	return float64(inputTokens)/1e6*p.inPerMTok + float64(outputTokens)/1e6*p.outPerMTok
}

// Chat sends a chat request and returns the complete response. When
// req.Tools is non-empty, the response may contain ToolCalls.
func (p *Provider) Chat(ctx context.Context, req nuagent.ChatRequest) (nuagent.ChatResponse, error) {
	body := BuildBody(req.SystemPrompt, req.Messages, req.Tools, p.model, p.opts...)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return nuagent.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nuagent.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nuagent.ChatResponse{}, &nuagent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	out, err := ParseResponse(chatResp)
	if err != nil {
		return nuagent.ChatResponse{}, err
	}
	out.Spend = p.Cost(out.Usage.InputTokens, out.Usage.OutputTokens)
	if p.logger != nil {
		p.logger.Debug("chat completed",
			"provider", p.name,
			"model", p.model,
			"tokens_in", out.Usage.InputTokens,
			"tokens_out", out.Usage.OutputTokens,
			"tool_calls", len(out.ToolCalls))
	}
	return out, nil
}

// sendHTTP marshals the request body and sends it to the chat completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &nuagent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &nuagent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
// Parses the Retry-After header when present (429/503 responses).
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &nuagent.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: nuagent.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ nuagent.Provider = (*Provider)(nil)
