// Package anthropic implements nuagent.Provider against the Anthropic
// messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nevindra/nuagent"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultMaxTokens  = 8192
	defaultMaxContext = 200_000
	apiVersion        = "2023-06-01"
)

// Content block types in the messages API.
const (
	contentText       = "text"
	contentToolUse    = "tool_use"
	contentToolResult = "tool_result"
)

// Provider implements nuagent.Provider for Anthropic models.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
	maxTokens  int
	maxContext int
	inPerMTok  float64
	outPerMTok float64
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL, for proxies and tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithMaxTokens caps the completion length (default 8192).
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// WithMaxContext sets the model's context window in tokens (default 200k).
func WithMaxContext(n int) Option {
	return func(p *Provider) { p.maxContext = n }
}

// WithPricing sets USD pricing per million input and output tokens.
// Without pricing, Cost always reports 0.
func WithPricing(inPerMTok, outPerMTok float64) Option {
	return func(p *Provider) {
		p.inPerMTok = inPerMTok
		p.outPerMTok = outPerMTok
	}
}

// NewProvider creates an Anthropic chat provider for the given model
// (e.g. "claude-sonnet-4-5").
func NewProvider(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		client:     &http.Client{},
		maxTokens:  defaultMaxTokens,
		maxContext: defaultMaxContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

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

// --- Wire types ---

type content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Tools     []toolDef `json:"tools,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messageResponse struct {
	Model      string    `json:"model"`
	Content    []content `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      usage     `json:"usage"`
}

// Chat sends a messages API request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req nuagent.ChatRequest) (nuagent.ChatResponse, error) {
	body := messageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    req.SystemPrompt,
		Messages:  buildMessages(req.Messages),
		Tools:     buildToolDefs(req.Tools),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nuagent.ChatResponse{}, &nuagent.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nuagent.ChatResponse{}, &nuagent.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nuagent.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nuagent.ChatResponse{}, &nuagent.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: nuagent.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var msgResp messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return nuagent.ChatResponse{}, &nuagent.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("decode response: %v", err)}
	}

	out := parseResponse(msgResp)
	out.Spend = p.Cost(out.Usage.InputTokens, out.Usage.OutputTokens)
	if p.logger != nil {
		p.logger.Debug("chat completed",
			"provider", "anthropic",
			"model", p.model,
			"tokens_in", out.Usage.InputTokens,
			"tokens_out", out.Usage.OutputTokens,
			"tool_calls", len(out.ToolCalls))
	}
	return out, nil
}

// buildMessages converts provider-neutral messages to the messages API
// shape. Tool results go in user-role messages; consecutive tool results
// merge into a single user message, which the API requires after an
// assistant tool_use turn.
func buildMessages(msgs []nuagent.ChatMessage) []message {
	var out []message
	for _, m := range msgs {
		switch m.Role {
		case "tool":
			block := content{
				Type:      contentToolResult,
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}
			if n := len(out); n > 0 && out[n-1].Role == "user" && len(out[n-1].Content) > 0 && out[n-1].Content[0].Type == contentToolResult {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, message{Role: "user", Content: []content{block}})
		case "assistant":
			var blocks []content
			if m.Content != "" {
				blocks = append(blocks, content{Type: contentText, Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, content{
					Type:  contentToolUse,
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Args,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, message{Role: "assistant", Content: blocks})
		case "system":
			// The messages API takes the system prompt as a top-level
			// field; inline system messages become user context.
			out = append(out, message{Role: "user", Content: []content{{Type: contentText, Text: m.Content}}})
		default:
			out = append(out, message{Role: "user", Content: []content{{Type: contentText, Text: m.Content}}})
		}
	}
	return out
}

func buildToolDefs(tools []nuagent.ToolDefinition) []toolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]toolDef, len(tools))
	for i, t := range tools {
		out[i] = toolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		}
	}
	return out
}

func parseResponse(resp messageResponse) nuagent.ChatResponse {
	out := nuagent.ChatResponse{
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage: nuagent.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case contentText:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += block.Text
		case contentToolUse:
			id := block.ID
			if id == "" {
				id = "toolu_" + uuid.NewString()
			}
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, nuagent.ToolCall{
				ID:   id,
				Name: block.Name,
				Args: args,
			})
		}
	}
	return out
}

// Compile-time interface check.
var _ nuagent.Provider = (*Provider)(nil)
