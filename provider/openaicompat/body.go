package openaicompat

import (
	"github.com/nevindra/nuagent"
)

// Option configures a ChatRequest body.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

// BuildBody converts provider-neutral messages and tool definitions into
// an OpenAI chat completions request body.
//
// The system prompt, when non-empty, becomes the first message. Assistant
// messages carrying tool calls and tool result messages are mapped to the
// OpenAI tool_calls / tool_call_id wire shapes.
func BuildBody(systemPrompt string, messages []nuagent.ChatMessage, tools []nuagent.ToolDefinition, model string, opts ...Option) ChatRequest {
	req := ChatRequest{Model: model}

	if systemPrompt != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: systemPrompt})
	}

	for _, m := range messages {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			calls := make([]ToolCallRequest, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				}
			}
			req.Messages = append(req.Messages, Message{
				Role:      "assistant",
				Content:   m.Content,
				ToolCalls: calls,
			})
		case m.Role == "tool":
			req.Messages = append(req.Messages, Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		default:
			req.Messages = append(req.Messages, Message{Role: m.Role, Content: m.Content})
		}
	}

	req.Tools = BuildToolDefs(tools)

	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// BuildToolDefs converts tool definitions to the OpenAI function format.
// Classification metadata (operation type, scope, path params) is local
// scheduling information and never goes on the wire.
func BuildToolDefs(tools []nuagent.ToolDefinition) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, len(tools))
	for i, t := range tools {
		out[i] = Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
