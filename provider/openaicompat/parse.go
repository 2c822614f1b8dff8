package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nevindra/nuagent"
)

// ParseResponse converts an OpenAI chat completions response into the
// provider-neutral form. Only the first choice is used.
func ParseResponse(resp ChatResponse) (nuagent.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nuagent.ChatResponse{}, &nuagent.ErrLLM{Provider: "openai", Message: "response has no choices"}
	}
	choice := resp.Choices[0]
	if choice.Message == nil {
		return nuagent.ChatResponse{}, &nuagent.ErrLLM{Provider: "openai", Message: "choice has no message"}
	}

	out := nuagent.ChatResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = nuagent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	calls, err := ParseToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nuagent.ChatResponse{}, err
	}
	out.ToolCalls = calls
	return out, nil
}

// ParseToolCalls converts wire tool calls to the provider-neutral form.
// Arguments must be valid JSON; an empty arguments string is normalized
// to the empty object. Some backends (notably local servers) omit tool
// call IDs, so a missing ID is synthesized rather than rejected.
func ParseToolCalls(calls []ToolCallRequest) ([]nuagent.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]nuagent.ToolCall, len(calls))
	for i, c := range calls {
		args := c.Function.Arguments
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, &nuagent.ErrLLM{
				Provider: "openai",
				Message:  fmt.Sprintf("tool call %q has invalid JSON arguments", c.Function.Name),
			}
		}
		id := c.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out[i] = nuagent.ToolCall{
			ID:   id,
			Name: c.Function.Name,
			Args: json.RawMessage(args),
		}
	}
	return out, nil
}
