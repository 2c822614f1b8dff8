package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nevindra/nuagent"
)

func TestProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected path /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Anthropic-Version") != apiVersion {
			t.Errorf("missing version header")
		}

		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "Be terse." {
			t.Errorf("system prompt must be top-level, got %q", req.System)
		}
		if req.MaxTokens == 0 {
			t.Error("max_tokens is required by the messages API")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse{
			Model:      "claude-sonnet-4-5",
			Content:    []content{{Type: "text", Text: "Hello!"}},
			StopReason: "end_turn",
			Usage:      usage{InputTokens: 12, OutputTokens: 3},
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "claude-sonnet-4-5", WithBaseURL(srv.URL), WithPricing(3, 15))
	resp, err := p.Chat(context.Background(), nuagent.ChatRequest{
		SystemPrompt: "Be terse.",
		Messages:     []nuagent.ChatMessage{nuagent.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Hello!" || resp.FinishReason != "end_turn" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	want := 12.0/1e6*3 + 3.0/1e6*15
	if resp.Spend != want {
		t.Errorf("expected spend %g, got %g", want, resp.Spend)
	}
}

func TestProvider_ChatToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "read_file" {
			t.Fatalf("unexpected tools: %+v", req.Tools)
		}

		// The assistant tool_use turn must be followed by one user
		// message merging both tool results.
		last := req.Messages[len(req.Messages)-1]
		if last.Role != "user" || len(last.Content) != 2 {
			t.Fatalf("tool results not merged into one user message: %+v", last)
		}
		for _, b := range last.Content {
			if b.Type != "tool_result" || b.ToolUseID == "" {
				t.Fatalf("bad tool_result block: %+v", b)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse{
			Content: []content{
				{Type: "text", Text: "Reading more."},
				{Type: "tool_use", ID: "toolu_2", Name: "read_file", Input: json.RawMessage(`{"path":"c.txt"}`)},
			},
			StopReason: "tool_use",
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "claude-sonnet-4-5", WithBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), nuagent.ChatRequest{
		Messages: []nuagent.ChatMessage{
			nuagent.UserMessage("read a and b"),
			{Role: "assistant", ToolCalls: []nuagent.ToolCall{
				{ID: "toolu_a", Name: "read_file", Args: json.RawMessage(`{"path":"a.txt"}`)},
				{ID: "toolu_b", Name: "read_file", Args: json.RawMessage(`{"path":"b.txt"}`)},
			}},
			nuagent.ToolResultMessage("toolu_a", "contents of a"),
			nuagent.ToolResultMessage("toolu_b", "contents of b"),
		},
		Tools: []nuagent.ToolDefinition{{
			Name:       "read_file",
			Parameters: json.RawMessage(`{"type":"object"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_2" {
		t.Fatalf("tool_use block not parsed: %+v", resp.ToolCalls)
	}
	if resp.Content != "Reading more." {
		t.Fatalf("text block not parsed: %q", resp.Content)
	}
}

func TestProvider_ChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
	}))
	defer srv.Close()

	p := NewProvider("test-key", "claude-sonnet-4-5", WithBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), nuagent.ChatRequest{
		Messages: []nuagent.ChatMessage{nuagent.UserMessage("Hi")},
	})
	var httpErr *nuagent.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 ErrHTTP, got %v", err)
	}
}

func TestParseResponse_MissingToolUseID(t *testing.T) {
	out := parseResponse(messageResponse{
		Content: []content{{Type: "tool_use", Name: "list_files"}},
	})
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].ID == "" {
		t.Fatalf("missing tool_use ID must be synthesized: %+v", out.ToolCalls)
	}
	if string(out.ToolCalls[0].Args) != "{}" {
		t.Fatalf("empty input must normalize to empty object: %s", out.ToolCalls[0].Args)
	}
}
