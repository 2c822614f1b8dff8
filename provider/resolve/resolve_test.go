package resolve

import (
	"testing"
)

func TestDefaultBaseURL(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "https://api.openai.com/v1"},
		{"openrouter", "https://openrouter.ai/api/v1"},
		{"groq", "https://api.groq.com/openai/v1"},
		{"deepseek", "https://api.deepseek.com/v1"},
		{"together", "https://api.together.xyz/v1"},
		{"mistral", "https://api.mistral.ai/v1"},
		{"ollama", "http://localhost:11434/v1"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := defaultBaseURL(tt.provider); got != tt.want {
			t.Errorf("defaultBaseURL(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestProvider_Anthropic(t *testing.T) {
	p, err := Provider(Config{
		Provider: "anthropic",
		APIKey:   "test-key",
		Model:    "claude-sonnet-4-5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "anthropic" || p.Model() != "claude-sonnet-4-5" {
		t.Errorf("unexpected provider: %s %s", p.Name(), p.Model())
	}
}

func TestProvider_OpenAICompat(t *testing.T) {
	p, err := Provider(Config{
		Provider:         "groq",
		APIKey:           "test-key",
		Model:            "llama-3.3-70b",
		MaxContext:       32768,
		InputPerMillion:  0.59,
		OutputPerMillion: 0.79,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "groq" {
		t.Errorf("Name() = %q, want groq", p.Name())
	}
	if p.MaxContext() != 32768 {
		t.Errorf("MaxContext() = %d, want 32768", p.MaxContext())
	}
	if p.Cost(1_000_000, 0) != 0.59 {
		t.Errorf("Cost() = %g, want 0.59", p.Cost(1_000_000, 0))
	}
}

func TestProvider_UnknownWithBaseURL(t *testing.T) {
	p, err := Provider(Config{
		Provider: "vllm",
		Model:    "qwen3",
		BaseURL:  "http://localhost:8000/v1",
	})
	if err != nil {
		t.Fatalf("custom base URL must resolve as openai-compatible: %v", err)
	}
	if p.Name() != "vllm" {
		t.Errorf("Name() = %q, want vllm", p.Name())
	}
}

func TestProvider_Unknown(t *testing.T) {
	if _, err := Provider(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown provider without base URL")
	}
}

func TestEmbeddingProvider(t *testing.T) {
	e, err := EmbeddingProvider(EmbeddingConfig{
		Provider:   "openai",
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Dimensions() != 1536 {
		t.Errorf("Dimensions() = %d, want 1536", e.Dimensions())
	}

	if _, err := EmbeddingProvider(EmbeddingConfig{Provider: "anthropic"}); err == nil {
		t.Fatal("anthropic has no embedding API; expected error")
	}
}
