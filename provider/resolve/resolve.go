// Package resolve creates providers from provider-agnostic configuration.
package resolve

import (
	"fmt"

	"github.com/nevindra/nuagent"
	"github.com/nevindra/nuagent/provider/anthropic"
	"github.com/nevindra/nuagent/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "anthropic", "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for unknown openai-compat backends; auto-filled for known providers

	// Model metadata. Zero values fall back to provider defaults
	// (context window) or disable cost tracking (pricing).
	MaxContext       int
	InputPerMillion  float64
	OutputPerMillion float64
}

// EmbeddingConfig holds provider-agnostic configuration for creating an
// EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Provider creates a nuagent.Provider from a provider-agnostic Config.
func Provider(cfg Config) (nuagent.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropicProvider(cfg), nil
	case "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		if cfg.BaseURL != "" {
			// Unknown names with an explicit base URL are treated as
			// OpenAI-compatible (vLLM, LM Studio, custom gateways).
			return openaiCompatProvider(cfg), nil
		}
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// EmbeddingProvider creates a nuagent.EmbeddingProvider from a
// provider-agnostic EmbeddingConfig.
func EmbeddingProvider(cfg EmbeddingConfig) (nuagent.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai", "openrouter", "together", "mistral", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.NewEmbeddingProvider(
			cfg.APIKey, cfg.Model, baseURL, cfg.Dimensions,
			openaicompat.WithEmbeddingName(cfg.Provider),
		), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

func anthropicProvider(cfg Config) nuagent.Provider {
	var opts []anthropic.Option
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxContext > 0 {
		opts = append(opts, anthropic.WithMaxContext(cfg.MaxContext))
	}
	if cfg.InputPerMillion > 0 || cfg.OutputPerMillion > 0 {
		opts = append(opts, anthropic.WithPricing(cfg.InputPerMillion, cfg.OutputPerMillion))
	}
	return anthropic.NewProvider(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) nuagent.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	opts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}
	if cfg.MaxContext > 0 {
		opts = append(opts, openaicompat.WithMaxContext(cfg.MaxContext))
	}
	if cfg.InputPerMillion > 0 || cfg.OutputPerMillion > 0 {
		opts = append(opts, openaicompat.WithPricing(cfg.InputPerMillion, cfg.OutputPerMillion))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, opts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
