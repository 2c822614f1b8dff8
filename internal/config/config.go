// Package config loads nuagent configuration: defaults, then the TOML
// file, then environment overrides (env wins).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Spellcheck SpellcheckConfig `toml:"spellcheck"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Database   DatabaseConfig   `toml:"database"`
	Workers    WorkersConfig    `toml:"workers"`
	Observer   ObserverConfig   `toml:"observer"`
}

type LLMConfig struct {
	Provider         string  `toml:"provider"`
	Model            string  `toml:"model"`
	APIKey           string  `toml:"api_key"`
	BaseURL          string  `toml:"base_url"`
	MaxContext       int     `toml:"max_context"`
	InputPerMillion  float64 `toml:"input_per_million"`
	OutputPerMillion float64 `toml:"output_per_million"`
}

// SpellcheckConfig configures the small model used to propose input
// corrections. Falls back to the main LLM credentials when empty.
type SpellcheckConfig struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type WorkersConfig struct {
	// AutoStart launches background workers with the REPL. Forced off
	// when CI=true.
	AutoStart bool `toml:"auto_start"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
		Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536},
		Database:  DatabaseConfig{Path: defaultDatabasePath()},
		Workers:   WorkersConfig{AutoStart: true},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// API keys missing after all three layers are looked up in
// ~/.secrets/<PROVIDER>_API_KEY.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = defaultConfigPath()
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("NUAGENT_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("NUAGENT_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("NUAGENT_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("NUAGENT_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("NUAGENT_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("NUAGENT_DATABASE"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("NUAGENT_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if os.Getenv("CI") == "true" {
		cfg.Workers.AutoStart = false
	}

	// Secrets fallback
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = SecretAPIKey(cfg.LLM.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = SecretAPIKey(cfg.Embedding.Provider)
	}

	// Spellcheck inherits the main LLM credentials unless configured.
	if cfg.Spellcheck.Provider == "" {
		cfg.Spellcheck.Provider = cfg.LLM.Provider
		if cfg.Spellcheck.Model == "" {
			cfg.Spellcheck.Model = cfg.LLM.Model
		}
	}
	if cfg.Spellcheck.APIKey == "" {
		cfg.Spellcheck.APIKey = SecretAPIKey(cfg.Spellcheck.Provider)
	}
	if cfg.Spellcheck.APIKey == "" {
		cfg.Spellcheck.APIKey = cfg.LLM.APIKey
	}

	return cfg
}

// SecretAPIKey reads ~/.secrets/<PROVIDER>_API_KEY (provider name
// uppercased). Returns "" when the file does not exist.
func SecretAPIKey(provider string) string {
	home, err := os.UserHomeDir()
	if err != nil || provider == "" {
		return ""
	}
	name := strings.ToUpper(provider) + "_API_KEY"
	data, err := os.ReadFile(filepath.Join(home, ".secrets", name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nuagent.db"
	}
	return filepath.Join(home, ".nuagent", "memory.db")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nuagent.toml"
	}
	return filepath.Join(home, ".nuagent", "nuagent.toml")
}
