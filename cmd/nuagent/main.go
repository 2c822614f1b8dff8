// Command nuagent runs the interactive agent: a REPL over an LLM
// provider with dependency-scheduled tools, a transactional conversation
// store, and background summarization and embedding workers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/nevindra/nuagent"
	"github.com/nevindra/nuagent/internal/config"
	"github.com/nevindra/nuagent/internal/repl"
	"github.com/nevindra/nuagent/observer"
	"github.com/nevindra/nuagent/provider/resolve"
	"github.com/nevindra/nuagent/store/sqlite"
	"github.com/nevindra/nuagent/tools/db"
	"github.com/nevindra/nuagent/tools/file"
	"github.com/nevindra/nuagent/tools/recall"
	"github.com/nevindra/nuagent/tools/shell"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nuagent:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "config file (default ~/.nuagent/nuagent.toml)")
		resetModels = flag.Bool("reset-models", false, "prompt for model configuration again")
	)
	flag.Parse()

	ctx := context.Background()
	cfg := config.Load(*configPath)

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	defer store.Close()

	app, err := nuagent.NewApplication(ctx, store, logger)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if *resetModels {
		if !interactive {
			return &nuagent.ErrConfig{Key: "orchestrator_model", Message: "--reset-models needs a terminal"}
		}
		if err := promptModels(ctx, store, &cfg); err != nil {
			return err
		}
	}
	// Models chosen through /model or --reset-models override the file.
	if v, err := store.GetConfig(ctx, "orchestrator_provider"); err == nil && v != "" {
		cfg.LLM.Provider = v
		cfg.LLM.APIKey = firstNonEmpty(os.Getenv("NUAGENT_API_KEY"), config.SecretAPIKey(v), cfg.LLM.APIKey)
	}
	if v, err := store.GetConfig(ctx, "orchestrator_model"); err == nil && v != "" {
		cfg.LLM.Model = v
	}

	// Observer is opt-in; everything downstream tolerates inst == nil.
	var inst *observer.Instruments
	shutdownObserver := func(context.Context) error { return nil }
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdownObserver, err = observer.Init(ctx, pricing)
		if err != nil {
			return err
		}
	}

	provider, err := resolve.Provider(resolve.Config{
		Provider:         cfg.LLM.Provider,
		APIKey:           cfg.LLM.APIKey,
		Model:            cfg.LLM.Model,
		BaseURL:          cfg.LLM.BaseURL,
		MaxContext:       cfg.LLM.MaxContext,
		InputPerMillion:  cfg.LLM.InputPerMillion,
		OutputPerMillion: cfg.LLM.OutputPerMillion,
	})
	if err != nil {
		return err
	}
	provider = nuagent.WithRetry(provider, nuagent.RetryLogger(logger))
	if inst != nil {
		provider = observer.WrapProvider(provider, inst)
	}

	// A missing embedding key only disables recall and the embedding
	// worker; the session still runs.
	var embedder nuagent.EmbeddingProvider
	if cfg.Embedding.APIKey != "" {
		e, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
			Provider:   cfg.Embedding.Provider,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			logger.Warn("embedding provider unavailable", "error", err)
		} else {
			embedder = nuagent.WithEmbeddingRetry(e, nuagent.RetryLogger(logger))
			if inst != nil {
				embedder = observer.WrapEmbedding(embedder, cfg.Embedding.Model, inst)
			}
		}
	}

	registry := nuagent.NewToolRegistry()
	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}
	tools := []nuagent.Tool{
		file.New(workDir),
		shell.New(workDir, 30),
		db.New(store),
		recall.New(store, embedder, 5),
	}
	for _, t := range tools {
		if inst != nil {
			registry.Add(observer.WrapTool(t, inst))
		} else {
			registry.Add(t)
		}
	}

	maxIters, err := store.ConfigInt(ctx, "loop_max_iters", 0)
	if err != nil {
		return err
	}

	orch := &nuagent.Orchestrator{
		Store:        store,
		Provider:     provider,
		Registry:     registry,
		Bus:          nuagent.NewBus(),
		Logger:       logger,
		SessionStart: app.SessionStart(),
		MaxIters:     maxIters,
	}
	if inst != nil {
		orch.Tracer = observer.NewTracer()
	}
	if cfg.Spellcheck.Enabled {
		sp, err := resolve.Provider(resolve.Config{
			Provider: cfg.Spellcheck.Provider,
			APIKey:   cfg.Spellcheck.APIKey,
			Model:    cfg.Spellcheck.Model,
		})
		if err != nil {
			logger.Warn("spellchecker unavailable", "error", err)
		} else {
			orch.SpellCheck = &nuagent.ProviderSpellChecker{Provider: sp, Logger: logger}
		}
	}

	supervisor := newSupervisor(app, provider, embedder, logger)
	if cfg.Workers.AutoStart {
		supervisor.StartEnabled(ctx)
	}

	r := &repl.REPL{
		App:         app,
		Orch:        orch,
		Supervisor:  supervisor,
		Registry:    registry,
		Bus:         orch.Bus,
		Logger:      logger,
		LogLevel:    level,
		DBPath:      cfg.Database.Path,
		Interactive: interactive,
	}
	runErr := r.Run(ctx)

	// Shutdown order: workers drain their critical sections before the
	// observer flushes and the deferred store close runs.
	supervisor.Shutdown()
	if err := shutdownObserver(context.Background()); err != nil {
		logger.Warn("observer shutdown", "error", err)
	}
	return runErr
}

// newSupervisor wires the three background jobs. The provider funcs are
// re-read per item so a /model summarizer swap lands between jobs.
func newSupervisor(app *nuagent.Application, provider nuagent.Provider, embedder nuagent.EmbeddingProvider, logger *slog.Logger) *nuagent.Supervisor {
	providerFn := func() nuagent.Provider { return provider }
	active := app.Conversation

	jobs := []nuagent.Job{
		&nuagent.ConversationSummarizer{
			Store: app.Store, Critical: app.Critical, Logger: logger,
			Provider: providerFn, Active: active,
		},
		&nuagent.ExchangeSummarizer{
			Store: app.Store, Critical: app.Critical, Logger: logger,
			Provider: providerFn, Active: active,
		},
	}
	if embedder != nil {
		jobs = append(jobs, &nuagent.EmbeddingGenerator{
			Store: app.Store, Critical: app.Critical, Logger: logger,
			Embedder: func() nuagent.EmbeddingProvider { return embedder },
			Active:   active,
		})
	}
	return nuagent.NewSupervisor(app.Store, app.Critical, logger, jobs...)
}

// promptModels interactively re-captures the provider and model and
// persists them in the config store.
func promptModels(ctx context.Context, store nuagent.Store, cfg *config.Config) error {
	sc := bufio.NewScanner(os.Stdin)
	ask := func(prompt, current string) (string, error) {
		fmt.Printf("%s [%s]: ", prompt, current)
		if !sc.Scan() {
			return "", sc.Err()
		}
		v := strings.TrimSpace(sc.Text())
		if v == "" {
			v = current
		}
		return v, nil
	}

	prov, err := ask("Provider", cfg.LLM.Provider)
	if err != nil {
		return err
	}
	model, err := ask("Model", cfg.LLM.Model)
	if err != nil {
		return err
	}
	if err := store.SetConfig(ctx, "orchestrator_provider", prov); err != nil {
		return err
	}
	if err := store.SetConfig(ctx, "orchestrator_model", model); err != nil {
		return err
	}
	cfg.LLM.Provider = prov
	cfg.LLM.Model = model
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
