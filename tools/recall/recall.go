// Package recall provides a memory tool: semantic search over the
// conversation and exchange summaries indexed by the embedding worker.
package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/nuagent"
)

const defaultTopK = 5

// Tool searches stored summary embeddings by meaning.
type Tool struct {
	store    nuagent.Store
	embedder nuagent.EmbeddingProvider
	topK     int
}

// New creates a recall tool. topK <= 0 uses the default of 5.
func New(store nuagent.Store, embedder nuagent.EmbeddingProvider, topK int) *Tool {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Tool{store: store, embedder: embedder, topK: topK}
}

func (t *Tool) Definitions() []nuagent.ToolDefinition {
	return []nuagent.ToolDefinition{{
		Name:          "recall_memory",
		Description:   "Search past conversations by meaning. Returns the most relevant conversation and exchange summaries for a query.",
		Parameters:    json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"What to look for"},"kind":{"type":"string","description":"Restrict to \"conversation\" or \"exchange\" summaries (default: both)"}},"required":["query"]}`),
		OperationType: nuagent.OpRead,
		Scope:         nuagent.ScopeConfined,
	}}
}

// Available reports false when no embedding provider is configured, so
// the tool is hidden from the model rather than failing at call time.
func (t *Tool) Available() bool {
	return t.embedder != nil
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (nuagent.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nuagent.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return nuagent.ToolResult{Error: "query is required"}, nil
	}

	vecs, err := t.embedder.Embed(ctx, []string{params.Query})
	if err != nil {
		return nuagent.ToolResult{Error: "embedding failed: " + err.Error()}, nil
	}
	if len(vecs) != 1 {
		return nuagent.ToolResult{Error: fmt.Sprintf("embedding provider returned %d vectors for 1 input", len(vecs))}, nil
	}

	kinds := []string{"conversation", "exchange"}
	if params.Kind == "conversation" || params.Kind == "exchange" {
		kinds = []string{params.Kind}
	}

	var hits []nuagent.ScoredEmbedding
	for _, kind := range kinds {
		scored, err := t.store.SearchEmbeddings(ctx, kind, vecs[0], t.topK)
		if err != nil {
			return nuagent.ToolResult{Error: "search failed: " + err.Error()}, nil
		}
		hits = append(hits, scored...)
	}
	if len(hits) == 0 {
		return nuagent.ToolResult{Content: "No relevant memories found."}, nil
	}

	// Merge kinds by score, keep the overall topK.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if len(hits) > t.topK {
		hits = hits[:t.topK]
	}

	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s %s, score %.2f] %s", h.Kind, h.Source, h.Score, h.Content)
	}
	return nuagent.ToolResult{Content: b.String()}, nil
}

var _ nuagent.ConditionalTool = (*Tool)(nil)
