package recall

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/nuagent"
	"github.com/nevindra/nuagent/store/sqlite"
)

type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return len(f.vec) }
func (f *fixedEmbedder) Name() string    { return "fixed" }

func testStore(t *testing.T) nuagent.Store {
	t.Helper()
	s := sqlite.New(filepath.Join(t.TempDir(), "recall.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecallMemory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.StoreEmbeddings(ctx, "conversation", []nuagent.EmbeddingRecord{
		{Kind: "conversation", Source: "1", Content: "talked about log tailing", Embedding: []float32{1, 0, 0}},
		{Kind: "conversation", Source: "2", Content: "talked about compilers", Embedding: []float32{0, 1, 0}},
	})
	s.StoreEmbeddings(ctx, "exchange", []nuagent.EmbeddingRecord{
		{Kind: "exchange", Source: "7", Content: "tail -f explanation", Embedding: []float32{0.9, 0.1, 0}},
	})

	tool := New(s, &fixedEmbedder{vec: []float32{1, 0, 0}}, 2)
	args, _ := json.Marshal(map[string]string{"query": "how did we tail logs?"})
	result, err := tool.Execute(ctx, "recall_memory", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected tool error: %s", result.Error)
	}
	// Best matches from both kinds, capped at topK, best first.
	if !strings.Contains(result.Content, "log tailing") || !strings.Contains(result.Content, "tail -f") {
		t.Errorf("expected both kinds in results:\n%s", result.Content)
	}
	if strings.Contains(result.Content, "compilers") {
		t.Errorf("low-score hit should be cut by topK:\n%s", result.Content)
	}
	if !strings.HasPrefix(result.Content, "[conversation 1") {
		t.Errorf("results not ordered by score:\n%s", result.Content)
	}
}

func TestRecallKindFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.StoreEmbeddings(ctx, "conversation", []nuagent.EmbeddingRecord{
		{Kind: "conversation", Source: "1", Content: "conv summary", Embedding: []float32{1, 0, 0}},
	})
	s.StoreEmbeddings(ctx, "exchange", []nuagent.EmbeddingRecord{
		{Kind: "exchange", Source: "2", Content: "exchange summary", Embedding: []float32{1, 0, 0}},
	})

	tool := New(s, &fixedEmbedder{vec: []float32{1, 0, 0}}, 5)
	args, _ := json.Marshal(map[string]string{"query": "anything", "kind": "exchange"})
	result, _ := tool.Execute(ctx, "recall_memory", args)
	if strings.Contains(result.Content, "conv summary") {
		t.Errorf("kind filter ignored:\n%s", result.Content)
	}
	if !strings.Contains(result.Content, "exchange summary") {
		t.Errorf("expected exchange hit:\n%s", result.Content)
	}
}

func TestRecallEmptyIndex(t *testing.T) {
	tool := New(testStore(t), &fixedEmbedder{vec: []float32{1, 0, 0}}, 5)
	args, _ := json.Marshal(map[string]string{"query": "anything"})
	result, _ := tool.Execute(context.Background(), "recall_memory", args)
	if result.Content != "No relevant memories found." {
		t.Errorf("unexpected content: %q", result.Content)
	}
}

func TestRecallAvailability(t *testing.T) {
	if New(testStore(t), nil, 5).Available() {
		t.Error("recall without an embedder must be unavailable")
	}
	if !New(testStore(t), &fixedEmbedder{vec: []float32{1}}, 5).Available() {
		t.Error("recall with an embedder must be available")
	}
}
