package nuagent_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nevindra/nuagent"
	"github.com/nevindra/nuagent/store/sqlite"
)

func testJobStore(t *testing.T) nuagent.Store {
	t.Helper()
	s := sqlite.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedConversation creates a conversation with one completed exchange
// and its narrative messages.
func seedConversation(t *testing.T, s nuagent.Store) (convID, exID int64) {
	t.Helper()
	ctx := context.Background()
	convID, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	ex, err := s.CreateExchange(ctx, convID, "how do I tail a log file?")
	if err != nil {
		t.Fatalf("CreateExchange: %v", err)
	}
	s.AddMessage(ctx, nuagent.Message{
		ConversationID: convID, ExchangeID: ex.ID, Role: "user",
		Content: "how do I tail a log file?", IncludeInContext: true,
	})
	s.AddMessage(ctx, nuagent.Message{
		ConversationID: convID, ExchangeID: ex.ID, Role: "assistant",
		Content: "Use tail -f.", IncludeInContext: true,
	})
	if err := s.CompleteExchange(ctx, ex.ID, "Use tail -f.", nuagent.ExchangeMetrics{}); err != nil {
		t.Fatalf("CompleteExchange: %v", err)
	}
	return convID, ex.ID
}

func runOnce(t *testing.T, job nuagent.Job) nuagent.WorkerStatus {
	t.Helper()
	w := nuagent.NewWorker(job, nil)
	p := nuagent.NewProgress(w)
	if err := job.Run(context.Background(), p); err != nil {
		t.Fatalf("job run: %v", err)
	}
	return w.Status()
}

func TestConversationSummarizerWritesSummary(t *testing.T) {
	s := testJobStore(t)
	convID, _ := seedConversation(t, s)

	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		answer("User asked about tailing logs; assistant suggested tail -f.", 40, 12),
	}}
	job := &nuagent.ConversationSummarizer{
		Store:    s,
		Critical: &nuagent.CriticalSections{},
		Provider: func() nuagent.Provider { return p },
		Active:   func() int64 { return 0 },
	}
	st := runOnce(t, job)
	if st.Completed != 1 || st.Failed != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}

	conv, err := s.GetConversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Summary == "" || conv.SummaryModel != "script-1" {
		t.Fatalf("summary not written: %+v", conv)
	}

	// The transcript sent for summarization is the unredacted narrative.
	sent := p.requests[0].Messages[0].Content
	for _, want := range []string{"user: how do I tail", "assistant: Use tail -f."} {
		if !strings.Contains(sent, want) {
			t.Fatalf("transcript missing %q:\n%s", want, sent)
		}
	}
}

func TestConversationSummarizerSkipsActive(t *testing.T) {
	s := testJobStore(t)
	convID, _ := seedConversation(t, s)

	p := &scriptProvider{}
	job := &nuagent.ConversationSummarizer{
		Store:    s,
		Critical: &nuagent.CriticalSections{},
		Provider: func() nuagent.Provider { return p },
		Active:   func() int64 { return convID },
	}
	st := runOnce(t, job)
	if st.Total != 0 || p.callCount != 0 {
		t.Fatalf("active conversation must be skipped: %+v calls=%d", st, p.callCount)
	}
}

// countingHandler records how many log records reach it.
type countingHandler struct {
	mu sync.Mutex
	n  int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *countingHandler) WithGroup(string) slog.Handler            { return h }

func (h *countingHandler) Handle(context.Context, slog.Record) error {
	h.mu.Lock()
	h.n++
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func TestWorkerVerbosityZeroSilencesJobLogs(t *testing.T) {
	s := testJobStore(t)
	ctx := context.Background()

	h := &countingHandler{}
	newJob := func() *nuagent.ConversationSummarizer {
		p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
			answer("Short summary.", 10, 5),
		}}
		return &nuagent.ConversationSummarizer{
			Store:    s,
			Critical: &nuagent.CriticalSections{},
			Logger:   slog.New(h),
			Provider: func() nuagent.Provider { return p },
			Active:   func() int64 { return 0 },
		}
	}

	seedConversation(t, s)
	s.SetConfig(ctx, "conversation_summarizer_verbosity", "0")
	runOnce(t, newJob())
	if h.count() != 0 {
		t.Fatalf("verbosity 0 must silence job logs, got %d records", h.count())
	}

	seedConversation(t, s)
	s.SetConfig(ctx, "conversation_summarizer_verbosity", "1")
	runOnce(t, newJob())
	if h.count() == 0 {
		t.Fatal("verbosity 1 must log the summarized item")
	}
}

func TestExchangeSummarizerFailureContinues(t *testing.T) {
	s := testJobStore(t)
	ctx := context.Background()
	seedConversation(t, s)
	conv2, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ex2, _ := s.CreateExchange(ctx, conv2, "second question")
	s.CompleteExchange(ctx, ex2.ID, "second answer", nuagent.ExchangeMetrics{})

	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
			return nuagent.ChatResponse{}, errors.New("quota exhausted")
		},
		answer("Summary of the second exchange.", 30, 10),
	}}
	job := &nuagent.ExchangeSummarizer{
		Store:    s,
		Critical: &nuagent.CriticalSections{},
		Provider: func() nuagent.Provider { return p },
		Active:   func() int64 { return 0 },
	}
	st := runOnce(t, job)
	if st.Failed != 1 || st.Completed != 1 {
		t.Fatalf("one failure must not stop the run: %+v", st)
	}

	// The failure lands in the failed-job sink.
	res, err := s.ExecuteReadonlyQuery(ctx, "SELECT job_type FROM failed_jobs")
	if err != nil || len(res.Rows) != 1 {
		t.Fatalf("failed job not recorded: %+v %v", res, err)
	}
}

// fixedEmbedder returns a constant unit vector per input.
type fixedEmbedder struct {
	calls   int
	batches [][]string
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return 3 }
func (f *fixedEmbedder) Name() string    { return "fixed" }

func TestEmbeddingGeneratorIndexesSummaries(t *testing.T) {
	s := testJobStore(t)
	ctx := context.Background()
	convID, exID := seedConversation(t, s)
	s.SetConversationSummary(ctx, convID, "conversation summary", "m", 0)
	s.SetExchangeSummary(ctx, exID, "exchange summary", "m")

	emb := &fixedEmbedder{}
	job := &nuagent.EmbeddingGenerator{
		Store:    s,
		Critical: &nuagent.CriticalSections{},
		Embedder: func() nuagent.EmbeddingProvider { return emb },
		Active:   func() int64 { return 0 },
	}
	st := runOnce(t, job)
	if st.Failed != 0 || st.Completed == 0 {
		t.Fatalf("unexpected status: %+v", st)
	}

	hits, err := s.SearchEmbeddings(ctx, "conversation", []float32{1, 0, 0}, 5)
	if err != nil || len(hits) != 1 {
		t.Fatalf("conversation embedding missing: %+v %v", hits, err)
	}
	hits, err = s.SearchEmbeddings(ctx, "exchange", []float32{1, 0, 0}, 5)
	if err != nil || len(hits) != 1 {
		t.Fatalf("exchange embedding missing: %+v %v", hits, err)
	}

	// Second run finds nothing to do.
	emb.calls = 0
	runOnce(t, job)
	if emb.calls != 0 {
		t.Fatal("drained backlog should not call the embedder")
	}
}

func TestEmbeddingGeneratorBatchSize(t *testing.T) {
	s := testJobStore(t)
	ctx := context.Background()

	// 5 summarized conversations with a batch size of 2 → 3 batches.
	s.SetConfig(ctx, nuagent.ConfigEmbeddingBatchSize, "2")
	s.SetConfig(ctx, nuagent.ConfigEmbeddingRateMs, "0")
	for i := 0; i < 5; i++ {
		convID, _ := s.CreateConversation(ctx)
		ex, _ := s.CreateExchange(ctx, convID, "q")
		s.CompleteExchange(ctx, ex.ID, "a", nuagent.ExchangeMetrics{})
		s.SetConversationSummary(ctx, convID, "summary", "m", 0)
	}

	emb := &fixedEmbedder{}
	job := &nuagent.EmbeddingGenerator{
		Store:    s,
		Critical: &nuagent.CriticalSections{},
		Embedder: func() nuagent.EmbeddingProvider { return emb },
		Active:   func() int64 { return 0 },
	}
	runOnce(t, job)
	if emb.calls != 3 {
		t.Fatalf("expected 3 batches, got %d: %v", emb.calls, emb.batches)
	}
	for i, b := range emb.batches {
		if len(b) > 2 {
			t.Fatalf("batch %d exceeds size: %v", i, b)
		}
	}
}
