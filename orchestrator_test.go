package nuagent_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nevindra/nuagent"
	"github.com/nevindra/nuagent/store/sqlite"
)

// scriptProvider replays a fixed sequence of responses and records
// every request it receives.
type scriptProvider struct {
	mu        sync.Mutex
	steps     []func(req nuagent.ChatRequest) (nuagent.ChatResponse, error)
	requests  []nuagent.ChatRequest
	callCount int
}

func (p *scriptProvider) Chat(ctx context.Context, req nuagent.ChatRequest) (nuagent.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.callCount >= len(p.steps) {
		return nuagent.ChatResponse{}, errors.New("script exhausted")
	}
	step := p.steps[p.callCount]
	p.callCount++
	return step(req)
}

func (p *scriptProvider) Name() string             { return "script" }
func (p *scriptProvider) Model() string            { return "script-1" }
func (p *scriptProvider) MaxContext() int          { return 128000 }
func (p *scriptProvider) Cost(in, out int) float64 { return 0 }

func answer(text string, in, out int) func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
	return func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
		return nuagent.ChatResponse{
			Content: text,
			Model:   "script-1",
			Usage:   nuagent.Usage{InputTokens: in, OutputTokens: out},
			Spend:   0.001,
		}, nil
	}
}

func callTools(content string, in, out int, calls ...nuagent.ToolCall) func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
	return func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
		return nuagent.ChatResponse{
			Content:   content,
			ToolCalls: calls,
			Model:     "script-1",
			Usage:     nuagent.Usage{InputTokens: in, OutputTokens: out},
			Spend:     0.001,
		}, nil
	}
}

type echoTool struct{}

func (echoTool) Definitions() []nuagent.ToolDefinition {
	return []nuagent.ToolDefinition{{
		Name:          "echo",
		Description:   "echoes its input",
		OperationType: nuagent.OpRead,
		Scope:         nuagent.ScopeConfined,
	}}
}

func (echoTool) Execute(ctx context.Context, name string, args json.RawMessage) (nuagent.ToolResult, error) {
	return nuagent.ToolResult{Content: string(args)}, nil
}

func newTestOrchestrator(t *testing.T, p nuagent.Provider) (*nuagent.Orchestrator, nuagent.Store, int64) {
	t.Helper()
	s := sqlite.New(filepath.Join(t.TempDir(), "orch.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	conv, err := s.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	reg := nuagent.NewToolRegistry()
	reg.Add(echoTool{})
	return &nuagent.Orchestrator{
		Store:    s,
		Provider: p,
		Registry: reg,
		Bus:      nuagent.NewBus(),
	}, s, conv
}

func TestProcessTurnSimple(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		answer("Hello back!", 50, 8),
	}}
	o, s, conv := newTestOrchestrator(t, p)
	ctx := context.Background()

	var events []nuagent.ExchangeCompletedEvent
	o.Bus.Subscribe(nuagent.TopicExchangeCompleted, func(data any) {
		ev := data.(nuagent.ExchangeCompletedEvent)
		// The exchange must be durably committed when the event fires.
		ex, err := s.GetExchange(ctx, ev.ExchangeID)
		if err != nil || ex.Status != nuagent.ExchangeCompleted {
			t.Errorf("event fired before commit: %v %+v", err, ex)
		}
		events = append(events, ev)
	})

	res, err := o.ProcessTurn(ctx, conv, "Hello")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Failed || res.Assistant != "Hello back!" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(events) != 1 || events[0].ExchangeID != res.ExchangeID {
		t.Fatalf("expected one completion event, got %+v", events)
	}

	msgs, _ := s.Messages(ctx, conv, 0, true)
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("narrative wrong: %+v", msgs)
	}

	if idle, _ := s.WorkersIdle(ctx); !idle {
		t.Fatal("worker gauge not released")
	}
}

func TestProcessTurnWithTools(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		callTools("Checking...", 100, 10,
			nuagent.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{"q":"a"}`)},
			nuagent.ToolCall{ID: "c2", Name: "echo", Args: json.RawMessage(`{"q":"b"}`)},
		),
		answer("The answer is 42.", 130, 20),
	}}
	o, s, conv := newTestOrchestrator(t, p)
	ctx := context.Background()

	var surfaced []string
	o.OnContent = func(text string) { surfaced = append(surfaced, text) }

	res, err := o.ProcessTurn(ctx, conv, "What is the answer?")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Failed {
		t.Fatalf("turn failed: %+v", res)
	}
	if len(surfaced) != 1 || surfaced[0] != "Checking..." {
		t.Fatalf("mid-loop content not surfaced: %v", surfaced)
	}

	// Metrics fold: input = max, output = sum, both provider calls counted.
	if res.Metrics.TokensInput != 130 {
		t.Errorf("tokens_input should be max, got %d", res.Metrics.TokensInput)
	}
	if res.Metrics.TokensOutput != 30 {
		t.Errorf("tokens_output should be sum, got %d", res.Metrics.TokensOutput)
	}
	if res.Metrics.MessageCount != 2 || res.Metrics.ToolCallCount != 2 {
		t.Errorf("counts wrong: %+v", res.Metrics)
	}

	// Tool plan and tool results are redacted; the narrative stays clean.
	all, _ := s.Messages(ctx, conv, 0, false)
	var redacted, clean int
	for _, m := range all {
		if m.Redacted {
			redacted++
		} else {
			clean++
		}
	}
	if redacted != 3 { // 1 plan + 2 tool results
		t.Errorf("expected 3 redacted messages, got %d", redacted)
	}
	if clean != 2 { // user + final assistant
		t.Errorf("expected 2 clean messages, got %d", clean)
	}

	// The second provider call saw the tool results.
	second := p.requests[1]
	var toolMsgs int
	for _, m := range second.Messages {
		if m.Role == "tool" {
			toolMsgs++
		}
	}
	if toolMsgs != 2 {
		t.Fatalf("expected 2 tool messages in second request, got %d", toolMsgs)
	}

	ex, _ := s.GetExchange(ctx, res.ExchangeID)
	if ex.Status != nuagent.ExchangeCompleted || ex.AssistantMessage != "The answer is 42." {
		t.Fatalf("exchange not finalized: %+v", ex)
	}
	if ex.ToolCallCount != 2 {
		t.Fatalf("tool_call_count not persisted: %+v", ex)
	}
}

func TestRedactionOffSurfacesToolResults(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		callTools("", 100, 10,
			nuagent.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{"q":"a"}`)},
		),
		answer("done", 110, 5),
	}}
	o, s, conv := newTestOrchestrator(t, p)
	ctx := context.Background()
	s.SetConfig(ctx, nuagent.ConfigRedactionEnabled, "false")

	var surfaced []string
	o.OnContent = func(text string) { surfaced = append(surfaced, text) }

	if _, err := o.ProcessTurn(ctx, conv, "go"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	var found bool
	for _, line := range surfaced {
		if strings.HasPrefix(line, "[echo]") {
			found = true
		}
	}
	if !found {
		t.Fatalf("tool result not surfaced with redaction off: %v", surfaced)
	}

	// Display-only toggle: the stored tool rows stay redacted.
	all, _ := s.Messages(ctx, conv, 0, false)
	for _, m := range all {
		if m.Role == "tool" && !m.Redacted {
			t.Fatalf("tool message persisted unredacted: %+v", m)
		}
	}
}

func TestRedactionOnKeepsToolResultsQuiet(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		callTools("", 100, 10,
			nuagent.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{"q":"a"}`)},
		),
		answer("done", 110, 5),
	}}
	o, _, conv := newTestOrchestrator(t, p)

	var surfaced []string
	o.OnContent = func(text string) { surfaced = append(surfaced, text) }

	if _, err := o.ProcessTurn(context.Background(), conv, "go"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	for _, line := range surfaced {
		if strings.HasPrefix(line, "[echo]") {
			t.Fatalf("tool result surfaced with redaction on: %v", surfaced)
		}
	}
}

func TestProcessTurnIterationCapRollsBack(t *testing.T) {
	loopStep := callTools("", 10, 2,
		nuagent.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{}`)},
	)
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		loopStep, loopStep, loopStep,
	}}
	o, s, conv := newTestOrchestrator(t, p)
	o.MaxIters = 2

	_, err := o.ProcessTurn(context.Background(), conv, "loop forever")
	var llmErr *nuagent.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *ErrLLM, got %v", err)
	}
	if p.callCount != 2 {
		t.Fatalf("provider called %d times with a cap of 2", p.callCount)
	}

	// The capped turn is a hard failure: nothing persists.
	msgs, _ := s.Messages(context.Background(), conv, 0, false)
	if len(msgs) != 0 {
		t.Fatalf("capped turn left %d messages", len(msgs))
	}
	if idle, _ := s.WorkersIdle(context.Background()); !idle {
		t.Fatal("worker gauge not released")
	}
}

func TestProcessTurnProviderError(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
			return nuagent.ChatResponse{}, &nuagent.ErrHTTP{Status: 500, Body: "internal error"}
		},
	}}
	o, s, conv := newTestOrchestrator(t, p)
	ctx := context.Background()

	res, err := o.ProcessTurn(ctx, conv, "Hello?")
	if err != nil {
		t.Fatalf("api errors are a failed exchange, not a turn error: %v", err)
	}
	if !res.Failed || !strings.Contains(res.Error, "500") {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The failed exchange is committed with its error.
	ex, errGet := s.GetExchange(ctx, res.ExchangeID)
	if errGet != nil {
		t.Fatalf("GetExchange: %v", errGet)
	}
	if ex.Status != nuagent.ExchangeFailed || ex.Error == "" || ex.CompletedAt == 0 {
		t.Fatalf("failed exchange not recorded: %+v", ex)
	}

	// The api_error message is part of the visible narrative.
	msgs, _ := s.Messages(ctx, conv, 0, false)
	var found bool
	for _, m := range msgs {
		if m.Actor == "api_error" && !m.Redacted {
			found = true
		}
	}
	if !found {
		t.Fatal("api_error message missing")
	}
	if idle, _ := s.WorkersIdle(ctx); !idle {
		t.Fatal("worker gauge not released")
	}
}

func TestProcessTurnCancellationRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
			cancel()
			return nuagent.ChatResponse{}, ctx.Err()
		},
	}}
	o, s, conv := newTestOrchestrator(t, p)

	_, err := o.ProcessTurn(ctx, conv, "Hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// No persistent trace of the aborted turn.
	msgs, _ := s.Messages(context.Background(), conv, 0, false)
	if len(msgs) != 0 {
		t.Fatalf("cancelled turn left %d messages", len(msgs))
	}
	if idle, _ := s.WorkersIdle(context.Background()); !idle {
		t.Fatal("worker gauge not released after cancellation")
	}
}

type fixedSpell struct{ out string }

func (f fixedSpell) Check(ctx context.Context, input string) (string, error) { return f.out, nil }

func TestContextDocumentSections(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		answer("ok", 10, 1),
	}}
	o, _, conv := newTestOrchestrator(t, p)

	if _, err := o.ProcessTurn(context.Background(), conv, "helo wrold"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	req := p.requests[0]
	doc := req.Messages[len(req.Messages)-1].Content
	for _, section := range []string{"# Context", "# Available Tools", "# User Query"} {
		if !strings.Contains(doc, section) {
			t.Fatalf("missing section %q in:\n%s", section, doc)
		}
	}
	if !strings.Contains(doc, "No Augmented Information Generated") {
		t.Fatalf("empty context should carry the sentinel:\n%s", doc)
	}
	if !strings.Contains(doc, "echo") {
		t.Fatalf("tool list missing:\n%s", doc)
	}
	if !strings.HasSuffix(strings.TrimSpace(doc), "helo wrold") {
		t.Fatalf("user query must close the document:\n%s", doc)
	}
}

func TestContextDocumentFragments(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		callTools("", 10, 1,
			nuagent.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{}`)},
		),
		answer("done", 12, 1),
		answer("again", 14, 1),
	}}
	o, _, conv := newTestOrchestrator(t, p)
	o.SpellCheck = fixedSpell{out: "hello world"}

	ctx := context.Background()
	if _, err := o.ProcessTurn(ctx, conv, "helo wrold"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	// The first turn wrote redacted messages; the second turn's context
	// must disclose their ID ranges and the spelling note.
	if _, err := o.ProcessTurn(ctx, conv, "helo wrold"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	doc := p.requests[2].Messages[len(p.requests[2].Messages)-1].Content
	if strings.Contains(doc, "No Augmented Information Generated") {
		t.Fatalf("fragments expected, got sentinel:\n%s", doc)
	}
	if !strings.Contains(doc, "not shown") {
		t.Fatalf("redacted range fragment missing:\n%s", doc)
	}
	if !strings.Contains(doc, "likely means 'hello world'") {
		t.Fatalf("spelling fragment missing:\n%s", doc)
	}
}

func TestProcessTurnEmptyInput(t *testing.T) {
	p := &scriptProvider{}
	o, _, conv := newTestOrchestrator(t, p)
	if _, err := o.ProcessTurn(context.Background(), conv, "   "); err == nil {
		t.Fatal("empty input must be rejected")
	}
}
