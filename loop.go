package nuagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Display keys tunable at runtime through the app config.
const (
	// ConfigRedactionEnabled, when set to false, surfaces tool results
	// through OnContent as they land. Stored rows stay redacted.
	ConfigRedactionEnabled = "redaction_enabled"
	// ConfigVerbosity adjusts terminal output. 0 drops usage notes,
	// 2 prints them even off-terminal.
	ConfigVerbosity = "verbosity"
)

// LoopResult is the outcome of one run of the tool-calling loop.
// Failed is set for provider errors persisted as an api_error message;
// hard failures (cancellation, store errors) surface as Go errors
// instead so the enclosing transaction rolls back.
type LoopResult struct {
	Failed   bool
	Error    string
	Response ChatResponse
	Metrics  ExchangeMetrics
}

// ToolLoop drives the per-exchange state machine: call the provider,
// execute any requested tools batch by batch, feed results back, and
// repeat until the provider answers without tool calls.
//
// All intermediate messages (tool plans, tool results) are persisted
// with redacted=true so they never re-enter a future context window.
// The loop never rewrites history; every mutation appends.
type ToolLoop struct {
	Provider Provider
	Registry *ToolRegistry
	Store    Store
	Logger   *slog.Logger
	Tracer   Tracer
	// OnContent surfaces assistant text that arrives alongside tool
	// calls, so the user sees progress before the final answer.
	OnContent func(text string)
	// MaxIters caps provider round-trips per exchange. 0 means no cap.
	MaxIters int
}

// Run executes the loop for one exchange. messages is the composed
// history plus the context document; it is appended to in memory as the
// loop progresses but never persisted wholesale.
func (l *ToolLoop) Run(ctx context.Context, convID, exchangeID int64, messages []ChatMessage) (LoopResult, error) {
	logger := l.Logger
	if logger == nil {
		logger = nopLogger
	}

	tracer := l.Tracer
	if tracer == nil {
		tracer = nopTracer
	}

	var result LoopResult
	tools := l.Registry.Definitions()

	// Redaction off is a debug view: each tool result is surfaced as it
	// lands, while persistence is unchanged.
	showWork := false
	if l.OnContent != nil {
		if redact, err := l.Store.ConfigBool(ctx, ConfigRedactionEnabled, true); err == nil && !redact {
			showWork = true
		}
	}

	for iter := 1; ; iter++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if l.MaxIters > 0 && iter > l.MaxIters {
			return result, &ErrLLM{
				Provider: l.Provider.Name(),
				Message:  fmt.Sprintf("tool loop exceeded %d iterations", l.MaxIters),
			}
		}

		start := time.Now()
		logger.Debug("loop: provider call", "iteration", iter, "messages", len(messages))
		resp, err := l.Provider.Chat(ctx, ChatRequest{Messages: messages, Tools: tools})
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.Error("loop: provider failed", "iteration", iter, "error", err, "duration", time.Since(start))
			// Persist a single api_error message so the failure is part
			// of the visible narrative, then report a failed exchange.
			if _, serr := l.Store.AddMessage(ctx, Message{
				ConversationID: convID,
				ExchangeID:     exchangeID,
				Actor:          "api_error",
				Role:           "assistant",
				Content:        err.Error(),
				Error:          err.Error(),
			}); serr != nil {
				return result, serr
			}
			result.Failed = true
			result.Error = err.Error()
			return result, nil
		}

		result.Metrics.Fold(resp)
		result.Response = resp
		logger.Debug("loop: provider ok",
			"iteration", iter, "tool_calls", len(resp.ToolCalls),
			"tokens_in", resp.Usage.InputTokens, "tokens_out", resp.Usage.OutputTokens,
			"duration", time.Since(start))

		if len(resp.ToolCalls) == 0 {
			// Final answer. The orchestrator persists it unredacted and
			// finalizes the exchange.
			return result, nil
		}

		// Tool plan: hidden from future context.
		if _, err := l.Store.AddMessage(ctx, Message{
			ConversationID: convID,
			ExchangeID:     exchangeID,
			Actor:          l.Provider.Name(),
			Role:           "assistant",
			Content:        resp.Content,
			Model:          resp.Model,
			TokensInput:    resp.Usage.InputTokens,
			TokensOutput:   resp.Usage.OutputTokens,
			Spend:          resp.Spend,
			ToolCalls:      resp.ToolCalls,
			Redacted:       true,
		}); err != nil {
			return result, err
		}
		if resp.Content != "" && l.OnContent != nil {
			l.OnContent(resp.Content)
		}
		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		batches := PlanBatches(l.Registry, resp.ToolCalls)
		logger.Debug("loop: executing tools", "iteration", iter, "calls", len(resp.ToolCalls), "batches", len(batches))
		for bi, batch := range batches {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			batchCtx, batchSpan := tracer.Start(ctx, "tool.batch",
				IntAttr("loop.iteration", iter),
				IntAttr("tool.batch_index", bi),
				IntAttr("tool.batch_size", len(batch)))
			executed := ExecuteBatch(batchCtx, l.Registry, batch)
			batchSpan.End()
			for _, ec := range executed {
				payload, err := json.Marshal(ec.Result)
				if err != nil {
					payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
				}
				if _, err := l.Store.AddMessage(ctx, Message{
					ConversationID: convID,
					ExchangeID:     exchangeID,
					Actor:          ec.Call.Name,
					Role:           "tool",
					Content:        string(payload),
					ToolCallID:     ec.Call.ID,
					ToolResult:     &ToolResultRecord{Name: ec.Call.Name, Result: payload},
					Error:          ec.Result.Error,
					Redacted:       true,
				}); err != nil {
					return result, err
				}
				if showWork {
					line := ec.Result.Content
					if ec.Result.Error != "" {
						line = "error: " + ec.Result.Error
					}
					l.OnContent(fmt.Sprintf("[%s] %s", ec.Call.Name, line))
				}
				messages = append(messages, ToolResultMessage(ec.Call.ID, string(payload)))
			}
		}
	}
}
