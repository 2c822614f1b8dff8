package nuagent

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// SpellChecker proposes a corrected form of the user's input. A nil
// checker or an identical correction produces no context fragment.
type SpellChecker interface {
	Check(ctx context.Context, input string) (string, error)
}

// ContextAugmenter contributes one fragment to the Context section of
// the context document. An empty fragment is skipped.
type ContextAugmenter interface {
	Fragment(ctx context.Context, store Store, convID int64, input string) (string, error)
}

// ExchangeCompletedEvent is published on TopicExchangeCompleted strictly
// after the exchange transaction commits.
type ExchangeCompletedEvent struct {
	ConversationID int64
	ExchangeID     int64
	Failed         bool
}

// TurnResult is what ProcessTurn reports back to the REPL.
type TurnResult struct {
	ExchangeID int64
	Assistant  string
	Failed     bool
	Error      string
	Metrics    ExchangeMetrics
}

// Orchestrator owns the per-turn state machine: one transaction per
// user turn wrapping exchange creation, the tool-calling loop, and
// finalization. A turn that fails mid-flight rolls back and leaves no
// persistent trace.
type Orchestrator struct {
	Store    Store
	Provider Provider
	Registry *ToolRegistry
	Bus      *Bus
	Logger   *slog.Logger
	Tracer   Tracer

	SpellCheck SpellChecker
	Augmenters []ContextAugmenter

	// OnContent receives assistant text produced mid-loop alongside
	// tool calls.
	OnContent func(text string)

	// SessionStart bounds the history window (unix seconds).
	SessionStart int64
	// MaxIters caps loop iterations per exchange. 0 means no cap.
	MaxIters int
}

// ProcessTurn runs one complete user turn against the conversation.
// The active_workers gauge is incremented for the duration of the turn
// and decremented exactly once on every exit path.
func (o *Orchestrator) ProcessTurn(ctx context.Context, convID int64, userInput string) (TurnResult, error) {
	logger := o.Logger
	if logger == nil {
		logger = nopLogger
	}
	if strings.TrimSpace(userInput) == "" {
		return TurnResult{}, &ErrInvalidArgument{Message: "empty user input"}
	}

	tracer := o.Tracer
	if tracer == nil {
		tracer = nopTracer
	}
	ctx, span := tracer.Start(ctx, "exchange.process",
		Int64Attr("conversation.id", convID),
		StringAttr("llm.model", o.Provider.Model()))
	defer span.End()

	start := time.Now()
	logger.Debug("orchestrator: turn started", "conversation_id", convID)

	if err := o.Store.IncrementWorkers(ctx); err != nil {
		return TurnResult{}, err
	}
	decremented := false
	decrement := func() {
		if !decremented {
			decremented = true
			// Decrement must survive turn cancellation.
			if err := o.Store.DecrementWorkers(context.WithoutCancel(ctx)); err != nil {
				logger.Error("orchestrator: decrement workers failed", "error", err)
			}
		}
	}
	defer decrement()

	var result TurnResult
	err := o.Store.Transaction(ctx, func(tx Store) error {
		ex, err := tx.CreateExchange(ctx, convID, userInput)
		if err != nil {
			return err
		}
		result.ExchangeID = ex.ID

		if _, err := tx.AddMessage(ctx, Message{
			ConversationID:   convID,
			ExchangeID:       ex.ID,
			Actor:            "user",
			Role:             "user",
			Content:          userInput,
			IncludeInContext: true,
		}); err != nil {
			return err
		}

		history, redactedIDs, err := o.loadHistory(ctx, tx, convID, ex.ID)
		if err != nil {
			return err
		}
		doc, err := o.buildContextDocument(ctx, tx, convID, userInput, redactedIDs)
		if err != nil {
			return err
		}
		messages := append(history, UserMessage(doc))

		loop := &ToolLoop{
			Provider:  o.Provider,
			Registry:  o.Registry,
			Store:     tx,
			Logger:    logger,
			Tracer:    tracer,
			OnContent: o.OnContent,
			MaxIters:  o.MaxIters,
		}
		lr, err := loop.Run(ctx, convID, ex.ID, messages)
		if err != nil {
			return err
		}
		result.Failed = lr.Failed
		result.Error = lr.Error
		result.Metrics = lr.Metrics

		if lr.Failed {
			now := time.Now().Unix()
			return tx.UpdateExchange(ctx, ex.ID, ExchangeUpdate{
				Status:        StrPtr(ExchangeFailed),
				Error:         StrPtr(lr.Error),
				CompletedAt:   Int64Ptr(now),
				TokensInput:   IntPtr(lr.Metrics.TokensInput),
				TokensOutput:  IntPtr(lr.Metrics.TokensOutput),
				Spend:         FloatPtr(lr.Metrics.Spend),
				MessageCount:  IntPtr(lr.Metrics.MessageCount),
				ToolCallCount: IntPtr(lr.Metrics.ToolCallCount),
			})
		}

		result.Assistant = lr.Response.Content
		if _, err := tx.AddMessage(ctx, Message{
			ConversationID:   convID,
			ExchangeID:       ex.ID,
			Actor:            o.Provider.Name(),
			Role:             "assistant",
			Content:          lr.Response.Content,
			Model:            lr.Response.Model,
			TokensInput:      lr.Response.Usage.InputTokens,
			TokensOutput:     lr.Response.Usage.OutputTokens,
			Spend:            lr.Response.Spend,
			IncludeInContext: true,
		}); err != nil {
			return err
		}
		return tx.CompleteExchange(ctx, ex.ID, lr.Response.Content, lr.Metrics)
	})
	if err != nil {
		span.Error(err)
		logger.Debug("orchestrator: turn rolled back", "conversation_id", convID, "error", err, "duration", time.Since(start))
		return TurnResult{}, err
	}
	span.SetAttr(
		Int64Attr("exchange.id", result.ExchangeID),
		BoolAttr("exchange.failed", result.Failed),
		IntAttr("llm.tokens.input", result.Metrics.TokensInput),
		IntAttr("llm.tokens.output", result.Metrics.TokensOutput),
		FloatAttr("llm.cost_usd", result.Metrics.Spend))

	decrement()
	// Published strictly after commit.
	if o.Bus != nil {
		o.Bus.Publish(TopicExchangeCompleted, ExchangeCompletedEvent{
			ConversationID: convID,
			ExchangeID:     result.ExchangeID,
			Failed:         result.Failed,
		})
	}
	logger.Debug("orchestrator: turn completed",
		"conversation_id", convID, "exchange_id", result.ExchangeID,
		"failed", result.Failed, "duration", time.Since(start))
	return result, nil
}

// loadHistory returns the unredacted narrative since session start,
// excluding the current exchange, converted to provider messages. It
// also collects the IDs of redacted messages for the context document.
func (o *Orchestrator) loadHistory(ctx context.Context, tx Store, convID, exchangeID int64) ([]ChatMessage, []int64, error) {
	all, err := tx.Messages(ctx, convID, o.SessionStart, false)
	if err != nil {
		return nil, nil, err
	}
	var history []ChatMessage
	var redactedIDs []int64
	for _, m := range all {
		if m.Redacted {
			redactedIDs = append(redactedIDs, m.ID)
			continue
		}
		if m.ExchangeID == exchangeID || !m.IncludeInContext {
			continue
		}
		switch m.Role {
		case "user", "assistant", "system":
			history = append(history, ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	return history, redactedIDs, nil
}

// buildContextDocument renders the Markdown document sent as the final
// user message: a Context section of augmentation fragments, the
// available tool list, and the raw query.
func (o *Orchestrator) buildContextDocument(ctx context.Context, tx Store, convID int64, userInput string, redactedIDs []int64) (string, error) {
	var fragments []string

	if len(redactedIDs) > 0 {
		fragments = append(fragments,
			"Messages with the following IDs were working records (tool plans and results) and are not shown: "+
				CompressIDRanges(redactedIDs))
	}

	if o.SpellCheck != nil {
		corrected, err := o.SpellCheck.Check(ctx, userInput)
		if err == nil && corrected != "" && corrected != userInput {
			fragments = append(fragments,
				"The user said '"+userInput+"' but likely means '"+corrected+"'.")
		}
	}

	for _, aug := range o.Augmenters {
		frag, err := aug.Fragment(ctx, tx, convID, userInput)
		if err != nil {
			return "", err
		}
		if frag != "" {
			fragments = append(fragments, frag)
		}
	}

	var b strings.Builder
	b.WriteString("# Context\n\n")
	if len(fragments) == 0 {
		b.WriteString("No Augmented Information Generated\n")
	} else {
		for _, f := range fragments {
			b.WriteString(f)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("\n# Available Tools\n\n")
	b.WriteString(strings.Join(o.Registry.Names(), ", "))
	b.WriteString("\n\n# User Query\n\n")
	b.WriteString(userInput)
	return b.String(), nil
}
