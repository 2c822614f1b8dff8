package nuagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// summaryPrompt is the fixed instruction both summarizers use.
const summaryPrompt = "Summarize this conversation in 2 to 3 sentences. " +
	"Focus on what the user wanted and what was accomplished. " +
	"Reply with the summary only."

// ConversationSummarizer is the background job that writes a short
// summary onto every conversation that lacks one, skipping the active
// conversation. Summaries later feed the embedding pipeline.
type ConversationSummarizer struct {
	Store    Store
	Critical *CriticalSections
	Logger   *slog.Logger
	// Provider is re-evaluated for every item so a summarizer model
	// swap applies between jobs, never mid-job.
	Provider func() Provider
	// Active returns the conversation currently driven by the REPL.
	Active func() int64
}

func (s *ConversationSummarizer) Name() string { return "conversation_summarizer" }

func (s *ConversationSummarizer) Run(ctx context.Context, p *Progress) error {
	logger := jobLogger(ctx, s.Store, s.Name(), s.Logger)
	convs, err := s.Store.UnsummarizedConversations(ctx, s.Active())
	if err != nil {
		return err
	}
	for _, conv := range convs {
		if ctx.Err() != nil {
			return nil
		}
		p.Item(fmt.Sprintf("conversation %d", conv.ID))

		msgs, err := s.Store.Messages(ctx, conv.ID, 0, true)
		if err != nil {
			p.Fail()
			continue
		}
		transcript := renderTranscript(msgs)
		if transcript == "" {
			// Nothing worth summarizing; skip without failing.
			p.Done(0)
			continue
		}

		provider := s.Provider()
		resp, err := provider.Chat(ctx, ChatRequest{
			Messages:     []ChatMessage{UserMessage(transcript)},
			SystemPrompt: summaryPrompt,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("conversation summary failed", "conversation_id", conv.ID, "error", err)
			p.Fail()
			_ = s.Store.InsertFailedJob(ctx, FailedJob{
				JobType: "conversation_summary",
				RefID:   conv.ID,
				Error:   err.Error(),
			})
			continue
		}

		s.Critical.Enter()
		err = s.Store.SetConversationSummary(ctx, conv.ID, strings.TrimSpace(resp.Content), resp.Model, resp.Spend)
		s.Critical.Exit()
		if err != nil {
			p.Fail()
			continue
		}
		p.Done(resp.Spend)
		logger.Debug("conversation summarized", "conversation_id", conv.ID, "model", resp.Model)
	}
	return nil
}

// ExchangeSummarizer writes a short summary onto every completed
// exchange that lacks one, skipping exchanges of the active
// conversation.
type ExchangeSummarizer struct {
	Store    Store
	Critical *CriticalSections
	Logger   *slog.Logger
	Provider func() Provider
	Active   func() int64
}

func (s *ExchangeSummarizer) Name() string { return "exchange_summarizer" }

func (s *ExchangeSummarizer) Run(ctx context.Context, p *Progress) error {
	logger := jobLogger(ctx, s.Store, s.Name(), s.Logger)
	exchanges, err := s.Store.UnsummarizedExchanges(ctx, s.Active())
	if err != nil {
		return err
	}
	for _, ex := range exchanges {
		if ctx.Err() != nil {
			return nil
		}
		p.Item(fmt.Sprintf("exchange %d", ex.ID))

		transcript := "user: " + ex.UserMessage
		if ex.AssistantMessage != "" {
			transcript += "\nassistant: " + ex.AssistantMessage
		}

		provider := s.Provider()
		resp, err := provider.Chat(ctx, ChatRequest{
			Messages:     []ChatMessage{UserMessage(transcript)},
			SystemPrompt: summaryPrompt,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("exchange summary failed", "exchange_id", ex.ID, "error", err)
			p.Fail()
			_ = s.Store.InsertFailedJob(ctx, FailedJob{
				JobType: "exchange_summary",
				RefID:   ex.ID,
				Error:   err.Error(),
			})
			continue
		}

		s.Critical.Enter()
		err = s.Store.SetExchangeSummary(ctx, ex.ID, strings.TrimSpace(resp.Content), resp.Model)
		s.Critical.Exit()
		if err != nil {
			p.Fail()
			continue
		}
		p.Done(resp.Spend)
		logger.Debug("exchange summarized", "exchange_id", ex.ID, "model", resp.Model)
	}
	return nil
}

// renderTranscript flattens the unredacted narrative to "role: content"
// lines for the summarizer prompt.
func renderTranscript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Redacted || m.Content == "" {
			continue
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
