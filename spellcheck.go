package nuagent

import (
	"context"
	"log/slog"
	"strings"
)

const spellcheckPrompt = `You are a spellchecker. Rewrite the user's text with spelling and obvious typing mistakes corrected. Change nothing else: keep wording, casing, punctuation, and technical terms as written. If the text needs no correction, return it unchanged. Respond with the corrected text only.`

// ProviderSpellChecker implements SpellChecker with a small LLM. Any
// provider failure is swallowed: the orchestrator treats an error or an
// empty correction as "no fragment", so spellcheck can never break a
// turn.
type ProviderSpellChecker struct {
	Provider Provider
	Logger   *slog.Logger
}

// Check returns a corrected form of input, or "" when no correction
// applies. Multi-line model output is rejected as a failed correction.
func (s *ProviderSpellChecker) Check(ctx context.Context, input string) (string, error) {
	logger := s.Logger
	if logger == nil {
		logger = nopLogger
	}

	resp, err := s.Provider.Chat(ctx, ChatRequest{
		SystemPrompt: spellcheckPrompt,
		Messages:     []ChatMessage{UserMessage(input)},
	})
	if err != nil {
		logger.Debug("spellcheck failed", "error", err)
		return "", err
	}

	corrected := strings.TrimSpace(resp.Content)
	if corrected == "" || corrected == strings.TrimSpace(input) {
		return "", nil
	}
	// A correction should be a rewrite, not commentary. Length drift or
	// added lines mean the model answered instead of correcting.
	if strings.Contains(corrected, "\n") || len(corrected) > 2*len(input)+20 {
		logger.Debug("spellcheck output rejected", "output_len", len(corrected))
		return "", nil
	}
	return corrected, nil
}

var _ SpellChecker = (*ProviderSpellChecker)(nil)
