package nuagent

import "encoding/json"

// --- Domain types (database records) ---

// Conversation statuses.
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

type Conversation struct {
	ID           int64   `json:"id"`
	CreatedAt    int64   `json:"created_at"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	Summary      string  `json:"summary,omitempty"`
	SummaryModel string  `json:"summary_model,omitempty"`
	SummaryCost  float64 `json:"summary_cost,omitempty"`
}

// Exchange statuses.
const (
	ExchangeInProgress = "in_progress"
	ExchangeCompleted  = "completed"
	ExchangeFailed     = "failed"
)

// Exchange is one user-input-to-final-assistant-response unit.
// CompletedAt is 0 while the exchange is in progress.
type Exchange struct {
	ID               int64   `json:"id"`
	ConversationID   int64   `json:"conversation_id"`
	ExchangeNumber   int64   `json:"exchange_number"`
	StartedAt        int64   `json:"started_at"`
	CompletedAt      int64   `json:"completed_at,omitempty"`
	Status           string  `json:"status"`
	UserMessage      string  `json:"user_message"`
	AssistantMessage string  `json:"assistant_message,omitempty"`
	Summary          string  `json:"summary,omitempty"`
	SummaryModel     string  `json:"summary_model,omitempty"`
	Error            string  `json:"error,omitempty"`
	TokensInput      int     `json:"tokens_input"`
	TokensOutput     int     `json:"tokens_output"`
	Spend            float64 `json:"spend"`
	MessageCount     int     `json:"message_count"`
	ToolCallCount    int     `json:"tool_call_count"`
}

// Message is one stored conversation message. Append-only within an
// exchange; ID is strictly increasing and reflects write order.
// Redacted messages (tool plans, tool results, errors) are excluded
// from all future context windows.
type Message struct {
	ID               int64             `json:"id"`
	ConversationID   int64             `json:"conversation_id"`
	ExchangeID       int64             `json:"exchange_id"`
	Actor            string            `json:"actor"`
	Role             string            `json:"role"` // "user", "assistant", "tool", "system"
	Content          string            `json:"content"`
	Model            string            `json:"model,omitempty"`
	TokensInput      int               `json:"tokens_input,omitempty"`
	TokensOutput     int               `json:"tokens_output,omitempty"`
	Spend            float64           `json:"spend,omitempty"`
	ToolCalls        []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID       string            `json:"tool_call_id,omitempty"`
	ToolResult       *ToolResultRecord `json:"tool_result,omitempty"`
	Error            string            `json:"error,omitempty"`
	Redacted         bool              `json:"redacted"`
	IncludeInContext bool              `json:"include_in_context"`
	CreatedAt        int64             `json:"created_at"`
}

// ToolResultRecord is the provider-neutral tool result attached to a
// stored tool message.
type ToolResultRecord struct {
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// EmbeddingRecord is a stored embedding, keyed by (kind, source).
// Kinds in use: "conversation", "exchange", "man_page".
type EmbeddingRecord struct {
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	IndexedAt int64     `json:"indexed_at"`
}

// ScoredEmbedding pairs an EmbeddingRecord with a similarity score.
type ScoredEmbedding struct {
	EmbeddingRecord
	Score float32 `json:"score"`
}

// FailedJob records a background job that exhausted its retries.
type FailedJob struct {
	ID         int64  `json:"id"`
	JobType    string `json:"job_type"`
	RefID      int64  `json:"ref_id,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	FailedAt   int64  `json:"failed_at"`
}

// ExchangeMetrics accumulates per-exchange totals across the
// tool-calling loop. TokensInput folds as a maximum (each provider call
// reports the full context); TokensOutput and Spend fold as sums.
type ExchangeMetrics struct {
	TokensInput   int
	TokensOutput  int
	Spend         float64
	MessageCount  int
	ToolCallCount int
}

// Fold merges one provider response into the running totals.
func (m *ExchangeMetrics) Fold(resp ChatResponse) {
	if resp.Usage.InputTokens > m.TokensInput {
		m.TokensInput = resp.Usage.InputTokens
	}
	m.TokensOutput += resp.Usage.OutputTokens
	m.Spend += resp.Spend
	m.MessageCount++
	m.ToolCallCount += len(resp.ToolCalls)
}

// SessionTokens aggregates usage over messages created on/after a
// session start: input is the maximum, output and spend are sums.
type SessionTokens struct {
	Input  int     `json:"input"`
	Output int     `json:"output"`
	Total  int     `json:"total"`
	Spend  float64 `json:"spend"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"arguments"`
}

type ChatRequest struct {
	Messages     []ChatMessage    `json:"messages"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Model        string     `json:"model"`
	Usage        Usage      `json:"usage"`
	Spend        float64    `json:"spend"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
